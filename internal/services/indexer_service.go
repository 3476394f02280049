package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/pharmatrace/services/provenance/internal/messaging"
	"example.com/pharmatrace/services/provenance/internal/metrics"
	"example.com/pharmatrace/services/provenance/internal/models"
	"example.com/pharmatrace/services/provenance/internal/repositories"
	"example.com/pharmatrace/services/provenance/internal/search"
)

// ScanIndexer is the slice of the search client the indexer depends on
type ScanIndexer interface {
	IndexScan(ctx context.Context, doc search.ScanDocument) error
}

// IndexerService moves scan events into the search index. The primary path
// consumes bus messages; the reconcile path sweeps scan log rows the bus
// missed.
type IndexerService struct {
	scanRepo repositories.ScanLogRepository
	indexer  ScanIndexer
	metrics  *metrics.Metrics
}

// NewIndexerService creates a new indexer service
func NewIndexerService(scanRepo repositories.ScanLogRepository, indexer ScanIndexer, metricsCollector *metrics.Metrics) *IndexerService {
	return &IndexerService{
		scanRepo: scanRepo,
		indexer:  indexer,
		metrics:  metricsCollector,
	}
}

// HandleScanMessage processes one scan event from the bus. Indexing is keyed
// by scan log id, so redelivered messages overwrite rather than duplicate.
func (s *IndexerService) HandleScanMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	start := time.Now()

	var event messaging.ScanEvent
	if err := json.Unmarshal(message.Body, &event); err != nil {
		return errors.Wrap(err, "failed to unmarshal scan event")
	}
	if event.ScanLogID == "" {
		return errors.New("scan event has no scan log id")
	}

	doc := search.ScanDocument{
		ScanLogID:   event.ScanLogID,
		QRTokenHash: event.QRTokenHash,
		BottleID:    event.BottleID,
		BatchID:     event.BatchID,
		DeviceHash:  event.DeviceHash,
		Valid:       event.Valid,
		Reason:      event.Reason,
		ScannedAt:   event.ScannedAt,
	}
	if event.Lat != nil && event.Lng != nil {
		doc.Location = &search.GeoPoint{Lat: *event.Lat, Lon: *event.Lng}
	}

	if err := s.indexer.IndexScan(ctx, doc); err != nil {
		return errors.Wrap(err, "failed to index scan event")
	}

	if err := s.scanRepo.MarkIndexed(ctx, []string{event.ScanLogID}); err != nil {
		return errors.Wrap(err, "failed to mark scan log as indexed")
	}

	s.metrics.IncrCounter("indexer.messages")
	s.metrics.RecordTimer("indexer.message", time.Since(start))

	return nil
}

// ReconcileScans indexes scan log rows the bus path missed. Runs on a
// schedule as a fallback; a row that fails to index stays unindexed and is
// retried on the next sweep.
func (s *IndexerService) ReconcileScans(ctx context.Context, batchSize int) error {
	entries, err := s.scanRepo.ListUnindexed(ctx, batchSize)
	if err != nil {
		return errors.Wrap(err, "failed to list unindexed scan logs")
	}
	if len(entries) == 0 {
		return nil
	}

	indexed := make([]string, 0, len(entries))
	for i := range entries {
		doc := scanLogDocument(&entries[i])
		if err := s.indexer.IndexScan(ctx, doc); err != nil {
			log.Error().Err(err).Str("scan_log_id", doc.ScanLogID).Msg("Failed to index scan log during reconcile")
			continue
		}
		indexed = append(indexed, doc.ScanLogID)
	}

	if err := s.scanRepo.MarkIndexed(ctx, indexed); err != nil {
		return errors.Wrap(err, "failed to mark reconciled scan logs as indexed")
	}

	s.metrics.IncrCounter("indexer.reconciles")
	log.Info().Int("indexed", len(indexed)).Int("pending", len(entries)-len(indexed)).Msg("Reconciled unindexed scan logs")

	return nil
}

// scanLogDocument projects a scan log row into the search index shape. The
// verdict fields only travel on the bus, so reconciled documents carry
// identity and location alone.
func scanLogDocument(entry *models.ScanLog) search.ScanDocument {
	doc := search.ScanDocument{
		ScanLogID:   entry.ID.String(),
		QRTokenHash: entry.QRTokenHash,
		ScannedAt:   entry.Timestamp,
	}
	if entry.BottleID != nil {
		doc.BottleID = *entry.BottleID
	}
	if entry.DeviceHash != nil {
		doc.DeviceHash = *entry.DeviceHash
	}
	if entry.Lat != nil && entry.Lng != nil {
		doc.Location = &search.GeoPoint{Lat: *entry.Lat, Lon: *entry.Lng}
	}
	return doc
}
