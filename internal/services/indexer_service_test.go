package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/pharmatrace/services/provenance/internal/messaging"
	"example.com/pharmatrace/services/provenance/internal/metrics"
	"example.com/pharmatrace/services/provenance/internal/models"
)

func newIndexerFixture() (*IndexerService, *fakeScanLogRepo, *fakeIndexer) {
	scanRepo := newFakeScanLogRepo()
	indexer := newFakeIndexer()
	service := NewIndexerService(scanRepo, indexer, metrics.NewMetrics())
	return service, scanRepo, indexer
}

func scanMessage(t *testing.T, event messaging.ScanEvent) *azservicebus.ReceivedMessage {
	t.Helper()
	body, err := json.Marshal(event)
	require.NoError(t, err)
	return &azservicebus.ReceivedMessage{Body: body}
}

func TestHandleScanMessageIndexesAndMarks(t *testing.T) {
	service, scanRepo, indexer := newIndexerFixture()

	entry := models.ScanLog{ID: uuid.New(), QRTokenHash: "hash-1", Timestamp: time.Now()}
	require.NoError(t, scanRepo.Create(context.Background(), &entry))

	lat, lng := -1.29, 36.82
	err := service.HandleScanMessage(context.Background(), scanMessage(t, messaging.ScanEvent{
		ScanLogID:   entry.ID.String(),
		QRTokenHash: "hash-1",
		BottleID:    "BATCH-1-1-btl_a",
		Valid:       true,
		Lat:         &lat,
		Lng:         &lng,
		ScannedAt:   entry.Timestamp,
	}))
	require.NoError(t, err)

	doc, ok := indexer.docs[entry.ID.String()]
	require.True(t, ok)
	require.Equal(t, "hash-1", doc.QRTokenHash)
	require.True(t, doc.Valid)
	require.NotNil(t, doc.Location)
	require.Equal(t, lat, doc.Location.Lat)

	unindexed, err := scanRepo.ListUnindexed(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, unindexed)
}

func TestHandleScanMessageRejectsBadPayload(t *testing.T) {
	service, _, _ := newIndexerFixture()

	err := service.HandleScanMessage(context.Background(), &azservicebus.ReceivedMessage{Body: []byte("not json")})
	require.Error(t, err)

	err = service.HandleScanMessage(context.Background(), scanMessage(t, messaging.ScanEvent{}))
	require.Error(t, err)
}

func TestReconcileScansSweepsUnindexed(t *testing.T) {
	service, scanRepo, indexer := newIndexerFixture()

	for i := 0; i < 3; i++ {
		require.NoError(t, scanRepo.Create(context.Background(), &models.ScanLog{
			ID:          uuid.New(),
			QRTokenHash: "hash",
			Timestamp:   time.Now(),
		}))
	}

	require.NoError(t, service.ReconcileScans(context.Background(), 10))
	require.Len(t, indexer.docs, 3)

	unindexed, err := scanRepo.ListUnindexed(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, unindexed)

	// A second sweep finds nothing left to do
	require.NoError(t, service.ReconcileScans(context.Background(), 10))
	require.Len(t, indexer.docs, 3)
}

func TestReconcileScansRetriesFailedRows(t *testing.T) {
	service, scanRepo, indexer := newIndexerFixture()

	require.NoError(t, scanRepo.Create(context.Background(), &models.ScanLog{
		ID:          uuid.New(),
		QRTokenHash: "hash",
		Timestamp:   time.Now(),
	}))

	indexer.fail = true
	require.NoError(t, service.ReconcileScans(context.Background(), 10))

	// The row stays unindexed and is picked up once the index recovers
	unindexed, err := scanRepo.ListUnindexed(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, unindexed, 1)

	indexer.fail = false
	require.NoError(t, service.ReconcileScans(context.Background(), 10))

	unindexed, err = scanRepo.ListUnindexed(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, unindexed)
}
