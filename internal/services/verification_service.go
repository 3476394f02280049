package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/pharmatrace/services/provenance/internal/messaging"
	"example.com/pharmatrace/services/provenance/internal/models"
	"example.com/pharmatrace/services/provenance/internal/repositories"
	"example.com/pharmatrace/services/provenance/internal/security"
)

// Verification rejection reasons
const (
	ReasonNotFound = "NOT_FOUND"
	ReasonExpired  = "EXPIRED"
	ReasonInactive = "INACTIVE"
)

// ScanMeta carries optional scanner context attached to a verification
type ScanMeta struct {
	DeviceHash string
	Lat        *float64
	Lng        *float64
}

// VerifyResult is the outcome of a verification attempt. Invalid scans are
// ordinary results carrying a reason code, not errors.
type VerifyResult struct {
	Valid    bool          `json:"valid"`
	Reason   string        `json:"reason,omitempty"`
	BottleID string        `json:"bottleId,omitempty"`
	BatchID  string        `json:"batchId,omitempty"`
	Batch    *models.Batch `json:"batch,omitempty"`
}

// VerificationService judges scanned tokens and records the scan log
type VerificationService struct {
	bottleRepo repositories.BottleRepository
	batchRepo  repositories.BatchRepository
	scanRepo   repositories.ScanLogRepository
	crypto     *security.TokenCrypto
	publisher  messaging.ServiceBusClient
	now        func() time.Time
}

// NewVerificationService creates a new verification service. The publisher
// may be nil; scan events are then only persisted, not broadcast.
func NewVerificationService(
	bottleRepo repositories.BottleRepository,
	batchRepo repositories.BatchRepository,
	scanRepo repositories.ScanLogRepository,
	crypto *security.TokenCrypto,
	publisher messaging.ServiceBusClient,
) *VerificationService {
	return &VerificationService{
		bottleRepo: bottleRepo,
		batchRepo:  batchRepo,
		scanRepo:   scanRepo,
		crypto:     crypto,
		publisher:  publisher,
		now:        time.Now,
	}
}

// VerifyCode maps a scanned token to a bottle and judges its validity.
// Every call writes exactly one scan log row, matched or not; failed lookups
// feed abuse and geo analytics too.
func (s *VerificationService) VerifyCode(ctx context.Context, qrToken string, meta ScanMeta) (*VerifyResult, error) {
	qrTokenHash := s.crypto.Hash(qrToken)

	bottle, err := s.bottleRepo.GetByTokenHash(ctx, qrTokenHash)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, errors.Wrap(err, "failed to look up bottle by token hash")
	}

	if bottle == nil {
		if err := s.recordScan(ctx, qrTokenHash, nil, meta, false, ReasonNotFound, ""); err != nil {
			return nil, err
		}
		return &VerifyResult{Valid: false, Reason: ReasonNotFound}, nil
	}

	batch, err := s.batchRepo.GetByID(ctx, bottle.BatchID)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, errors.Wrap(err, "failed to load owning batch")
	}

	expired := batch == nil
	if batch != nil && batch.ExpiresAt != nil && batch.ExpiresAt.Before(s.now()) {
		expired = true
	}
	active := bottle.State == models.BottleStateActive

	verdict := ""
	valid := false
	switch {
	case expired:
		verdict = ReasonExpired
	case !active:
		verdict = ReasonInactive
	default:
		valid = true
	}

	// The scan is logged before the verdict is returned, whatever the outcome
	if err := s.recordScan(ctx, qrTokenHash, bottle, meta, valid, verdict, bottle.BatchID); err != nil {
		return nil, err
	}

	if !valid {
		return &VerifyResult{
			Valid:    false,
			Reason:   verdict,
			BottleID: bottle.BottleID,
			BatchID:  bottle.BatchID,
		}, nil
	}

	return &VerifyResult{
		Valid:    true,
		BottleID: bottle.BottleID,
		BatchID:  bottle.BatchID,
		Batch:    batch,
	}, nil
}

// recordScan appends the scan log row and broadcasts the event best-effort
func (s *VerificationService) recordScan(ctx context.Context, qrTokenHash string, bottle *models.Bottle, meta ScanMeta, valid bool, reason, batchID string) error {
	entry := &models.ScanLog{
		ID:          uuid.New(),
		QRTokenHash: qrTokenHash,
		Timestamp:   s.now(),
		Lat:         meta.Lat,
		Lng:         meta.Lng,
	}
	if bottle != nil {
		entry.BottleID = &bottle.BottleID
	}
	if meta.DeviceHash != "" {
		entry.DeviceHash = &meta.DeviceHash
	}

	if err := s.scanRepo.Create(ctx, entry); err != nil {
		return errors.Wrap(err, "failed to append scan log")
	}

	if s.publisher == nil {
		return nil
	}

	event := messaging.ScanEvent{
		ScanLogID:   entry.ID.String(),
		QRTokenHash: qrTokenHash,
		BatchID:     batchID,
		DeviceHash:  meta.DeviceHash,
		Valid:       valid,
		Reason:      reason,
		Lat:         meta.Lat,
		Lng:         meta.Lng,
		ScannedAt:   entry.Timestamp,
	}
	if bottle != nil {
		event.BottleID = bottle.BottleID
	}

	// Publishing is best-effort; the reconcile job picks up missed events
	if err := s.publisher.SendMessage(ctx, event); err != nil {
		log.Warn().Err(err).Str("scan_log_id", event.ScanLogID).Msg("Failed to publish scan event, reconcile job will index it")
	}

	return nil
}
