package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"example.com/pharmatrace/services/provenance/internal/models"
	"example.com/pharmatrace/services/provenance/internal/repositories"
	"example.com/pharmatrace/services/provenance/internal/security"
)

// BottlePayload carries the fields accepted on direct bottle creation
type BottlePayload struct {
	BottleID    string `json:"bottleId"`
	BatchID     string `json:"batchId"`
	SerialNo    int    `json:"serialNo"`
	QRTokenHash string `json:"qrTokenHash"`
	State       string `json:"state"`
}

// BottleService exposes bottle records to the HTTP layer and export
type BottleService struct {
	bottleRepo repositories.BottleRepository
	crypto     *security.TokenCrypto
}

// NewBottleService creates a new bottle service
func NewBottleService(bottleRepo repositories.BottleRepository, crypto *security.TokenCrypto) *BottleService {
	return &BottleService{bottleRepo: bottleRepo, crypto: crypto}
}

// List returns bottles filtered by batch and state
func (s *BottleService) List(ctx context.Context, batchID, state string, page, limit int) ([]models.Bottle, error) {
	filter := repositories.BottleFilter{BatchID: batchID, State: state}
	return s.bottleRepo.List(ctx, filter, page, limit)
}

// Create registers a single bottle
func (s *BottleService) Create(ctx context.Context, payload BottlePayload) (*models.Bottle, error) {
	if payload.BottleID == "" || payload.BatchID == "" || payload.QRTokenHash == "" {
		return nil, NewValidationError("bottleId, batchId, and qrTokenHash are required")
	}

	state := payload.State
	if state == "" {
		state = models.BottleStateActive
	}

	bottle := &models.Bottle{
		ID:          uuid.New(),
		BottleID:    payload.BottleID,
		BatchID:     payload.BatchID,
		SerialNo:    payload.SerialNo,
		QRTokenHash: payload.QRTokenHash,
		State:       state,
	}

	if err := s.bottleRepo.Create(ctx, bottle); err != nil {
		return nil, err
	}
	return bottle, nil
}

// SignedToken returns the server-signed HMAC token for a bottle, used to
// authenticate re-printed labels without re-deriving batch metadata. Fails
// closed when the signing secret is unset.
func (s *BottleService) SignedToken(ctx context.Context, bottleID string) (string, error) {
	if _, err := s.GetByID(ctx, bottleID); err != nil {
		return "", err
	}
	return s.crypto.QRToken(bottleID)
}

// GetByID loads a bottle by its identifier
func (s *BottleService) GetByID(ctx context.Context, bottleID string) (*models.Bottle, error) {
	bottle, err := s.bottleRepo.GetByID(ctx, bottleID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrBottleNotFound
		}
		return nil, err
	}
	return bottle, nil
}
