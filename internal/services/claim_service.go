package services

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/pharmatrace/services/provenance/internal/models"
	"example.com/pharmatrace/services/provenance/internal/repositories"
	"example.com/pharmatrace/services/provenance/internal/security"
)

// ReasonNotActive marks a claim attempt on a bottle that is absent or not
// currently active
const ReasonNotActive = "NOT_ACTIVE"

// Actor identifies who performs a privileged operation
type Actor struct {
	ID string
}

// ClaimResult is the outcome of a claim attempt
type ClaimResult struct {
	Claimed  bool   `json:"claimed"`
	BottleID string `json:"bottleId"`
	State    string `json:"state,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ClaimService transitions bottles from active to claimed
type ClaimService struct {
	bottleRepo repositories.BottleRepository
	crypto     *security.TokenCrypto
	now        func() time.Time
}

// NewClaimService creates a new claim service
func NewClaimService(bottleRepo repositories.BottleRepository, crypto *security.TokenCrypto) *ClaimService {
	return &ClaimService{
		bottleRepo: bottleRepo,
		crypto:     crypto,
		now:        time.Now,
	}
}

// Claim takes consumer ownership of a bottle. The operation is idempotent
// under retries and tolerant of race losers: the compare-and-set decides the
// single winner, and any caller observing the bottle already claimed still
// reports success, since the state achieved matches its intent.
func (s *ClaimService) Claim(ctx context.Context, bottleID string, actor Actor) (*ClaimResult, error) {
	var claimedBy *string
	if actor.ID != "" {
		claimedBy = &actor.ID
	}

	updated, err := s.bottleRepo.TransitionState(ctx, bottleID,
		models.BottleStateActive, models.BottleStateClaimed,
		map[string]interface{}{
			"claimed_at": s.now(),
			"claimed_by": claimedBy,
		})
	if err != nil {
		return nil, errors.Wrap(err, "failed to transition bottle state")
	}

	if updated != nil {
		log.Info().
			Str("bottle_id", bottleID).
			Str("actor_id", actor.ID).
			Msg("Bottle claimed")
		return &ClaimResult{Claimed: true, BottleID: bottleID, State: updated.State}, nil
	}

	existing, err := s.bottleRepo.GetByID(ctx, bottleID)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, errors.Wrap(err, "failed to re-fetch bottle")
	}

	if existing != nil && existing.State == models.BottleStateClaimed {
		return &ClaimResult{Claimed: true, BottleID: bottleID, State: existing.State}, nil
	}

	return &ClaimResult{Claimed: false, BottleID: bottleID, Reason: ReasonNotActive}, nil
}

// ClaimByToken claims the bottle behind a scanned plaintext token, for
// consumers who only hold the QR code
func (s *ClaimService) ClaimByToken(ctx context.Context, qrToken string, actor Actor) (*ClaimResult, error) {
	bottle, err := s.bottleRepo.GetByTokenHash(ctx, s.crypto.Hash(qrToken))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return &ClaimResult{Claimed: false, Reason: ReasonNotFound}, nil
		}
		return nil, errors.Wrap(err, "failed to look up bottle by token hash")
	}

	return s.Claim(ctx, bottle.BottleID, actor)
}
