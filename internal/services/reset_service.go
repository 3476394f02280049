package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/pharmatrace/services/provenance/internal/models"
	"example.com/pharmatrace/services/provenance/internal/repositories"
)

// Reset rejection reasons
const (
	ReasonResetLimit  = "RESET_LIMIT"
	ReasonResetWindow = "RESET_WINDOW"
)

// Reset workflow limits: lifetime cap per bottle and cooldown between
// consecutive requests
const (
	maxResetRequests = 3
	resetCooldown    = 24 * time.Hour
)

const auditEntityResetRequest = "ResetRequest"

// ResetRequestPayload carries the fields accepted on a reset request
type ResetRequestPayload struct {
	Reason string `json:"reason"`
}

// RequestResetResult is the outcome of a reset request
type RequestResetResult struct {
	Requested      bool   `json:"requested"`
	Reason         string `json:"reason,omitempty"`
	ResetRequestID string `json:"resetRequestId,omitempty"`
}

// ApproveResetResult is the outcome of a reset approval
type ApproveResetResult struct {
	Approved bool   `json:"approved"`
	BottleID string `json:"bottleId,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ResetService runs the two-phase request/approve workflow returning a
// claimed bottle to circulation
type ResetService struct {
	resetRepo  repositories.ResetRequestRepository
	bottleRepo repositories.BottleRepository
	auditRepo  repositories.AuditLogRepository
	now        func() time.Time
}

// NewResetService creates a new reset service
func NewResetService(
	resetRepo repositories.ResetRequestRepository,
	bottleRepo repositories.BottleRepository,
	auditRepo repositories.AuditLogRepository,
) *ResetService {
	return &ResetService{
		resetRepo:  resetRepo,
		bottleRepo: bottleRepo,
		auditRepo:  auditRepo,
		now:        time.Now,
	}
}

// RequestReset opens a pending reset request for a bottle. Requests are
// capped at three per bottle for its lifetime, and a new request is rejected
// while the most recent one is younger than the cooldown.
func (s *ResetService) RequestReset(ctx context.Context, bottleID string, payload ResetRequestPayload, actor Actor) (*RequestResetResult, error) {
	count, err := s.resetRepo.CountByBottle(ctx, bottleID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count reset requests")
	}
	if count >= maxResetRequests {
		return &RequestResetResult{Requested: false, Reason: ReasonResetLimit}, nil
	}

	last, err := s.resetRepo.LatestByBottle(ctx, bottleID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load latest reset request")
	}
	if last != nil && s.now().Sub(last.CreatedAt) < resetCooldown {
		return &RequestResetResult{Requested: false, Reason: ReasonResetWindow}, nil
	}

	var requestedBy *string
	if actor.ID != "" {
		requestedBy = &actor.ID
	}

	request := &models.ResetRequest{
		ID:          uuid.New(),
		BottleID:    bottleID,
		Status:      models.ResetStatusPending,
		Reason:      payload.Reason,
		RequestedBy: requestedBy,
	}
	if err := s.resetRepo.Create(ctx, request); err != nil {
		return nil, errors.Wrap(err, "failed to create reset request")
	}

	s.audit(ctx, request.ID.String(), "requested", requestedBy)

	log.Info().
		Str("bottle_id", bottleID).
		Str("reset_request_id", request.ID.String()).
		Msg("Reset requested")

	return &RequestResetResult{Requested: true, ResetRequestID: request.ID.String()}, nil
}

// ApproveReset approves the bottle's pending request and returns the bottle
// to active circulation. The pending->approved compare-and-set can succeed
// only once per request. When the bottle is not currently claimed the state
// transition quietly misses; the approval itself still stands.
func (s *ResetService) ApproveReset(ctx context.Context, bottleID string, approver Actor) (*ApproveResetResult, error) {
	var approvedBy *string
	if approver.ID != "" {
		approvedBy = &approver.ID
	}

	request, err := s.resetRepo.ApprovePending(ctx, bottleID, approvedBy)
	if err != nil {
		return nil, errors.Wrap(err, "failed to approve reset request")
	}
	if request == nil {
		return &ApproveResetResult{Approved: false, Reason: ReasonNotFound}, nil
	}

	updated, err := s.bottleRepo.TransitionState(ctx, bottleID,
		models.BottleStateClaimed, models.BottleStateActive,
		map[string]interface{}{"reset_at": s.now()})
	if err != nil {
		return nil, errors.Wrap(err, "failed to transition bottle state")
	}
	if updated == nil {
		// The approval consumes the request even when the bottle is not
		// claimed and the state transition misses
		log.Warn().
			Str("bottle_id", bottleID).
			Str("reset_request_id", request.ID.String()).
			Msg("Reset approved but bottle was not claimed")
	}

	s.audit(ctx, request.ID.String(), "approved", approvedBy)

	log.Info().
		Str("bottle_id", bottleID).
		Str("reset_request_id", request.ID.String()).
		Msg("Reset approved")

	return &ApproveResetResult{Approved: true, BottleID: bottleID}, nil
}

// audit appends an audit log entry, logging instead of failing the workflow
// when the append itself fails
func (s *ResetService) audit(ctx context.Context, requestID, action string, actorID *string) {
	entry := &models.AuditLog{
		ID:         uuid.New(),
		EntityType: auditEntityResetRequest,
		EntityID:   requestID,
		Action:     action,
		ActorID:    actorID,
		Timestamp:  s.now(),
	}
	if err := s.auditRepo.Create(ctx, entry); err != nil {
		log.Error().Err(err).Str("reset_request_id", requestID).Str("action", action).Msg("Failed to write audit log entry")
	}
}
