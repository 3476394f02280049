package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/pharmatrace/services/provenance/internal/models"
)

type resetFixture struct {
	service    *ResetService
	resetRepo  *fakeResetRequestRepo
	bottleRepo *fakeBottleRepo
	auditRepo  *fakeAuditLogRepo
}

func newResetFixture(t *testing.T, bottleState string) *resetFixture {
	t.Helper()
	f := &resetFixture{
		resetRepo:  newFakeResetRequestRepo(),
		bottleRepo: newFakeBottleRepo(),
		auditRepo:  newFakeAuditLogRepo(),
	}
	f.service = NewResetService(f.resetRepo, f.bottleRepo, f.auditRepo)

	require.NoError(t, f.bottleRepo.Create(context.Background(), &models.Bottle{
		BottleID:    "BATCH-1-1-btl_a",
		BatchID:     "BATCH-1",
		SerialNo:    1,
		QRTokenHash: "hash-a",
		State:       bottleState,
	}))
	return f
}

func TestRequestAndApproveReset(t *testing.T) {
	f := newResetFixture(t, models.BottleStateClaimed)

	requested, err := f.service.RequestReset(context.Background(), "BATCH-1-1-btl_a", ResetRequestPayload{Reason: "lost phone"}, Actor{ID: "user-1"})
	require.NoError(t, err)
	require.True(t, requested.Requested)
	require.NotEmpty(t, requested.ResetRequestID)

	approved, err := f.service.ApproveReset(context.Background(), "BATCH-1-1-btl_a", Actor{ID: "admin-1"})
	require.NoError(t, err)
	require.True(t, approved.Approved)

	bottle, err := f.bottleRepo.GetByID(context.Background(), "BATCH-1-1-btl_a")
	require.NoError(t, err)
	require.Equal(t, models.BottleStateActive, bottle.State)
	require.NotNil(t, bottle.ResetAt)

	// Both workflow steps leave an audit trail
	entries, err := f.auditRepo.ListByEntity(context.Background(), "ResetRequest", requested.ResetRequestID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "approved", entries[0].Action)
	require.Equal(t, "requested", entries[1].Action)
}

func TestRequestResetCooldown(t *testing.T) {
	f := newResetFixture(t, models.BottleStateClaimed)

	first, err := f.service.RequestReset(context.Background(), "BATCH-1-1-btl_a", ResetRequestPayload{}, Actor{})
	require.NoError(t, err)
	require.True(t, first.Requested)

	second, err := f.service.RequestReset(context.Background(), "BATCH-1-1-btl_a", ResetRequestPayload{}, Actor{})
	require.NoError(t, err)
	require.False(t, second.Requested)
	require.Equal(t, ReasonResetWindow, second.Reason)

	// Once the cooldown has elapsed a new request goes through
	f.service.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	third, err := f.service.RequestReset(context.Background(), "BATCH-1-1-btl_a", ResetRequestPayload{}, Actor{})
	require.NoError(t, err)
	require.True(t, third.Requested)
}

func TestRequestResetLifetimeLimit(t *testing.T) {
	f := newResetFixture(t, models.BottleStateClaimed)

	for i := 0; i < maxResetRequests; i++ {
		require.NoError(t, f.resetRepo.Create(context.Background(), &models.ResetRequest{
			ID:        uuid.New(),
			BottleID:  "BATCH-1-1-btl_a",
			Status:    models.ResetStatusApproved,
			CreatedAt: time.Now().Add(-time.Duration(i+2) * 24 * time.Hour),
		}))
	}

	result, err := f.service.RequestReset(context.Background(), "BATCH-1-1-btl_a", ResetRequestPayload{}, Actor{})
	require.NoError(t, err)
	require.False(t, result.Requested)
	require.Equal(t, ReasonResetLimit, result.Reason)
}

func TestApproveResetWithoutPendingRequest(t *testing.T) {
	f := newResetFixture(t, models.BottleStateClaimed)

	result, err := f.service.ApproveReset(context.Background(), "BATCH-1-1-btl_a", Actor{ID: "admin-1"})
	require.NoError(t, err)
	require.False(t, result.Approved)
	require.Equal(t, ReasonNotFound, result.Reason)
}

func TestApproveResetIsSingleShot(t *testing.T) {
	f := newResetFixture(t, models.BottleStateClaimed)

	_, err := f.service.RequestReset(context.Background(), "BATCH-1-1-btl_a", ResetRequestPayload{}, Actor{})
	require.NoError(t, err)

	first, err := f.service.ApproveReset(context.Background(), "BATCH-1-1-btl_a", Actor{ID: "admin-1"})
	require.NoError(t, err)
	require.True(t, first.Approved)

	// The request was consumed; a second approval finds nothing pending
	second, err := f.service.ApproveReset(context.Background(), "BATCH-1-1-btl_a", Actor{ID: "admin-1"})
	require.NoError(t, err)
	require.False(t, second.Approved)
}

func TestApproveResetOnUnclaimedBottle(t *testing.T) {
	f := newResetFixture(t, models.BottleStateActive)

	_, err := f.service.RequestReset(context.Background(), "BATCH-1-1-btl_a", ResetRequestPayload{}, Actor{})
	require.NoError(t, err)

	result, err := f.service.ApproveReset(context.Background(), "BATCH-1-1-btl_a", Actor{ID: "admin-1"})
	require.NoError(t, err)
	require.True(t, result.Approved)

	// The bottle stays active; the approval only consumes the request
	bottle, err := f.bottleRepo.GetByID(context.Background(), "BATCH-1-1-btl_a")
	require.NoError(t, err)
	require.Equal(t, models.BottleStateActive, bottle.State)
	require.Nil(t, bottle.ResetAt)
}
