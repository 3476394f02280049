package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/pharmatrace/services/provenance/internal/models"
	"example.com/pharmatrace/services/provenance/internal/security"
)

func TestCreateBottleValidation(t *testing.T) {
	service := NewBottleService(newFakeBottleRepo(), security.New("test-secret"))

	_, err := service.Create(context.Background(), BottlePayload{BottleID: "only-an-id"})
	require.True(t, IsValidation(err))
}

func TestCreateBottleDefaultsState(t *testing.T) {
	repo := newFakeBottleRepo()
	service := NewBottleService(repo, security.New("test-secret"))

	bottle, err := service.Create(context.Background(), BottlePayload{
		BottleID:    "BATCH-1-1-btl_a",
		BatchID:     "BATCH-1",
		SerialNo:    1,
		QRTokenHash: "hash-a",
	})
	require.NoError(t, err)
	require.Equal(t, models.BottleStateActive, bottle.State)

	stored, err := repo.GetByID(context.Background(), "BATCH-1-1-btl_a")
	require.NoError(t, err)
	require.Equal(t, models.BottleStateActive, stored.State)
}

func TestListBottlesByState(t *testing.T) {
	repo := newFakeBottleRepo()
	service := NewBottleService(repo, security.New("test-secret"))

	for i, state := range []string{models.BottleStateActive, models.BottleStateClaimed} {
		_, err := service.Create(context.Background(), BottlePayload{
			BottleID:    fmt.Sprintf("BATCH-1-%d-btl_x", i+1),
			BatchID:     "BATCH-1",
			SerialNo:    i + 1,
			QRTokenHash: "hash-" + state,
			State:       state,
		})
		require.NoError(t, err)
	}

	claimed, err := service.List(context.Background(), "BATCH-1", models.BottleStateClaimed, 1, 25)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, models.BottleStateClaimed, claimed[0].State)
}

func TestSignedToken(t *testing.T) {
	repo := newFakeBottleRepo()
	crypto := security.New("test-secret")
	service := NewBottleService(repo, crypto)

	require.NoError(t, repo.Create(context.Background(), &models.Bottle{
		BottleID:    "BATCH-1-1-btl_a",
		BatchID:     "BATCH-1",
		QRTokenHash: "hash-a",
		State:       models.BottleStateActive,
	}))

	token, err := service.SignedToken(context.Background(), "BATCH-1-1-btl_a")
	require.NoError(t, err)

	expected, err := crypto.QRToken("BATCH-1-1-btl_a")
	require.NoError(t, err)
	require.Equal(t, expected, token)

	_, err = service.SignedToken(context.Background(), "missing")
	require.ErrorIs(t, err, ErrBottleNotFound)
}

func TestSignedTokenRequiresSecret(t *testing.T) {
	repo := newFakeBottleRepo()
	service := NewBottleService(repo, security.New(""))

	require.NoError(t, repo.Create(context.Background(), &models.Bottle{
		BottleID:    "BATCH-1-1-btl_a",
		BatchID:     "BATCH-1",
		QRTokenHash: "hash-a",
		State:       models.BottleStateActive,
	}))

	_, err := service.SignedToken(context.Background(), "BATCH-1-1-btl_a")
	require.ErrorIs(t, err, security.ErrSecretMissing)
}
