package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/pharmatrace/services/provenance/internal/messaging"
	"example.com/pharmatrace/services/provenance/internal/models"
	"example.com/pharmatrace/services/provenance/internal/security"
)

type verifyFixture struct {
	service    *VerificationService
	batchRepo  *fakeBatchRepo
	bottleRepo *fakeBottleRepo
	scanRepo   *fakeScanLogRepo
	publisher  *fakePublisher
	crypto     *security.TokenCrypto
}

func newVerifyFixture(t *testing.T) *verifyFixture {
	t.Helper()
	f := &verifyFixture{
		batchRepo:  newFakeBatchRepo(),
		bottleRepo: newFakeBottleRepo(),
		scanRepo:   newFakeScanLogRepo(),
		publisher:  &fakePublisher{},
		crypto:     security.New("test-secret"),
	}
	f.service = NewVerificationService(f.bottleRepo, f.batchRepo, f.scanRepo, f.crypto, f.publisher)
	return f
}

// seedBottle provisions one batch with one bottle and returns its plaintext
// token
func (f *verifyFixture) seedBottle(t *testing.T, batchID string, expiresAt *time.Time, state string) string {
	t.Helper()
	require.NoError(t, f.batchRepo.Create(context.Background(), &models.Batch{
		BatchID:     batchID,
		CompanyName: "Acme Pharma",
		ExpiresAt:   expiresAt,
		Status:      models.BatchStatusMinted,
	}))

	token := TokenPlaintext("Acme Pharma", batchID, "", 1)
	require.NoError(t, f.bottleRepo.Create(context.Background(), &models.Bottle{
		BottleID:    batchID + "-1-btl_test",
		BatchID:     batchID,
		SerialNo:    1,
		QRTokenHash: f.crypto.Hash(token),
		State:       state,
	}))
	return token
}

func TestVerifyValidToken(t *testing.T) {
	f := newVerifyFixture(t)
	expires := time.Now().Add(24 * time.Hour)
	token := f.seedBottle(t, "BATCH-1", &expires, models.BottleStateActive)

	result, err := f.service.VerifyCode(context.Background(), token, ScanMeta{})
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Equal(t, "BATCH-1", result.BatchID)
	require.NotNil(t, result.Batch)

	scans := f.scanRepo.all()
	require.Len(t, scans, 1)
	require.NotNil(t, scans[0].BottleID)
	require.Len(t, f.publisher.events, 1)
}

func TestVerifyUnknownTokenIsLogged(t *testing.T) {
	f := newVerifyFixture(t)

	result, err := f.service.VerifyCode(context.Background(), "no-such-token", ScanMeta{DeviceHash: "dev-1"})
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Equal(t, ReasonNotFound, result.Reason)

	// Unknown tokens still leave a scan trail for abuse analytics
	scans := f.scanRepo.all()
	require.Len(t, scans, 1)
	require.Nil(t, scans[0].BottleID)
	require.Equal(t, f.crypto.Hash("no-such-token"), scans[0].QRTokenHash)
	require.Equal(t, "dev-1", *scans[0].DeviceHash)
}

func TestVerifyExpiredBatch(t *testing.T) {
	f := newVerifyFixture(t)
	expires := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	token := f.seedBottle(t, "BATCH-1", &expires, models.BottleStateActive)

	f.service.now = func() time.Time { return expires.Add(time.Hour) }

	result, err := f.service.VerifyCode(context.Background(), token, ScanMeta{})
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Equal(t, ReasonExpired, result.Reason)
	require.Equal(t, "BATCH-1", result.BatchID)
	require.Len(t, f.scanRepo.all(), 1)
}

func TestVerifyClaimedBottleIsInactive(t *testing.T) {
	f := newVerifyFixture(t)
	token := f.seedBottle(t, "BATCH-1", nil, models.BottleStateClaimed)

	result, err := f.service.VerifyCode(context.Background(), token, ScanMeta{})
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Equal(t, ReasonInactive, result.Reason)
}

func TestVerifySurvivesPublishFailure(t *testing.T) {
	f := newVerifyFixture(t)
	f.publisher.fail = true
	token := f.seedBottle(t, "BATCH-1", nil, models.BottleStateActive)

	result, err := f.service.VerifyCode(context.Background(), token, ScanMeta{})
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Len(t, f.scanRepo.all(), 1)
}

func TestVerifyRecordsGeoMeta(t *testing.T) {
	f := newVerifyFixture(t)
	token := f.seedBottle(t, "BATCH-1", nil, models.BottleStateActive)

	lat, lng := -1.2921, 36.8219
	_, err := f.service.VerifyCode(context.Background(), token, ScanMeta{Lat: &lat, Lng: &lng})
	require.NoError(t, err)

	scans := f.scanRepo.all()
	require.Len(t, scans, 1)
	require.Equal(t, lat, *scans[0].Lat)
	require.Equal(t, lng, *scans[0].Lng)

	event := f.publisher.events[0].(messaging.ScanEvent)
	require.Equal(t, lat, *event.Lat)
	require.True(t, event.Valid)
}
