package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/pharmatrace/services/provenance/internal/cache"
	"example.com/pharmatrace/services/provenance/internal/merkle"
	"example.com/pharmatrace/services/provenance/internal/models"
	"example.com/pharmatrace/services/provenance/internal/repositories"
	"example.com/pharmatrace/services/provenance/internal/security"
)

// DefaultMintChunkSize bounds how many bottles one bulk insert carries
const DefaultMintChunkSize = 1000

const batchCacheTTL = 5 * time.Minute

// BatchPayload carries the fields accepted on batch creation
type BatchPayload struct {
	BatchID          string     `json:"batchId"`
	ManufacturerID   string     `json:"manufacturerId"`
	ManufacturerName string     `json:"manufacturerName"`
	ProductID        string     `json:"productId"`
	Name             string     `json:"name"`
	ProductName      string     `json:"productName"`
	CompanyName      string     `json:"companyName"`
	Size             int        `json:"size"`
	Quantity         int        `json:"quantity"`
	ExpiresAt        *time.Time `json:"expiresAt"`
}

// ConfirmMintPayload carries the fields accepted on mint confirmation.
// Quantity and CompanyName override the batch's persisted values when set.
type ConfirmMintPayload struct {
	Quantity    int    `json:"quantity"`
	MintTxHash  string `json:"mintTxHash"`
	CompanyName string `json:"companyName"`
}

// MintResult is the outcome of a confirmed mint
type MintResult struct {
	BatchID        string `json:"batchId"`
	Status         string `json:"status"`
	BottlesCreated int    `json:"bottlesCreated"`
	MerkleRoot     string `json:"merkleRoot"`
	MintTxHash     string `json:"mintTxHash"`
}

// BatchCache is the slice of the Redis cache the batch service relies on
type BatchCache interface {
	Enabled() bool
	Get(ctx context.Context, key string, value interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Del(ctx context.Context, key string) error
}

// BatchService orchestrates batch bookkeeping and bulk bottle provisioning
type BatchService struct {
	batchRepo  repositories.BatchRepository
	bottleRepo repositories.BottleRepository
	crypto     *security.TokenCrypto
	cache      BatchCache
	chunkSize  int
	now        func() time.Time
}

// NewBatchService creates a new batch service
func NewBatchService(
	batchRepo repositories.BatchRepository,
	bottleRepo repositories.BottleRepository,
	crypto *security.TokenCrypto,
	redisCache BatchCache,
	chunkSize int,
) *BatchService {
	if chunkSize <= 0 {
		chunkSize = DefaultMintChunkSize
	}
	return &BatchService{
		batchRepo:  batchRepo,
		bottleRepo: bottleRepo,
		crypto:     crypto,
		cache:      redisCache,
		chunkSize:  chunkSize,
		now:        time.Now,
	}
}

// List returns batches filtered by manufacturer
func (s *BatchService) List(ctx context.Context, manufacturerID string, page, limit int) ([]models.Batch, error) {
	return s.batchRepo.List(ctx, repositories.BatchFilter{ManufacturerID: manufacturerID}, page, limit)
}

// Create registers a new batch in active status
func (s *BatchService) Create(ctx context.Context, payload BatchPayload) (*models.Batch, error) {
	if payload.BatchID == "" {
		return nil, NewValidationError("batchId is required")
	}

	companyName := payload.CompanyName
	if companyName == "" {
		companyName = payload.ManufacturerName
	}
	name := payload.Name
	if name == "" {
		name = payload.ProductName
	}
	quantity := 0
	if payload.Quantity > 0 {
		quantity = payload.Quantity
	}

	batch := &models.Batch{
		ID:             uuid.New(),
		BatchID:        payload.BatchID,
		ManufacturerID: payload.ManufacturerID,
		ProductID:      payload.ProductID,
		Name:           name,
		ProductName:    payload.ProductName,
		CompanyName:    companyName,
		Size:           payload.Size,
		Quantity:       quantity,
		ExpiresAt:      payload.ExpiresAt,
		Status:         models.BatchStatusActive,
	}

	if err := s.batchRepo.Create(ctx, batch); err != nil {
		return nil, err
	}

	log.Info().
		Str("batch_id", batch.BatchID).
		Str("manufacturer_id", batch.ManufacturerID).
		Msg("Batch created")

	return batch, nil
}

func (s *BatchService) cacheEnabled() bool {
	return s.cache != nil && s.cache.Enabled()
}

// GetByID loads a batch, serving repeated reads from cache
func (s *BatchService) GetByID(ctx context.Context, batchID string) (*models.Batch, error) {
	if s.cacheEnabled() {
		var cached models.Batch
		if err := s.cache.Get(ctx, cache.BatchCacheKey(batchID), &cached); err == nil {
			return &cached, nil
		}
	}

	batch, err := s.batchRepo.GetByID(ctx, batchID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}

	if s.cacheEnabled() {
		if err := s.cache.Set(ctx, cache.BatchCacheKey(batchID), batch, batchCacheTTL); err != nil {
			log.Warn().Err(err).Str("batch_id", batchID).Msg("Failed to cache batch")
		}
	}

	return batch, nil
}

// ConfirmMint provisions a batch's bottles and records the mint outcome.
//
// All validation happens before any bottle is created. Provisioning is
// chunked to bound memory and per-call payload size; each chunk's bulk
// insert tolerates per-bottle duplicate keys, so the operation is
// best-effort rather than all-or-nothing, and the returned count reflects
// bottles actually inserted.
func (s *BatchService) ConfirmMint(ctx context.Context, batchID string, payload ConfirmMintPayload) (*MintResult, error) {
	batch, err := s.batchRepo.GetByID(ctx, batchID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, errors.Wrap(err, "failed to load batch")
	}

	if batch.Status == models.BatchStatusMinted {
		return nil, NewValidationError("batch %s is already minted", batchID)
	}

	quantity := payload.Quantity
	if quantity == 0 {
		quantity = batch.Quantity
	}
	if quantity == 0 {
		quantity = batch.Size
	}
	if quantity <= 0 {
		return nil, NewValidationError("quantity must be a positive number")
	}

	if payload.MintTxHash == "" {
		return nil, NewValidationError("mintTxHash is required")
	}

	companyName := resolveCompanyName(payload.CompanyName, batch)
	if companyName == "" {
		return nil, NewValidationError("companyName is required")
	}

	expiryDate := ""
	if batch.ExpiresAt != nil {
		expiryDate = batch.ExpiresAt.UTC().Format("2006-01-02")
	}

	hashes := make([]string, 0, quantity)
	insertedTotal := 0
	manufacturedAt := s.now()

	for offset := 0; offset < quantity; offset += s.chunkSize {
		size := s.chunkSize
		if remaining := quantity - offset; remaining < size {
			size = remaining
		}

		bottles := make([]models.Bottle, 0, size)
		for i := 0; i < size; i++ {
			serialNo := offset + i + 1
			bottleID := fmt.Sprintf("%s-%d-%s", batchID, serialNo, s.crypto.GenerateID("btl"))
			tokenPlain := TokenPlaintext(companyName, batchID, expiryDate, serialNo)
			qrTokenHash := s.crypto.Hash(tokenPlain)
			hashes = append(hashes, qrTokenHash)
			bottles = append(bottles, models.Bottle{
				ID:             uuid.New(),
				BottleID:       bottleID,
				BatchID:        batchID,
				SerialNo:       serialNo,
				QRTokenHash:    qrTokenHash,
				State:          models.BottleStateActive,
				ManufacturedAt: &manufacturedAt,
			})
		}

		inserted, err := s.bottleRepo.BulkCreate(ctx, bottles)
		if err != nil {
			return nil, errors.Wrap(err, "failed to bulk insert bottles")
		}
		insertedTotal += inserted
	}

	root := merkle.BuildRoot(s.crypto, hashes)

	if err := s.batchRepo.ConfirmMint(ctx, batchID, payload.MintTxHash, root.Root, insertedTotal, s.now()); err != nil {
		return nil, errors.Wrap(err, "failed to record mint outcome")
	}

	// The batch just changed underneath any cached copy
	if s.cacheEnabled() {
		if err := s.cache.Del(ctx, cache.BatchCacheKey(batchID)); err != nil {
			log.Warn().Err(err).Str("batch_id", batchID).Msg("Failed to invalidate cached batch")
		}
	}

	log.Info().
		Str("batch_id", batchID).
		Int("bottles_created", insertedTotal).
		Str("merkle_root", root.Root).
		Msg("Batch minted")

	return &MintResult{
		BatchID:        batchID,
		Status:         models.BatchStatusMinted,
		BottlesCreated: insertedTotal,
		MerkleRoot:     root.Root,
		MintTxHash:     payload.MintTxHash,
	}, nil
}

// TokenPlaintext builds the plaintext QR token for one bottle. The
// pipe-delimited field order is load-bearing: export and verification both
// depend on regenerated tokens hashing to the stored qrTokenHash.
func TokenPlaintext(companyName, batchID, expiryDate string, serialNo int) string {
	return fmt.Sprintf("%s|%s|%s|%d", companyName, batchID, expiryDate, serialNo)
}

// resolveCompanyName resolves the token's company field: payload override
// first, then the batch's company/product/name fields in that order
func resolveCompanyName(override string, batch *models.Batch) string {
	if override != "" {
		return override
	}
	if batch.CompanyName != "" {
		return batch.CompanyName
	}
	if batch.ProductName != "" {
		return batch.ProductName
	}
	return batch.Name
}
