package repositories

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"example.com/pharmatrace/services/provenance/internal/models"
)

// BatchFilter narrows batch listing
type BatchFilter struct {
	ManufacturerID string
}

// ManufacturerTotals is an aggregation row grouping batches by manufacturer
type ManufacturerTotals struct {
	ManufacturerID string `json:"manufacturerId"`
	BatchCount     int64  `json:"batchCount"`
	BottleCount    int64  `json:"bottleCount"`
}

// BatchRepository defines the interface for batch storage
type BatchRepository interface {
	Create(ctx context.Context, batch *models.Batch) error
	GetByID(ctx context.Context, batchID string) (*models.Batch, error)
	List(ctx context.Context, filter BatchFilter, page, limit int) ([]models.Batch, error)
	ConfirmMint(ctx context.Context, batchID, mintTxHash, merkleRoot string, inserted int, mintedAt time.Time) error
	Count(ctx context.Context) (int64, error)
	TotalBottles(ctx context.Context) (int64, error)
	ManufacturerOverview(ctx context.Context, manufacturerID string, from, to *time.Time) ([]ManufacturerTotals, error)
}

// batchRepository implements BatchRepository
type batchRepository struct {
	db *gorm.DB
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *gorm.DB) BatchRepository {
	return &batchRepository{db: db}
}

// Create creates a new batch
func (r *batchRepository) Create(ctx context.Context, batch *models.Batch) error {
	err := r.db.WithContext(ctx).Create(batch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateKey
		}
		return err
	}
	return nil
}

// GetByID gets a batch by its caller-supplied batch identifier
func (r *batchRepository) GetByID(ctx context.Context, batchID string) (*models.Batch, error) {
	var batch models.Batch
	err := r.db.WithContext(ctx).Where("batch_id = ?", batchID).First(&batch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &batch, nil
}

// List returns batches, most recently created first
func (r *batchRepository) List(ctx context.Context, filter BatchFilter, page, limit int) ([]models.Batch, error) {
	page, limit = clampPage(page, limit)

	query := r.db.WithContext(ctx).Model(&models.Batch{})
	if filter.ManufacturerID != "" {
		query = query.Where("manufacturer_id = ?", filter.ManufacturerID)
	}

	var batches []models.Batch
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&batches).Error
	if err != nil {
		return nil, err
	}
	return batches, nil
}

// ConfirmMint records the mint outcome in one atomic update: status, mint
// metadata and merkle root are set while bottle_count is incremented by the
// number of bottles actually inserted. The status predicate makes the
// active->minted transition happen at most once.
func (r *batchRepository) ConfirmMint(ctx context.Context, batchID, mintTxHash, merkleRoot string, inserted int, mintedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.Batch{}).
		Where("batch_id = ? AND status = ?", batchID, models.BatchStatusActive).
		Updates(map[string]interface{}{
			"status":       models.BatchStatusMinted,
			"minted_at":    mintedAt,
			"merkle_root":  merkleRoot,
			"mint_tx_hash": mintTxHash,
			"bottle_count": gorm.Expr("bottle_count + ?", inserted),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the total number of batches
func (r *batchRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Batch{}).Count(&count).Error
	return count, err
}

// TotalBottles returns the sum of bottle counts across all batches
func (r *batchRepository) TotalBottles(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.Batch{}).
		Select("COALESCE(SUM(bottle_count), 0)").
		Scan(&total).Error
	return total, err
}

// ManufacturerOverview groups batch and bottle counts by manufacturer,
// optionally bounded by a creation-time window
func (r *batchRepository) ManufacturerOverview(ctx context.Context, manufacturerID string, from, to *time.Time) ([]ManufacturerTotals, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Batch{}).
		Select("manufacturer_id, COUNT(*) AS batch_count, COALESCE(SUM(bottle_count), 0) AS bottle_count").
		Group("manufacturer_id")

	if manufacturerID != "" {
		query = query.Where("manufacturer_id = ?", manufacturerID)
	}
	if from != nil {
		query = query.Where("created_at >= ?", *from)
	}
	if to != nil {
		query = query.Where("created_at <= ?", *to)
	}

	var rows []ManufacturerTotals
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// clampPage bounds pagination input: page floor 1, limit clamped to [1,100]
func clampPage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 25
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}
