package repositories

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/pharmatrace/services/provenance/internal/models"
)

// BottleFilter narrows bottle listing
type BottleFilter struct {
	BatchID string
	State   string
}

// BottleRepository defines the interface for bottle storage
type BottleRepository interface {
	Create(ctx context.Context, bottle *models.Bottle) error
	BulkCreate(ctx context.Context, bottles []models.Bottle) (int, error)
	GetByID(ctx context.Context, bottleID string) (*models.Bottle, error)
	GetByTokenHash(ctx context.Context, qrTokenHash string) (*models.Bottle, error)
	List(ctx context.Context, filter BottleFilter, page, limit int) ([]models.Bottle, error)
	ListByBatch(ctx context.Context, batchID string, offset, limit int) ([]models.Bottle, error)
	TransitionState(ctx context.Context, bottleID, fromState, toState string, extra map[string]interface{}) (*models.Bottle, error)
}

// bottleRepository implements BottleRepository
type bottleRepository struct {
	db *gorm.DB
}

// NewBottleRepository creates a new bottle repository
func NewBottleRepository(db *gorm.DB) BottleRepository {
	return &bottleRepository{db: db}
}

// Create creates a single bottle
func (r *bottleRepository) Create(ctx context.Context, bottle *models.Bottle) error {
	err := r.db.WithContext(ctx).Create(bottle).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateKey
		}
		return err
	}
	return nil
}

// BulkCreate inserts bottles best-effort and returns the count actually
// inserted. A duplicate key on one bottle is skipped without aborting the
// rest of the batch.
func (r *bottleRepository) BulkCreate(ctx context.Context, bottles []models.Bottle) (int, error) {
	if len(bottles) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&bottles)
	if result.Error != nil {
		return 0, result.Error
	}

	return int(result.RowsAffected), nil
}

// GetByID gets a bottle by its bottle identifier
func (r *bottleRepository) GetByID(ctx context.Context, bottleID string) (*models.Bottle, error) {
	var bottle models.Bottle
	err := r.db.WithContext(ctx).Where("bottle_id = ?", bottleID).First(&bottle).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &bottle, nil
}

// GetByTokenHash gets a bottle by its stored QR token hash
func (r *bottleRepository) GetByTokenHash(ctx context.Context, qrTokenHash string) (*models.Bottle, error) {
	var bottle models.Bottle
	err := r.db.WithContext(ctx).Where("qr_token_hash = ?", qrTokenHash).First(&bottle).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &bottle, nil
}

// List returns bottles, most recently created first
func (r *bottleRepository) List(ctx context.Context, filter BottleFilter, page, limit int) ([]models.Bottle, error) {
	page, limit = clampPage(page, limit)

	query := r.db.WithContext(ctx).Model(&models.Bottle{})
	if filter.BatchID != "" {
		query = query.Where("batch_id = ?", filter.BatchID)
	}
	if filter.State != "" {
		query = query.Where("state = ?", filter.State)
	}

	var bottles []models.Bottle
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&bottles).Error
	if err != nil {
		return nil, err
	}
	return bottles, nil
}

// ListByBatch returns a batch's bottles in serial order, for export paging
func (r *bottleRepository) ListByBatch(ctx context.Context, batchID string, offset, limit int) ([]models.Bottle, error) {
	var bottles []models.Bottle
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("serial_no ASC").
		Offset(offset).
		Limit(limit).
		Find(&bottles).Error
	if err != nil {
		return nil, err
	}
	return bottles, nil
}

// TransitionState applies an atomic compare-and-set on the bottle state: the
// update only matches when the bottle currently holds fromState. Returns the
// post-update bottle, or nil when nothing matched (absent bottle or wrong
// state). This is the concurrency backbone of claim and reset; exactly one
// concurrent caller can win the transition.
func (r *bottleRepository) TransitionState(ctx context.Context, bottleID, fromState, toState string, extra map[string]interface{}) (*models.Bottle, error) {
	updates := map[string]interface{}{"state": toState}
	for column, value := range extra {
		updates[column] = value
	}

	result := r.db.WithContext(ctx).
		Model(&models.Bottle{}).
		Where("bottle_id = ? AND state = ?", bottleID, fromState).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}

	var bottle models.Bottle
	if err := r.db.WithContext(ctx).Where("bottle_id = ?", bottleID).First(&bottle).Error; err != nil {
		return nil, err
	}
	return &bottle, nil
}
