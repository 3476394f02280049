package repositories

import (
	"context"

	"gorm.io/gorm"

	"example.com/pharmatrace/services/provenance/internal/models"
)

// ScanLogRepository defines the interface for the append-only scan log
type ScanLogRepository interface {
	Create(ctx context.Context, entry *models.ScanLog) error
	ListUnindexed(ctx context.Context, limit int) ([]models.ScanLog, error)
	MarkIndexed(ctx context.Context, ids []string) error
	CountByTokenHash(ctx context.Context, qrTokenHash string) (int64, error)
}

// scanLogRepository implements ScanLogRepository
type scanLogRepository struct {
	db *gorm.DB
}

// NewScanLogRepository creates a new scan log repository
func NewScanLogRepository(db *gorm.DB) ScanLogRepository {
	return &scanLogRepository{db: db}
}

// Create appends one scan log entry
func (r *scanLogRepository) Create(ctx context.Context, entry *models.ScanLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// ListUnindexed returns scan entries not yet pushed to the search index
func (r *scanLogRepository) ListUnindexed(ctx context.Context, limit int) ([]models.ScanLog, error) {
	var entries []models.ScanLog
	err := r.db.WithContext(ctx).
		Where("indexed = ?", false).
		Order("timestamp ASC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// MarkIndexed marks scan entries as pushed to the search index
func (r *scanLogRepository) MarkIndexed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.ScanLog{}).
		Where("id IN ?", ids).
		Update("indexed", true).Error
}

// CountByTokenHash counts scan attempts recorded against one token hash
func (r *scanLogRepository) CountByTokenHash(ctx context.Context, qrTokenHash string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ScanLog{}).
		Where("qr_token_hash = ?", qrTokenHash).
		Count(&count).Error
	return count, err
}
