package repositories

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"example.com/pharmatrace/services/provenance/internal/models"
)

// ResetRequestRepository defines the interface for reset request storage
type ResetRequestRepository interface {
	Create(ctx context.Context, request *models.ResetRequest) error
	CountByBottle(ctx context.Context, bottleID string) (int64, error)
	LatestByBottle(ctx context.Context, bottleID string) (*models.ResetRequest, error)
	ApprovePending(ctx context.Context, bottleID string, approvedBy *string) (*models.ResetRequest, error)
}

// resetRequestRepository implements ResetRequestRepository
type resetRequestRepository struct {
	db *gorm.DB
}

// NewResetRequestRepository creates a new reset request repository
func NewResetRequestRepository(db *gorm.DB) ResetRequestRepository {
	return &resetRequestRepository{db: db}
}

// Create creates a new reset request
func (r *resetRequestRepository) Create(ctx context.Context, request *models.ResetRequest) error {
	return r.db.WithContext(ctx).Create(request).Error
}

// CountByBottle counts all reset requests ever made for a bottle
func (r *resetRequestRepository) CountByBottle(ctx context.Context, bottleID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ResetRequest{}).
		Where("bottle_id = ?", bottleID).
		Count(&count).Error
	return count, err
}

// LatestByBottle returns the most recent reset request for a bottle, or nil
// when none exists
func (r *resetRequestRepository) LatestByBottle(ctx context.Context, bottleID string) (*models.ResetRequest, error) {
	var request models.ResetRequest
	err := r.db.WithContext(ctx).
		Where("bottle_id = ?", bottleID).
		Order("created_at DESC").
		First(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &request, nil
}

// ApprovePending promotes the bottle's pending request to approved via
// compare-and-set, so each request can be approved at most once. Returns the
// approved request, or nil when no pending request matched.
func (r *resetRequestRepository) ApprovePending(ctx context.Context, bottleID string, approvedBy *string) (*models.ResetRequest, error) {
	var request models.ResetRequest
	err := r.db.WithContext(ctx).
		Where("bottle_id = ? AND status = ?", bottleID, models.ResetStatusPending).
		Order("created_at DESC").
		First(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	result := r.db.WithContext(ctx).
		Model(&models.ResetRequest{}).
		Where("id = ? AND status = ?", request.ID, models.ResetStatusPending).
		Updates(map[string]interface{}{
			"status":      models.ResetStatusApproved,
			"approved_by": approvedBy,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		// Lost the race to another approver
		return nil, nil
	}

	request.Status = models.ResetStatusApproved
	request.ApprovedBy = approvedBy
	return &request, nil
}
