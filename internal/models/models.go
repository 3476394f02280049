package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Batch and bottle lifecycle states
const (
	BatchStatusActive = "active"
	BatchStatusMinted = "minted"

	BottleStateActive  = "active"
	BottleStateClaimed = "claimed"

	ResetStatusPending  = "pending"
	ResetStatusApproved = "approved"
)

// Batch represents one manufacturing run of a product
type Batch struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"-"`
	CreatedAt      time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
	BatchID        string         `gorm:"not null;uniqueIndex" json:"batchId"`
	ManufacturerID string         `gorm:"index" json:"manufacturerId,omitempty"`
	ProductID      string         `json:"productId,omitempty"`
	Name           string         `json:"name,omitempty"`
	ProductName    string         `json:"productName,omitempty"`
	CompanyName    string         `json:"companyName,omitempty"`
	Size           int            `json:"size,omitempty"`
	Quantity       int            `json:"quantity,omitempty"`
	ExpiresAt      *time.Time     `json:"expiresAt,omitempty"`
	Status         string         `gorm:"not null;default:active" json:"status"`
	MintedAt       *time.Time     `json:"mintedAt,omitempty"`
	BottleCount    int            `gorm:"not null;default:0" json:"bottleCount"`
	MerkleRoot     string         `json:"merkleRoot,omitempty"`
	MintTxHash     string         `json:"mintTxHash,omitempty"`
}

// Bottle represents one physical, individually-identifiable unit of a batch.
// Only the hash of the QR token is stored; the plaintext token never touches
// the database.
type Bottle struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"-"`
	CreatedAt      time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
	BottleID       string         `gorm:"not null;uniqueIndex" json:"bottleId"`
	BatchID        string         `gorm:"not null;index:idx_bottles_batch_state" json:"batchId"`
	SerialNo       int            `gorm:"not null;default:0" json:"serialNo"`
	QRTokenHash    string         `gorm:"column:qr_token_hash;not null;uniqueIndex" json:"qrTokenHash"`
	State          string         `gorm:"not null;default:active;index:idx_bottles_batch_state" json:"state"`
	ManufacturedAt *time.Time     `json:"manufacturedAt,omitempty"`
	ClaimedAt      *time.Time     `json:"claimedAt,omitempty"`
	ClaimedBy      *string        `json:"claimedBy,omitempty"`
	ResetAt        *time.Time     `json:"resetAt,omitempty"`
}

// ScanLog is an append-only record of every verification attempt, valid or
// not. BottleID stays nil when the presented token matched nothing.
type ScanLog struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	QRTokenHash string    `gorm:"column:qr_token_hash;index" json:"qrTokenHash"`
	BottleID    *string   `json:"bottleId,omitempty"`
	Timestamp   time.Time `gorm:"index:,sort:desc" json:"timestamp"`
	Lat         *float64  `json:"lat,omitempty"`
	Lng         *float64  `json:"lng,omitempty"`
	DeviceHash  *string   `gorm:"index" json:"deviceHash,omitempty"`
	Indexed     bool      `gorm:"not null;default:false;index" json:"-"`
}

// ResetRequest is a pending/approved request to unlock a claimed bottle
type ResetRequest struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"resetRequestId"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	BottleID    string    `gorm:"not null;index" json:"bottleId"`
	Status      string    `gorm:"not null;default:pending;index" json:"status"`
	Reason      string    `json:"reason,omitempty"`
	RequestedBy *string   `json:"requestedBy,omitempty"`
	ApprovedBy  *string   `json:"approvedBy,omitempty"`
}

// AuditLog is an append-only record of privileged actions
type AuditLog struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	EntityType string    `gorm:"index" json:"entityType"`
	EntityID   string    `gorm:"index" json:"entityId"`
	Action     string    `json:"action"`
	ActorID    *string   `json:"actorId,omitempty"`
	Timestamp  time.Time `gorm:"index:,sort:desc" json:"timestamp"`
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	// Apply all migrations
	err := db.AutoMigrate(
		&Batch{},
		&Bottle{},
		&ScanLog{},
		&ResetRequest{},
		&AuditLog{},
	)

	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
