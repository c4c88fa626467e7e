package model

import (
	"time"

	"github.com/google/uuid"
)

// Receiving statuses drive the warehouse intake FIFO.
const (
	ReceivingIdle       = "idle"
	ReceivingQueued     = "queued"
	ReceivingProcessing = "processing"
	ReceivingCompleted  = "completed"
	ReceivingFailed     = "failed"
)

// Batch is a production run of one product variant. It owns its master and
// unit codes by id; nothing cascades from it.
// ReceivingStatus: "idle" | "queued" | "processing" | "completed" | "failed"
type Batch struct {
	ID                       uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OrderID                  uuid.UUID  `gorm:"type:uuid;not null;index"`
	VariantID                uuid.UUID  `gorm:"type:uuid;not null;index"`
	ManufacturerOrgID        *uuid.UUID `gorm:"type:uuid"`
	ExpectedUnitCountPerCase int        `gorm:"not null"`
	BufferPercent            int        `gorm:"not null;default:0"`
	ReceivingStatus          string     `gorm:"type:varchar(20);not null;default:'idle';index"`
	ReceivingQueuedAt        *time.Time
	ReceivingStartedAt       *time.Time
	ReceivingCompletedAt     *time.Time
	ReceivingError           *string
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

func (Batch) TableName() string { return "qr_batches" }
