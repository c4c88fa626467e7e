package model

import (
	"time"

	"github.com/google/uuid"
)

// MasterCode is a physical case label.
// ActualUnitCount is derived: linked unit codes whose status is not spoiled.
// It is always recomputed from the unit rows, never incremented.
type MasterCode struct {
	ID                  uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	BatchID             uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_master_batch_case"`
	VariantID           uuid.UUID  `gorm:"type:uuid;not null;index"`
	Code                string     `gorm:"type:varchar(120);not null;uniqueIndex"`
	CaseNumber          int        `gorm:"not null;uniqueIndex:idx_master_batch_case"`
	ExpectedUnitCount   int        `gorm:"not null"`
	ActualUnitCount     int        `gorm:"not null;default:0"`
	Status              string     `gorm:"type:varchar(30);not null;default:'generated';index"`
	CurrentOrgID        *uuid.UUID `gorm:"type:uuid;index"`
	DistributorOrgID    *uuid.UUID `gorm:"type:uuid"`
	ValidationSessionID *uuid.UUID `gorm:"type:uuid;index"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (MasterCode) TableName() string { return "qr_master_codes" }

// UnitCode is one consumer-facing code. MasterCodeID is a lookup key, not an
// ownership edge: reverting or deleting a case never touches unit rows by cascade.
// ReplacesSequenceNo is only set on buffer codes in status buffer_used.
type UnitCode struct {
	ID                  uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	BatchID             uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_unit_batch_seq"`
	VariantID           uuid.UUID  `gorm:"type:uuid;not null;index"`
	Code                string     `gorm:"type:varchar(120);not null;uniqueIndex"`
	SequenceNumber      int        `gorm:"not null;uniqueIndex:idx_unit_batch_seq"`
	MasterCodeID        *uuid.UUID `gorm:"type:uuid;index"`
	IsBuffer            bool       `gorm:"not null;default:false"`
	Status              string     `gorm:"type:varchar(30);not null;default:'created';index"`
	ReplacesSequenceNo  *int
	CurrentOrgID        *uuid.UUID `gorm:"type:uuid;index"`
	DistributorOrgID    *uuid.UUID `gorm:"type:uuid"`
	ValidationSessionID *uuid.UUID `gorm:"type:uuid;index"`
	// LastScannedAt is stamped by individual production scans.
	LastScannedAt *time.Time
	LastScannedBy *uuid.UUID `gorm:"type:uuid"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (UnitCode) TableName() string { return "qr_codes" }
