package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Validation session statuses. Only pending sessions accept mutations.
const (
	SessionPending  = "pending"
	SessionMatched  = "matched"
	SessionApproved = "approved"
	SessionVoid     = "void"
)

// QuantityAggregateVersion is bumped whenever the aggregate shape changes.
const QuantityAggregateVersion = 1

// VariantQuantity counts units and whole cases for one variant.
type VariantQuantity struct {
	Units int `json:"units"`
	Cases int `json:"cases"`
}

// QuantityAggregate is the per-variant snapshot stored on a session. It is
// always rebuilt from scratch and written whole.
type QuantityAggregate struct {
	Version    int                        `json:"version"`
	PerVariant map[string]VariantQuantity `json:"per_variant"`
}

// NewQuantityAggregate returns an empty aggregate at the current version.
func NewQuantityAggregate() QuantityAggregate {
	return QuantityAggregate{Version: QuantityAggregateVersion, PerVariant: map[string]VariantQuantity{}}
}

// Add accumulates units and cases for a variant.
func (a *QuantityAggregate) Add(variantID string, units, cases int) {
	if a.PerVariant == nil {
		a.PerVariant = map[string]VariantQuantity{}
	}
	q := a.PerVariant[variantID]
	q.Units += units
	q.Cases += cases
	a.PerVariant[variantID] = q
}

// TotalUnits sums units across variants.
func (a QuantityAggregate) TotalUnits() int {
	total := 0
	for _, q := range a.PerVariant {
		total += q.Units
	}
	return total
}

// Discrepancy warning kinds.
const (
	WarningShortfall         = "shortfall"
	WarningExcess            = "excess"
	WarningUnexpectedVariant = "unexpected_variant"
)

// DiscrepancyWarning describes one mismatch between scanned and expected units.
type DiscrepancyWarning struct {
	Kind      string `json:"kind"`
	VariantID string `json:"variant_id"`
	Expected  int    `json:"expected"`
	Scanned   int    `json:"scanned"`
	Delta     int    `json:"delta"`
	Message   string `json:"message"`
}

// DiscrepancyReport is the reconciliation result stored on a session.
type DiscrepancyReport struct {
	Version        int                  `json:"version"`
	HasDiscrepancy bool                 `json:"has_discrepancy"`
	Warnings       []DiscrepancyWarning `json:"warnings"`
}

// ValidationSession accumulates the scans of one outbound shipment.
// ValidationStatus: "pending" | "matched" | "approved" | "void"
type ValidationSession struct {
	ID                 uuid.UUID                             `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	WarehouseOrgID     uuid.UUID                             `gorm:"type:uuid;not null;index"`
	DistributorOrgID   uuid.UUID                             `gorm:"type:uuid;not null"`
	DestinationOrderID uuid.UUID                             `gorm:"type:uuid;not null;index"`
	MasterCodesScanned datatypes.JSONSlice[string]           `gorm:"type:jsonb"`
	UniqueCodesScanned datatypes.JSONSlice[string]           `gorm:"type:jsonb"`
	ScannedQuantities  datatypes.JSONType[QuantityAggregate] `gorm:"type:jsonb"`
	ExpectedQuantities datatypes.JSONType[QuantityAggregate] `gorm:"type:jsonb"`
	DiscrepancyDetails datatypes.JSONType[DiscrepancyReport] `gorm:"type:jsonb"`
	ValidationStatus   string                                `gorm:"type:varchar(20);not null;default:'pending';index"`
	Notes              *string                               `gorm:"type:text"`
	CreatedBy          *uuid.UUID                            `gorm:"type:uuid"`
	ApprovedBy         *uuid.UUID                            `gorm:"type:uuid"`
	ApprovedAt         *time.Time
	VoidedAt           *time.Time
	CreatedAt          time.Time `gorm:"index"`
	UpdatedAt          time.Time
}

func (ValidationSession) TableName() string { return "qr_validation_reports" }
