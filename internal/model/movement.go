package model

import (
	"time"

	"github.com/google/uuid"
)

// Movement code types.
const (
	CodeTypeMaster = "master"
	CodeTypeUnit   = "unit"
)

// Movement actions.
const (
	ActionMarkPerfect     = "mark_perfect"
	ActionSpoil           = "spoil"
	ActionBufferAssign    = "buffer_assign"
	ActionCaseRecount     = "case_recount"
	ActionCompensate      = "compensate"
	ActionWarehouseIntake = "warehouse_intake"
	ActionWarrantyBonus   = "warranty_bonus"
	ActionShipmentScan    = "shipment_scan"
	ActionShipmentUnlink  = "shipment_unlink"
	ActionShipmentApprove = "shipment_approve"
	ActionShipmentVoid    = "shipment_void"
)

// Movement is an append-only audit row written as a side effect of every
// status-changing action. Rows are never updated or deleted.
type Movement struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CodeID      uuid.UUID  `gorm:"type:uuid;not null;index"`
	CodeType    string     `gorm:"type:varchar(10);not null"` // master | unit
	Action      string     `gorm:"type:varchar(30);not null;index"`
	FromStatus  string     `gorm:"type:varchar(30)"`
	ToStatus    string     `gorm:"type:varchar(30)"`
	FromOrgID   *uuid.UUID `gorm:"type:uuid"`
	ToOrgID     *uuid.UUID `gorm:"type:uuid"`
	ActorID     *uuid.UUID `gorm:"type:uuid"`
	ReferenceID *uuid.UUID `gorm:"type:uuid;index"` // job, session or batch
	Note        string
	CreatedAt   time.Time
}

func (Movement) TableName() string { return "qr_movements" }

// Stock movement types posted to the ledger.
const (
	StockAddition      = "addition"
	StockWarrantyBonus = "warranty_bonus"
)

// StockPostingDedup remembers every ledger posting that succeeded, keyed by an
// idempotency key, so a re-run of the intake never posts twice.
type StockPostingDedup struct {
	Key              string    `gorm:"type:varchar(200);primaryKey"`
	BatchID          uuid.UUID `gorm:"type:uuid;not null;index"`
	VariantID        uuid.UUID `gorm:"type:uuid;not null"`
	MovementType     string    `gorm:"type:varchar(30);not null"`
	Quantity         int       `gorm:"not null"`
	LedgerMovementID string    `gorm:"type:varchar(120)"`
	CreatedAt        time.Time
}

func (StockPostingDedup) TableName() string { return "wms_movement_dedup" }
