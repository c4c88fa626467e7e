package dto

import (
	"time"

	"qrtrace/internal/model"
)

// ─── Request DTOs ────────────────────────────────────────────────────────────

type StartSessionRequest struct {
	WarehouseOrgID     string `json:"warehouse_org_id"     validate:"required,uuid"`
	DistributorOrgID   string `json:"distributor_org_id"   validate:"required,uuid"`
	DestinationOrderID string `json:"destination_order_id" validate:"required,uuid"`
}

type ScanRequest struct {
	Code string `json:"code" validate:"required,min=1"`
}

type UnlinkMasterRequest struct {
	MasterCode string `json:"master_code" validate:"required,min=1"`
}

type ApproveRequest struct {
	Force bool    `json:"force"`
	Notes *string `json:"notes"`
}

type BulkUnlinkRequest struct {
	SessionID    *string `json:"session_id"    validate:"omitempty,uuid"`
	VariantID    *string `json:"variant_id"    validate:"omitempty,uuid"`
	VariantLabel *string `json:"variant_label" validate:"omitempty,min=1"`
	MasterCode   *string `json:"master_code"   validate:"omitempty,min=1"`
}

type SessionFilter struct {
	Status string `form:"status" validate:"omitempty,oneof=pending matched approved void all"`
	Page   int    `form:"page"`
	Limit  int    `form:"limit"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type SessionResponse struct {
	ID                 string                  `json:"id"`
	WarehouseOrgID     string                  `json:"warehouse_org_id"`
	DistributorOrgID   string                  `json:"distributor_org_id"`
	DestinationOrderID string                  `json:"destination_order_id"`
	ValidationStatus   string                  `json:"validation_status"`
	MasterCodesScanned []string                `json:"master_codes_scanned"`
	UniqueCodesScanned []string                `json:"unique_codes_scanned"`
	ScannedQuantities  model.QuantityAggregate `json:"scanned_quantities"`
	ExpectedQuantities model.QuantityAggregate `json:"expected_quantities"`
	Discrepancy        model.DiscrepancyReport `json:"discrepancy_details"`
	HasDiscrepancy     bool                    `json:"has_discrepancy"`
	Notes              *string                 `json:"notes"`
	CreatedAt          time.Time               `json:"created_at"`
	ApprovedAt         *time.Time              `json:"approved_at"`
	VoidedAt           *time.Time              `json:"voided_at"`
}

type SessionListResponse struct {
	Data  []SessionResponse `json:"data"`
	Total int64             `json:"total"`
	Page  int               `json:"page"`
	Limit int               `json:"limit"`
}

type UnlinkResponse struct {
	Session         *SessionResponse `json:"session,omitempty"`
	MastersUnlinked int64            `json:"masters_unlinked"`
	UnitsUnlinked   int64            `json:"units_unlinked"`
}
