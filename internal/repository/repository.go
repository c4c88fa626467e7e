package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// conn picks the caller's transaction when there is one, otherwise the base handle.
func conn(ctx context.Context, db, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

// pageBounds clamps page/limit the same way for every listing: limit defaults
// to 100 and may not exceed 500.
func pageBounds(page, limit int) (offset, size int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return (page - 1) * limit, limit
}

// CustodyChange describes a bulk status move for codes in the warehouse/shipment
// leg. SessionID and DistributorOrgID are written as given (nil clears them);
// a nil CurrentOrgID leaves custody unchanged.
type CustodyChange struct {
	FromStatuses     []string
	ToStatus         string
	SessionID        *uuid.UUID
	DistributorOrgID *uuid.UUID
	CurrentOrgID     *uuid.UUID
}

func (c CustodyChange) updates() map[string]any {
	u := map[string]any{
		"status":                c.ToStatus,
		"validation_session_id": c.SessionID,
		"distributor_org_id":    c.DistributorOrgID,
	}
	if c.CurrentOrgID != nil {
		u["current_org_id"] = *c.CurrentOrgID
	}
	return u
}

// StatusCount is a GROUP BY status row.
type StatusCount struct {
	Status string
	Count  int64
}

func toStatusMap(rows []StatusCount) map[string]int64 {
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out
}
