package repository

import (
	"context"

	"qrtrace/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionlessMatch narrows the bulk unlink over warehouse_packed codes that no
// session owns. At least one of VariantIDs or MasterCodeID is expected.
type SessionlessMatch struct {
	WarehouseOrgID uuid.UUID
	VariantIDs     []uuid.UUID
	MasterCodeID   *uuid.UUID
	Limit          int
}

type UnitCodeRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.UnitCode, error)
	FindByCode(ctx context.Context, code string) (*model.UnitCode, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]model.UnitCode, error)
	ListByCodes(ctx context.Context, codes []string) ([]model.UnitCode, error)
	// ListInRange returns the non-buffer codes of a batch whose sequence lies in [from, to].
	ListInRange(ctx context.Context, batchID uuid.UUID, from, to int) ([]model.UnitCode, error)
	ListByMaster(ctx context.Context, masterID uuid.UUID) ([]model.UnitCode, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.UnitCode, error)
	ListSessionless(ctx context.Context, match SessionlessMatch) ([]model.UnitCode, error)
	CountByStatus(ctx context.Context, batchID uuid.UUID, buffer bool) (map[string]int64, error)

	CountActiveByMaster(ctx context.Context, tx *gorm.DB, masterID uuid.UUID) (int64, error)
	// ListAvailableBuffers returns up to limit buffer_available codes, lowest sequence first.
	ListAvailableBuffers(ctx context.Context, tx *gorm.DB, batchID uuid.UUID, limit int) ([]model.UnitCode, error)
	CountAvailableBuffers(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) (int64, error)

	LinkToMaster(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, masterID uuid.UUID, status string) (int64, error)
	// Spoil marks the code spoiled and clears its master link in the same write.
	Spoil(ctx context.Context, tx *gorm.DB, id uuid.UUID, fromStatuses []string) (bool, error)
	// UseBuffer links a buffer_available code to the case as buffer_used.
	UseBuffer(ctx context.Context, tx *gorm.DB, bufferID, masterID uuid.UUID, replacesSeq int) (bool, error)
	RevertBuffer(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error)
	RestoreSpoiled(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string, masterID *uuid.UUID) (bool, error)
	RevertCaseStatus(ctx context.Context, tx *gorm.DB, masterID uuid.UUID, from, to string) (int64, error)

	TransitionBatch(ctx context.Context, tx *gorm.DB, batchID uuid.UUID, from, to string, orgID uuid.UUID, limit int) (int64, error)
	// CountReceivedByVariant counts non-buffer codes of the batch that reached the warehouse leg.
	CountReceivedByVariant(ctx context.Context, batchID uuid.UUID) (map[uuid.UUID]int, error)
	CountPromotedBuffers(ctx context.Context, batchID, variantID uuid.UUID) (int64, error)
	PromoteBuffers(ctx context.Context, tx *gorm.DB, batchID, variantID uuid.UUID, n int, orgID uuid.UUID) ([]model.UnitCode, error)
	ApplyCustody(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, change CustodyChange) (int64, error)
}

// warehouseLegStatuses are the statuses a code holds once the warehouse received it.
var warehouseLegStatuses = []string{model.UnitReceivedWarehouse, model.UnitWarehousePacked, model.UnitShippedDistributor}

type unitCodeRepo struct{ db *gorm.DB }

func NewUnitCodeRepository(db *gorm.DB) UnitCodeRepository { return &unitCodeRepo{db: db} }

func (r *unitCodeRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.UnitCode, error) {
	var u model.UnitCode
	err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error
	return &u, err
}

func (r *unitCodeRepo) FindByCode(ctx context.Context, code string) (*model.UnitCode, error) {
	var u model.UnitCode
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&u).Error
	return &u, err
}

func (r *unitCodeRepo) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]model.UnitCode, error) {
	var out []model.UnitCode
	if len(ids) == 0 {
		return out, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("sequence_number ASC").Find(&out).Error
	return out, err
}

func (r *unitCodeRepo) ListByCodes(ctx context.Context, codes []string) ([]model.UnitCode, error) {
	var out []model.UnitCode
	if len(codes) == 0 {
		return out, nil
	}
	err := r.db.WithContext(ctx).Where("code IN ?", codes).Find(&out).Error
	return out, err
}

func (r *unitCodeRepo) ListInRange(ctx context.Context, batchID uuid.UUID, from, to int) ([]model.UnitCode, error) {
	var out []model.UnitCode
	err := r.db.WithContext(ctx).
		Where("batch_id = ? AND is_buffer = ? AND sequence_number BETWEEN ? AND ?", batchID, false, from, to).
		Order("sequence_number ASC").Find(&out).Error
	return out, err
}

func (r *unitCodeRepo) ListByMaster(ctx context.Context, masterID uuid.UUID) ([]model.UnitCode, error) {
	var out []model.UnitCode
	err := r.db.WithContext(ctx).Where("master_code_id = ?", masterID).Order("sequence_number ASC").Find(&out).Error
	return out, err
}

func (r *unitCodeRepo) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.UnitCode, error) {
	var out []model.UnitCode
	err := r.db.WithContext(ctx).Where("validation_session_id = ?", sessionID).Order("sequence_number ASC").Find(&out).Error
	return out, err
}

func (r *unitCodeRepo) ListSessionless(ctx context.Context, match SessionlessMatch) ([]model.UnitCode, error) {
	q := r.db.WithContext(ctx).
		Where("status = ? AND validation_session_id IS NULL AND current_org_id = ?", model.UnitWarehousePacked, match.WarehouseOrgID)
	if len(match.VariantIDs) > 0 {
		q = q.Where("variant_id IN ?", match.VariantIDs)
	}
	if match.MasterCodeID != nil {
		q = q.Where("master_code_id = ?", *match.MasterCodeID)
	}
	_, limit := pageBounds(1, match.Limit)
	var out []model.UnitCode
	err := q.Order("sequence_number ASC").Limit(limit).Find(&out).Error
	return out, err
}

func (r *unitCodeRepo) CountByStatus(ctx context.Context, batchID uuid.UUID, buffer bool) (map[string]int64, error) {
	var rows []StatusCount
	err := r.db.WithContext(ctx).Model(&model.UnitCode{}).
		Select("status, COUNT(*) AS count").
		Where("batch_id = ? AND is_buffer = ?", batchID, buffer).
		Group("status").Scan(&rows).Error
	return toStatusMap(rows), err
}

func (r *unitCodeRepo) CountActiveByMaster(ctx context.Context, tx *gorm.DB, masterID uuid.UUID) (int64, error) {
	var n int64
	err := conn(ctx, r.db, tx).Model(&model.UnitCode{}).
		Where("master_code_id = ? AND status <> ?", masterID, model.UnitSpoiled).
		Count(&n).Error
	return n, err
}

func (r *unitCodeRepo) ListAvailableBuffers(ctx context.Context, tx *gorm.DB, batchID uuid.UUID, limit int) ([]model.UnitCode, error) {
	var out []model.UnitCode
	err := conn(ctx, r.db, tx).
		Where("batch_id = ? AND is_buffer = ? AND status = ?", batchID, true, model.UnitBufferAvailable).
		Order("sequence_number ASC").Limit(limit).Find(&out).Error
	return out, err
}

func (r *unitCodeRepo) CountAvailableBuffers(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) (int64, error) {
	var n int64
	err := conn(ctx, r.db, tx).Model(&model.UnitCode{}).
		Where("batch_id = ? AND is_buffer = ? AND status = ?", batchID, true, model.UnitBufferAvailable).
		Count(&n).Error
	return n, err
}

func (r *unitCodeRepo) LinkToMaster(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, masterID uuid.UUID, status string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := conn(ctx, r.db, tx).Model(&model.UnitCode{}).
		Where("id IN ? AND master_code_id IS NULL AND status <> ?", ids, model.UnitSpoiled).
		Updates(map[string]any{"master_code_id": masterID, "status": status})
	return res.RowsAffected, res.Error
}

func (r *unitCodeRepo) Spoil(ctx context.Context, tx *gorm.DB, id uuid.UUID, fromStatuses []string) (bool, error) {
	res := conn(ctx, r.db, tx).Model(&model.UnitCode{}).
		Where("id = ? AND is_buffer = ? AND status IN ?", id, false, fromStatuses).
		Updates(map[string]any{"status": model.UnitSpoiled, "master_code_id": nil})
	return res.RowsAffected > 0, res.Error
}

func (r *unitCodeRepo) UseBuffer(ctx context.Context, tx *gorm.DB, bufferID, masterID uuid.UUID, replacesSeq int) (bool, error) {
	res := conn(ctx, r.db, tx).Model(&model.UnitCode{}).
		Where("id = ? AND is_buffer = ? AND status = ?", bufferID, true, model.UnitBufferAvailable).
		Updates(map[string]any{
			"status":               model.UnitBufferUsed,
			"master_code_id":       masterID,
			"replaces_sequence_no": replacesSeq,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *unitCodeRepo) RevertBuffer(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	res := conn(ctx, r.db, tx).Model(&model.UnitCode{}).
		Where("id = ? AND status = ?", id, model.UnitBufferUsed).
		Updates(map[string]any{
			"status":               model.UnitBufferAvailable,
			"master_code_id":       nil,
			"replaces_sequence_no": nil,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *unitCodeRepo) RestoreSpoiled(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string, masterID *uuid.UUID) (bool, error) {
	res := conn(ctx, r.db, tx).Model(&model.UnitCode{}).
		Where("id = ? AND status = ?", id, model.UnitSpoiled).
		Updates(map[string]any{"status": status, "master_code_id": masterID})
	return res.RowsAffected > 0, res.Error
}

func (r *unitCodeRepo) RevertCaseStatus(ctx context.Context, tx *gorm.DB, masterID uuid.UUID, from, to string) (int64, error) {
	res := conn(ctx, r.db, tx).Model(&model.UnitCode{}).
		Where("master_code_id = ? AND is_buffer = ? AND status = ?", masterID, false, from).
		Update("status", to)
	return res.RowsAffected, res.Error
}

func (r *unitCodeRepo) TransitionBatch(ctx context.Context, tx *gorm.DB, batchID uuid.UUID, from, to string, orgID uuid.UUID, limit int) (int64, error) {
	db := conn(ctx, r.db, tx)
	ids := db.Model(&model.UnitCode{}).Select("id").
		Where("batch_id = ? AND is_buffer = ? AND status = ?", batchID, false, from).
		Order("sequence_number ASC").Limit(limit)
	res := db.Model(&model.UnitCode{}).
		Where("id IN (?) AND status = ?", ids, from).
		Updates(map[string]any{"status": to, "current_org_id": orgID})
	return res.RowsAffected, res.Error
}

func (r *unitCodeRepo) CountReceivedByVariant(ctx context.Context, batchID uuid.UUID) (map[uuid.UUID]int, error) {
	var rows []struct {
		VariantID uuid.UUID
		Count     int
	}
	err := r.db.WithContext(ctx).Model(&model.UnitCode{}).
		Select("variant_id, COUNT(*) AS count").
		Where("batch_id = ? AND is_buffer = ? AND status IN ?", batchID, false, warehouseLegStatuses).
		Group("variant_id").Scan(&rows).Error
	out := make(map[uuid.UUID]int, len(rows))
	for _, row := range rows {
		out[row.VariantID] = row.Count
	}
	return out, err
}

func (r *unitCodeRepo) CountPromotedBuffers(ctx context.Context, batchID, variantID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.UnitCode{}).
		Where("batch_id = ? AND variant_id = ? AND is_buffer = ? AND status IN ?", batchID, variantID, true, warehouseLegStatuses).
		Count(&n).Error
	return n, err
}

func (r *unitCodeRepo) PromoteBuffers(ctx context.Context, tx *gorm.DB, batchID, variantID uuid.UUID, n int, orgID uuid.UUID) ([]model.UnitCode, error) {
	var promoted []model.UnitCode
	if n <= 0 {
		return promoted, nil
	}
	db := conn(ctx, r.db, tx)
	ids := db.Model(&model.UnitCode{}).Select("id").
		Where("batch_id = ? AND variant_id = ? AND is_buffer = ? AND status = ?", batchID, variantID, true, model.UnitBufferAvailable).
		Order("sequence_number ASC").Limit(n)
	err := db.Model(&promoted).Clauses(clause.Returning{}).
		Where("id IN (?) AND status = ?", ids, model.UnitBufferAvailable).
		Updates(map[string]any{"status": model.UnitReceivedWarehouse, "current_org_id": orgID}).Error
	return promoted, err
}

func (r *unitCodeRepo) ApplyCustody(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, change CustodyChange) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := conn(ctx, r.db, tx).Model(&model.UnitCode{}).
		Where("id IN ? AND status IN ?", ids, change.FromStatuses).
		Updates(change.updates())
	return res.RowsAffected, res.Error
}
