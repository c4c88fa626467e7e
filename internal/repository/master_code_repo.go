package repository

import (
	"context"

	"qrtrace/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MasterCodeRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.MasterCode, error)
	FindByCode(ctx context.Context, code string) (*model.MasterCode, error)
	FindByCase(ctx context.Context, batchID uuid.UUID, caseNumber int) (*model.MasterCode, error)
	ListByCodes(ctx context.Context, codes []string) ([]model.MasterCode, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.MasterCode, error)
	CountByStatus(ctx context.Context, batchID uuid.UUID) (map[string]int64, error)

	// UpdateCount republishes actual_unit_count and, when status is non-empty,
	// moves the case to that status.
	UpdateCount(ctx context.Context, tx *gorm.DB, id uuid.UUID, count int, status string) error
	// RevertStatus moves the case from → to only if it is still in from.
	RevertStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, from, to string) (bool, error)
	// TransitionBatch moves up to limit cases of a batch from → to, stamping
	// custody, and returns the rows it moved.
	TransitionBatch(ctx context.Context, tx *gorm.DB, batchID uuid.UUID, from, to string, orgID uuid.UUID, limit int) ([]model.MasterCode, error)
	ApplyCustody(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, change CustodyChange) (int64, error)
}

type masterCodeRepo struct{ db *gorm.DB }

func NewMasterCodeRepository(db *gorm.DB) MasterCodeRepository { return &masterCodeRepo{db: db} }

func (r *masterCodeRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.MasterCode, error) {
	var m model.MasterCode
	err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error
	return &m, err
}

func (r *masterCodeRepo) FindByCode(ctx context.Context, code string) (*model.MasterCode, error) {
	var m model.MasterCode
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&m).Error
	return &m, err
}

func (r *masterCodeRepo) FindByCase(ctx context.Context, batchID uuid.UUID, caseNumber int) (*model.MasterCode, error) {
	var m model.MasterCode
	err := r.db.WithContext(ctx).Where("batch_id = ? AND case_number = ?", batchID, caseNumber).First(&m).Error
	return &m, err
}

func (r *masterCodeRepo) ListByCodes(ctx context.Context, codes []string) ([]model.MasterCode, error) {
	var out []model.MasterCode
	if len(codes) == 0 {
		return out, nil
	}
	err := r.db.WithContext(ctx).Where("code IN ?", codes).Find(&out).Error
	return out, err
}

func (r *masterCodeRepo) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.MasterCode, error) {
	var out []model.MasterCode
	err := r.db.WithContext(ctx).Where("validation_session_id = ?", sessionID).Order("code ASC").Find(&out).Error
	return out, err
}

func (r *masterCodeRepo) CountByStatus(ctx context.Context, batchID uuid.UUID) (map[string]int64, error) {
	var rows []StatusCount
	err := r.db.WithContext(ctx).Model(&model.MasterCode{}).
		Select("status, COUNT(*) AS count").
		Where("batch_id = ?", batchID).
		Group("status").Scan(&rows).Error
	return toStatusMap(rows), err
}

func (r *masterCodeRepo) UpdateCount(ctx context.Context, tx *gorm.DB, id uuid.UUID, count int, status string) error {
	updates := map[string]any{"actual_unit_count": count}
	if status != "" {
		updates["status"] = status
	}
	return conn(ctx, r.db, tx).Model(&model.MasterCode{}).Where("id = ?", id).Updates(updates).Error
}

func (r *masterCodeRepo) RevertStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, from, to string) (bool, error) {
	res := conn(ctx, r.db, tx).Model(&model.MasterCode{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	return res.RowsAffected > 0, res.Error
}

func (r *masterCodeRepo) TransitionBatch(ctx context.Context, tx *gorm.DB, batchID uuid.UUID, from, to string, orgID uuid.UUID, limit int) ([]model.MasterCode, error) {
	db := conn(ctx, r.db, tx)
	ids := db.Model(&model.MasterCode{}).Select("id").
		Where("batch_id = ? AND status = ?", batchID, from).
		Order("case_number ASC").Limit(limit)

	var moved []model.MasterCode
	err := db.Model(&moved).Clauses(clause.Returning{}).
		Where("id IN (?) AND status = ?", ids, from).
		Updates(map[string]any{"status": to, "current_org_id": orgID}).Error
	return moved, err
}

func (r *masterCodeRepo) ApplyCustody(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, change CustodyChange) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := conn(ctx, r.db, tx).Model(&model.MasterCode{}).
		Where("id IN ? AND status IN ?", ids, change.FromStatuses).
		Updates(change.updates())
	return res.RowsAffected, res.Error
}
