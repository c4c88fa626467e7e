package repository

import (
	"context"

	"qrtrace/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SessionFilter defines filters for the shipment history of a warehouse.
type SessionFilter struct {
	Status string
	Page   int
	Limit  int
}

type ValidationSessionRepository interface {
	Create(ctx context.Context, s *model.ValidationSession) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.ValidationSession, error)
	// Save rewrites the whole row, aggregates included.
	Save(ctx context.Context, tx *gorm.DB, s *model.ValidationSession) error
	ListByWarehouse(ctx context.Context, warehouseID uuid.UUID, filter SessionFilter) ([]model.ValidationSession, int64, error)
	DB() *gorm.DB
}

type sessionRepo struct{ db *gorm.DB }

func NewValidationSessionRepository(db *gorm.DB) ValidationSessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) DB() *gorm.DB { return r.db }

func (r *sessionRepo) Create(ctx context.Context, s *model.ValidationSession) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *sessionRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.ValidationSession, error) {
	var s model.ValidationSession
	err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error
	return &s, err
}

func (r *sessionRepo) Save(ctx context.Context, tx *gorm.DB, s *model.ValidationSession) error {
	return conn(ctx, r.db, tx).Save(s).Error
}

func (r *sessionRepo) ListByWarehouse(ctx context.Context, warehouseID uuid.UUID, filter SessionFilter) ([]model.ValidationSession, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.ValidationSession{}).Where("warehouse_org_id = ?", warehouseID)
	if filter.Status != "" && filter.Status != "all" {
		q = q.Where("validation_status = ?", filter.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := pageBounds(filter.Page, filter.Limit)
	var sessions []model.ValidationSession
	err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&sessions).Error
	return sessions, total, err
}
