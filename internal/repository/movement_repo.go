package repository

import (
	"context"

	"qrtrace/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MovementFilter defines filters for listing code movements.
type MovementFilter struct {
	CodeID      *uuid.UUID
	ReferenceID *uuid.UUID
	Action      string
	Page        int
	Limit       int
}

// MovementRepository is append-only: there is no Update or Delete.
type MovementRepository interface {
	Create(ctx context.Context, tx *gorm.DB, m *model.Movement) error
	CreateBatch(ctx context.Context, tx *gorm.DB, ms []model.Movement) error
	List(ctx context.Context, filter MovementFilter) ([]model.Movement, int64, error)
}

type movementRepo struct{ db *gorm.DB }

func NewMovementRepository(db *gorm.DB) MovementRepository {
	return &movementRepo{db: db}
}

func (r *movementRepo) Create(ctx context.Context, tx *gorm.DB, m *model.Movement) error {
	return conn(ctx, r.db, tx).Create(m).Error
}

func (r *movementRepo) CreateBatch(ctx context.Context, tx *gorm.DB, ms []model.Movement) error {
	if len(ms) == 0 {
		return nil
	}
	return conn(ctx, r.db, tx).CreateInBatches(&ms, 200).Error
}

func (r *movementRepo) List(ctx context.Context, filter MovementFilter) ([]model.Movement, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.Movement{})
	if filter.CodeID != nil {
		q = q.Where("code_id = ?", *filter.CodeID)
	}
	if filter.ReferenceID != nil {
		q = q.Where("reference_id = ?", *filter.ReferenceID)
	}
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := pageBounds(filter.Page, filter.Limit)
	var movements []model.Movement
	err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&movements).Error
	return movements, total, err
}
