package repository

import (
	"context"
	"errors"

	"qrtrace/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockPostingRepository tracks which ledger postings already went through.
type StockPostingRepository interface {
	Find(ctx context.Context, key string) (*model.StockPostingDedup, error)
	Record(ctx context.Context, entry *model.StockPostingDedup) error
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]model.StockPostingDedup, error)
}

type stockPostingRepo struct{ db *gorm.DB }

func NewStockPostingRepository(db *gorm.DB) StockPostingRepository {
	return &stockPostingRepo{db: db}
}

// Find returns nil without error when the key was never recorded.
func (r *stockPostingRepo) Find(ctx context.Context, key string) (*model.StockPostingDedup, error) {
	var e model.StockPostingDedup
	err := r.db.WithContext(ctx).First(&e, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &e, err
}

func (r *stockPostingRepo) Record(ctx context.Context, entry *model.StockPostingDedup) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(entry).Error
}

func (r *stockPostingRepo) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]model.StockPostingDedup, error) {
	var out []model.StockPostingDedup
	err := r.db.WithContext(ctx).Where("batch_id = ?", batchID).Order("created_at ASC").Find(&out).Error
	return out, err
}
