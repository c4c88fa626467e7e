package repository

import (
	"context"

	"qrtrace/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderRepository reads the order/organization/catalog rows owned by other modules.
type OrderRepository interface {
	FindOrder(ctx context.Context, id uuid.UUID) (*model.Order, error)
	FindOrganization(ctx context.Context, id uuid.UUID) (*model.Organization, error)
	ListVariantsByLabel(ctx context.Context, label string) ([]model.ProductVariant, error)
	FindVariants(ctx context.Context, ids []uuid.UUID) ([]model.ProductVariant, error)
}

type orderRepo struct{ db *gorm.DB }

func NewOrderRepository(db *gorm.DB) OrderRepository { return &orderRepo{db: db} }

func (r *orderRepo) FindOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	var o model.Order
	err := r.db.WithContext(ctx).Preload("Items").First(&o, "id = ?", id).Error
	return &o, err
}

func (r *orderRepo) FindOrganization(ctx context.Context, id uuid.UUID) (*model.Organization, error) {
	var o model.Organization
	err := r.db.WithContext(ctx).First(&o, "id = ?", id).Error
	return &o, err
}

func (r *orderRepo) ListVariantsByLabel(ctx context.Context, label string) ([]model.ProductVariant, error) {
	var out []model.ProductVariant
	err := r.db.WithContext(ctx).Where("LOWER(label) = LOWER(?) OR LOWER(name) = LOWER(?)", label, label).Find(&out).Error
	return out, err
}

func (r *orderRepo) FindVariants(ctx context.Context, ids []uuid.UUID) ([]model.ProductVariant, error) {
	var out []model.ProductVariant
	if len(ids) == 0 {
		return out, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&out).Error
	return out, err
}
