package repository

import (
	"context"
	"errors"
	"time"

	"qrtrace/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BatchRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.Batch, error)
	// ClaimNextForIntake returns the oldest queued or processing batch after
	// stamping it processing, or nil when there is nothing to receive.
	ClaimNextForIntake(ctx context.Context, now time.Time) (*model.Batch, error)
	MarkQueued(ctx context.Context, id uuid.UUID, now time.Time) error
	UpdateReceiving(ctx context.Context, id uuid.UUID, status string, receivingErr *string, completedAt *time.Time) error
}

type batchRepo struct{ db *gorm.DB }

func NewBatchRepository(db *gorm.DB) BatchRepository { return &batchRepo{db: db} }

func (r *batchRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.Batch, error) {
	var b model.Batch
	err := r.db.WithContext(ctx).First(&b, "id = ?", id).Error
	return &b, err
}

func (r *batchRepo) ClaimNextForIntake(ctx context.Context, now time.Time) (*model.Batch, error) {
	var claimed *model.Batch
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b model.Batch
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("receiving_status IN ?", []string{model.ReceivingQueued, model.ReceivingProcessing}).
			Order("receiving_queued_at ASC NULLS LAST").Order("created_at ASC").
			First(&b).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		updates := map[string]any{"receiving_status": model.ReceivingProcessing}
		if b.ReceivingStartedAt == nil {
			updates["receiving_started_at"] = now
			b.ReceivingStartedAt = &now
		}
		if err := tx.Model(&model.Batch{}).Where("id = ?", b.ID).Updates(updates).Error; err != nil {
			return err
		}
		b.ReceivingStatus = model.ReceivingProcessing
		claimed = &b
		return nil
	})
	return claimed, err
}

func (r *batchRepo) MarkQueued(ctx context.Context, id uuid.UUID, now time.Time) error {
	return r.db.WithContext(ctx).Model(&model.Batch{}).Where("id = ?", id).Updates(map[string]any{
		"receiving_status":    model.ReceivingQueued,
		"receiving_queued_at": now,
		"receiving_error":     nil,
	}).Error
}

func (r *batchRepo) UpdateReceiving(ctx context.Context, id uuid.UUID, status string, receivingErr *string, completedAt *time.Time) error {
	return r.db.WithContext(ctx).Model(&model.Batch{}).Where("id = ?", id).Updates(map[string]any{
		"receiving_status":       status,
		"receiving_error":        receivingErr,
		"receiving_completed_at": completedAt,
	}).Error
}
