package repository

import (
	"context"
	"errors"
	"time"

	"qrtrace/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReverseJobFilter defines filters for listing reverse jobs.
type ReverseJobFilter struct {
	BatchID *uuid.UUID
	Status  string
	Page    int
	Limit   int
}

// JobOutcome is written together with a guarded status move at the end of processing.
type JobOutcome struct {
	TotalReplacements  int
	FinalUnitCount     *int
	MasterStatusBefore string
	MasterPackedByJob  bool
	ErrorMessage       *string
	CompletedAt        time.Time
}

type ReverseJobRepository interface {
	Create(ctx context.Context, job *model.ReverseJob) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.ReverseJob, error)
	// FindOldestPending returns nil when the queue is empty.
	FindOldestPending(ctx context.Context) (*model.ReverseJob, error)
	// ClaimPending flips pending → processing. False means another worker won.
	ClaimPending(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	// Finish moves the job from → to and records the outcome; false when the
	// job is no longer in from (for example it was cancelled meanwhile).
	Finish(ctx context.Context, tx *gorm.DB, id uuid.UUID, from, to string, out JobOutcome) (bool, error)
	Cancel(ctx context.Context, id uuid.UUID, actor *uuid.UUID, now time.Time) (bool, error)
	ExistsActiveForCase(ctx context.Context, batchID uuid.UUID, caseNumber int) (bool, error)
	List(ctx context.Context, filter ReverseJobFilter) ([]model.ReverseJob, int64, error)
	ListByStatuses(ctx context.Context, statuses []string, limit int) ([]model.ReverseJob, error)
	CountByStatus(ctx context.Context, batchID uuid.UUID) (map[string]int64, error)

	UpdateItem(ctx context.Context, tx *gorm.DB, item *model.ReverseJobItem) error
	AppendLog(ctx context.Context, tx *gorm.DB, entry *model.ReverseJobLog) error
	DeleteItems(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) error
	DeleteLogs(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	DB() *gorm.DB // exposes the DB for transaction creation in service layer
}

type reverseJobRepo struct{ db *gorm.DB }

func NewReverseJobRepository(db *gorm.DB) ReverseJobRepository { return &reverseJobRepo{db: db} }

func (r *reverseJobRepo) DB() *gorm.DB { return r.db }

func (r *reverseJobRepo) Create(ctx context.Context, job *model.ReverseJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *reverseJobRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.ReverseJob, error) {
	var j model.ReverseJob
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("spoiled_sequence_no ASC") }).
		Preload("Logs", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&j, "id = ?", id).Error
	return &j, err
}

func (r *reverseJobRepo) FindOldestPending(ctx context.Context) (*model.ReverseJob, error) {
	var j model.ReverseJob
	err := r.db.WithContext(ctx).Where("status = ?", model.JobPending).Order("created_at ASC").First(&j).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &j, err
}

func (r *reverseJobRepo) ClaimPending(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.ReverseJob{}).
		Where("id = ? AND status = ?", id, model.JobPending).
		Updates(map[string]any{"status": model.JobProcessing, "started_at": now})
	return res.RowsAffected == 1, res.Error
}

func (r *reverseJobRepo) Finish(ctx context.Context, tx *gorm.DB, id uuid.UUID, from, to string, out JobOutcome) (bool, error) {
	updates := map[string]any{
		"status":               to,
		"total_replacements":   out.TotalReplacements,
		"final_unit_count":     out.FinalUnitCount,
		"master_packed_by_job": out.MasterPackedByJob,
		"error_message":        out.ErrorMessage,
		"completed_at":         out.CompletedAt,
	}
	if out.MasterStatusBefore != "" {
		updates["master_status_before"] = out.MasterStatusBefore
	}
	res := conn(ctx, r.db, tx).Model(&model.ReverseJob{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

func (r *reverseJobRepo) Cancel(ctx context.Context, id uuid.UUID, actor *uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.ReverseJob{}).
		Where("id = ? AND status IN ?", id, []string{model.JobPending, model.JobProcessing}).
		Updates(map[string]any{"status": model.JobCancelled, "cancelled_by": actor, "cancelled_at": now})
	return res.RowsAffected == 1, res.Error
}

func (r *reverseJobRepo) ExistsActiveForCase(ctx context.Context, batchID uuid.UUID, caseNumber int) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.ReverseJob{}).
		Where("batch_id = ? AND case_number = ? AND status IN ?", batchID, caseNumber, []string{model.JobPending, model.JobProcessing}).
		Count(&n).Error
	return n > 0, err
}

func (r *reverseJobRepo) List(ctx context.Context, filter ReverseJobFilter) ([]model.ReverseJob, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.ReverseJob{})
	if filter.BatchID != nil {
		q = q.Where("batch_id = ?", *filter.BatchID)
	}
	if filter.Status != "" && filter.Status != "all" {
		q = q.Where("status = ?", filter.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := pageBounds(filter.Page, filter.Limit)
	var jobs []model.ReverseJob
	err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&jobs).Error
	return jobs, total, err
}

func (r *reverseJobRepo) ListByStatuses(ctx context.Context, statuses []string, limit int) ([]model.ReverseJob, error) {
	_, limit = pageBounds(1, limit)
	var jobs []model.ReverseJob
	err := r.db.WithContext(ctx).Preload("Items").
		Where("status IN ?", statuses).
		Order("created_at ASC").Limit(limit).Find(&jobs).Error
	return jobs, err
}

func (r *reverseJobRepo) CountByStatus(ctx context.Context, batchID uuid.UUID) (map[string]int64, error) {
	var rows []StatusCount
	err := r.db.WithContext(ctx).Model(&model.ReverseJob{}).
		Select("status, COUNT(*) AS count").
		Where("batch_id = ?", batchID).
		Group("status").Scan(&rows).Error
	return toStatusMap(rows), err
}

func (r *reverseJobRepo) UpdateItem(ctx context.Context, tx *gorm.DB, item *model.ReverseJobItem) error {
	return conn(ctx, r.db, tx).Save(item).Error
}

func (r *reverseJobRepo) AppendLog(ctx context.Context, tx *gorm.DB, entry *model.ReverseJobLog) error {
	return conn(ctx, r.db, tx).Create(entry).Error
}

func (r *reverseJobRepo) DeleteItems(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) error {
	return conn(ctx, r.db, tx).Where("job_id = ?", jobID).Delete(&model.ReverseJobItem{}).Error
}

func (r *reverseJobRepo) DeleteLogs(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) error {
	return conn(ctx, r.db, tx).Where("job_id = ?", jobID).Delete(&model.ReverseJobLog{}).Error
}

func (r *reverseJobRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return conn(ctx, r.db, tx).Where("id = ?", id).Delete(&model.ReverseJob{}).Error
}
