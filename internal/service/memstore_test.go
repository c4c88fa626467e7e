package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"qrtrace/internal/infra"
	"qrtrace/internal/model"
	"qrtrace/internal/repository"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ── In-memory store shared by every stub repository ──────────────────────────

type memStore struct {
	mu        sync.Mutex
	tick      time.Time
	batches   map[uuid.UUID]*model.Batch
	masters   map[uuid.UUID]*model.MasterCode
	units     map[uuid.UUID]*model.UnitCode
	jobs      map[uuid.UUID]*model.ReverseJob
	items     map[uuid.UUID]*model.ReverseJobItem
	logs      []model.ReverseJobLog
	movements []model.Movement
	sessions  map[uuid.UUID]*model.ValidationSession
	orders    map[uuid.UUID]*model.Order
	orgs      map[uuid.UUID]*model.Organization
	variants  map[uuid.UUID]*model.ProductVariant
	postings  map[string]*model.StockPostingDedup
	failures  map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		tick:     time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
		batches:  map[uuid.UUID]*model.Batch{},
		masters:  map[uuid.UUID]*model.MasterCode{},
		units:    map[uuid.UUID]*model.UnitCode{},
		jobs:     map[uuid.UUID]*model.ReverseJob{},
		items:    map[uuid.UUID]*model.ReverseJobItem{},
		sessions: map[uuid.UUID]*model.ValidationSession{},
		orders:   map[uuid.UUID]*model.Order{},
		orgs:     map[uuid.UUID]*model.Organization{},
		variants: map[uuid.UUID]*model.ProductVariant{},
		postings: map[string]*model.StockPostingDedup{},
		failures: map[string]error{},
	}
}

// next returns a strictly increasing timestamp for created_at ordering.
func (s *memStore) next() time.Time {
	s.tick = s.tick.Add(time.Second)
	return s.tick
}

func (s *memStore) failOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

func (s *memStore) injected(op string) error { return s.failures[op] }

func (s *memStore) repos() (
	repository.BatchRepository,
	repository.MasterCodeRepository,
	repository.UnitCodeRepository,
	repository.ReverseJobRepository,
	repository.MovementRepository,
	repository.ValidationSessionRepository,
	repository.OrderRepository,
	repository.StockPostingRepository,
) {
	return &memBatches{s}, &memMasters{s}, &memUnits{s}, &memJobs{s}, &memMovements{s},
		&memSessions{s}, &memOrders{s}, &memPostings{s}
}

func hasStatus(list []string, status string) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// ── Batches ──────────────────────────────────────────────────────────────────

type memBatches struct{ *memStore }

var _ repository.BatchRepository = (*memBatches)(nil)

func (r *memBatches) FindByID(_ context.Context, id uuid.UUID) (*model.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	c := *b
	return &c, nil
}

func (r *memBatches) ClaimNextForIntake(_ context.Context, now time.Time) (*model.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pick *model.Batch
	for _, b := range r.batches {
		if b.ReceivingStatus != model.ReceivingQueued && b.ReceivingStatus != model.ReceivingProcessing {
			continue
		}
		if pick == nil || queuedBefore(b, pick) {
			pick = b
		}
	}
	if pick == nil {
		return nil, nil
	}
	pick.ReceivingStatus = model.ReceivingProcessing
	pick.ReceivingStartedAt = &now
	c := *pick
	return &c, nil
}

func queuedBefore(a, b *model.Batch) bool {
	switch {
	case a.ReceivingQueuedAt == nil && b.ReceivingQueuedAt == nil:
		return a.CreatedAt.Before(b.CreatedAt)
	case a.ReceivingQueuedAt == nil:
		return false
	case b.ReceivingQueuedAt == nil:
		return true
	}
	return a.ReceivingQueuedAt.Before(*b.ReceivingQueuedAt)
}

func (r *memBatches) MarkQueued(_ context.Context, id uuid.UUID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	b.ReceivingStatus = model.ReceivingQueued
	b.ReceivingQueuedAt = &now
	b.ReceivingError = nil
	return nil
}

func (r *memBatches) UpdateReceiving(_ context.Context, id uuid.UUID, status string, receivingErr *string, completedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	b.ReceivingStatus = status
	b.ReceivingError = receivingErr
	if completedAt != nil {
		b.ReceivingCompletedAt = completedAt
	}
	return nil
}

// ── Master codes ─────────────────────────────────────────────────────────────

type memMasters struct{ *memStore }

var _ repository.MasterCodeRepository = (*memMasters)(nil)

func (r *memMasters) FindByID(_ context.Context, id uuid.UUID) (*model.MasterCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.masters[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	c := *m
	return &c, nil
}

func (r *memMasters) FindByCode(_ context.Context, code string) (*model.MasterCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.masters {
		if m.Code == code {
			c := *m
			return &c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memMasters) FindByCase(_ context.Context, batchID uuid.UUID, caseNumber int) (*model.MasterCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.masters {
		if m.BatchID == batchID && m.CaseNumber == caseNumber {
			c := *m
			return &c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memMasters) collect(keep func(*model.MasterCode) bool) []model.MasterCode {
	out := []model.MasterCode{}
	for _, m := range r.masters {
		if keep(m) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (r *memMasters) ListByCodes(_ context.Context, codes []string) ([]model.MasterCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.collect(func(m *model.MasterCode) bool { return hasStatus(codes, m.Code) }), nil
}

func (r *memMasters) ListBySession(_ context.Context, sessionID uuid.UUID) ([]model.MasterCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.collect(func(m *model.MasterCode) bool { return sameID(m.ValidationSessionID, &sessionID) }), nil
}

func (r *memMasters) CountByStatus(_ context.Context, batchID uuid.UUID) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]int64{}
	for _, m := range r.masters {
		if m.BatchID == batchID {
			out[m.Status]++
		}
	}
	return out, nil
}

func (r *memMasters) UpdateCount(_ context.Context, _ *gorm.DB, id uuid.UUID, count int, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.injected("masters.UpdateCount"); err != nil {
		return err
	}
	m, ok := r.masters[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	m.ActualUnitCount = count
	if status != "" {
		m.Status = status
	}
	return nil
}

func (r *memMasters) RevertStatus(_ context.Context, _ *gorm.DB, id uuid.UUID, from, to string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.masters[id]
	if !ok || m.Status != from {
		return false, nil
	}
	m.Status = to
	return true, nil
}

func (r *memMasters) TransitionBatch(_ context.Context, _ *gorm.DB, batchID uuid.UUID, from, to string, orgID uuid.UUID, limit int) ([]model.MasterCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.injected("masters.TransitionBatch"); err != nil {
		return nil, err
	}
	var candidates []*model.MasterCode
	for _, m := range r.masters {
		if m.BatchID == batchID && m.Status == from {
			candidates = append(candidates, m)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CaseNumber < candidates[j].CaseNumber })
	out := []model.MasterCode{}
	for _, m := range candidates {
		if len(out) == limit {
			break
		}
		m.Status = to
		org := orgID
		m.CurrentOrgID = &org
		out = append(out, *m)
	}
	return out, nil
}

func (r *memMasters) ApplyCustody(_ context.Context, _ *gorm.DB, ids []uuid.UUID, change repository.CustodyChange) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		m, ok := r.masters[id]
		if !ok || !hasStatus(change.FromStatuses, m.Status) {
			continue
		}
		m.Status = change.ToStatus
		m.ValidationSessionID = change.SessionID
		m.DistributorOrgID = change.DistributorOrgID
		if change.CurrentOrgID != nil {
			org := *change.CurrentOrgID
			m.CurrentOrgID = &org
		}
		n++
	}
	return n, nil
}

// ── Unit codes ───────────────────────────────────────────────────────────────

type memUnits struct{ *memStore }

var _ repository.UnitCodeRepository = (*memUnits)(nil)

func (r *memUnits) collect(keep func(*model.UnitCode) bool) []model.UnitCode {
	out := []model.UnitCode{}
	for _, u := range r.units {
		if keep(u) {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out
}

func (r *memUnits) FindByID(_ context.Context, id uuid.UUID) (*model.UnitCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.units[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	c := *u
	return &c, nil
}

func (r *memUnits) FindByCode(_ context.Context, code string) (*model.UnitCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.units {
		if u.Code == code {
			c := *u
			return &c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memUnits) ListByIDs(_ context.Context, ids []uuid.UUID) ([]model.UnitCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.collect(func(u *model.UnitCode) bool { return containsID(ids, u.ID) }), nil
}

func (r *memUnits) ListByCodes(_ context.Context, codes []string) ([]model.UnitCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.collect(func(u *model.UnitCode) bool { return hasStatus(codes, u.Code) }), nil
}

func (r *memUnits) ListInRange(_ context.Context, batchID uuid.UUID, from, to int) ([]model.UnitCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.collect(func(u *model.UnitCode) bool {
		return u.BatchID == batchID && !u.IsBuffer && u.SequenceNumber >= from && u.SequenceNumber <= to
	}), nil
}

func (r *memUnits) ListByMaster(_ context.Context, masterID uuid.UUID) ([]model.UnitCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.collect(func(u *model.UnitCode) bool { return sameID(u.MasterCodeID, &masterID) }), nil
}

func (r *memUnits) ListBySession(_ context.Context, sessionID uuid.UUID) ([]model.UnitCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.collect(func(u *model.UnitCode) bool { return sameID(u.ValidationSessionID, &sessionID) }), nil
}

func (r *memUnits) ListSessionless(_ context.Context, match repository.SessionlessMatch) ([]model.UnitCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.collect(func(u *model.UnitCode) bool {
		if u.Status != model.UnitWarehousePacked || u.ValidationSessionID != nil || !sameID(u.CurrentOrgID, &match.WarehouseOrgID) {
			return false
		}
		if len(match.VariantIDs) > 0 && !containsID(match.VariantIDs, u.VariantID) {
			return false
		}
		return match.MasterCodeID == nil || sameID(u.MasterCodeID, match.MasterCodeID)
	})
	if match.Limit > 0 && len(out) > match.Limit {
		out = out[:match.Limit]
	}
	return out, nil
}

func (r *memUnits) CountByStatus(_ context.Context, batchID uuid.UUID, buffer bool) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]int64{}
	for _, u := range r.units {
		if u.BatchID == batchID && u.IsBuffer == buffer {
			out[u.Status]++
		}
	}
	return out, nil
}

func (r *memUnits) CountActiveByMaster(_ context.Context, _ *gorm.DB, masterID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, u := range r.units {
		if sameID(u.MasterCodeID, &masterID) && u.Status != model.UnitSpoiled {
			n++
		}
	}
	return n, nil
}

func (r *memUnits) ListAvailableBuffers(_ context.Context, _ *gorm.DB, batchID uuid.UUID, limit int) ([]model.UnitCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.collect(func(u *model.UnitCode) bool {
		return u.BatchID == batchID && u.IsBuffer && u.Status == model.UnitBufferAvailable
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memUnits) CountAvailableBuffers(_ context.Context, _ *gorm.DB, batchID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, u := range r.units {
		if u.BatchID == batchID && u.IsBuffer && u.Status == model.UnitBufferAvailable {
			n++
		}
	}
	return n, nil
}

func (r *memUnits) LinkToMaster(_ context.Context, _ *gorm.DB, ids []uuid.UUID, masterID uuid.UUID, status string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		u, ok := r.units[id]
		if !ok || u.MasterCodeID != nil || u.Status == model.UnitSpoiled {
			continue
		}
		mid := masterID
		u.MasterCodeID = &mid
		u.Status = status
		n++
	}
	return n, nil
}

func (r *memUnits) Spoil(_ context.Context, _ *gorm.DB, id uuid.UUID, fromStatuses []string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.injected("units.Spoil"); err != nil {
		return false, err
	}
	u, ok := r.units[id]
	if !ok || u.IsBuffer || !hasStatus(fromStatuses, u.Status) {
		return false, nil
	}
	u.Status = model.UnitSpoiled
	u.MasterCodeID = nil
	return true, nil
}

func (r *memUnits) UseBuffer(_ context.Context, _ *gorm.DB, bufferID, masterID uuid.UUID, replacesSeq int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.units[bufferID]
	if !ok || !u.IsBuffer || u.Status != model.UnitBufferAvailable {
		return false, nil
	}
	mid, seq := masterID, replacesSeq
	u.Status = model.UnitBufferUsed
	u.MasterCodeID = &mid
	u.ReplacesSequenceNo = &seq
	return true, nil
}

func (r *memUnits) RevertBuffer(_ context.Context, _ *gorm.DB, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.units[id]
	if !ok || u.Status != model.UnitBufferUsed {
		return false, nil
	}
	u.Status = model.UnitBufferAvailable
	u.MasterCodeID = nil
	u.ReplacesSequenceNo = nil
	return true, nil
}

func (r *memUnits) RestoreSpoiled(_ context.Context, _ *gorm.DB, id uuid.UUID, status string, masterID *uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.injected("units.RestoreSpoiled"); err != nil {
		return false, err
	}
	u, ok := r.units[id]
	if !ok || u.Status != model.UnitSpoiled {
		return false, nil
	}
	u.Status = status
	if masterID != nil {
		mid := *masterID
		u.MasterCodeID = &mid
	} else {
		u.MasterCodeID = nil
	}
	return true, nil
}

func (r *memUnits) RevertCaseStatus(_ context.Context, _ *gorm.DB, masterID uuid.UUID, from, to string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, u := range r.units {
		if sameID(u.MasterCodeID, &masterID) && !u.IsBuffer && u.Status == from {
			u.Status = to
			n++
		}
	}
	return n, nil
}

func (r *memUnits) TransitionBatch(_ context.Context, _ *gorm.DB, batchID uuid.UUID, from, to string, orgID uuid.UUID, limit int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.injected("units.TransitionBatch"); err != nil {
		return 0, err
	}
	rows := r.collect(func(u *model.UnitCode) bool { return u.BatchID == batchID && !u.IsBuffer && u.Status == from })
	var n int64
	for _, row := range rows {
		if int(n) == limit {
			break
		}
		u := r.units[row.ID]
		u.Status = to
		org := orgID
		u.CurrentOrgID = &org
		n++
	}
	return n, nil
}

var memWarehouseLeg = []string{model.UnitReceivedWarehouse, model.UnitWarehousePacked, model.UnitShippedDistributor}

func (r *memUnits) CountReceivedByVariant(_ context.Context, batchID uuid.UUID) (map[uuid.UUID]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[uuid.UUID]int{}
	for _, u := range r.units {
		if u.BatchID == batchID && !u.IsBuffer && hasStatus(memWarehouseLeg, u.Status) {
			out[u.VariantID]++
		}
	}
	return out, nil
}

func (r *memUnits) CountPromotedBuffers(_ context.Context, batchID, variantID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, u := range r.units {
		if u.BatchID == batchID && u.VariantID == variantID && u.IsBuffer && hasStatus(memWarehouseLeg, u.Status) {
			n++
		}
	}
	return n, nil
}

func (r *memUnits) PromoteBuffers(_ context.Context, _ *gorm.DB, batchID, variantID uuid.UUID, n int, orgID uuid.UUID) ([]model.UnitCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.UnitCode{}
	if n <= 0 {
		return out, nil
	}
	rows := r.collect(func(u *model.UnitCode) bool {
		return u.BatchID == batchID && u.VariantID == variantID && u.IsBuffer && u.Status == model.UnitBufferAvailable
	})
	for _, row := range rows {
		if len(out) == n {
			break
		}
		u := r.units[row.ID]
		u.Status = model.UnitReceivedWarehouse
		org := orgID
		u.CurrentOrgID = &org
		out = append(out, *u)
	}
	return out, nil
}

func (r *memUnits) ApplyCustody(_ context.Context, _ *gorm.DB, ids []uuid.UUID, change repository.CustodyChange) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		u, ok := r.units[id]
		if !ok || !hasStatus(change.FromStatuses, u.Status) {
			continue
		}
		u.Status = change.ToStatus
		u.ValidationSessionID = change.SessionID
		u.DistributorOrgID = change.DistributorOrgID
		if change.CurrentOrgID != nil {
			org := *change.CurrentOrgID
			u.CurrentOrgID = &org
		}
		n++
	}
	return n, nil
}

// ── Reverse jobs ─────────────────────────────────────────────────────────────

type memJobs struct{ *memStore }

var _ repository.ReverseJobRepository = (*memJobs)(nil)

func (r *memJobs) DB() *gorm.DB { return nil }

func (r *memJobs) Create(_ context.Context, job *model.ReverseJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.CreatedAt = r.next()
	for i := range job.Items {
		it := &job.Items[i]
		if it.ID == uuid.Nil {
			it.ID = uuid.New()
		}
		it.JobID = job.ID
		it.CreatedAt = job.CreatedAt
		c := *it
		r.items[it.ID] = &c
	}
	stored := *job
	stored.Items = nil
	stored.Logs = nil
	r.jobs[job.ID] = &stored
	return nil
}

func (r *memJobs) assemble(j *model.ReverseJob, withLogs bool) model.ReverseJob {
	c := *j
	c.Items = nil
	for _, it := range r.items {
		if it.JobID == j.ID {
			c.Items = append(c.Items, *it)
		}
	}
	sort.Slice(c.Items, func(a, b int) bool { return c.Items[a].SpoiledSequenceNo < c.Items[b].SpoiledSequenceNo })
	if withLogs {
		for _, l := range r.logs {
			if l.JobID == j.ID {
				c.Logs = append(c.Logs, l)
			}
		}
	}
	return c
}

func (r *memJobs) FindByID(_ context.Context, id uuid.UUID) (*model.ReverseJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	c := r.assemble(j, true)
	return &c, nil
}

func (r *memJobs) FindOldestPending(_ context.Context) (*model.ReverseJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pick *model.ReverseJob
	for _, j := range r.jobs {
		if j.Status == model.JobPending && (pick == nil || j.CreatedAt.Before(pick.CreatedAt)) {
			pick = j
		}
	}
	if pick == nil {
		return nil, nil
	}
	c := *pick
	return &c, nil
}

func (r *memJobs) ClaimPending(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.Status != model.JobPending {
		return false, nil
	}
	j.Status = model.JobProcessing
	j.StartedAt = &now
	return true, nil
}

func (r *memJobs) Finish(_ context.Context, _ *gorm.DB, id uuid.UUID, from, to string, out repository.JobOutcome) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.Status != from {
		return false, nil
	}
	j.Status = to
	j.TotalReplacements = out.TotalReplacements
	j.FinalUnitCount = out.FinalUnitCount
	j.MasterPackedByJob = out.MasterPackedByJob
	j.ErrorMessage = out.ErrorMessage
	completed := out.CompletedAt
	j.CompletedAt = &completed
	if out.MasterStatusBefore != "" {
		j.MasterStatusBefore = out.MasterStatusBefore
	}
	return true, nil
}

func (r *memJobs) Cancel(_ context.Context, id uuid.UUID, actor *uuid.UUID, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || (j.Status != model.JobPending && j.Status != model.JobProcessing) {
		return false, nil
	}
	j.Status = model.JobCancelled
	j.CancelledBy = actor
	j.CancelledAt = &now
	return true, nil
}

func (r *memJobs) ExistsActiveForCase(_ context.Context, batchID uuid.UUID, caseNumber int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.BatchID == batchID && j.CaseNumber == caseNumber &&
			(j.Status == model.JobPending || j.Status == model.JobProcessing) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memJobs) List(_ context.Context, filter repository.ReverseJobFilter) ([]model.ReverseJob, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []model.ReverseJob
	for _, j := range r.jobs {
		if filter.BatchID != nil && j.BatchID != *filter.BatchID {
			continue
		}
		if filter.Status != "" && filter.Status != "all" && j.Status != filter.Status {
			continue
		}
		all = append(all, *j)
	}
	sort.Slice(all, func(a, b int) bool { return all[a].CreatedAt.After(all[b].CreatedAt) })
	page, limit := filter.Page, filter.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 100
	}
	start := (page - 1) * limit
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], int64(len(all)), nil
}

func (r *memJobs) ListByStatuses(_ context.Context, statuses []string, limit int) ([]model.ReverseJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ReverseJob
	for _, j := range r.jobs {
		if hasStatus(statuses, j.Status) {
			out = append(out, r.assemble(j, false))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memJobs) CountByStatus(_ context.Context, batchID uuid.UUID) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]int64{}
	for _, j := range r.jobs {
		if j.BatchID == batchID {
			out[j.Status]++
		}
	}
	return out, nil
}

func (r *memJobs) UpdateItem(_ context.Context, _ *gorm.DB, item *model.ReverseJobItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *item
	r.items[item.ID] = &c
	return nil
}

func (r *memJobs) AppendLog(_ context.Context, _ *gorm.DB, entry *model.ReverseJobLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = uuid.New()
	entry.CreatedAt = r.next()
	r.logs = append(r.logs, *entry)
	return nil
}

func (r *memJobs) DeleteItems(_ context.Context, _ *gorm.DB, jobID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, it := range r.items {
		if it.JobID == jobID {
			delete(r.items, id)
		}
	}
	return nil
}

func (r *memJobs) DeleteLogs(_ context.Context, _ *gorm.DB, jobID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.logs[:0]
	for _, l := range r.logs {
		if l.JobID != jobID {
			kept = append(kept, l)
		}
	}
	r.logs = kept
	return nil
}

func (r *memJobs) Delete(_ context.Context, _ *gorm.DB, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
	return nil
}

// ── Movements ────────────────────────────────────────────────────────────────

type memMovements struct{ *memStore }

var _ repository.MovementRepository = (*memMovements)(nil)

func (r *memMovements) Create(_ context.Context, _ *gorm.DB, m *model.Movement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m.ID = uuid.New()
	m.CreatedAt = r.next()
	r.movements = append(r.movements, *m)
	return nil
}

func (r *memMovements) CreateBatch(ctx context.Context, tx *gorm.DB, ms []model.Movement) error {
	for i := range ms {
		if err := r.Create(ctx, tx, &ms[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *memMovements) List(_ context.Context, filter repository.MovementFilter) ([]model.Movement, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Movement
	for _, m := range r.movements {
		if filter.CodeID != nil && m.CodeID != *filter.CodeID {
			continue
		}
		if filter.ReferenceID != nil && !sameID(m.ReferenceID, filter.ReferenceID) {
			continue
		}
		if filter.Action != "" && m.Action != filter.Action {
			continue
		}
		out = append(out, m)
	}
	return out, int64(len(out)), nil
}

func (s *memStore) movementsFor(action string) []model.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Movement
	for _, m := range s.movements {
		if m.Action == action {
			out = append(out, m)
		}
	}
	return out
}

// ── Validation sessions ──────────────────────────────────────────────────────

type memSessions struct{ *memStore }

var _ repository.ValidationSessionRepository = (*memSessions)(nil)

func (r *memSessions) DB() *gorm.DB { return nil }

func cloneSession(s *model.ValidationSession) *model.ValidationSession {
	c := *s
	c.MasterCodesScanned = append(datatypes.JSONSlice[string]{}, s.MasterCodesScanned...)
	c.UniqueCodesScanned = append(datatypes.JSONSlice[string]{}, s.UniqueCodesScanned...)
	return &c
}

func (r *memSessions) Create(_ context.Context, s *model.ValidationSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = r.next()
	r.sessions[s.ID] = cloneSession(s)
	return nil
}

func (r *memSessions) FindByID(_ context.Context, id uuid.UUID) (*model.ValidationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return cloneSession(s), nil
}

func (r *memSessions) Save(_ context.Context, _ *gorm.DB, s *model.ValidationSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.injected("sessions.Save"); err != nil {
		return err
	}
	r.sessions[s.ID] = cloneSession(s)
	return nil
}

func (r *memSessions) ListByWarehouse(_ context.Context, warehouseID uuid.UUID, filter repository.SessionFilter) ([]model.ValidationSession, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ValidationSession
	for _, s := range r.sessions {
		if s.WarehouseOrgID != warehouseID {
			continue
		}
		if filter.Status != "" && filter.Status != "all" && s.ValidationStatus != filter.Status {
			continue
		}
		out = append(out, *cloneSession(s))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out, int64(len(out)), nil
}

// ── Orders / organizations / variants ────────────────────────────────────────

type memOrders struct{ *memStore }

var _ repository.OrderRepository = (*memOrders)(nil)

func (r *memOrders) FindOrder(_ context.Context, id uuid.UUID) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	c := *o
	c.Items = append([]model.OrderItem{}, o.Items...)
	return &c, nil
}

func (r *memOrders) FindOrganization(_ context.Context, id uuid.UUID) (*model.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orgs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	c := *o
	return &c, nil
}

func (r *memOrders) ListVariantsByLabel(_ context.Context, label string) ([]model.ProductVariant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ProductVariant
	for _, v := range r.variants {
		if v.Label == label {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (r *memOrders) FindVariants(_ context.Context, ids []uuid.UUID) ([]model.ProductVariant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ProductVariant
	for _, id := range ids {
		if v, ok := r.variants[id]; ok {
			out = append(out, *v)
		}
	}
	return out, nil
}

// ── Stock posting dedup ──────────────────────────────────────────────────────

type memPostings struct{ *memStore }

var _ repository.StockPostingRepository = (*memPostings)(nil)

func (r *memPostings) Find(_ context.Context, key string) (*model.StockPostingDedup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.injected("postings.Find"); err != nil {
		return nil, err
	}
	p, ok := r.postings[key]
	if !ok {
		return nil, nil
	}
	c := *p
	return &c, nil
}

func (r *memPostings) Record(_ context.Context, entry *model.StockPostingDedup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.postings[entry.Key]; ok {
		return nil
	}
	c := *entry
	c.CreatedAt = r.next()
	r.postings[entry.Key] = &c
	return nil
}

func (r *memPostings) ListByBatch(_ context.Context, batchID uuid.UUID) ([]model.StockPostingDedup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.StockPostingDedup
	for _, p := range r.postings {
		if p.BatchID == batchID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

// ── Ledger and dead letters ──────────────────────────────────────────────────

type fakeLedger struct {
	mu       sync.Mutex
	calls    []infra.StockMovementRequest
	failWith map[string]error // movement type → error
}

func (l *fakeLedger) RecordStockMovement(_ context.Context, req infra.StockMovementRequest) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, req)
	if err := l.failWith[req.MovementType]; err != nil {
		return "", err
	}
	return fmt.Sprintf("mv-%d", len(l.calls)), nil
}

func (l *fakeLedger) callsOf(movementType string) []infra.StockMovementRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []infra.StockMovementRequest
	for _, c := range l.calls {
		if c.MovementType == movementType {
			out = append(out, c)
		}
	}
	return out
}

type fakeDLQ struct {
	mu      sync.Mutex
	entries []infra.DeadLetter // oldest first
}

var _ DeadLetterQueue = (*fakeDLQ)(nil)

func (d *fakeDLQ) Push(_ context.Context, entry infra.DeadLetter) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, entry)
	return nil
}

func (d *fakeDLQ) Pop(_ context.Context) (*infra.DeadLetter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.entries) == 0 {
		return nil, nil
	}
	e := d.entries[0]
	d.entries = d.entries[1:]
	return &e, nil
}

func (d *fakeDLQ) List(_ context.Context, limit int64) ([]infra.DeadLetter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]infra.DeadLetter, 0, len(d.entries))
	for i := len(d.entries) - 1; i >= 0 && int64(len(out)) < limit; i-- {
		out = append(out, d.entries[i])
	}
	return out, nil
}

var errBoom = errors.New("boom")

// ── Fixtures ─────────────────────────────────────────────────────────────────

type fixture struct {
	st        *memStore
	batch     *model.Batch
	variantID uuid.UUID
}

func newFixture(expectedPerCase int) *fixture {
	st := newMemStore()
	variant := &model.ProductVariant{ID: uuid.New(), Name: "Mineral water 500ml", Label: "WATER-500"}
	st.variants[variant.ID] = variant
	b := &model.Batch{
		ID:                       uuid.New(),
		OrderID:                  uuid.New(),
		VariantID:                variant.ID,
		ExpectedUnitCountPerCase: expectedPerCase,
		ReceivingStatus:          model.ReceivingIdle,
		CreatedAt:                st.next(),
	}
	st.batches[b.ID] = b
	return &fixture{st: st, batch: b, variantID: variant.ID}
}

// addCase creates the master of case c and its full sequence window. linked
// decides whether the unit codes already point at the master.
func (f *fixture) addCase(c int, masterStatus, unitStatus string, linked bool) *model.MasterCode {
	e := f.batch.ExpectedUnitCountPerCase
	m := &model.MasterCode{
		ID:                uuid.New(),
		BatchID:           f.batch.ID,
		VariantID:         f.variantID,
		Code:              fmt.Sprintf("M-%d", c),
		CaseNumber:        c,
		ExpectedUnitCount: e,
		Status:            masterStatus,
	}
	from, to := model.CaseRange(c, e)
	for seq := from; seq <= to; seq++ {
		u := f.addUnit(seq, unitStatus, false)
		if linked {
			mid := m.ID
			u.MasterCodeID = &mid
			m.ActualUnitCount++
		}
	}
	f.st.masters[m.ID] = m
	return m
}

func (f *fixture) addUnit(seq int, status string, buffer bool) *model.UnitCode {
	u := &model.UnitCode{
		ID:             uuid.New(),
		BatchID:        f.batch.ID,
		VariantID:      f.variantID,
		Code:           fmt.Sprintf("U-%d", seq),
		SequenceNumber: seq,
		IsBuffer:       buffer,
		Status:         status,
	}
	f.st.units[u.ID] = u
	return u
}

func (f *fixture) addBuffers(from, to int) {
	for seq := from; seq <= to; seq++ {
		f.addUnit(seq, model.UnitBufferAvailable, true)
	}
}

func (f *fixture) unit(seq int) model.UnitCode {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	for _, u := range f.st.units {
		if u.BatchID == f.batch.ID && u.SequenceNumber == seq {
			return *u
		}
	}
	panic(fmt.Sprintf("no unit with sequence %d", seq))
}

func (f *fixture) master(id uuid.UUID) model.MasterCode {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	return *f.st.masters[id]
}

// snapshot captures status, link and replaces_sequence_no of every code.
func (f *fixture) snapshot() map[uuid.UUID]string {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	out := map[uuid.UUID]string{}
	for id, u := range f.st.units {
		link, rep := "-", "-"
		if u.MasterCodeID != nil {
			link = u.MasterCodeID.String()
		}
		if u.ReplacesSequenceNo != nil {
			rep = fmt.Sprint(*u.ReplacesSequenceNo)
		}
		out[id] = u.Status + "|" + link + "|" + rep
	}
	for id, m := range f.st.masters {
		out[id] = fmt.Sprintf("%s|%d", m.Status, m.ActualUnitCount)
	}
	return out
}

// assertCountInvariant checks actual_unit_count against the linked active codes
// and that no spoiled code is linked.
func (f *fixture) countViolations() []string {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	var out []string
	for _, m := range f.st.masters {
		n := 0
		for _, u := range f.st.units {
			if sameID(u.MasterCodeID, &m.ID) && u.Status != model.UnitSpoiled {
				n++
			}
		}
		if n != m.ActualUnitCount {
			out = append(out, fmt.Sprintf("%s: actual_unit_count %d, linked %d", m.Code, m.ActualUnitCount, n))
		}
	}
	for _, u := range f.st.units {
		if u.Status == model.UnitSpoiled && u.MasterCodeID != nil {
			out = append(out, fmt.Sprintf("%s is spoiled but linked", u.Code))
		}
	}
	return out
}
