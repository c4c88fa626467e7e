package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"qrtrace/internal/apierror"
	"qrtrace/internal/dto"
	"qrtrace/internal/model"
	"qrtrace/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ReverseJobService runs the spoilage-replacement queue: operators submit
// spoiled codes per case, a scheduler-driven worker swaps them for buffers one
// job per invocation, and deletion undoes a finished job.
type ReverseJobService interface {
	Create(ctx context.Context, req dto.CreateReverseJobRequest, actor *uuid.UUID) (*dto.ReverseJobResponse, error)
	Get(ctx context.Context, id uuid.UUID) (*dto.ReverseJobResponse, error)
	List(ctx context.Context, filter dto.ReverseJobFilter) (*dto.ReverseJobListResponse, error)
	ProcessNext(ctx context.Context) (*dto.ProcessResult, error)
	Cancel(ctx context.Context, id uuid.UUID, actor *uuid.UUID) (*dto.ReverseJobResponse, error)
	Delete(ctx context.Context, id uuid.UUID, actor *uuid.UUID) (*dto.DeleteJobResponse, error)
	BulkDelete(ctx context.Context, status string, actor *uuid.UUID) (*dto.BulkDeleteResponse, error)
	BatchProgress(ctx context.Context, batchID uuid.UUID) (*dto.BatchProgressResponse, error)
}

type reverseJobService struct {
	db          *gorm.DB
	jobs        repository.ReverseJobRepository
	batches     repository.BatchRepository
	masters     repository.MasterCodeRepository
	units       repository.UnitCodeRepository
	movements   repository.MovementRepository
	bufferLimit int
	clock       Clock
}

func NewReverseJobService(
	jobs repository.ReverseJobRepository,
	batches repository.BatchRepository,
	masters repository.MasterCodeRepository,
	units repository.UnitCodeRepository,
	movements repository.MovementRepository,
	bufferLimit int,
) ReverseJobService {
	if bufferLimit <= 0 {
		bufferLimit = 500
	}
	return &reverseJobService{
		db:          jobs.DB(),
		jobs:        jobs,
		batches:     batches,
		masters:     masters,
		units:       units,
		movements:   movements,
		bufferLimit: bufferLimit,
	}
}

// ── Create ────────────────────────────────────────────────────────────────────

func (s *reverseJobService) Create(ctx context.Context, req dto.CreateReverseJobRequest, actor *uuid.UUID) (*dto.ReverseJobResponse, error) {
	batchID, err := parseID("batch_id", req.BatchID)
	if err != nil {
		return nil, err
	}
	if len(req.SpoiledCodes) == 0 {
		return nil, apierror.Validation("at least one spoiled code is required")
	}
	batch, err := s.batches.FindByID(ctx, batchID)
	if err != nil {
		return nil, lookupErr(err, "batch %s not found", batchID)
	}
	master, err := s.masters.FindByCase(ctx, batch.ID, req.CaseNumber)
	if err != nil {
		return nil, lookupErr(err, "case %d of batch %s not found", req.CaseNumber, batch.ID)
	}

	codes := make([]string, 0, len(req.SpoiledCodes))
	var replacementCodes []string
	seen := make(map[string]bool, len(req.SpoiledCodes))
	seenReplacement := make(map[string]bool)
	for _, in := range req.SpoiledCodes {
		if seen[in.Code] {
			return nil, apierror.Validation("spoiled code %s is listed twice", in.Code)
		}
		seen[in.Code] = true
		codes = append(codes, in.Code)
		if in.ReplacementCode != nil {
			rc := *in.ReplacementCode
			if seenReplacement[rc] {
				return nil, apierror.Validation("replacement code %s is assigned twice", rc)
			}
			seenReplacement[rc] = true
			replacementCodes = append(replacementCodes, rc)
		}
	}

	spoiled, err := s.units.ListByCodes(ctx, codes)
	if err != nil {
		return nil, err
	}
	spoiledByCode := make(map[string]*model.UnitCode, len(spoiled))
	for i := range spoiled {
		spoiledByCode[spoiled[i].Code] = &spoiled[i]
	}
	replacementByCode := make(map[string]*model.UnitCode)
	if len(replacementCodes) > 0 {
		found, err := s.units.ListByCodes(ctx, replacementCodes)
		if err != nil {
			return nil, err
		}
		for i := range found {
			replacementByCode[found[i].Code] = &found[i]
		}
	}

	items := make([]model.ReverseJobItem, 0, len(req.SpoiledCodes))
	for _, in := range req.SpoiledCodes {
		u, ok := spoiledByCode[in.Code]
		if !ok {
			return nil, apierror.NotFound("code %s not found", in.Code)
		}
		if err := checkSpoilable(u, master); err != nil {
			return nil, err
		}
		item := model.ReverseJobItem{
			SpoiledCodeID:             u.ID,
			SpoiledSequenceNo:         u.SequenceNumber,
			Status:                    model.ItemPending,
			SpoiledStatusBefore:       u.Status,
			SpoiledMasterCodeIDBefore: u.MasterCodeID,
		}
		if in.ReplacementCode != nil {
			b, ok := replacementByCode[*in.ReplacementCode]
			if !ok {
				return nil, apierror.NotFound("replacement code %s not found", *in.ReplacementCode)
			}
			if !b.IsBuffer || b.BatchID != batch.ID || b.Status != model.UnitBufferAvailable {
				return nil, apierror.Conflict("buffer_unavailable",
					"replacement code %s is not an available buffer of batch %s", b.Code, batch.ID)
			}
			item.ReplacementCodeID = &b.ID
			item.PreAssigned = true
		}
		items = append(items, item)
	}

	active, err := s.jobs.ExistsActiveForCase(ctx, batch.ID, master.CaseNumber)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, apierror.Conflict("job_in_flight",
			"case %d already has a pending or processing job", master.CaseNumber)
	}

	job := &model.ReverseJob{
		BatchID:            batch.ID,
		CaseNumber:         master.CaseNumber,
		MasterCodeID:       master.ID,
		Status:             model.JobPending,
		TotalSpoiled:       len(items),
		MasterStatusBefore: master.Status,
		CreatedBy:          actor,
		Items:              items,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create reverse job: %w", err)
	}

	log.Info().
		Str("job_id", job.ID.String()).
		Str("batch_id", batch.ID.String()).
		Int("case_number", master.CaseNumber).
		Int("total_spoiled", job.TotalSpoiled).
		Msg("reverse_job: job queued")

	return toJobResponse(job), nil
}

// checkSpoilable enforces that a code belongs to the case and can still be spoiled.
func checkSpoilable(u *model.UnitCode, master *model.MasterCode) error {
	if u.IsBuffer {
		return apierror.Validation("code %s is a buffer code and cannot be spoiled", u.Code)
	}
	if u.BatchID != master.BatchID {
		return apierror.Validation("code %s does not belong to batch %s", u.Code, master.BatchID)
	}
	linkedHere := u.MasterCodeID != nil && *u.MasterCodeID == master.ID
	if u.MasterCodeID != nil && !linkedHere {
		return apierror.Conflict("linked_elsewhere",
			"code %s is linked to another master code than case %d", u.Code, master.CaseNumber).
			WithMeta(map[string]any{"code": u.Code, "master_code_id": u.MasterCodeID.String()})
	}
	if !linkedHere && !model.InCaseRange(u.SequenceNumber, master.CaseNumber, master.ExpectedUnitCount) {
		return apierror.Validation("code %s (sequence %d) is not part of case %d", u.Code, u.SequenceNumber, master.CaseNumber)
	}
	if !model.IsPreShipment(u.Status) {
		return apierror.Conflict("not_spoilable", "code %s is %s and can no longer be spoiled", u.Code, u.Status)
	}
	return nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

func (s *reverseJobService) Get(ctx context.Context, id uuid.UUID) (*dto.ReverseJobResponse, error) {
	job, err := s.jobs.FindByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "reverse job %s not found", id)
	}
	return toJobResponse(job), nil
}

func (s *reverseJobService) List(ctx context.Context, filter dto.ReverseJobFilter) (*dto.ReverseJobListResponse, error) {
	f := repository.ReverseJobFilter{Status: filter.Status, Page: filter.Page, Limit: filter.Limit}
	if filter.BatchID != "" {
		id, err := parseID("batch_id", filter.BatchID)
		if err != nil {
			return nil, err
		}
		f.BatchID = &id
	}
	jobs, total, err := s.jobs.List(ctx, f)
	if err != nil {
		return nil, err
	}
	out := &dto.ReverseJobListResponse{Data: make([]dto.ReverseJobResponse, 0, len(jobs)), Total: total, Page: filter.Page, Limit: filter.Limit}
	for i := range jobs {
		out.Data = append(out.Data, *toJobResponse(&jobs[i]))
	}
	return out, nil
}

func (s *reverseJobService) BatchProgress(ctx context.Context, batchID uuid.UUID) (*dto.BatchProgressResponse, error) {
	if _, err := s.batches.FindByID(ctx, batchID); err != nil {
		return nil, lookupErr(err, "batch %s not found", batchID)
	}
	counts, err := s.jobs.CountByStatus(ctx, batchID)
	if err != nil {
		return nil, err
	}
	jobs, total, err := s.jobs.List(ctx, repository.ReverseJobFilter{BatchID: &batchID, Page: 1, Limit: 500})
	if err != nil {
		return nil, err
	}
	available, err := s.units.CountAvailableBuffers(ctx, nil, batchID)
	if err != nil {
		return nil, err
	}

	out := &dto.BatchProgressResponse{
		BatchID:          batchID.String(),
		JobsByStatus:     counts,
		TotalJobs:        total,
		BuffersAvailable: available,
		Cases:            []dto.CaseProgress{},
	}
	latest := make(map[int]bool)
	// jobs arrive newest first
	for _, j := range jobs {
		out.TotalSpoiled += j.TotalSpoiled
		out.TotalReplacements += j.TotalReplacements
		if latest[j.CaseNumber] {
			continue
		}
		latest[j.CaseNumber] = true
		out.Cases = append(out.Cases, dto.CaseProgress{CaseNumber: j.CaseNumber, LatestJobID: j.ID.String(), Status: j.Status})
	}
	return out, nil
}

// ── Worker ────────────────────────────────────────────────────────────────────
// 1. Pick the oldest pending job and claim it with a conditional update
// 2. Refresh snapshots, drop pre-assigned buffers that are gone
// 3. Check buffer supply before touching any row
// 4. Commit every pair, recount, finish the job in one transaction

func (s *reverseJobService) ProcessNext(ctx context.Context) (*dto.ProcessResult, error) {
	candidate, err := s.jobs.FindOldestPending(ctx)
	if err != nil {
		return nil, err
	}
	if candidate == nil {
		return &dto.ProcessResult{Idle: true}, nil
	}

	claimed, err := s.jobs.ClaimPending(ctx, candidate.ID, s.clock.now())
	if err != nil {
		return nil, err
	}
	if !claimed {
		log.Debug().Str("job_id", candidate.ID.String()).Msg("reverse_worker: claim lost to another worker")
		return &dto.ProcessResult{JobID: candidate.ID.String(), Detail: "claimed by another worker"}, nil
	}

	job, err := s.jobs.FindByID(ctx, candidate.ID)
	if err != nil {
		return nil, err
	}
	status, err := s.process(ctx, job)
	if err != nil {
		status = s.fail(ctx, job, err)
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("reverse_worker: job failed")
		return &dto.ProcessResult{Claimed: true, JobID: job.ID.String(), Status: status, Detail: err.Error()}, nil
	}

	log.Info().Str("job_id", job.ID.String()).Str("status", status).Msg("reverse_worker: job processed")
	return &dto.ProcessResult{Claimed: true, JobID: job.ID.String(), Status: status}, nil
}

// pair is one spoiled code and the buffer that replaces it.
type pair struct {
	item    *model.ReverseJobItem
	spoiled *model.UnitCode
	buffer  *model.UnitCode
}

func (s *reverseJobService) process(ctx context.Context, job *model.ReverseJob) (string, error) {
	master, err := s.masters.FindByID(ctx, job.MasterCodeID)
	if err != nil {
		return "", lookupErr(err, "master code %s not found", job.MasterCodeID)
	}

	spoiledIDs := make([]uuid.UUID, 0, len(job.Items))
	var bufferIDs []uuid.UUID
	for _, it := range job.Items {
		spoiledIDs = append(spoiledIDs, it.SpoiledCodeID)
		if it.ReplacementCodeID != nil {
			bufferIDs = append(bufferIDs, *it.ReplacementCodeID)
		}
	}
	spoiled, err := s.unitsByID(ctx, spoiledIDs)
	if err != nil {
		return "", err
	}
	preassigned, err := s.unitsByID(ctx, bufferIDs)
	if err != nil {
		return "", err
	}

	var (
		pairs      []pair
		unassigned []pair
		awaiting   []*model.ReverseJobItem
		logs       []model.ReverseJobLog
	)
	for i := range job.Items {
		it := &job.Items[i]
		u, ok := spoiled[it.SpoiledCodeID]
		if !ok {
			return "", apierror.NotFound("spoiled code %s not found", it.SpoiledCodeID)
		}
		if err := checkSpoilable(u, master); err != nil {
			return "", err
		}
		p := pair{item: it, spoiled: u}
		if it.ReplacementCodeID == nil {
			unassigned = append(unassigned, p)
			continue
		}
		b, ok := preassigned[*it.ReplacementCodeID]
		if !ok || b.Status != model.UnitBufferAvailable || b.BatchID != job.BatchID {
			awaiting = append(awaiting, it)
			logs = append(logs, jobLog(job.ID, "warn", "pre-assigned buffer no longer available",
				datatypes.JSONMap{"sequence": u.SequenceNumber, "buffer_id": it.ReplacementCodeID.String()}))
			continue
		}
		p.buffer = b
		pairs = append(pairs, p)
	}

	if need := len(unassigned); need > 0 {
		available, err := s.units.CountAvailableBuffers(ctx, nil, job.BatchID)
		if err != nil {
			return "", err
		}
		// buffers already claimed by this job's pre-assigned items are not free for auto-assign
		free := int(available) - len(pairs)
		if need > free || need > s.bufferLimit {
			return "", insufficientBuffers(need, max(free, 0))
		}
		taken := make(map[uuid.UUID]bool, len(pairs))
		for _, p := range pairs {
			taken[p.buffer.ID] = true
		}
		pool, err := s.units.ListAvailableBuffers(ctx, nil, job.BatchID, need+len(pairs))
		if err != nil {
			return "", err
		}
		i := 0
		for k := range pool {
			if i == need {
				break
			}
			if taken[pool[k].ID] {
				continue
			}
			unassigned[i].buffer = &pool[k]
			i++
		}
		if i < need {
			return "", insufficientBuffers(need, i)
		}
		pairs = append(pairs, unassigned...)
	}

	now := s.clock.now()
	status := model.JobCompleted
	if len(awaiting) > 0 {
		status = model.JobPartial
	}

	err = runTx(ctx, s.db, func(tx *gorm.DB) error {
		movements := make([]model.Movement, 0, 2*len(pairs)+1)
		for _, p := range pairs {
			ok, err := s.units.Spoil(ctx, tx, p.spoiled.ID, model.PreShipmentUnitStatuses)
			if err != nil {
				return err
			}
			if !ok {
				return apierror.Conflict("not_spoilable", "code sequence %d changed status while the job ran", p.spoiled.SequenceNumber)
			}
			if ok, err = s.units.UseBuffer(ctx, tx, p.buffer.ID, master.ID, p.spoiled.SequenceNumber); err != nil {
				return err
			} else if !ok {
				return apierror.Conflict("buffer_unavailable", "buffer sequence %d was taken while the job ran", p.buffer.SequenceNumber)
			}

			p.item.Status = model.ItemReplaced
			p.item.ReplacementCodeID = &p.buffer.ID
			p.item.SpoiledStatusBefore = p.spoiled.Status
			p.item.SpoiledMasterCodeIDBefore = p.spoiled.MasterCodeID
			p.item.ProcessedAt = &now
			if err := s.jobs.UpdateItem(ctx, tx, p.item); err != nil {
				return err
			}

			movements = append(movements,
				unitMovement(p.spoiled, model.ActionSpoil, model.UnitSpoiled, job.CreatedBy, &job.ID, ""),
				unitMovement(p.buffer, model.ActionBufferAssign, model.UnitBufferUsed, job.CreatedBy, &job.ID,
					fmt.Sprintf("replaces sequence %d", p.spoiled.SequenceNumber)),
			)
			logs = append(logs, jobLog(job.ID, "info", "pair committed",
				datatypes.JSONMap{"spoiled_sequence": p.spoiled.SequenceNumber, "buffer_sequence": p.buffer.SequenceNumber}))
		}
		for _, it := range awaiting {
			it.Status = model.ItemAwaitingBuffer
			it.ReplacementCodeID = nil
			if err := s.jobs.UpdateItem(ctx, tx, it); err != nil {
				return err
			}
		}

		count, err := s.units.CountActiveByMaster(ctx, tx, master.ID)
		if err != nil {
			return err
		}
		next := ""
		if int(count) >= master.ExpectedUnitCount && master.Status != model.MasterPacked &&
			model.CanTransitionMaster(master.Status, model.MasterPacked) {
			next = model.MasterPacked
		}
		if err := s.masters.UpdateCount(ctx, tx, master.ID, int(count), next); err != nil {
			return err
		}
		if next != "" {
			movements = append(movements, masterMovement(master, model.ActionCaseRecount, next, job.CreatedBy, &job.ID, ""))
		}
		if err := s.movements.CreateBatch(ctx, tx, movements); err != nil {
			return err
		}

		final := int(count)
		out := repository.JobOutcome{
			TotalReplacements:  len(pairs),
			FinalUnitCount:     &final,
			MasterStatusBefore: master.Status,
			MasterPackedByJob:  next != "",
			CompletedAt:        now,
		}
		finished, err := s.jobs.Finish(ctx, tx, job.ID, model.JobProcessing, status, out)
		if err != nil {
			return err
		}
		if !finished {
			// cancelled while running: pairs stay, the job stays cancelled
			status = model.JobCancelled
			if _, err := s.jobs.Finish(ctx, tx, job.ID, model.JobCancelled, model.JobCancelled, out); err != nil {
				return err
			}
			logs = append(logs, jobLog(job.ID, "warn", "job was cancelled while running; committed pairs kept", nil))
		}
		logs = append(logs, jobLog(job.ID, "info", "job "+status,
			datatypes.JSONMap{"total_replacements": len(pairs), "final_unit_count": final}))
		for i := range logs {
			if err := s.jobs.AppendLog(ctx, tx, &logs[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

// fail persists the failure on the job. A job cancelled in the meantime keeps
// its cancelled status.
func (s *reverseJobService) fail(ctx context.Context, job *model.ReverseJob, cause error) string {
	msg := cause.Error()
	out := repository.JobOutcome{ErrorMessage: &msg, CompletedAt: s.clock.now()}
	status := model.JobFailed
	finished, err := s.jobs.Finish(ctx, nil, job.ID, model.JobProcessing, model.JobFailed, out)
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("reverse_worker: could not persist failure")
		return status
	}
	if !finished {
		status = model.JobCancelled
	}
	entry := jobLog(job.ID, "error", msg, nil)
	var conflict *apierror.ConflictError
	if errors.As(cause, &conflict) && conflict.Meta != nil {
		entry.Detail = datatypes.JSONMap(conflict.Meta)
	}
	if err := s.jobs.AppendLog(ctx, nil, &entry); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID.String()).Msg("reverse_worker: could not append failure log")
	}
	return status
}

func insufficientBuffers(need, available int) error {
	return apierror.Conflict("insufficient_buffers", "insufficient buffers: need %d, available %d", need, available).
		WithMeta(map[string]any{"need": need, "available": available})
}

func (s *reverseJobService) unitsByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.UnitCode, error) {
	out := make(map[uuid.UUID]*model.UnitCode, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.units.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		out[rows[i].ID] = &rows[i]
	}
	return out, nil
}

func jobLog(jobID uuid.UUID, level, msg string, detail datatypes.JSONMap) model.ReverseJobLog {
	return model.ReverseJobLog{JobID: jobID, Level: level, Message: msg, Detail: detail}
}

// ── Cancel ────────────────────────────────────────────────────────────────────

func (s *reverseJobService) Cancel(ctx context.Context, id uuid.UUID, actor *uuid.UUID) (*dto.ReverseJobResponse, error) {
	job, err := s.jobs.FindByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "reverse job %s not found", id)
	}
	ok, err := s.jobs.Cancel(ctx, id, actor, s.clock.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apierror.Conflict("not_cancellable", "job %s is %s and can no longer be cancelled", id, job.Status)
	}
	entry := jobLog(id, "info", "job cancelled", nil)
	if actor != nil {
		entry.Detail = datatypes.JSONMap{"actor_id": actor.String()}
	}
	if err := s.jobs.AppendLog(ctx, nil, &entry); err != nil {
		log.Warn().Err(err).Str("job_id", id.String()).Msg("reverse_job: could not append cancel log")
	}
	log.Info().Str("job_id", id.String()).Msg("reverse_job: job cancelled")
	return s.Get(ctx, id)
}

// ── Delete ────────────────────────────────────────────────────────────────────

func (s *reverseJobService) Delete(ctx context.Context, id uuid.UUID, actor *uuid.UUID) (*dto.DeleteJobResponse, error) {
	job, err := s.jobs.FindByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "reverse job %s not found", id)
	}
	if !model.IsTerminalJob(job.Status) {
		return nil, apierror.Conflict("job_not_terminal", "job %s is %s; only finished jobs can be deleted", id, job.Status)
	}
	st, err := s.compensate(ctx, job, actor)
	if err != nil {
		return nil, err
	}
	return &dto.DeleteJobResponse{JobID: id.String(), BuffersReverted: st.buffersReverted, SpoiledRestored: st.spoiledRestored}, nil
}

// bulkDeleteStatuses maps the operator filter to job statuses.
var bulkDeleteStatuses = map[string][]string{
	model.JobFailed:    {model.JobFailed},
	model.JobCompleted: {model.JobCompleted},
	model.JobCancelled: {model.JobCancelled},
	model.JobPartial:   {model.JobPartial},
	"all":              model.TerminalJobStatuses,
}

func (s *reverseJobService) BulkDelete(ctx context.Context, status string, actor *uuid.UUID) (*dto.BulkDeleteResponse, error) {
	statuses, ok := bulkDeleteStatuses[strings.ToLower(status)]
	if !ok {
		return nil, apierror.Validation("status must be one of failed, completed, cancelled, partial, all")
	}
	jobs, err := s.jobs.ListByStatuses(ctx, statuses, 500)
	if err != nil {
		return nil, err
	}
	out := &dto.BulkDeleteResponse{}
	for i := range jobs {
		st, err := s.compensate(ctx, &jobs[i], actor)
		if err != nil {
			log.Error().Err(err).Str("job_id", jobs[i].ID.String()).Msg("reverse_job: bulk delete step failed")
			out.Failed = append(out.Failed, jobs[i].ID.String())
			continue
		}
		out.JobsDeleted++
		out.BuffersReverted += st.buffersReverted
	}
	log.Info().
		Str("filter", status).
		Int("jobs_deleted", out.JobsDeleted).
		Int("buffers_reverted", out.BuffersReverted).
		Int("failed", len(out.Failed)).
		Msg("reverse_job: bulk delete finished")
	return out, nil
}

// ── Mapping ───────────────────────────────────────────────────────────────────

func toJobResponse(j *model.ReverseJob) *dto.ReverseJobResponse {
	r := &dto.ReverseJobResponse{
		ID:                j.ID.String(),
		BatchID:           j.BatchID.String(),
		CaseNumber:        j.CaseNumber,
		MasterCodeID:      j.MasterCodeID.String(),
		Status:            j.Status,
		TotalSpoiled:      j.TotalSpoiled,
		TotalReplacements: j.TotalReplacements,
		FinalUnitCount:    j.FinalUnitCount,
		ErrorMessage:      j.ErrorMessage,
		CreatedAt:         j.CreatedAt,
		StartedAt:         j.StartedAt,
		CompletedAt:       j.CompletedAt,
		CancelledAt:       j.CancelledAt,
	}
	for _, it := range j.Items {
		ir := dto.ReverseJobItemResponse{
			ID:                it.ID.String(),
			SpoiledCodeID:     it.SpoiledCodeID.String(),
			SpoiledSequenceNo: it.SpoiledSequenceNo,
			PreAssigned:       it.PreAssigned,
			Status:            it.Status,
			ProcessedAt:       it.ProcessedAt,
		}
		if it.ReplacementCodeID != nil {
			ir.ReplacementCodeID = ptr(it.ReplacementCodeID.String())
		}
		r.Items = append(r.Items, ir)
	}
	for _, l := range j.Logs {
		r.Logs = append(r.Logs, dto.ReverseJobLogResponse{Level: l.Level, Message: l.Message, Detail: l.Detail, CreatedAt: l.CreatedAt})
	}
	return r
}
