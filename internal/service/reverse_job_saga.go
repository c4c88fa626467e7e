package service

import (
	"context"
	"errors"
	"fmt"

	"qrtrace/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// sagaState carries what the compensation steps learn from each other.
type sagaState struct {
	job             *model.ReverseJob
	master          *model.MasterCode
	actor           *uuid.UUID
	masterReverted  bool
	buffersReverted int
	spoiledRestored int
	movements       []model.Movement
}

type sagaStep struct {
	name string
	run  func(ctx context.Context, tx *gorm.DB, st *sagaState) error
}

// deleteSaga undoes a finished job. Order matters: the case is reverted
// before its codes, buffers before the spoiled codes they replaced, and the
// job rows go last. Every step matches rows by their current status so a
// retried delete skips what an earlier attempt already reverted.
func (s *reverseJobService) deleteSaga() []sagaStep {
	return []sagaStep{
		{"revert_master", s.stepRevertMaster},
		{"revert_case_units", s.stepRevertCaseUnits},
		{"revert_buffers", s.stepRevertBuffers},
		{"restore_spoiled", s.stepRestoreSpoiled},
		{"recount_master", s.stepRecountMaster},
		{"delete_items", s.stepDeleteItems},
		{"delete_job", s.stepDeleteJob},
	}
}

func (s *reverseJobService) compensate(ctx context.Context, job *model.ReverseJob, actor *uuid.UUID) (*sagaState, error) {
	st := &sagaState{job: job, actor: actor}
	master, err := s.masters.FindByID(ctx, job.MasterCodeID)
	switch {
	case err == nil:
		st.master = master
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	err = runTx(ctx, s.db, func(tx *gorm.DB) error {
		for _, step := range s.deleteSaga() {
			if err := step.run(ctx, tx, st); err != nil {
				return fmt.Errorf("delete job %s: %s: %w", job.ID, step.name, err)
			}
		}
		return s.movements.CreateBatch(ctx, tx, st.movements)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("job_id", job.ID.String()).
		Bool("master_reverted", st.masterReverted).
		Int("buffers_reverted", st.buffersReverted).
		Int("spoiled_restored", st.spoiledRestored).
		Msg("reverse_job: job deleted")
	return st, nil
}

func (s *reverseJobService) stepRevertMaster(ctx context.Context, tx *gorm.DB, st *sagaState) error {
	if st.master == nil || !st.job.MasterPackedByJob {
		return nil
	}
	to := st.job.MasterStatusBefore
	if to == "" || to == model.MasterPacked {
		to = model.MasterPrinted
	}
	ok, err := s.masters.RevertStatus(ctx, tx, st.master.ID, model.MasterPacked, to)
	if err != nil || !ok {
		return err
	}
	st.masterReverted = true
	mv := masterMovement(st.master, model.ActionCompensate, to, st.actor, &st.job.ID, "reverse job deleted")
	mv.FromStatus = model.MasterPacked
	st.movements = append(st.movements, mv)
	return nil
}

func (s *reverseJobService) stepRevertCaseUnits(ctx context.Context, tx *gorm.DB, st *sagaState) error {
	if !st.masterReverted {
		return nil
	}
	_, err := s.units.RevertCaseStatus(ctx, tx, st.master.ID, model.UnitPacked, model.UnitPrinted)
	return err
}

func (s *reverseJobService) stepRevertBuffers(ctx context.Context, tx *gorm.DB, st *sagaState) error {
	for _, it := range st.job.Items {
		if it.ReplacementCodeID == nil || it.Status != model.ItemReplaced {
			continue
		}
		ok, err := s.units.RevertBuffer(ctx, tx, *it.ReplacementCodeID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		st.buffersReverted++
		st.movements = append(st.movements, model.Movement{
			CodeID:      *it.ReplacementCodeID,
			CodeType:    model.CodeTypeUnit,
			Action:      model.ActionCompensate,
			FromStatus:  model.UnitBufferUsed,
			ToStatus:    model.UnitBufferAvailable,
			ActorID:     st.actor,
			ReferenceID: &st.job.ID,
		})
	}
	return nil
}

func (s *reverseJobService) stepRestoreSpoiled(ctx context.Context, tx *gorm.DB, st *sagaState) error {
	for _, it := range st.job.Items {
		if it.Status != model.ItemReplaced {
			continue
		}
		to := it.SpoiledStatusBefore
		if !model.IsPreShipment(to) {
			to = model.UnitPrinted
		}
		// a master that was reverted takes its codes back to printed as well
		if st.masterReverted && to == model.UnitPacked {
			to = model.UnitPrinted
		}
		ok, err := s.units.RestoreSpoiled(ctx, tx, it.SpoiledCodeID, to, it.SpoiledMasterCodeIDBefore)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		st.spoiledRestored++
		st.movements = append(st.movements, model.Movement{
			CodeID:      it.SpoiledCodeID,
			CodeType:    model.CodeTypeUnit,
			Action:      model.ActionCompensate,
			FromStatus:  model.UnitSpoiled,
			ToStatus:    to,
			ActorID:     st.actor,
			ReferenceID: &st.job.ID,
		})
	}
	return nil
}

func (s *reverseJobService) stepRecountMaster(ctx context.Context, tx *gorm.DB, st *sagaState) error {
	if st.master == nil {
		return nil
	}
	count, err := s.units.CountActiveByMaster(ctx, tx, st.master.ID)
	if err != nil {
		return err
	}
	return s.masters.UpdateCount(ctx, tx, st.master.ID, int(count), "")
}

func (s *reverseJobService) stepDeleteItems(ctx context.Context, tx *gorm.DB, st *sagaState) error {
	if err := s.jobs.DeleteLogs(ctx, tx, st.job.ID); err != nil {
		return err
	}
	return s.jobs.DeleteItems(ctx, tx, st.job.ID)
}

func (s *reverseJobService) stepDeleteJob(ctx context.Context, tx *gorm.DB, st *sagaState) error {
	return s.jobs.Delete(ctx, tx, st.job.ID)
}
