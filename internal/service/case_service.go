package service

import (
	"context"
	"fmt"

	"qrtrace/internal/apierror"
	"qrtrace/internal/dto"
	"qrtrace/internal/model"
	"qrtrace/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// CaseService maps a case to its sequence window and links whole untouched
// cases in one step.
type CaseService interface {
	Describe(ctx context.Context, masterID uuid.UUID) (*dto.CaseResponse, error)
	MarkPerfect(ctx context.Context, masterID uuid.UUID, actor *uuid.UUID) (*dto.MarkPerfectResponse, error)
}

type caseService struct {
	db        *gorm.DB
	masters   repository.MasterCodeRepository
	units     repository.UnitCodeRepository
	movements repository.MovementRepository
}

func NewCaseService(db *gorm.DB, masters repository.MasterCodeRepository, units repository.UnitCodeRepository, movements repository.MovementRepository) CaseService {
	return &caseService{db: db, masters: masters, units: units, movements: movements}
}

func (s *caseService) Describe(ctx context.Context, masterID uuid.UUID) (*dto.CaseResponse, error) {
	master, err := s.masters.FindByID(ctx, masterID)
	if err != nil {
		return nil, lookupErr(err, "master code %s not found", masterID)
	}
	from, to := model.CaseRange(master.CaseNumber, master.ExpectedUnitCount)
	units, err := s.units.ListInRange(ctx, master.BatchID, from, to)
	if err != nil {
		return nil, err
	}
	byStatus := make(map[string]int64)
	for _, u := range units {
		byStatus[u.Status]++
	}
	return &dto.CaseResponse{
		MasterCodeID:      master.ID.String(),
		Code:              master.Code,
		BatchID:           master.BatchID.String(),
		CaseNumber:        master.CaseNumber,
		Status:            master.Status,
		ExpectedUnitCount: master.ExpectedUnitCount,
		ActualUnitCount:   master.ActualUnitCount,
		SequenceFrom:      from,
		SequenceTo:        to,
		UnitsFound:        len(units),
		UnitsByStatus:     byStatus,
	}, nil
}

// linkableStatuses are the unit statuses mark-perfect may move to packed.
var linkableStatuses = map[string]bool{model.UnitCreated: true, model.UnitPrinted: true, model.UnitPacked: true}

// ── MarkPerfect ───────────────────────────────────────────────────────────────
// 1. Load the master and every non-buffer code of its window
// 2. Refuse incomplete cases, codes linked elsewhere and hand-scanned codes
// 3. Bulk-link what is still unlinked, recount, pack the case when full

func (s *caseService) MarkPerfect(ctx context.Context, masterID uuid.UUID, actor *uuid.UUID) (*dto.MarkPerfectResponse, error) {
	master, err := s.masters.FindByID(ctx, masterID)
	if err != nil {
		return nil, lookupErr(err, "master code %s not found", masterID)
	}
	expected := master.ExpectedUnitCount
	from, to := model.CaseRange(master.CaseNumber, expected)

	units, err := s.units.ListInRange(ctx, master.BatchID, from, to)
	if err != nil {
		return nil, err
	}
	if len(units) != expected {
		return nil, apierror.Conflict("case_incomplete",
			"case %d is not fully generated: found %d of %d codes in sequence %d-%d",
			master.CaseNumber, len(units), expected, from, to).
			WithMeta(map[string]any{"found": len(units), "expected": expected})
	}

	var (
		elsewhere []int
		scanned   []int
		toLink    []uuid.UUID
		already   int
	)
	for i := range units {
		u := &units[i]
		switch {
		case u.MasterCodeID != nil && *u.MasterCodeID != master.ID:
			elsewhere = append(elsewhere, u.SequenceNumber)
		case u.LastScannedAt != nil:
			scanned = append(scanned, u.SequenceNumber)
		case u.MasterCodeID != nil:
			already++
		case u.Status == model.UnitSpoiled:
			// replaced by a buffer; never relinked
		case !linkableStatuses[u.Status]:
			return nil, apierror.Conflict("unexpected_status",
				"code sequence %d is %s and cannot be packed into case %d", u.SequenceNumber, u.Status, master.CaseNumber)
		default:
			toLink = append(toLink, u.ID)
		}
	}
	if len(elsewhere) > 0 {
		return nil, apierror.Conflict("linked_elsewhere",
			"%d code(s) of case %d are linked to another master code", len(elsewhere), master.CaseNumber).
			WithMeta(map[string]any{"sequences": firstN(elsewhere, 20)})
	}
	if len(scanned) > 0 {
		return nil, apierror.Conflict("manual_scan_history",
			"case %d has %d individually scanned code(s); mark perfect is reserved for untouched cases",
			master.CaseNumber, len(scanned)).
			WithMeta(map[string]any{"sequences": firstN(scanned, 20)})
	}

	var (
		linked int64
		count  int64
		status = master.Status
	)
	err = runTx(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		if linked, err = s.units.LinkToMaster(ctx, tx, toLink, master.ID, model.UnitPacked); err != nil {
			return fmt.Errorf("link units: %w", err)
		}
		if count, err = s.units.CountActiveByMaster(ctx, tx, master.ID); err != nil {
			return err
		}
		next := ""
		if int(count) >= expected && master.Status != model.MasterPacked && model.CanTransitionMaster(master.Status, model.MasterPacked) {
			next = model.MasterPacked
		}
		if err := s.masters.UpdateCount(ctx, tx, master.ID, int(count), next); err != nil {
			return err
		}
		if next == "" && linked == 0 {
			return nil
		}
		if next != "" {
			status = next
		}
		mv := masterMovement(master, model.ActionMarkPerfect, status, actor, &master.ID,
			fmt.Sprintf("linked %d code(s)", linked))
		return s.movements.Create(ctx, tx, &mv)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("master_code_id", master.ID.String()).
		Int("case_number", master.CaseNumber).
		Int64("linked", linked).
		Int64("actual_unit_count", count).
		Msg("case_service: case marked perfect")

	return &dto.MarkPerfectResponse{
		MasterCodeID:    master.ID.String(),
		Linked:          linked,
		AlreadyLinked:   already,
		ActualUnitCount: int(count),
		Status:          status,
	}, nil
}

func firstN(xs []int, n int) []int {
	if len(xs) > n {
		return xs[:n]
	}
	return xs
}
