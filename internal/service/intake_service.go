package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"qrtrace/internal/apierror"
	"qrtrace/internal/dto"
	"qrtrace/internal/infra"
	"qrtrace/internal/model"
	"qrtrace/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// StockLedger is the inventory ledger's "record a stock movement" contract.
type StockLedger interface {
	RecordStockMovement(ctx context.Context, req infra.StockMovementRequest) (string, error)
}

// DeadLetterQueue parks ledger postings that failed so they can be replayed.
type DeadLetterQueue interface {
	Push(ctx context.Context, entry infra.DeadLetter) error
	Pop(ctx context.Context) (*infra.DeadLetter, error)
	List(ctx context.Context, limit int64) ([]infra.DeadLetter, error)
}

// IntakeService receives ready-to-ship batches into their destination
// warehouse and posts the resulting stock to the ledger.
type IntakeService interface {
	QueueBatch(ctx context.Context, batchID uuid.UUID, actor *uuid.UUID) (*dto.IntakeResult, error)
	ProcessNext(ctx context.Context) (*dto.IntakeResult, error)
	Audit(ctx context.Context, batchID uuid.UUID) (*dto.IntakeAuditResponse, error)
	ReplayFailedPostings(ctx context.Context, limit int) (*dto.ReplayResult, error)
}

// IntakeConfig holds the tunables of the intake worker.
type IntakeConfig struct {
	DefaultBonusPercent int
	BatchLimit          int
}

type intakeService struct {
	batches   repository.BatchRepository
	masters   repository.MasterCodeRepository
	units     repository.UnitCodeRepository
	orders    repository.OrderRepository
	postings  repository.StockPostingRepository
	movements repository.MovementRepository
	ledger    StockLedger
	dlq       DeadLetterQueue
	cfg       IntakeConfig
	clock     Clock
}

func NewIntakeService(
	batches repository.BatchRepository,
	masters repository.MasterCodeRepository,
	units repository.UnitCodeRepository,
	orders repository.OrderRepository,
	postings repository.StockPostingRepository,
	movements repository.MovementRepository,
	ledger StockLedger,
	dlq DeadLetterQueue,
	cfg IntakeConfig,
) IntakeService {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 5000
	}
	return &intakeService{
		batches:   batches,
		masters:   masters,
		units:     units,
		orders:    orders,
		postings:  postings,
		movements: movements,
		ledger:    ledger,
		dlq:       dlq,
		cfg:       cfg,
	}
}

// ── QueueBatch ────────────────────────────────────────────────────────────────

func (s *intakeService) QueueBatch(ctx context.Context, batchID uuid.UUID, actor *uuid.UUID) (*dto.IntakeResult, error) {
	batch, err := s.batches.FindByID(ctx, batchID)
	if err != nil {
		return nil, lookupErr(err, "batch %s not found", batchID)
	}
	switch batch.ReceivingStatus {
	case model.ReceivingQueued, model.ReceivingProcessing:
		return &dto.IntakeResult{BatchID: batch.ID.String(), ReceivingStatus: batch.ReceivingStatus}, nil
	case model.ReceivingCompleted:
		return nil, apierror.Conflict("already_received", "batch %s was already received", batch.ID)
	}

	counts, err := s.masters.CountByStatus(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	if counts[model.MasterReadyToShip] == 0 {
		return nil, apierror.Validation("batch %s has no ready_to_ship cases", batch.ID)
	}
	if err := s.batches.MarkQueued(ctx, batch.ID, s.clock.now()); err != nil {
		return nil, err
	}

	log.Info().
		Str("batch_id", batch.ID.String()).
		Int64("ready_cases", counts[model.MasterReadyToShip]).
		Msg("intake: batch queued for warehouse receiving")
	return &dto.IntakeResult{BatchID: batch.ID.String(), ReceivingStatus: model.ReceivingQueued}, nil
}

// ── ProcessNext ───────────────────────────────────────────────────────────────
// 1. Claim the oldest queued batch and resolve its warehouse
// 2. Move ready_to_ship cases and codes into the warehouse, capped per pass
// 3. Mark the batch completed
// 4. Post additions and warranty bonuses per variant; failures go to the DLQ

func (s *intakeService) ProcessNext(ctx context.Context) (*dto.IntakeResult, error) {
	batch, err := s.batches.ClaimNextForIntake(ctx, s.clock.now())
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return &dto.IntakeResult{Idle: true}, nil
	}
	res := &dto.IntakeResult{BatchID: batch.ID.String(), ReceivingStatus: model.ReceivingProcessing}

	order, err := s.orders.FindOrder(ctx, batch.OrderID)
	if err != nil {
		err = lookupErr(err, "order %s of batch %s not found", batch.OrderID, batch.ID)
		s.markFailed(ctx, batch, err)
		return nil, err
	}
	warehouseID, err := s.resolveWarehouse(ctx, order.BuyerOrgID)
	if err != nil {
		s.markFailed(ctx, batch, err)
		return nil, err
	}
	res.WarehouseOrgID = warehouseID.String()

	if err := s.receiveCodes(ctx, batch, warehouseID, res); err != nil {
		msg := err.Error()
		if uerr := s.batches.UpdateReceiving(ctx, batch.ID, model.ReceivingProcessing, &msg, nil); uerr != nil {
			log.Error().Err(uerr).Str("batch_id", batch.ID.String()).Msg("intake: could not persist receiving error")
		}
		log.Error().Err(err).Str("batch_id", batch.ID.String()).Msg("intake: bulk transition failed; batch stays in processing")
		return nil, fmt.Errorf("receive batch %s: %w", batch.ID, err)
	}

	now := s.clock.now()
	if err := s.batches.UpdateReceiving(ctx, batch.ID, model.ReceivingCompleted, nil, &now); err != nil {
		return nil, err
	}
	res.ReceivingStatus = model.ReceivingCompleted

	s.postStock(ctx, batch, order, warehouseID, res)

	log.Info().
		Str("batch_id", batch.ID.String()).
		Str("warehouse_org_id", warehouseID.String()).
		Int("masters_received", res.MastersReceived).
		Int64("units_received", res.UnitsReceived).
		Int("buffers_promoted", res.BuffersPromoted).
		Int("non_fatal_failures", res.NonFatalFailures).
		Msg("intake: batch received")
	return res, nil
}

// resolveWarehouse follows the hq → default warehouse indirection.
func (s *intakeService) resolveWarehouse(ctx context.Context, buyerOrgID uuid.UUID) (uuid.UUID, error) {
	org, err := s.orders.FindOrganization(ctx, buyerOrgID)
	if err != nil {
		return uuid.Nil, lookupErr(err, "buyer organization %s not found", buyerOrgID)
	}
	if org.OrgType != model.OrgHQ {
		return org.ID, nil
	}
	if org.DefaultWarehouseOrgID == nil {
		return uuid.Nil, apierror.Validation("hq organization %s has no default warehouse", org.ID)
	}
	return *org.DefaultWarehouseOrgID, nil
}

func (s *intakeService) markFailed(ctx context.Context, batch *model.Batch, cause error) {
	msg := cause.Error()
	if err := s.batches.UpdateReceiving(ctx, batch.ID, model.ReceivingFailed, &msg, nil); err != nil {
		log.Error().Err(err).Str("batch_id", batch.ID.String()).Msg("intake: could not mark batch failed")
	}
	log.Error().Err(cause).Str("batch_id", batch.ID.String()).Msg("intake: batch failed")
}

// receiveCodes runs the two bulk transitions. They are separate writes: a
// failure in the second leaves the first applied and the batch is retried.
func (s *intakeService) receiveCodes(ctx context.Context, batch *model.Batch, warehouseID uuid.UUID, res *dto.IntakeResult) error {
	limit := s.cfg.BatchLimit
	for {
		moved, err := s.masters.TransitionBatch(ctx, nil, batch.ID, model.MasterReadyToShip, model.MasterReceivedWarehouse, warehouseID, limit)
		if err != nil {
			return fmt.Errorf("transition cases: %w", err)
		}
		movements := make([]model.Movement, 0, len(moved))
		for i := range moved {
			movements = append(movements, model.Movement{
				CodeID:      moved[i].ID,
				CodeType:    model.CodeTypeMaster,
				Action:      model.ActionWarehouseIntake,
				FromStatus:  model.MasterReadyToShip,
				ToStatus:    model.MasterReceivedWarehouse,
				FromOrgID:   batch.ManufacturerOrgID,
				ToOrgID:     &warehouseID,
				ReferenceID: &batch.ID,
			})
		}
		if err := s.movements.CreateBatch(ctx, nil, movements); err != nil {
			return fmt.Errorf("record case movements: %w", err)
		}
		res.MastersReceived += len(moved)
		if len(moved) < limit {
			break
		}
	}
	for {
		n, err := s.units.TransitionBatch(ctx, nil, batch.ID, model.UnitReadyToShip, model.UnitReceivedWarehouse, warehouseID, limit)
		if err != nil {
			return fmt.Errorf("transition codes: %w", err)
		}
		res.UnitsReceived += n
		if n < int64(limit) {
			break
		}
	}
	return nil
}

func (s *intakeService) bonusPercent(order *model.Order) int {
	if order.WarrantyBonusPercent != nil {
		return *order.WarrantyBonusPercent
	}
	return s.cfg.DefaultBonusPercent
}

// warrantyBonus is floor(qty * pct / 100).
func warrantyBonus(qty, pct int) int {
	if qty <= 0 || pct <= 0 {
		return 0
	}
	return qty * pct / 100
}

func postingKey(batchID, variantID uuid.UUID, movementType string) string {
	return fmt.Sprintf("intake:%s:%s:%s", batchID, variantID, movementType)
}

func (s *intakeService) postStock(ctx context.Context, batch *model.Batch, order *model.Order, warehouseID uuid.UUID, res *dto.IntakeResult) {
	received, err := s.units.CountReceivedByVariant(ctx, batch.ID)
	if err != nil {
		log.Error().Err(err).Str("batch_id", batch.ID.String()).Msg("intake: could not aggregate received quantities")
		res.NonFatalFailures++
		return
	}
	costs := make(map[uuid.UUID]decimal.Decimal, len(order.Items))
	for _, it := range order.Items {
		costs[it.VariantID] = it.UnitCost
	}
	pct := s.bonusPercent(order)

	for _, variantID := range sortedVariants(received) {
		qty := received[variantID]
		if qty <= 0 {
			continue
		}
		s.post(ctx, batch, order, warehouseID, variantID, model.StockAddition, qty, costs[variantID], res)

		bonus := warrantyBonus(qty, pct)
		if bonus == 0 {
			continue
		}
		already, err := s.units.CountPromotedBuffers(ctx, batch.ID, variantID)
		if err != nil {
			log.Error().Err(err).Str("batch_id", batch.ID.String()).Msg("intake: could not count promoted buffers")
			res.NonFatalFailures++
			continue
		}
		promoted, err := s.units.PromoteBuffers(ctx, nil, batch.ID, variantID, bonus-int(already), warehouseID)
		if err != nil {
			log.Error().Err(err).Str("batch_id", batch.ID.String()).Str("variant_id", variantID.String()).
				Msg("intake: buffer promotion failed")
			res.NonFatalFailures++
			continue
		}
		if len(promoted) > 0 {
			movements := make([]model.Movement, 0, len(promoted))
			for i := range promoted {
				movements = append(movements, model.Movement{
					CodeID:      promoted[i].ID,
					CodeType:    model.CodeTypeUnit,
					Action:      model.ActionWarrantyBonus,
					FromStatus:  model.UnitBufferAvailable,
					ToStatus:    model.UnitReceivedWarehouse,
					FromOrgID:   batch.ManufacturerOrgID,
					ToOrgID:     &warehouseID,
					ReferenceID: &batch.ID,
				})
			}
			if err := s.movements.CreateBatch(ctx, nil, movements); err != nil {
				log.Warn().Err(err).Str("batch_id", batch.ID.String()).Msg("intake: could not record bonus movements")
			}
		}
		res.BuffersPromoted += len(promoted)
		if total := int(already) + len(promoted); total > 0 {
			if total < bonus {
				log.Warn().
					Str("batch_id", batch.ID.String()).
					Str("variant_id", variantID.String()).
					Int("bonus", bonus).
					Int("promoted", total).
					Msg("intake: buffer pool smaller than warranty bonus")
			}
			s.post(ctx, batch, order, warehouseID, variantID, model.StockWarrantyBonus, total, decimal.Zero, res)
		}
	}
}

// post sends one movement to the ledger unless the dedup table already holds
// it. Failures are parked in the DLQ and never abort the intake.
func (s *intakeService) post(ctx context.Context, batch *model.Batch, order *model.Order, warehouseID, variantID uuid.UUID,
	movementType string, qty int, unitCost decimal.Decimal, res *dto.IntakeResult) {

	key := postingKey(batch.ID, variantID, movementType)
	result := dto.PostingResult{VariantID: variantID.String(), MovementType: movementType, Quantity: qty}
	defer func() { res.Postings = append(res.Postings, result) }()

	existing, err := s.postings.Find(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("intake: dedup lookup failed")
	}
	if existing != nil {
		result.Deduplicated = true
		result.MovementID = existing.LedgerMovementID
		return
	}

	req := infra.StockMovementRequest{
		MovementType:   movementType,
		VariantID:      variantID.String(),
		OrganizationID: warehouseID.String(),
		Quantity:       qty,
		UnitCost:       unitCost,
		ReasonCode:     "warehouse_intake",
		Note:           fmt.Sprintf("batch %s received", batch.ID),
		Reference:      infra.StockMovementReference{Type: "order", ID: order.ID.String(), Number: order.OrderNumber},
		IdempotencyKey: key,
	}
	if movementType == model.StockWarrantyBonus {
		req.ReasonCode = "warranty_bonus"
	}
	if batch.ManufacturerOrgID != nil {
		req.ManufacturerID = ptr(batch.ManufacturerOrgID.String())
	}

	id, err := s.ledger.RecordStockMovement(ctx, req)
	if err != nil {
		result.Error = err.Error()
		res.NonFatalFailures++
		log.Warn().Err(err).Str("key", key).Msg("intake: ledger posting failed")
		entry := infra.DeadLetter{Key: key, BatchID: batch.ID.String(), Payload: req, Reason: err.Error(), Attempts: 1}
		if derr := s.dlq.Push(ctx, entry); derr != nil {
			log.Error().Err(derr).Str("key", key).Msg("intake: could not park failed posting")
		}
		return
	}
	result.MovementID = id
	s.remember(ctx, key, batch.ID, variantID, movementType, qty, id)
}

func (s *intakeService) remember(ctx context.Context, key string, batchID, variantID uuid.UUID, movementType string, qty int, movementID string) {
	err := s.postings.Record(ctx, &model.StockPostingDedup{
		Key:              key,
		BatchID:          batchID,
		VariantID:        variantID,
		MovementType:     movementType,
		Quantity:         qty,
		LedgerMovementID: movementID,
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("intake: posting succeeded but dedup record failed")
	}
}

func sortedVariants(m map[uuid.UUID]int) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// ── Audit ─────────────────────────────────────────────────────────────────────

func (s *intakeService) Audit(ctx context.Context, batchID uuid.UUID) (*dto.IntakeAuditResponse, error) {
	batch, err := s.batches.FindByID(ctx, batchID)
	if err != nil {
		return nil, lookupErr(err, "batch %s not found", batchID)
	}
	out := &dto.IntakeAuditResponse{
		BatchID:          batch.ID.String(),
		ReceivingStatus:  batch.ReceivingStatus,
		ReceivingError:   batch.ReceivingError,
		ExpectedPostings: []dto.PostingResult{},
		RecordedPostings: []dto.PostingResult{},
		MissingPostings:  []dto.PostingResult{},
		DeadLetters:      []dto.DeadLetterEntry{},
	}
	if out.MastersByStatus, err = s.masters.CountByStatus(ctx, batch.ID); err != nil {
		return nil, err
	}
	if out.UnitsByStatus, err = s.units.CountByStatus(ctx, batch.ID, false); err != nil {
		return nil, err
	}
	if out.BuffersByStatus, err = s.units.CountByStatus(ctx, batch.ID, true); err != nil {
		return nil, err
	}

	recorded, err := s.postings.ListByBatch(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(recorded))
	for _, p := range recorded {
		seen[p.Key] = true
		out.RecordedPostings = append(out.RecordedPostings, dto.PostingResult{
			VariantID: p.VariantID.String(), MovementType: p.MovementType, Quantity: p.Quantity, MovementID: p.LedgerMovementID,
		})
	}

	if batch.ReceivingStatus == model.ReceivingCompleted {
		received, err := s.units.CountReceivedByVariant(ctx, batch.ID)
		if err != nil {
			return nil, err
		}
		for _, variantID := range sortedVariants(received) {
			if qty := received[variantID]; qty > 0 {
				addExpectedPosting(out, seen, batch.ID, variantID, model.StockAddition, qty)
			}
			promoted, err := s.units.CountPromotedBuffers(ctx, batch.ID, variantID)
			if err != nil {
				return nil, err
			}
			if promoted > 0 {
				addExpectedPosting(out, seen, batch.ID, variantID, model.StockWarrantyBonus, int(promoted))
			}
		}
	}

	letters, err := s.dlq.List(ctx, 500)
	if err != nil {
		log.Warn().Err(err).Str("batch_id", batch.ID.String()).Msg("intake: dead letters unavailable for audit")
	}
	for _, l := range letters {
		if l.BatchID != batch.ID.String() {
			continue
		}
		out.DeadLetters = append(out.DeadLetters, dto.DeadLetterEntry{
			Key: l.Key, BatchID: l.BatchID, Reason: l.Reason, FailedAt: l.FailedAt, Attempts: l.Attempts,
		})
	}
	return out, nil
}

func addExpectedPosting(out *dto.IntakeAuditResponse, seen map[string]bool, batchID, variantID uuid.UUID, movementType string, qty int) {
	p := dto.PostingResult{VariantID: variantID.String(), MovementType: movementType, Quantity: qty}
	out.ExpectedPostings = append(out.ExpectedPostings, p)
	if !seen[postingKey(batchID, variantID, movementType)] {
		out.MissingPostings = append(out.MissingPostings, p)
	}
}

// ── Replay ────────────────────────────────────────────────────────────────────

func (s *intakeService) ReplayFailedPostings(ctx context.Context, limit int) (*dto.ReplayResult, error) {
	if limit <= 0 {
		limit = 20
	}
	out := &dto.ReplayResult{}
	for out.Attempted < limit {
		entry, err := s.dlq.Pop(ctx)
		if err != nil {
			return out, err
		}
		if entry == nil {
			break
		}
		out.Attempted++

		existing, err := s.postings.Find(ctx, entry.Key)
		if err != nil {
			log.Warn().Err(err).Str("key", entry.Key).Msg("ledger_replay: dedup lookup failed")
		}
		if existing != nil {
			log.Info().Str("key", entry.Key).Msg("ledger_replay: posting already recorded, dropping entry")
			continue
		}

		id, err := s.ledger.RecordStockMovement(ctx, entry.Payload)
		if err != nil {
			entry.Attempts++
			entry.Reason = err.Error()
			entry.FailedAt = ""
			if perr := s.dlq.Push(ctx, *entry); perr != nil {
				return out, fmt.Errorf("requeue %s: %w", entry.Key, perr)
			}
			out.Requeued++
			if errors.Is(err, infra.ErrCircuitOpen) {
				log.Debug().Msg("ledger_replay: circuit breaker is open, stopping")
				break
			}
			continue
		}

		batchID, _ := uuid.Parse(entry.BatchID)
		variantID, _ := uuid.Parse(entry.Payload.VariantID)
		s.remember(ctx, entry.Key, batchID, variantID, entry.Payload.MovementType, entry.Payload.Quantity, id)
		out.Posted++
	}

	if out.Attempted > 0 {
		log.Info().
			Int("attempted", out.Attempted).
			Int("posted", out.Posted).
			Int("requeued", out.Requeued).
			Msg("ledger_replay: dead letters processed")
	}
	return out, nil
}
