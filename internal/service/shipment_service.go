package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"qrtrace/internal/apierror"
	"qrtrace/internal/dto"
	"qrtrace/internal/infra"
	"qrtrace/internal/model"
	"qrtrace/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ShipmentService drives outbound validation sessions: scanning codes into a
// shipment, reconciling against the destination order, unlinking mistakes and
// finally handing custody to the distributor.
type ShipmentService interface {
	Start(ctx context.Context, req dto.StartSessionRequest, actor Actor) (*dto.SessionResponse, error)
	Get(ctx context.Context, id uuid.UUID, actor Actor) (*dto.SessionResponse, error)
	Scan(ctx context.Context, id uuid.UUID, code string, actor Actor) (*dto.SessionResponse, error)
	UnlinkCode(ctx context.Context, id uuid.UUID, code string, actor Actor) (*dto.UnlinkResponse, error)
	UnlinkMaster(ctx context.Context, id uuid.UUID, masterCode string, actor Actor) (*dto.UnlinkResponse, error)
	BulkUnlinkByProduct(ctx context.Context, warehouseID uuid.UUID, req dto.BulkUnlinkRequest, actor Actor) (*dto.UnlinkResponse, error)
	Approve(ctx context.Context, id uuid.UUID, req dto.ApproveRequest, actor Actor) (*dto.SessionResponse, error)
	Void(ctx context.Context, id uuid.UUID, actor Actor) (*dto.SessionResponse, error)
	History(ctx context.Context, warehouseID uuid.UUID, filter dto.SessionFilter, actor Actor) (*dto.SessionListResponse, error)
	ReportPDF(ctx context.Context, id uuid.UUID, actor Actor) (string, error)
}

type shipmentService struct {
	db          *gorm.DB
	sessions    repository.ValidationSessionRepository
	masters     repository.MasterCodeRepository
	units       repository.UnitCodeRepository
	orders      repository.OrderRepository
	movements   repository.MovementRepository
	reportPath  string
	unlinkLimit int
	clock       Clock
}

func NewShipmentService(
	sessions repository.ValidationSessionRepository,
	masters repository.MasterCodeRepository,
	units repository.UnitCodeRepository,
	orders repository.OrderRepository,
	movements repository.MovementRepository,
	reportPath string,
) ShipmentService {
	return &shipmentService{
		db:          sessions.DB(),
		sessions:    sessions,
		masters:     masters,
		units:       units,
		orders:      orders,
		movements:   movements,
		reportPath:  reportPath,
		unlinkLimit: 5000,
	}
}

// packedStatuses are the shipment-leg statuses an unlink reverts.
var packedStatuses = []string{model.UnitWarehousePacked, model.UnitShippedDistributor}

// ── Start ─────────────────────────────────────────────────────────────────────

func (s *shipmentService) Start(ctx context.Context, req dto.StartSessionRequest, actor Actor) (*dto.SessionResponse, error) {
	warehouseID, err := parseID("warehouse_org_id", req.WarehouseOrgID)
	if err != nil {
		return nil, err
	}
	distributorID, err := parseID("distributor_org_id", req.DistributorOrgID)
	if err != nil {
		return nil, err
	}
	orderID, err := parseID("destination_order_id", req.DestinationOrderID)
	if err != nil {
		return nil, err
	}
	if err := authorizeOrg(actor, warehouseID); err != nil {
		return nil, err
	}
	order, err := s.orders.FindOrder(ctx, orderID)
	if err != nil {
		return nil, lookupErr(err, "order %s not found", orderID)
	}

	expected := model.NewQuantityAggregate()
	for _, it := range order.Items {
		cases := 0
		if it.UnitsPerCase > 0 {
			cases = it.Quantity / it.UnitsPerCase
		}
		expected.Add(it.VariantID.String(), it.Quantity, cases)
	}
	scanned := model.NewQuantityAggregate()

	session := &model.ValidationSession{
		WarehouseOrgID:     warehouseID,
		DistributorOrgID:   distributorID,
		DestinationOrderID: order.ID,
		MasterCodesScanned: datatypes.JSONSlice[string]{},
		UniqueCodesScanned: datatypes.JSONSlice[string]{},
		ScannedQuantities:  datatypes.NewJSONType(scanned),
		ExpectedQuantities: datatypes.NewJSONType(expected),
		DiscrepancyDetails: datatypes.NewJSONType(Reconcile(scanned, expected)),
		ValidationStatus:   model.SessionPending,
		CreatedBy:          actor.UserID,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create validation session: %w", err)
	}

	log.Info().
		Str("session_id", session.ID.String()).
		Str("warehouse_org_id", warehouseID.String()).
		Str("order_id", order.ID.String()).
		Int("expected_units", expected.TotalUnits()).
		Msg("shipment: validation session started")
	return toSessionResponse(session), nil
}

func (s *shipmentService) Get(ctx context.Context, id uuid.UUID, actor Actor) (*dto.SessionResponse, error) {
	session, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	return toSessionResponse(session), nil
}

func (s *shipmentService) load(ctx context.Context, id uuid.UUID, actor Actor) (*model.ValidationSession, error) {
	session, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "validation session %s not found", id)
	}
	if err := authorizeOrg(actor, session.WarehouseOrgID); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *shipmentService) loadPending(ctx context.Context, id uuid.UUID, actor Actor) (*model.ValidationSession, error) {
	session, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if session.ValidationStatus != model.SessionPending {
		return nil, apierror.Conflict("session_not_pending", "session %s is %s; only pending sessions can change", id, session.ValidationStatus)
	}
	return session, nil
}

// ── Scan ──────────────────────────────────────────────────────────────────────

func (s *shipmentService) Scan(ctx context.Context, id uuid.UUID, code string, actor Actor) (*dto.SessionResponse, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apierror.Validation("code is required")
	}
	session, err := s.loadPending(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	master, err := s.masters.FindByCode(ctx, code)
	switch {
	case err == nil:
		err = s.scanMaster(ctx, session, master, actor)
	case errors.Is(err, gorm.ErrRecordNotFound):
		var unit *model.UnitCode
		unit, err = s.units.FindByCode(ctx, code)
		if err != nil {
			return nil, lookupErr(err, "code %s not found", code)
		}
		err = s.scanUnit(ctx, session, unit, actor)
	}
	if err != nil {
		return nil, err
	}
	return toSessionResponse(session), nil
}

func (s *shipmentService) expectsVariant(session *model.ValidationSession, variantID uuid.UUID) bool {
	_, ok := session.ExpectedQuantities.Data().PerVariant[variantID.String()]
	return ok
}

func (s *shipmentService) scanMaster(ctx context.Context, session *model.ValidationSession, master *model.MasterCode, actor Actor) error {
	if contains(session.MasterCodesScanned, master.Code) {
		return nil
	}
	if master.CurrentOrgID == nil || *master.CurrentOrgID != session.WarehouseOrgID {
		return apierror.Authorization("case %s is not in warehouse %s", master.Code, session.WarehouseOrgID)
	}
	if !s.expectsVariant(session, master.VariantID) {
		return apierror.Validation("wrong order: case %s holds a product that order %s does not contain", master.Code, session.DestinationOrderID)
	}
	if master.ValidationSessionID != nil && *master.ValidationSessionID != session.ID {
		return apierror.Conflict("in_other_session", "case %s is already part of session %s", master.Code, *master.ValidationSessionID)
	}
	if master.Status != model.MasterReceivedWarehouse && master.Status != model.MasterWarehousePacked {
		return apierror.Conflict("unexpected_status", "case %s is %s and cannot be shipped", master.Code, master.Status)
	}

	linked, err := s.units.ListByMaster(ctx, master.ID)
	if err != nil {
		return err
	}
	unitIDs := make([]uuid.UUID, 0, len(linked))
	for _, u := range linked {
		if u.Status != model.UnitSpoiled {
			unitIDs = append(unitIDs, u.ID)
		}
	}

	change := repository.CustodyChange{
		FromStatuses:     []string{model.UnitReceivedWarehouse, model.UnitWarehousePacked},
		ToStatus:         model.UnitWarehousePacked,
		SessionID:        &session.ID,
		DistributorOrgID: &session.DistributorOrgID,
	}
	err = runTx(ctx, s.db, func(tx *gorm.DB) error {
		if _, err := s.masters.ApplyCustody(ctx, tx, []uuid.UUID{master.ID}, change); err != nil {
			return err
		}
		n, err := s.units.ApplyCustody(ctx, tx, unitIDs, change)
		if err != nil {
			return err
		}
		mv := masterMovement(master, model.ActionShipmentScan, model.MasterWarehousePacked, actor.UserID, &session.ID,
			fmt.Sprintf("%d code(s) packed", n))
		mv.ToOrgID = &session.DistributorOrgID
		if err := s.movements.Create(ctx, tx, &mv); err != nil {
			return err
		}
		session.MasterCodesScanned = append(session.MasterCodesScanned, master.Code)
		return s.sessions.Save(ctx, tx, session)
	})
	if err != nil {
		return err
	}
	return s.recomputeAndSave(ctx, nil, session)
}

func (s *shipmentService) scanUnit(ctx context.Context, session *model.ValidationSession, unit *model.UnitCode, actor Actor) error {
	if contains(session.UniqueCodesScanned, unit.Code) {
		return nil
	}
	if unit.ValidationSessionID != nil && *unit.ValidationSessionID == session.ID {
		// already counted through its case
		return nil
	}
	if unit.CurrentOrgID == nil || *unit.CurrentOrgID != session.WarehouseOrgID {
		return apierror.Authorization("code %s is not in warehouse %s", unit.Code, session.WarehouseOrgID)
	}
	if !s.expectsVariant(session, unit.VariantID) {
		return apierror.Validation("wrong order: code %s is a product that order %s does not contain", unit.Code, session.DestinationOrderID)
	}
	if unit.ValidationSessionID != nil {
		return apierror.Conflict("in_other_session", "code %s is already part of session %s", unit.Code, *unit.ValidationSessionID)
	}
	if unit.Status != model.UnitReceivedWarehouse && unit.Status != model.UnitWarehousePacked {
		return apierror.Conflict("unexpected_status", "code %s is %s and cannot be shipped", unit.Code, unit.Status)
	}

	change := repository.CustodyChange{
		FromStatuses:     []string{model.UnitReceivedWarehouse, model.UnitWarehousePacked},
		ToStatus:         model.UnitWarehousePacked,
		SessionID:        &session.ID,
		DistributorOrgID: &session.DistributorOrgID,
	}
	err := runTx(ctx, s.db, func(tx *gorm.DB) error {
		if _, err := s.units.ApplyCustody(ctx, tx, []uuid.UUID{unit.ID}, change); err != nil {
			return err
		}
		mv := unitMovement(unit, model.ActionShipmentScan, model.UnitWarehousePacked, actor.UserID, &session.ID, "")
		mv.ToOrgID = &session.DistributorOrgID
		if err := s.movements.Create(ctx, tx, &mv); err != nil {
			return err
		}
		session.UniqueCodesScanned = append(session.UniqueCodesScanned, unit.Code)
		return s.sessions.Save(ctx, tx, session)
	})
	if err != nil {
		return err
	}
	return s.recomputeAndSave(ctx, nil, session)
}

// ── Aggregates ────────────────────────────────────────────────────────────────

// recompute rebuilds the scanned quantities from the current rows of every
// code still listed on the session.
func (s *shipmentService) recompute(ctx context.Context, session *model.ValidationSession) (model.QuantityAggregate, error) {
	agg := model.NewQuantityAggregate()

	masters, err := s.masters.ListByCodes(ctx, session.MasterCodesScanned)
	if err != nil {
		return agg, err
	}
	cases := make(map[uuid.UUID]bool, len(masters))
	for _, m := range masters {
		if !sameID(m.ValidationSessionID, &session.ID) || !inShipmentLeg(m.Status) {
			continue
		}
		cases[m.ID] = true
		agg.Add(m.VariantID.String(), 0, 1)
	}

	listed := make(map[string]bool, len(session.UniqueCodesScanned))
	for _, c := range session.UniqueCodesScanned {
		listed[c] = true
	}
	units, err := s.units.ListBySession(ctx, session.ID)
	if err != nil {
		return agg, err
	}
	for _, u := range units {
		if !inShipmentLeg(u.Status) {
			continue
		}
		if listed[u.Code] || (u.MasterCodeID != nil && cases[*u.MasterCodeID]) {
			agg.Add(u.VariantID.String(), 1, 0)
		}
	}
	return agg, nil
}

func inShipmentLeg(status string) bool {
	return status == model.UnitWarehousePacked || status == model.UnitShippedDistributor
}

func (s *shipmentService) recomputeAndSave(ctx context.Context, tx *gorm.DB, session *model.ValidationSession) error {
	scanned, err := s.recompute(ctx, session)
	if err != nil {
		return err
	}
	session.ScannedQuantities = datatypes.NewJSONType(scanned)
	session.DiscrepancyDetails = datatypes.NewJSONType(Reconcile(scanned, session.ExpectedQuantities.Data()))
	return s.sessions.Save(ctx, tx, session)
}

// Reconcile compares scanned against expected units per variant. It is pure
// and deterministic: warnings are ordered by variant id.
func Reconcile(scanned, expected model.QuantityAggregate) model.DiscrepancyReport {
	report := model.DiscrepancyReport{Version: model.QuantityAggregateVersion, Warnings: []model.DiscrepancyWarning{}}

	variants := make([]string, 0, len(expected.PerVariant))
	for v := range expected.PerVariant {
		variants = append(variants, v)
	}
	sort.Strings(variants)
	for _, v := range variants {
		want := expected.PerVariant[v].Units
		got := scanned.PerVariant[v].Units
		switch {
		case got < want:
			report.Warnings = append(report.Warnings, model.DiscrepancyWarning{
				Kind: model.WarningShortfall, VariantID: v, Expected: want, Scanned: got, Delta: got - want,
				Message: fmt.Sprintf("short by %d unit(s)", want-got),
			})
		case got > want:
			report.Warnings = append(report.Warnings, model.DiscrepancyWarning{
				Kind: model.WarningExcess, VariantID: v, Expected: want, Scanned: got, Delta: got - want,
				Message: fmt.Sprintf("%d unit(s) over the order", got-want),
			})
		}
	}

	extra := make([]string, 0)
	for v, q := range scanned.PerVariant {
		if _, ok := expected.PerVariant[v]; !ok && q.Units > 0 {
			extra = append(extra, v)
		}
	}
	sort.Strings(extra)
	for _, v := range extra {
		got := scanned.PerVariant[v].Units
		report.Warnings = append(report.Warnings, model.DiscrepancyWarning{
			Kind: model.WarningUnexpectedVariant, VariantID: v, Scanned: got, Delta: got,
			Message: "product is not part of the order",
		})
	}

	report.HasDiscrepancy = len(report.Warnings) > 0
	return report
}

// ── Unlink ────────────────────────────────────────────────────────────────────

// revertChange takes codes back to received_warehouse in the warehouse,
// clearing distributor and session.
func revertChange(warehouseID uuid.UUID) repository.CustodyChange {
	return repository.CustodyChange{
		FromStatuses: packedStatuses,
		ToStatus:     model.UnitReceivedWarehouse,
		CurrentOrgID: &warehouseID,
	}
}

func (s *shipmentService) UnlinkCode(ctx context.Context, id uuid.UUID, code string, actor Actor) (*dto.UnlinkResponse, error) {
	session, err := s.loadPending(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	unit, err := s.units.FindByCode(ctx, code)
	if err != nil {
		return nil, lookupErr(err, "code %s not found", code)
	}
	if !contains(session.UniqueCodesScanned, unit.Code) && !sameID(unit.ValidationSessionID, &session.ID) {
		return nil, apierror.NotFound("code %s is not part of session %s", code, id)
	}

	out := &dto.UnlinkResponse{}
	err = runTx(ctx, s.db, func(tx *gorm.DB) error {
		n, err := s.units.ApplyCustody(ctx, tx, []uuid.UUID{unit.ID}, revertChange(session.WarehouseOrgID))
		if err != nil {
			return err
		}
		out.UnitsUnlinked = n
		if n > 0 {
			mv := unitMovement(unit, model.ActionShipmentUnlink, model.UnitReceivedWarehouse, actor.UserID, &session.ID, "")
			mv.ToOrgID = &session.WarehouseOrgID
			if err := s.movements.Create(ctx, tx, &mv); err != nil {
				return err
			}
		}
		session.UniqueCodesScanned = without(session.UniqueCodesScanned, unit.Code)
		return s.sessions.Save(ctx, tx, session)
	})
	if err != nil {
		return nil, err
	}
	if err := s.recomputeAndSave(ctx, nil, session); err != nil {
		return nil, err
	}
	out.Session = toSessionResponse(session)
	log.Info().Str("session_id", id.String()).Str("code", code).Msg("shipment: code unlinked")
	return out, nil
}

func (s *shipmentService) UnlinkMaster(ctx context.Context, id uuid.UUID, masterCode string, actor Actor) (*dto.UnlinkResponse, error) {
	session, err := s.loadPending(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	master, err := s.masters.FindByCode(ctx, masterCode)
	if err != nil {
		return nil, lookupErr(err, "case %s not found", masterCode)
	}
	if !contains(session.MasterCodesScanned, master.Code) && !sameID(master.ValidationSessionID, &session.ID) {
		return nil, apierror.NotFound("case %s is not part of session %s", masterCode, id)
	}

	out := &dto.UnlinkResponse{}
	err = runTx(ctx, s.db, func(tx *gorm.DB) error {
		if err := s.unlinkCase(ctx, tx, master, session.WarehouseOrgID, &session.ID, actor, out); err != nil {
			return err
		}
		session.MasterCodesScanned = without(session.MasterCodesScanned, master.Code)
		return s.sessions.Save(ctx, tx, session)
	})
	if err != nil {
		return nil, err
	}
	if err := s.recomputeAndSave(ctx, nil, session); err != nil {
		return nil, err
	}
	out.Session = toSessionResponse(session)
	log.Info().
		Str("session_id", id.String()).
		Str("master_code", masterCode).
		Int64("units_unlinked", out.UnitsUnlinked).
		Msg("shipment: case unlinked")
	return out, nil
}

// unlinkCase reverts a case and its linked codes.
func (s *shipmentService) unlinkCase(ctx context.Context, tx *gorm.DB, master *model.MasterCode, warehouseID uuid.UUID, ref *uuid.UUID, actor Actor, out *dto.UnlinkResponse) error {
	change := revertChange(warehouseID)
	n, err := s.masters.ApplyCustody(ctx, tx, []uuid.UUID{master.ID}, change)
	if err != nil {
		return err
	}
	out.MastersUnlinked += n

	linked, err := s.units.ListByMaster(ctx, master.ID)
	if err != nil {
		return err
	}
	ids := make([]uuid.UUID, 0, len(linked))
	for _, u := range linked {
		ids = append(ids, u.ID)
	}
	un, err := s.units.ApplyCustody(ctx, tx, ids, change)
	if err != nil {
		return err
	}
	out.UnitsUnlinked += un

	if n == 0 && un == 0 {
		return nil
	}
	mv := masterMovement(master, model.ActionShipmentUnlink, model.MasterReceivedWarehouse, actor.UserID, ref,
		fmt.Sprintf("%d code(s) reverted", un))
	mv.ToOrgID = &warehouseID
	return s.movements.Create(ctx, tx, &mv)
}

// BulkUnlinkByProduct reverts every packed code of the warehouse that matches
// a variant id, a variant label or a case. With a session id it also cleans
// that session; without one it only touches codes no session owns.
func (s *shipmentService) BulkUnlinkByProduct(ctx context.Context, warehouseID uuid.UUID, req dto.BulkUnlinkRequest, actor Actor) (*dto.UnlinkResponse, error) {
	if err := authorizeOrg(actor, warehouseID); err != nil {
		return nil, err
	}
	if req.VariantID == nil && req.VariantLabel == nil && req.MasterCode == nil {
		return nil, apierror.Validation("one of variant_id, variant_label or master_code is required")
	}

	match := repository.SessionlessMatch{WarehouseOrgID: warehouseID, Limit: s.unlinkLimit}
	if req.VariantID != nil {
		vid, err := parseID("variant_id", *req.VariantID)
		if err != nil {
			return nil, err
		}
		match.VariantIDs = append(match.VariantIDs, vid)
	}
	if req.VariantLabel != nil {
		variants, err := s.orders.ListVariantsByLabel(ctx, *req.VariantLabel)
		if err != nil {
			return nil, err
		}
		if len(variants) == 0 {
			return nil, apierror.NotFound("no product matches label %q", *req.VariantLabel)
		}
		for _, v := range variants {
			match.VariantIDs = append(match.VariantIDs, v.ID)
		}
	}
	var master *model.MasterCode
	if req.MasterCode != nil {
		m, err := s.masters.FindByCode(ctx, *req.MasterCode)
		if err != nil {
			return nil, lookupErr(err, "case %s not found", *req.MasterCode)
		}
		master = m
		match.MasterCodeID = &m.ID
	}

	var session *model.ValidationSession
	if req.SessionID != nil {
		sid, err := parseID("session_id", *req.SessionID)
		if err != nil {
			return nil, err
		}
		if session, err = s.loadPending(ctx, sid, actor); err != nil {
			return nil, err
		}
		if session.WarehouseOrgID != warehouseID {
			return nil, apierror.Authorization("session %s belongs to another warehouse", sid)
		}
	}

	matches := func(variantID uuid.UUID, masterID *uuid.UUID) bool {
		if master != nil && !sameID(masterID, &master.ID) {
			return false
		}
		if len(match.VariantIDs) == 0 {
			return true
		}
		for _, v := range match.VariantIDs {
			if v == variantID {
				return true
			}
		}
		return false
	}

	sessionless, err := s.units.ListSessionless(ctx, match)
	if err != nil {
		return nil, err
	}
	targets := make([]model.UnitCode, 0, len(sessionless))
	targets = append(targets, sessionless...)

	var sessionMasters []model.MasterCode
	if session != nil {
		inSession, err := s.units.ListBySession(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		for _, u := range inSession {
			if matches(u.VariantID, u.MasterCodeID) {
				targets = append(targets, u)
			}
		}
		all, err := s.masters.ListBySession(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		for _, m := range all {
			if matches(m.VariantID, &m.ID) {
				sessionMasters = append(sessionMasters, m)
			}
		}
	}

	var caseIDs []uuid.UUID
	for _, m := range sessionMasters {
		caseIDs = append(caseIDs, m.ID)
	}
	if master != nil && master.ValidationSessionID == nil && master.Status == model.MasterWarehousePacked &&
		sameID(master.CurrentOrgID, &warehouseID) {
		caseIDs = append(caseIDs, master.ID)
	}

	out := &dto.UnlinkResponse{}
	err = runTx(ctx, s.db, func(tx *gorm.DB) error {
		change := revertChange(warehouseID)
		ids := make([]uuid.UUID, 0, len(targets))
		movements := make([]model.Movement, 0, len(targets)+len(caseIDs))
		for i := range targets {
			ids = append(ids, targets[i].ID)
			mv := unitMovement(&targets[i], model.ActionShipmentUnlink, model.UnitReceivedWarehouse, actor.UserID, targets[i].ValidationSessionID, "bulk unlink")
			mv.ToOrgID = &warehouseID
			movements = append(movements, mv)
		}
		n, err := s.units.ApplyCustody(ctx, tx, ids, change)
		if err != nil {
			return err
		}
		out.UnitsUnlinked = n
		if out.MastersUnlinked, err = s.masters.ApplyCustody(ctx, tx, caseIDs, change); err != nil {
			return err
		}
		if err := s.movements.CreateBatch(ctx, tx, movements); err != nil {
			return err
		}
		if session == nil {
			return nil
		}
		for _, m := range sessionMasters {
			session.MasterCodesScanned = without(session.MasterCodesScanned, m.Code)
		}
		for _, u := range targets {
			session.UniqueCodesScanned = without(session.UniqueCodesScanned, u.Code)
		}
		return s.sessions.Save(ctx, tx, session)
	})
	if err != nil {
		return nil, err
	}
	if session != nil {
		if err := s.recomputeAndSave(ctx, nil, session); err != nil {
			return nil, err
		}
		out.Session = toSessionResponse(session)
	}

	log.Info().
		Str("warehouse_org_id", warehouseID.String()).
		Int64("masters_unlinked", out.MastersUnlinked).
		Int64("units_unlinked", out.UnitsUnlinked).
		Msg("shipment: bulk unlink by product")
	return out, nil
}

// ── Approve / Void ────────────────────────────────────────────────────────────

func (s *shipmentService) Approve(ctx context.Context, id uuid.UUID, req dto.ApproveRequest, actor Actor) (*dto.SessionResponse, error) {
	session, err := s.loadPending(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	scanned, err := s.recompute(ctx, session)
	if err != nil {
		return nil, err
	}
	report := Reconcile(scanned, session.ExpectedQuantities.Data())
	if scanned.TotalUnits() == 0 {
		return nil, apierror.Validation("session %s has no scanned codes", id)
	}

	status := model.SessionMatched
	if report.HasDiscrepancy {
		if !req.Force || req.Notes == nil || strings.TrimSpace(*req.Notes) == "" {
			return nil, apierror.Conflict("discrepancy_unresolved",
				"session %s has %d discrepancy warning(s); approve with force and a note", id, len(report.Warnings)).
				WithMeta(map[string]any{"warnings": report.Warnings})
		}
		status = model.SessionApproved
	}

	now := s.clock.now()
	err = runTx(ctx, s.db, func(tx *gorm.DB) error {
		n, err := s.moveSessionCodes(ctx, tx, session, repository.CustodyChange{
			FromStatuses:     []string{model.UnitWarehousePacked},
			ToStatus:         model.UnitShippedDistributor,
			SessionID:        &session.ID,
			DistributorOrgID: &session.DistributorOrgID,
			CurrentOrgID:     &session.DistributorOrgID,
		}, model.ActionShipmentApprove, actor)
		if err != nil {
			return err
		}
		log.Debug().Str("session_id", id.String()).Int64("codes_shipped", n).Msg("shipment: custody handed over")

		session.ValidationStatus = status
		session.ApprovedBy = actor.UserID
		session.ApprovedAt = &now
		if req.Notes != nil {
			session.Notes = req.Notes
		}
		return s.sessions.Save(ctx, tx, session)
	})
	if err != nil {
		return nil, err
	}

	if err := s.recomputeAndSave(ctx, nil, session); err != nil {
		return nil, err
	}

	log.Info().
		Str("session_id", id.String()).
		Str("status", status).
		Bool("forced", report.HasDiscrepancy).
		Msg("shipment: session approved")
	return toSessionResponse(session), nil
}

func (s *shipmentService) Void(ctx context.Context, id uuid.UUID, actor Actor) (*dto.SessionResponse, error) {
	session, err := s.loadPending(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	now := s.clock.now()
	err = runTx(ctx, s.db, func(tx *gorm.DB) error {
		if _, err := s.moveSessionCodes(ctx, tx, session, revertChange(session.WarehouseOrgID), model.ActionShipmentVoid, actor); err != nil {
			return err
		}
		session.ValidationStatus = model.SessionVoid
		session.VoidedAt = &now
		return s.sessions.Save(ctx, tx, session)
	})
	if err != nil {
		return nil, err
	}
	if err := s.recomputeAndSave(ctx, nil, session); err != nil {
		return nil, err
	}
	log.Info().Str("session_id", id.String()).Msg("shipment: session voided")
	return toSessionResponse(session), nil
}

// moveSessionCodes applies change to every case and code the session owns and
// writes one movement per case plus one per loose code.
func (s *shipmentService) moveSessionCodes(ctx context.Context, tx *gorm.DB, session *model.ValidationSession, change repository.CustodyChange, action string, actor Actor) (int64, error) {
	masters, err := s.masters.ListBySession(ctx, session.ID)
	if err != nil {
		return 0, err
	}
	units, err := s.units.ListBySession(ctx, session.ID)
	if err != nil {
		return 0, err
	}

	masterIDs := make([]uuid.UUID, 0, len(masters))
	movements := make([]model.Movement, 0, len(masters))
	cases := make(map[uuid.UUID]bool, len(masters))
	for i := range masters {
		masterIDs = append(masterIDs, masters[i].ID)
		cases[masters[i].ID] = true
		mv := masterMovement(&masters[i], action, change.ToStatus, actor.UserID, &session.ID, "")
		mv.ToOrgID = change.CurrentOrgID
		movements = append(movements, mv)
	}
	unitIDs := make([]uuid.UUID, 0, len(units))
	for i := range units {
		unitIDs = append(unitIDs, units[i].ID)
		if units[i].MasterCodeID == nil || !cases[*units[i].MasterCodeID] {
			mv := unitMovement(&units[i], action, change.ToStatus, actor.UserID, &session.ID, "")
			mv.ToOrgID = change.CurrentOrgID
			movements = append(movements, mv)
		}
	}

	if _, err := s.masters.ApplyCustody(ctx, tx, masterIDs, change); err != nil {
		return 0, err
	}
	n, err := s.units.ApplyCustody(ctx, tx, unitIDs, change)
	if err != nil {
		return 0, err
	}
	return n, s.movements.CreateBatch(ctx, tx, movements)
}

// ── History / Report ─────────────────────────────────────────────────────────

func (s *shipmentService) History(ctx context.Context, warehouseID uuid.UUID, filter dto.SessionFilter, actor Actor) (*dto.SessionListResponse, error) {
	if err := authorizeOrg(actor, warehouseID); err != nil {
		return nil, err
	}
	sessions, total, err := s.sessions.ListByWarehouse(ctx, warehouseID, repository.SessionFilter{
		Status: filter.Status, Page: filter.Page, Limit: filter.Limit,
	})
	if err != nil {
		return nil, err
	}
	out := &dto.SessionListResponse{Data: make([]dto.SessionResponse, 0, len(sessions)), Total: total, Page: filter.Page, Limit: filter.Limit}
	for i := range sessions {
		out.Data = append(out.Data, *toSessionResponse(&sessions[i]))
	}
	return out, nil
}

func (s *shipmentService) ReportPDF(ctx context.Context, id uuid.UUID, actor Actor) (string, error) {
	session, err := s.load(ctx, id, actor)
	if err != nil {
		return "", err
	}
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, agg := range []model.QuantityAggregate{session.ExpectedQuantities.Data(), session.ScannedQuantities.Data()} {
		for v := range agg.PerVariant {
			vid, err := uuid.Parse(v)
			if err != nil || seen[vid] {
				continue
			}
			seen[vid] = true
			ids = append(ids, vid)
		}
	}
	labels := make(map[string]string, len(ids))
	if len(ids) > 0 {
		variants, err := s.orders.FindVariants(ctx, ids)
		if err != nil {
			return "", err
		}
		for _, v := range variants {
			label := v.Label
			if label == "" {
				label = v.Name
			}
			labels[v.ID.String()] = label
		}
	}
	return infra.GenerateReconciliationPDF(session, labels, s.reportPath)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func without(list datatypes.JSONSlice[string], v string) datatypes.JSONSlice[string] {
	out := make(datatypes.JSONSlice[string], 0, len(list))
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func toSessionResponse(s *model.ValidationSession) *dto.SessionResponse {
	report := s.DiscrepancyDetails.Data()
	return &dto.SessionResponse{
		ID:                 s.ID.String(),
		WarehouseOrgID:     s.WarehouseOrgID.String(),
		DistributorOrgID:   s.DistributorOrgID.String(),
		DestinationOrderID: s.DestinationOrderID.String(),
		ValidationStatus:   s.ValidationStatus,
		MasterCodesScanned: append([]string{}, s.MasterCodesScanned...),
		UniqueCodesScanned: append([]string{}, s.UniqueCodesScanned...),
		ScannedQuantities:  s.ScannedQuantities.Data(),
		ExpectedQuantities: s.ExpectedQuantities.Data(),
		Discrepancy:        report,
		HasDiscrepancy:     report.HasDiscrepancy,
		Notes:              s.Notes,
		CreatedAt:          s.CreatedAt,
		ApprovedAt:         s.ApprovedAt,
		VoidedAt:           s.VoidedAt,
	}
}
