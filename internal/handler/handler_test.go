package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"qrtrace/internal/apierror"
	"qrtrace/internal/dto"
	"qrtrace/internal/middleware"
	"qrtrace/internal/service"
	"qrtrace/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

// ── stubs ─────────────────────────────────────────────────────────────────────

type stubReverse struct {
	service.ReverseJobService
	created    dto.CreateReverseJobRequest
	createErr  error
	listFilter dto.ReverseJobFilter
	bulkStatus string
}

func (s *stubReverse) Create(_ context.Context, req dto.CreateReverseJobRequest, _ *uuid.UUID) (*dto.ReverseJobResponse, error) {
	s.created = req
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &dto.ReverseJobResponse{ID: "job-1", Status: "pending", TotalSpoiled: len(req.SpoiledCodes)}, nil
}

func (s *stubReverse) List(_ context.Context, f dto.ReverseJobFilter) (*dto.ReverseJobListResponse, error) {
	s.listFilter = f
	return &dto.ReverseJobListResponse{Page: 1, Limit: 20}, nil
}

func (s *stubReverse) Get(_ context.Context, id uuid.UUID) (*dto.ReverseJobResponse, error) {
	return nil, apierror.NotFound("reverse job %s not found", id)
}

func (s *stubReverse) BulkDelete(_ context.Context, status string, _ *uuid.UUID) (*dto.BulkDeleteResponse, error) {
	s.bulkStatus = status
	return &dto.BulkDeleteResponse{JobsDeleted: 2}, nil
}

type stubShipments struct {
	service.ShipmentService
	actor      service.Actor
	scanned    string
	approveReq dto.ApproveRequest
	reportPath string
}

func (s *stubShipments) Scan(_ context.Context, id uuid.UUID, code string, actor service.Actor) (*dto.SessionResponse, error) {
	s.actor, s.scanned = actor, code
	if code == "U-gone" {
		return nil, apierror.Conflict("already_scanned", "code %s is already in this session", code)
	}
	return &dto.SessionResponse{ID: id.String(), ValidationStatus: "pending"}, nil
}

func (s *stubShipments) Approve(_ context.Context, id uuid.UUID, req dto.ApproveRequest, _ service.Actor) (*dto.SessionResponse, error) {
	s.approveReq = req
	return &dto.SessionResponse{ID: id.String(), ValidationStatus: "approved"}, nil
}

func (s *stubShipments) ReportPDF(context.Context, uuid.UUID, service.Actor) (string, error) {
	return s.reportPath, nil
}

func (s *stubShipments) Start(context.Context, dto.StartSessionRequest, service.Actor) (*dto.SessionResponse, error) {
	return nil, errors.New("pq: connection refused to 10.0.0.5")
}

// ── helpers ───────────────────────────────────────────────────────────────────

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func withClaims(claims *middleware.JWTClaims) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ClaimsKey, claims)
		c.Next()
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// ── tests ─────────────────────────────────────────────────────────────────────

func TestReverseJobs_Create(t *testing.T) {
	svc := &stubReverse{}
	h := NewReverseJobsHandler(svc)
	r := gin.New()
	r.POST("/reverse-jobs", h.Create)

	body := dto.CreateReverseJobRequest{
		BatchID:      uuid.NewString(),
		CaseNumber:   1,
		SpoiledCodes: []dto.SpoiledCodeInput{{Code: "U-5"}, {Code: "U-47"}},
	}
	w := do(r, http.MethodPost, "/reverse-jobs", body)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "job-1", decode(t, w)["id"])
	assert.Len(t, svc.created.SpoiledCodes, 2)

	t.Run("validation", func(t *testing.T) {
		w := do(r, http.MethodPost, "/reverse-jobs", map[string]any{"batch_id": "nope", "case_number": 0})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		fields := decode(t, w)["fields"].(map[string]any)
		assert.Contains(t, fields, "BatchID")
		assert.Contains(t, fields, "CaseNumber")
	})

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/reverse-jobs", bytes.NewBufferString("{"))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("conflict keeps meta", func(t *testing.T) {
		svc.createErr = apierror.Conflict("insufficient_buffers", "insufficient buffers: need 3, available 2").
			WithMeta(map[string]any{"need": 3, "available": 2})
		defer func() { svc.createErr = nil }()

		w := do(r, http.MethodPost, "/reverse-jobs", body)
		assert.Equal(t, http.StatusConflict, w.Code)
		out := decode(t, w)
		assert.Equal(t, "insufficient_buffers", out["code"])
		assert.EqualValues(t, 3, out["meta"].(map[string]any)["need"])
	})
}

func TestReverseJobs_ListGetBulkDelete(t *testing.T) {
	svc := &stubReverse{}
	h := NewReverseJobsHandler(svc)
	r := gin.New()
	r.GET("/reverse-jobs", h.List)
	r.GET("/reverse-jobs/:id", h.Get)
	r.DELETE("/reverse-jobs", h.BulkDelete)

	w := do(r, http.MethodGet, "/reverse-jobs?status=failed&page=2", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "failed", svc.listFilter.Status)
	assert.Equal(t, 2, svc.listFilter.Page)

	assert.Equal(t, http.StatusUnprocessableEntity, do(r, http.MethodGet, "/reverse-jobs?status=bogus", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/reverse-jobs/not-a-uuid", nil).Code)

	w = do(r, http.MethodGet, "/reverse-jobs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decode(t, w)["detail"], "not found")

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodDelete, "/reverse-jobs", nil).Code)
	w = do(r, http.MethodDelete, "/reverse-jobs?status=ALL", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ALL", svc.bulkStatus)
}

func TestShipments_ScanUsesActorFromClaims(t *testing.T) {
	svc := &stubShipments{}
	h := NewShipmentsHandler(svc)
	userID, orgID := uuid.New(), uuid.New()
	r := gin.New()
	r.Use(withClaims(&middleware.JWTClaims{UserID: userID.String(), OrgID: orgID.String(), Role: "warehouse"}))
	r.POST("/sessions/:id/scan", h.Scan)

	sid := uuid.NewString()
	w := do(r, http.MethodPost, "/sessions/"+sid+"/scan", dto.ScanRequest{Code: "M-1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "M-1", svc.scanned)
	require.NotNil(t, svc.actor.OrgID)
	assert.Equal(t, orgID, *svc.actor.OrgID)
	assert.Equal(t, userID, *svc.actor.UserID)
	assert.Equal(t, "warehouse", svc.actor.Role)

	w = do(r, http.MethodPost, "/sessions/"+sid+"/scan", dto.ScanRequest{Code: "U-gone"})
	assert.Equal(t, http.StatusConflict, w.Code)

	assert.Equal(t, http.StatusUnprocessableEntity, do(r, http.MethodPost, "/sessions/"+sid+"/scan", map[string]string{}).Code)
}

func TestShipments_ApproveBodyIsOptional(t *testing.T) {
	svc := &stubShipments{}
	r := gin.New()
	r.POST("/sessions/:id/approve", NewShipmentsHandler(svc).Approve)

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+uuid.NewString()+"/approve", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, svc.approveReq.Force)

	w = do(r, http.MethodPost, "/sessions/"+uuid.NewString()+"/approve", dto.ApproveRequest{Force: true})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, svc.approveReq.Force)
}

func TestShipments_InternalErrorsAreOpaque(t *testing.T) {
	r := gin.New()
	r.POST("/sessions", NewShipmentsHandler(&stubShipments{}).Start)

	w := do(r, http.MethodPost, "/sessions", dto.StartSessionRequest{
		WarehouseOrgID:     uuid.NewString(),
		DistributorOrgID:   uuid.NewString(),
		DestinationOrderID: uuid.NewString(),
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "10.0.0.5")
}

func TestShipments_ReportServesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.3 test"), 0o600))

	r := gin.New()
	r.GET("/sessions/:id/report.pdf", NewShipmentsHandler(&stubShipments{reportPath: path}).Report)

	w := do(r, http.MethodGet, "/sessions/"+uuid.NewString()+"/report.pdf", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, w.Body.String(), "%PDF")
}

type countingTask struct{ left int }

func (t *countingTask) Name() string { return "queue" }

func (t *countingTask) RunOnce(context.Context) (worker.Outcome, error) {
	if t.left == 0 {
		return worker.Outcome{Idle: true}, nil
	}
	t.left--
	return worker.Outcome{Result: t.left}, nil
}

func TestWorkers_Run(t *testing.T) {
	task := &countingTask{left: 2}
	h := NewWorkersHandler(worker.NewRunner(task))
	r := gin.New()
	r.POST("/workers/:task/run", h.Run)
	r.GET("/workers", h.List)

	w := do(r, http.MethodPost, "/workers/queue/run", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "queue", decode(t, w)["task"])

	w = do(r, http.MethodPost, "/workers/queue/run?drain=10", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["runs"], 2)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/workers/nope/run", nil).Code)
	assert.Contains(t, do(r, http.MethodGet, "/workers", nil).Body.String(), "queue")
}

func TestHealthWithoutBackends(t *testing.T) {
	r := gin.New()
	r.GET("/health", Health(nil, nil, nil))

	w := do(r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	out := decode(t, w)
	assert.Equal(t, false, out["ok"])
	assert.Equal(t, "error", out["db"])
}
