package handler

import (
	"fmt"
	"net/http"

	"qrtrace/internal/dto"
	"qrtrace/internal/service"

	"github.com/gin-gonic/gin"
)

type ShipmentsHandler struct{ svc service.ShipmentService }

func NewShipmentsHandler(svc service.ShipmentService) *ShipmentsHandler {
	return &ShipmentsHandler{svc: svc}
}

// Start godoc
// @Summary Opens a validation session for an outbound shipment
// @Tags shipments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.StartSessionRequest true "Warehouse, distributor and order"
// @Success 201 {object} dto.SessionResponse
// @Failure 403 {object} apierror.APIError
// @Failure 404 {object} apierror.APIError
// @Router /v1/shipments/sessions [post]
func (h *ShipmentsHandler) Start(c *gin.Context) {
	var req dto.StartSessionRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.Start(c.Request.Context(), req, actorOf(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *ShipmentsHandler) Get(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.Get(c.Request.Context(), id, actorOf(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Scan godoc
// @Summary Adds a master or unit code to the session
// @Tags shipments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param body body dto.ScanRequest true "Scanned code"
// @Success 200 {object} dto.SessionResponse
// @Failure 409 {object} apierror.APIError
// @Failure 422 {object} apierror.APIError
// @Router /v1/shipments/sessions/{id}/scan [post]
func (h *ShipmentsHandler) Scan(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.ScanRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.Scan(c.Request.Context(), id, req.Code, actorOf(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ShipmentsHandler) Unlink(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.ScanRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.UnlinkCode(c.Request.Context(), id, req.Code, actorOf(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ShipmentsHandler) UnlinkMaster(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.UnlinkMasterRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.UnlinkMaster(c.Request.Context(), id, req.MasterCode, actorOf(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Approve godoc
// @Summary Hands the scanned codes to the distributor
// @Description A session with discrepancies needs force=true.
// @Tags shipments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param body body dto.ApproveRequest false "Force and notes"
// @Success 200 {object} dto.SessionResponse
// @Failure 409 {object} apierror.APIError
// @Router /v1/shipments/sessions/{id}/approve [post]
func (h *ShipmentsHandler) Approve(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.ApproveRequest
	if c.Request.ContentLength != 0 && !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.Approve(c.Request.Context(), id, req, actorOf(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ShipmentsHandler) Void(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.Void(c.Request.Context(), id, actorOf(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Report godoc
// @Summary Downloads the reconciliation report
// @Tags shipments
// @Produce application/pdf
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 200 {file} file
// @Router /v1/shipments/sessions/{id}/report.pdf [get]
func (h *ShipmentsHandler) Report(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	path, err := h.svc.ReportPDF(c.Request.Context(), id, actorOf(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.FileAttachment(path, fmt.Sprintf("shipment-%s.pdf", id))
}

func (h *ShipmentsHandler) History(c *gin.Context) {
	warehouseID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var filter dto.SessionFilter
	if !bindQuery(c, &filter) {
		return
	}
	resp, err := h.svc.History(c.Request.Context(), warehouseID, filter, actorOf(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// BulkUnlink godoc
// @Summary Reverts packed codes of a product, with or without a session
// @Tags shipments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Warehouse organization ID"
// @Param body body dto.BulkUnlinkRequest true "Product selector"
// @Success 200 {object} dto.UnlinkResponse
// @Router /v1/warehouses/{id}/unlink-by-product [post]
func (h *ShipmentsHandler) BulkUnlink(c *gin.Context) {
	warehouseID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.BulkUnlinkRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.BulkUnlinkByProduct(c.Request.Context(), warehouseID, req, actorOf(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
