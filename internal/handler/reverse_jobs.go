package handler

import (
	"net/http"

	"qrtrace/internal/apierror"
	"qrtrace/internal/dto"
	"qrtrace/internal/service"

	"github.com/gin-gonic/gin"
)

type ReverseJobsHandler struct{ svc service.ReverseJobService }

func NewReverseJobsHandler(svc service.ReverseJobService) *ReverseJobsHandler {
	return &ReverseJobsHandler{svc: svc}
}

// Create godoc
// @Summary Queues a spoilage replacement job for one case
// @Tags reverse-jobs
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.CreateReverseJobRequest true "Spoiled codes"
// @Success 201 {object} dto.ReverseJobResponse
// @Failure 409 {object} apierror.APIError
// @Failure 422 {object} apierror.APIError
// @Router /v1/reverse-jobs [post]
func (h *ReverseJobsHandler) Create(c *gin.Context) {
	var req dto.CreateReverseJobRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.Create(c.Request.Context(), req, actorID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// List godoc
// @Summary Lists reverse jobs, newest first
// @Tags reverse-jobs
// @Produce json
// @Security BearerAuth
// @Param batch_id query string false "Batch filter"
// @Param status query string false "Status filter"
// @Success 200 {object} dto.ReverseJobListResponse
// @Router /v1/reverse-jobs [get]
func (h *ReverseJobsHandler) List(c *gin.Context) {
	var filter dto.ReverseJobFilter
	if !bindQuery(c, &filter) {
		return
	}
	resp, err := h.svc.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ReverseJobsHandler) Get(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ReverseJobsHandler) Cancel(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.Cancel(c.Request.Context(), id, actorID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Delete godoc
// @Summary Undoes a finished job and removes it
// @Tags reverse-jobs
// @Produce json
// @Security BearerAuth
// @Param id path string true "Job ID"
// @Success 200 {object} dto.DeleteJobResponse
// @Failure 409 {object} apierror.APIError
// @Router /v1/reverse-jobs/{id} [delete]
func (h *ReverseJobsHandler) Delete(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.Delete(c.Request.Context(), id, actorID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// BulkDelete godoc
// @Summary Deletes every finished job with the given status ("ALL" for any)
// @Tags reverse-jobs
// @Produce json
// @Security BearerAuth
// @Param status query string true "Status to delete"
// @Success 200 {object} dto.BulkDeleteResponse
// @Router /v1/reverse-jobs [delete]
func (h *ReverseJobsHandler) BulkDelete(c *gin.Context) {
	status := c.Query("status")
	if status == "" {
		c.JSON(http.StatusBadRequest, apierror.New("status query parameter is required"))
		return
	}
	resp, err := h.svc.BulkDelete(c.Request.Context(), status, actorID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ReverseJobsHandler) BatchProgress(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.BatchProgress(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
