package handler

import (
	"net/http"

	"qrtrace/internal/service"

	"github.com/gin-gonic/gin"
)

type IntakeHandler struct{ svc service.IntakeService }

func NewIntakeHandler(svc service.IntakeService) *IntakeHandler { return &IntakeHandler{svc: svc} }

// Queue godoc
// @Summary Queues a ready-to-ship batch for warehouse intake
// @Tags intake
// @Produce json
// @Security BearerAuth
// @Param id path string true "Batch ID"
// @Success 202 {object} dto.IntakeResult
// @Failure 409 {object} apierror.APIError
// @Router /v1/batches/{id}/intake [post]
func (h *IntakeHandler) Queue(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.QueueBatch(c.Request.Context(), id, actorID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

// Audit compares the expected ledger postings for a batch with what was recorded.
func (h *IntakeHandler) Audit(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.Audit(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
