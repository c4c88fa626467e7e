package handler

import (
	"net/http"

	"qrtrace/internal/service"

	"github.com/gin-gonic/gin"
)

type CasesHandler struct{ svc service.CaseService }

func NewCasesHandler(svc service.CaseService) *CasesHandler { return &CasesHandler{svc: svc} }

// Describe godoc
// @Summary Shows a case with its sequence window and unit status counts
// @Tags cases
// @Produce json
// @Security BearerAuth
// @Param id path string true "Master code ID"
// @Success 200 {object} dto.CaseResponse
// @Failure 404 {object} apierror.APIError
// @Router /v1/cases/{id} [get]
func (h *CasesHandler) Describe(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.Describe(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// MarkPerfect godoc
// @Summary Links every unit of an untouched case to its master code
// @Tags cases
// @Produce json
// @Security BearerAuth
// @Param id path string true "Master code ID"
// @Success 200 {object} dto.MarkPerfectResponse
// @Failure 409 {object} apierror.APIError
// @Router /v1/cases/{id}/mark-perfect [post]
func (h *CasesHandler) MarkPerfect(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.MarkPerfect(c.Request.Context(), id, actorID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
