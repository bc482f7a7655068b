package handler

import (
	"settlement-pipeline/internal/adapter/http/dto"
	"settlement-pipeline/internal/core/domain"
	"settlement-pipeline/internal/core/ports"
	"settlement-pipeline/pkg/apperror"
	"settlement-pipeline/pkg/response"

	"github.com/gin-gonic/gin"
)

// FacilitatorHandler lets operators probe the configured facilitators.
type FacilitatorHandler struct {
	client ports.FacilitatorClient
}

// NewFacilitatorHandler creates a new FacilitatorHandler.
func NewFacilitatorHandler(client ports.FacilitatorClient) *FacilitatorHandler {
	return &FacilitatorHandler{client: client}
}

// Supported handles GET /api/v1/facilitator/supported?network=.
func (h *FacilitatorHandler) Supported(c *gin.Context) {
	network := c.Query("network")

	kinds, err := h.client.Supported(c.Request.Context(), network)
	if err != nil {
		response.Error(c, apperror.ErrFacilitatorUnavailable(err))
		return
	}
	if kinds == nil {
		kinds = []domain.SupportedKind{}
	}

	response.OK(c, dto.SupportedResponse{Network: network, Kinds: kinds})
}

// Verify handles POST /api/v1/facilitator/verify. The body is a raw
// facilitator request; nothing is enqueued.
func (h *FacilitatorHandler) Verify(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	req, err := domain.DecodeFacilitatorRequest(raw)
	if err != nil {
		response.Error(c, apperror.ErrMalformedSettlementRequest(err))
		return
	}

	res, err := h.client.Verify(c.Request.Context(), req)
	if err != nil {
		response.Error(c, apperror.ErrFacilitatorUnavailable(err))
		return
	}

	response.OK(c, dto.NewVerifyResponse(res))
}
