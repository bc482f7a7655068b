package handler

import (
	"settlement-pipeline/internal/adapter/http/dto"
	"settlement-pipeline/internal/adapter/http/middleware"
	"settlement-pipeline/internal/core/ports"
	"settlement-pipeline/pkg/apperror"
	"settlement-pipeline/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SettlementHandler exposes the settlement queue to operators.
type SettlementHandler struct {
	settlementSvc ports.SettlementService
}

// NewSettlementHandler creates a new SettlementHandler.
func NewSettlementHandler(settlementSvc ports.SettlementService) *SettlementHandler {
	return &SettlementHandler{settlementSvc: settlementSvc}
}

// Enqueue handles POST /api/v1/settlements. The worker settles it later.
func (h *SettlementHandler) Enqueue(c *gin.Context) {
	var req dto.EnqueueSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	in := ports.EnqueueSettlementRequest{
		FacilitatorRequest: req.FacilitatorRequest,
		Actor:              middleware.Operator(c),
	}
	if req.PaymentAttemptID != nil {
		id := uuid.MustParse(*req.PaymentAttemptID)
		in.PaymentAttemptID = &id
	}
	if req.SellerID != nil {
		id := uuid.MustParse(*req.SellerID)
		in.SellerID = &id
	}

	s, err := h.settlementSvc.Enqueue(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Accepted(c, dto.NewSettlementResponse(s))
}

// Get handles GET /api/v1/settlements/:id.
func (h *SettlementHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	s, err := h.settlementSvc.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewSettlementResponse(s))
}

// Retry handles POST /api/v1/settlements/:id/retry.
func (h *SettlementHandler) Retry(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	s, err := h.settlementSvc.Retry(c.Request.Context(), id, middleware.Operator(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewSettlementResponse(s))
}

// Stats handles GET /api/v1/settlements/stats.
func (h *SettlementHandler) Stats(c *gin.Context) {
	counts, err := h.settlementSvc.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewSettlementStatsResponse(counts))
}

// parseIDParam reads the :id path parameter, writing a 400 when invalid.
func parseIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid id"))
		return uuid.Nil, false
	}
	return id, true
}
