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

// WebhookHandler manages subscriptions and raises business events.
type WebhookHandler struct {
	subscriptionSvc ports.SubscriptionService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(subscriptionSvc ports.SubscriptionService) *WebhookHandler {
	return &WebhookHandler{subscriptionSvc: subscriptionSvc}
}

// CreateSubscription handles POST /api/v1/webhooks/subscriptions.
// The signing secret is only returned here.
func (h *WebhookHandler) CreateSubscription(c *gin.Context) {
	var req dto.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	created, err := h.subscriptionSvc.Create(c.Request.Context(), ports.CreateSubscriptionRequest{
		SellerID: uuid.MustParse(req.SellerID),
		URL:      req.URL,
		Events:   req.Events,
		Actor:    middleware.Operator(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := dto.NewSubscriptionResponse(created.Subscription)
	resp.Secret = created.Secret
	response.Created(c, resp)
}

// ListSubscriptions handles GET /api/v1/webhooks/subscriptions?seller_id=.
func (h *WebhookHandler) ListSubscriptions(c *gin.Context) {
	sellerID, err := uuid.Parse(c.Query("seller_id"))
	if err != nil {
		response.Error(c, apperror.Validation("seller_id must be a UUID"))
		return
	}

	subs, err := h.subscriptionSvc.List(c.Request.Context(), sellerID)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.SubscriptionResponse, 0, len(subs))
	for i := range subs {
		items = append(items, dto.NewSubscriptionResponse(&subs[i]))
	}
	response.OK(c, items)
}

// UpdateSubscription handles PATCH /api/v1/webhooks/subscriptions/:id.
func (h *WebhookHandler) UpdateSubscription(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req dto.UpdateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	sub, err := h.subscriptionSvc.SetActive(c.Request.Context(), id, *req.Active, middleware.Operator(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewSubscriptionResponse(sub))
}

// RaiseEvent handles POST /api/v1/webhooks/events.
func (h *WebhookHandler) RaiseEvent(c *gin.Context) {
	var req dto.RaiseEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	raised, err := h.subscriptionSvc.RaiseEvent(c.Request.Context(), ports.RaiseEventRequest{
		EventType:    req.EventType,
		SellerID:     uuid.MustParse(req.SellerID),
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Payload:      req.Payload,
		Actor:        middleware.Operator(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Accepted(c, dto.RaiseEventResponse{
		EventID:   raised.Event.ID.String(),
		EventType: raised.Event.EventType,
		Fanout:    raised.Fanout,
	})
}

// EventTypes handles GET /api/v1/webhooks/event-types.
func (h *WebhookHandler) EventTypes(c *gin.Context) {
	response.OK(c, dto.NewEventTypesResponse())
}
