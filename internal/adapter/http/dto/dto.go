package dto

import (
	"encoding/json"
	"sort"
	"time"

	"settlement-pipeline/internal/core/domain"
	"settlement-pipeline/internal/core/ports"
)

// LoginRequest is the request body for operator login.
type LoginRequest struct {
	Username string `json:"username" binding:"required,max=64"`
	Password string `json:"password" binding:"required,max=128"`
}

// LoginResponse is the response body for successful login.
type LoginResponse struct {
	Token  string `json:"token"`
	Expiry int64  `json:"expiry"` // Unix timestamp
}

// EnqueueSettlementRequest is the request body for a new settlement.
type EnqueueSettlementRequest struct {
	PaymentAttemptID   *string         `json:"payment_attempt_id,omitempty" binding:"omitempty,uuid"`
	SellerID           *string         `json:"seller_id,omitempty" binding:"omitempty,uuid"`
	FacilitatorRequest json.RawMessage `json:"facilitator_request" binding:"required"`
}

// SettlementResponse is the operator view of a settlement.
type SettlementResponse struct {
	ID                  string          `json:"id"`
	PaymentAttemptID    *string         `json:"payment_attempt_id,omitempty"`
	SellerID            *string         `json:"seller_id,omitempty"`
	Status              string          `json:"status"`
	Attempts            int             `json:"attempts"`
	LastError           *string         `json:"last_error,omitempty"`
	NextRetryAt         *string         `json:"next_retry_at,omitempty"`
	LockedBy            *string         `json:"locked_by,omitempty"`
	TxHash              *string         `json:"tx_hash,omitempty"`
	FacilitatorRequest  json.RawMessage `json:"facilitator_request"`
	FacilitatorResponse json.RawMessage `json:"facilitator_response,omitempty"`
	CreatedAt           string          `json:"created_at"`
	UpdatedAt           string          `json:"updated_at"`
}

// NewSettlementResponse maps a settlement to its response body.
func NewSettlementResponse(s *domain.Settlement) SettlementResponse {
	resp := SettlementResponse{
		ID:                  s.ID.String(),
		Status:              string(s.Status),
		Attempts:            s.Attempts,
		LastError:           s.LastError,
		LockedBy:            s.LockedBy,
		TxHash:              s.TxHash,
		FacilitatorRequest:  s.FacilitatorRequest,
		FacilitatorResponse: s.FacilitatorResponse,
		CreatedAt:           s.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:           s.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if s.PaymentAttemptID != nil {
		id := s.PaymentAttemptID.String()
		resp.PaymentAttemptID = &id
	}
	if s.SellerID != nil {
		id := s.SellerID.String()
		resp.SellerID = &id
	}
	resp.NextRetryAt = formatTime(s.NextRetryAt)
	return resp
}

// SettlementStatsResponse holds queue counts per status.
type SettlementStatsResponse struct {
	Counts map[string]int64 `json:"counts"`
	Total  int64            `json:"total"`
}

// NewSettlementStatsResponse sums per-status counts.
func NewSettlementStatsResponse(counts map[domain.SettlementStatus]int64) SettlementStatsResponse {
	resp := SettlementStatsResponse{Counts: make(map[string]int64, len(counts))}
	for status, n := range counts {
		resp.Counts[string(status)] = n
		resp.Total += n
	}
	return resp
}

// CreateSubscriptionRequest is the request body for a webhook subscription.
type CreateSubscriptionRequest struct {
	SellerID string   `json:"seller_id" binding:"required,uuid"`
	URL      string   `json:"url" binding:"required,max=2048,https_url"`
	Events   []string `json:"events,omitempty" binding:"omitempty,max=16,dive,safe_id"`
}

// UpdateSubscriptionRequest toggles a subscription.
type UpdateSubscriptionRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SubscriptionResponse is a webhook subscription. Secret is only set in
// the create response.
type SubscriptionResponse struct {
	ID              string   `json:"id"`
	SellerID        string   `json:"seller_id"`
	URL             string   `json:"url"`
	Events          []string `json:"events"`
	Active          bool     `json:"active"`
	Secret          string   `json:"secret,omitempty"`
	LastDeliveredAt *string  `json:"last_delivered_at,omitempty"`
	CreatedAt       string   `json:"created_at"`
}

// NewSubscriptionResponse maps a subscription to its response body.
func NewSubscriptionResponse(sub *domain.WebhookSubscription) SubscriptionResponse {
	return SubscriptionResponse{
		ID:              sub.ID.String(),
		SellerID:        sub.SellerID.String(),
		URL:             sub.URL,
		Events:          sub.Events,
		Active:          sub.Active,
		LastDeliveredAt: formatTime(sub.LastDeliveredAt),
		CreatedAt:       sub.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// RaiseEventRequest is the request body for a business event.
type RaiseEventRequest struct {
	EventType    string          `json:"event_type" binding:"required,max=64,safe_id"`
	SellerID     string          `json:"seller_id" binding:"required,uuid"`
	ResourceType string          `json:"resource_type" binding:"required,max=64,safe_id"`
	ResourceID   string          `json:"resource_id" binding:"required,max=128,safe_id"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// RaiseEventResponse reports the stored event and its fan-out.
type RaiseEventResponse struct {
	EventID   string             `json:"event_id"`
	EventType string             `json:"event_type"`
	Fanout    ports.FanoutResult `json:"fanout"`
}

// EventTypesResponse lists the event types a subscription may filter on.
type EventTypesResponse struct {
	EventTypes []string `json:"event_types"`
}

// NewEventTypesResponse returns the known event types in sorted order.
func NewEventTypesResponse() EventTypesResponse {
	types := make([]string, 0, len(domain.KnownEventTypes))
	for t := range domain.KnownEventTypes {
		types = append(types, t)
	}
	sort.Strings(types)
	return EventTypesResponse{EventTypes: types}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// VerifyResponse reports a facilitator verify answer.
type VerifyResponse struct {
	Valid       bool            `json:"valid"`
	Reason      string          `json:"reason,omitempty"`
	Payer       string          `json:"payer,omitempty"`
	Transaction string          `json:"transaction,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// NewVerifyResponse maps a verify result to its response body.
func NewVerifyResponse(res domain.VerifyResult) VerifyResponse {
	switch v := res.(type) {
	case domain.Valid:
		return VerifyResponse{Valid: true, Payer: v.Payer, Transaction: v.TxHash, Raw: v.Raw}
	case domain.Invalid:
		return VerifyResponse{Reason: v.Reason, Payer: v.Payer, Raw: v.Raw}
	}
	return VerifyResponse{}
}

// SupportedResponse lists what the facilitator for a network can settle.
type SupportedResponse struct {
	Network string                 `json:"network,omitempty"`
	Kinds   []domain.SupportedKind `json:"kinds"`
}
