package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types raised by the pipeline and by upstream application code.
const (
	EventPaymentSucceeded    = "payment.succeeded"
	EventPaymentFailed       = "payment.failed"
	EventSettlementConfirmed = "settlement.confirmed"
	EventSettlementFailed    = "settlement.failed"
)

// KnownEventTypes is the set a subscription may filter on.
var KnownEventTypes = map[string]bool{
	EventPaymentSucceeded:    true,
	EventPaymentFailed:       true,
	EventSettlementConfirmed: true,
	EventSettlementFailed:    true,
}

// DefaultWebhookMaxAttempts applies when a delivery carries no max_attempts.
const DefaultWebhookMaxAttempts = 5

// maxWebhookRetryExponent caps WebhookRetryDelay at 2^20 minutes so large
// max_attempts settings cannot overflow time.Duration.
const maxWebhookRetryExponent = 20

// WebhookSubscription is a seller's endpoint registration.
type WebhookSubscription struct {
	ID              uuid.UUID  `json:"id"`
	SellerID        uuid.UUID  `json:"seller_id"`
	URL             string     `json:"url"`
	Events          []string   `json:"events"` // nil means every event
	Active          bool       `json:"active"`
	SecretEnc       string     `json:"-"` // AES-256-GCM encrypted signing secret
	LastDeliveredAt *time.Time `json:"last_delivered_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Matches reports whether an active subscription wants eventType.
func (s *WebhookSubscription) Matches(eventType string) bool {
	if !s.Active {
		return false
	}
	if s.Events == nil {
		return true
	}
	for _, e := range s.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// WebhookEvent is an immutable business event.
type WebhookEvent struct {
	ID           uuid.UUID       `json:"id"`
	EventType    string          `json:"event_type"`
	SellerID     uuid.UUID       `json:"seller_id"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
}

// WebhookDeliveryStatus is the state of one event-to-subscription delivery.
type WebhookDeliveryStatus string

const (
	WebhookDeliveryPending WebhookDeliveryStatus = "pending"
	WebhookDeliverySuccess WebhookDeliveryStatus = "success"
	WebhookDeliveryRetry   WebhookDeliveryStatus = "retry"
	WebhookDeliveryFailed  WebhookDeliveryStatus = "failed"
)

// WebhookDelivery tracks delivery of one event to one subscription.
type WebhookDelivery struct {
	ID                    uuid.UUID             `json:"id"`
	WebhookSubscriptionID uuid.UUID             `json:"webhook_subscription_id"`
	WebhookEventID        uuid.UUID             `json:"webhook_event_id"`
	Status                WebhookDeliveryStatus `json:"status"`
	AttemptCount          int                   `json:"attempt_count"`
	MaxAttempts           int                   `json:"max_attempts"`
	ResponseStatusCode    *int                  `json:"response_status_code,omitempty"`
	ResponseBody          *string               `json:"response_body,omitempty"`
	ErrorMessage          *string               `json:"error_message,omitempty"`
	NextRetryAt           *time.Time            `json:"next_retry_at,omitempty"`
	DeliveredAt           *time.Time            `json:"delivered_at,omitempty"`
	CreatedAt             time.Time             `json:"created_at"`
}

// IsTerminal returns true for success and failed.
func (d *WebhookDelivery) IsTerminal() bool {
	return d.Status == WebhookDeliverySuccess || d.Status == WebhookDeliveryFailed
}

// MarkDelivered records a 2xx attempt.
func (d *WebhookDelivery) MarkDelivered(now time.Time) {
	d.AttemptCount++
	d.Status = WebhookDeliverySuccess
	d.DeliveredAt = &now
	d.NextRetryAt = nil
	d.ErrorMessage = nil
}

// MarkAttemptFailed records a failed attempt and schedules the next one,
// or fails the delivery once max_attempts is reached.
func (d *WebhookDelivery) MarkAttemptFailed(now time.Time, cause string) {
	if d.MaxAttempts <= 0 {
		d.MaxAttempts = DefaultWebhookMaxAttempts
	}
	d.AttemptCount++
	if d.AttemptCount < d.MaxAttempts {
		next := now.Add(WebhookRetryDelay(d.AttemptCount))
		d.Status = WebhookDeliveryRetry
		d.NextRetryAt = &next
		d.ErrorMessage = &cause
		return
	}
	msg := fmt.Sprintf("Failed after %d attempts: %s", d.AttemptCount, cause)
	d.Status = WebhookDeliveryFailed
	d.NextRetryAt = nil
	d.ErrorMessage = &msg
}

// MarkAbandoned fails the delivery without an attempt, e.g. when its
// subscription or event is gone.
func (d *WebhookDelivery) MarkAbandoned(reason string) {
	d.Status = WebhookDeliveryFailed
	d.NextRetryAt = nil
	d.ErrorMessage = &reason
}

// WebhookRetryDelay returns 2^attemptCount minutes, with the exponent
// clamped to [0, maxWebhookRetryExponent].
func WebhookRetryDelay(attemptCount int) time.Duration {
	n := min(max(attemptCount, 0), maxWebhookRetryExponent)
	return time.Duration(1<<n) * time.Minute
}
