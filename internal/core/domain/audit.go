package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionSettlementEnqueued  AuditAction = "SETTLEMENT_ENQUEUED"
	AuditActionSettlementConfirmed AuditAction = "SETTLEMENT_CONFIRMED"
	AuditActionSettlementFailed    AuditAction = "SETTLEMENT_FAILED"
	AuditActionSettlementReset     AuditAction = "SETTLEMENT_RESET"
	AuditActionSubscriptionCreated AuditAction = "WEBHOOK_SUBSCRIPTION_CREATED"
	AuditActionSubscriptionUpdated AuditAction = "WEBHOOK_SUBSCRIPTION_UPDATED"
	AuditActionEventRaised         AuditAction = "WEBHOOK_EVENT_RAISED"
	AuditActionLogin               AuditAction = "LOGIN"
	AuditActionAccessDenied        AuditAction = "ACCESS_DENIED"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	Actor        string      `json:"actor"`             // operator username or worker id
	IPAddress    string      `json:"ip_address,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

type clientIPKey struct{}

// ContextWithClientIP attaches the caller's IP so audit entries written
// further down the call chain can record it.
func ContextWithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIPFromContext returns the IP set by ContextWithClientIP, or "".
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}
