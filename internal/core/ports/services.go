package ports

//go:generate mockgen -source=services.go -destination=mocks/mock_services.go -package=mocks

import (
	"context"
	"encoding/json"
	"time"

	"settlement-pipeline/internal/core/domain"

	"github.com/google/uuid"
)

// EncryptionService handles AES-256-GCM encryption/decryption.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SignatureService signs and verifies webhook bodies with HMAC-SHA256.
type SignatureService interface {
	Sign(secret string, payload []byte) string
	Verify(secret string, payload []byte, signature string) bool
}

// HashService handles password hashing (Argon2id).
type HashService interface {
	Hash(password string) (string, error)
	Verify(password string, hash string) (bool, error)
}

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(subject string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	Subject string
}

// AuditService records audit entries. Failures are logged, never returned.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}

// FacilitatorClient talks to the payment verification/settlement service.
type FacilitatorClient interface {
	Verify(ctx context.Context, req domain.FacilitatorRequest) (domain.VerifyResult, error)
	Settle(ctx context.Context, req domain.FacilitatorRequest, idempotencyKey string) (domain.SettleResult, error)
	Supported(ctx context.Context, network string) ([]domain.SupportedKind, error)
}

// SettleResultCache remembers successful settle results per settlement so a
// crash between settle and the local write does not settle twice.
type SettleResultCache interface {
	Get(ctx context.Context, settlementID uuid.UUID) (*domain.Settled, error) // nil on miss
	Put(ctx context.Context, settlementID uuid.UUID, result domain.Settled) error
}

// --- Service Ports (Business Logic) ---

// CycleStats summarises one settlement worker pass.
type CycleStats struct {
	Reclaimed int64 `json:"reclaimed"`
	Claimed   int   `json:"claimed"`
	Confirmed int   `json:"confirmed"`
	Failed    int   `json:"failed"`
	Retried   int   `json:"retried"`
	Skipped   int   `json:"skipped"`
	Released  int   `json:"released"` // config errors, no attempt spent
}

// FanoutResult counts deliveries created for one event.
type FanoutResult struct {
	Created int `json:"created"`
	Failed  int `json:"failed"`
}

// DeliveryStats summarises one pending-delivery drain.
type DeliveryStats struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// EventTrigger turns a business event into pending deliveries.
type EventTrigger interface {
	TriggerEvent(ctx context.Context, event *domain.WebhookEvent) (FanoutResult, error)
}

// WebhookDispatcher fans out events and drains pending deliveries.
type WebhookDispatcher interface {
	EventTrigger
	ProcessDelivery(ctx context.Context, d *domain.WebhookDelivery, sub *domain.WebhookSubscription, event *domain.WebhookEvent) error
	ProcessPendingDeliveries(ctx context.Context, batchSize int) (DeliveryStats, error)
}

// SettlementService is the operator-facing view of the settlement queue.
type SettlementService interface {
	Enqueue(ctx context.Context, req EnqueueSettlementRequest) (*domain.Settlement, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Settlement, error)
	Retry(ctx context.Context, id uuid.UUID, actor string) (*domain.Settlement, error)
	Stats(ctx context.Context) (map[domain.SettlementStatus]int64, error)
}

// EnqueueSettlementRequest holds validated input for a new settlement.
type EnqueueSettlementRequest struct {
	PaymentAttemptID   *uuid.UUID
	SellerID           *uuid.UUID
	FacilitatorRequest json.RawMessage
	Actor              string
}

// SubscriptionService manages webhook subscriptions and raises events.
type SubscriptionService interface {
	Create(ctx context.Context, req CreateSubscriptionRequest) (*CreatedSubscription, error)
	List(ctx context.Context, sellerID uuid.UUID) ([]domain.WebhookSubscription, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool, actor string) (*domain.WebhookSubscription, error)
	RaiseEvent(ctx context.Context, req RaiseEventRequest) (*RaisedEvent, error)
}

// CreateSubscriptionRequest holds validated input for a new subscription.
type CreateSubscriptionRequest struct {
	SellerID uuid.UUID
	URL      string
	Events   []string
	Actor    string
}

// CreatedSubscription carries the plaintext secret. It is shown only once.
type CreatedSubscription struct {
	Subscription *domain.WebhookSubscription
	Secret       string
}

// RaiseEventRequest holds validated input for a business event.
type RaiseEventRequest struct {
	EventType    string
	SellerID     uuid.UUID
	ResourceType string
	ResourceID   string
	Payload      json.RawMessage
	Actor        string
}

// RaisedEvent is the persisted event and its fan-out counts.
type RaisedEvent struct {
	Event  *domain.WebhookEvent
	Fanout FanoutResult
}

// AuthService authenticates the admin operator.
type AuthService interface {
	Login(ctx context.Context, username, password string) (string, time.Time, error)
}
