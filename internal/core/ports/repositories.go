package ports

//go:generate mockgen -source=repositories.go -destination=mocks/mock_repositories.go -package=mocks

import (
	"context"
	"time"

	"settlement-pipeline/internal/core/domain"

	"github.com/google/uuid"
)

// SettlementRepository is the durable settlement queue. Every mutation is a
// single-row conditional update; a false result means the condition did not
// hold (another worker got there first).
type SettlementRepository interface {
	Create(ctx context.Context, s *domain.Settlement) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Settlement, error)
	// ReclaimStale moves in_progress rows locked before lockedBefore to retry.
	ReclaimStale(ctx context.Context, lockedBefore time.Time) (int64, error)
	// ListDue returns queued/retry rows due at now, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Settlement, error)
	// Claim moves a row from observed to in_progress under workerID.
	Claim(ctx context.Context, id uuid.UUID, observed domain.SettlementStatus, workerID string, now time.Time) (bool, error)
	// Finish records an outcome, only while workerID still holds the lock.
	Finish(ctx context.Context, id uuid.UUID, workerID string, upd domain.SettlementUpdate) (bool, error)
	// ResetFailed moves a failed row back to queued with attempts=0.
	ResetFailed(ctx context.Context, id uuid.UUID) (bool, error)
	CountByStatus(ctx context.Context) (map[domain.SettlementStatus]int64, error)
}

// WebhookRepository persists subscriptions, events and deliveries.
type WebhookRepository interface {
	CreateSubscription(ctx context.Context, sub *domain.WebhookSubscription) error
	GetSubscription(ctx context.Context, id uuid.UUID) (*domain.WebhookSubscription, error)
	ListSubscriptionsBySeller(ctx context.Context, sellerID uuid.UUID) ([]domain.WebhookSubscription, error)
	ListActiveSubscriptions(ctx context.Context, sellerID uuid.UUID) ([]domain.WebhookSubscription, error)
	SetSubscriptionActive(ctx context.Context, id uuid.UUID, active bool) (bool, error)
	TouchSubscription(ctx context.Context, id uuid.UUID, deliveredAt time.Time) error

	CreateEvent(ctx context.Context, event *domain.WebhookEvent) error
	GetEvent(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error)

	CreateDelivery(ctx context.Context, d *domain.WebhookDelivery) error
	ListDueDeliveries(ctx context.Context, now time.Time, limit int) ([]domain.WebhookDelivery, error)
	// LeaseDelivery pushes next_retry_at to leaseUntil if the row still has
	// the observed status and attempt count and is due at now.
	LeaseDelivery(ctx context.Context, id uuid.UUID, observed domain.WebhookDeliveryStatus, observedAttempts int, now, leaseUntil time.Time) (bool, error)
	UpdateDelivery(ctx context.Context, d *domain.WebhookDelivery) error
}

// AuditRepository persists audit entries.
type AuditRepository interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
}
