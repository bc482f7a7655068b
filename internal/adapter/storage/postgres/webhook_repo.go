package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"settlement-pipeline/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	subscriptionColumns = `id, seller_id, url, events, active, secret_enc, last_delivered_at, created_at`
	eventColumns        = `id, event_type, seller_id, resource_type, resource_id, payload, created_at`
	deliveryColumns     = `id, webhook_subscription_id, webhook_event_id, status, attempt_count, max_attempts,
	response_status_code, response_body, error_message, next_retry_at, delivered_at, created_at`
)

// WebhookRepo implements ports.WebhookRepository.
type WebhookRepo struct {
	pool Pool
}

// NewWebhookRepo creates a new WebhookRepo.
func NewWebhookRepo(pool Pool) *WebhookRepo {
	return &WebhookRepo{pool: pool}
}

// CreateSubscription inserts a subscription. A nil Events is stored as NULL
// (every event).
func (r *WebhookRepo) CreateSubscription(ctx context.Context, sub *domain.WebhookSubscription) error {
	query := `INSERT INTO webhook_subscriptions (id, seller_id, url, events, active, secret_enc, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		sub.ID, sub.SellerID, sub.URL, sub.Events, sub.Active, sub.SecretEnc, sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook subscription: %w", err)
	}
	return nil
}

// GetSubscription returns nil, nil when absent.
func (r *WebhookRepo) GetSubscription(ctx context.Context, id uuid.UUID) (*domain.WebhookSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions WHERE id = $1`

	sub, err := scanSubscription(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get webhook subscription: %w", err)
	}
	return sub, nil
}

func (r *WebhookRepo) ListSubscriptionsBySeller(ctx context.Context, sellerID uuid.UUID) ([]domain.WebhookSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions
		WHERE seller_id = $1 ORDER BY created_at ASC`
	return r.listSubscriptions(ctx, query, sellerID)
}

func (r *WebhookRepo) ListActiveSubscriptions(ctx context.Context, sellerID uuid.UUID) ([]domain.WebhookSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions
		WHERE seller_id = $1 AND active ORDER BY created_at ASC`
	return r.listSubscriptions(ctx, query, sellerID)
}

func (r *WebhookRepo) listSubscriptions(ctx context.Context, query string, sellerID uuid.UUID) ([]domain.WebhookSubscription, error) {
	rows, err := r.pool.Query(ctx, query, sellerID)
	if err != nil {
		return nil, fmt.Errorf("list webhook subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []domain.WebhookSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// SetSubscriptionActive returns false when the subscription does not exist.
func (r *WebhookRepo) SetSubscriptionActive(ctx context.Context, id uuid.UUID, active bool) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE webhook_subscriptions SET active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return false, fmt.Errorf("update webhook subscription: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *WebhookRepo) TouchSubscription(ctx context.Context, id uuid.UUID, deliveredAt time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE webhook_subscriptions SET last_delivered_at = $1 WHERE id = $2`, deliveredAt, id)
	if err != nil {
		return fmt.Errorf("touch webhook subscription: %w", err)
	}
	return nil
}

func (r *WebhookRepo) CreateEvent(ctx context.Context, event *domain.WebhookEvent) error {
	query := `INSERT INTO webhook_events (id, event_type, seller_id, resource_type, resource_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	payload := []byte(event.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := r.pool.Exec(ctx, query,
		event.ID, event.EventType, event.SellerID, event.ResourceType, event.ResourceID,
		payload, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

// GetEvent returns nil, nil when absent.
func (r *WebhookRepo) GetEvent(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM webhook_events WHERE id = $1`

	e := &domain.WebhookEvent{}
	var payload []byte
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&e.ID, &e.EventType, &e.SellerID, &e.ResourceType, &e.ResourceID, &payload, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get webhook event: %w", err)
	}
	e.Payload = json.RawMessage(payload)
	return e, nil
}

func (r *WebhookRepo) CreateDelivery(ctx context.Context, d *domain.WebhookDelivery) error {
	query := `INSERT INTO webhook_deliveries (id, webhook_subscription_id, webhook_event_id, status, attempt_count, max_attempts, next_retry_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		d.ID, d.WebhookSubscriptionID, d.WebhookEventID, string(d.Status),
		d.AttemptCount, d.MaxAttempts, d.NextRetryAt, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook delivery: %w", err)
	}
	return nil
}

// ListDueDeliveries returns pending and retry deliveries due at now.
func (r *WebhookRepo) ListDueDeliveries(ctx context.Context, now time.Time, limit int) ([]domain.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries
		WHERE status IN ('pending', 'retry') AND (next_retry_at IS NULL OR next_retry_at <= $1)
		ORDER BY created_at ASC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due webhook deliveries: %w", err)
	}
	defer rows.Close()

	var out []domain.WebhookDelivery
	for rows.Next() {
		var (
			d      domain.WebhookDelivery
			status string
		)
		if err := rows.Scan(
			&d.ID, &d.WebhookSubscriptionID, &d.WebhookEventID, &status, &d.AttemptCount, &d.MaxAttempts,
			&d.ResponseStatusCode, &d.ResponseBody, &d.ErrorMessage, &d.NextRetryAt, &d.DeliveredAt, &d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan webhook delivery: %w", err)
		}
		d.Status = domain.WebhookDeliveryStatus(status)
		out = append(out, d)
	}
	return out, rows.Err()
}

// LeaseDelivery hides a due delivery from other dispatchers until
// leaseUntil. It returns false when another dispatcher changed the row first.
func (r *WebhookRepo) LeaseDelivery(
	ctx context.Context,
	id uuid.UUID,
	observed domain.WebhookDeliveryStatus,
	observedAttempts int,
	now, leaseUntil time.Time,
) (bool, error) {
	query := `UPDATE webhook_deliveries SET next_retry_at = $1
		WHERE id = $2 AND status = $3 AND attempt_count = $4
			AND (next_retry_at IS NULL OR next_retry_at <= $5)`

	tag, err := r.pool.Exec(ctx, query, leaseUntil, id, string(observed), observedAttempts, now)
	if err != nil {
		return false, fmt.Errorf("lease webhook delivery: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *WebhookRepo) UpdateDelivery(ctx context.Context, d *domain.WebhookDelivery) error {
	query := `UPDATE webhook_deliveries
		SET status = $1, attempt_count = $2, response_status_code = $3, response_body = $4,
			error_message = $5, next_retry_at = $6, delivered_at = $7
		WHERE id = $8`

	_, err := r.pool.Exec(ctx, query,
		string(d.Status), d.AttemptCount, d.ResponseStatusCode, d.ResponseBody,
		d.ErrorMessage, d.NextRetryAt, d.DeliveredAt, d.ID,
	)
	if err != nil {
		return fmt.Errorf("update webhook delivery: %w", err)
	}
	return nil
}

func scanSubscription(row rowScanner) (*domain.WebhookSubscription, error) {
	sub := &domain.WebhookSubscription{}
	err := row.Scan(
		&sub.ID, &sub.SellerID, &sub.URL, &sub.Events, &sub.Active,
		&sub.SecretEnc, &sub.LastDeliveredAt, &sub.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
