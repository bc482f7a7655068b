package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"settlement-pipeline/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subscriptionRowColumns() []string {
	return []string{"id", "seller_id", "url", "events", "active", "secret_enc", "last_delivered_at", "created_at"}
}

func deliveryRowColumns() []string {
	return []string{"id", "webhook_subscription_id", "webhook_event_id", "status", "attempt_count", "max_attempts",
		"response_status_code", "response_body", "error_message", "next_retry_at", "delivered_at", "created_at"}
}

func newTestSubscription(events []string) *domain.WebhookSubscription {
	return &domain.WebhookSubscription{
		ID:        uuid.New(),
		SellerID:  uuid.New(),
		URL:       "https://seller.example.com/hooks",
		Events:    events,
		Active:    true,
		SecretEnc: "encrypted-secret",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestWebhookRepo_CreateSubscription(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWebhookRepo(mock)
	sub := newTestSubscription(nil)

	mock.ExpectExec("INSERT INTO webhook_subscriptions").
		WithArgs(sub.ID, sub.SellerID, sub.URL, []string(nil), true, sub.SecretEnc, sub.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	assert.NoError(t, repo.CreateSubscription(context.Background(), sub))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookRepo_GetSubscription(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWebhookRepo(mock)
	sub := newTestSubscription([]string{domain.EventSettlementConfirmed})

	mock.ExpectQuery("SELECT .+ FROM webhook_subscriptions WHERE id").
		WithArgs(sub.ID).
		WillReturnRows(pgxmock.NewRows(subscriptionRowColumns()).AddRow(
			sub.ID, sub.SellerID, sub.URL, sub.Events, sub.Active, sub.SecretEnc, sub.LastDeliveredAt, sub.CreatedAt,
		))

	got, err := repo.GetSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sub.URL, got.URL)
	assert.Equal(t, []string{domain.EventSettlementConfirmed}, got.Events)
	assert.True(t, got.Matches(domain.EventSettlementConfirmed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookRepo_GetSubscription_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWebhookRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM webhook_subscriptions WHERE id").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(subscriptionRowColumns()))

	got, err := repo.GetSubscription(context.Background(), uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestWebhookRepo_ListActiveSubscriptions(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWebhookRepo(mock)
	a := newTestSubscription(nil)
	b := newTestSubscription([]string{domain.EventPaymentFailed})
	b.SellerID = a.SellerID

	mock.ExpectQuery("SELECT .+ FROM webhook_subscriptions\\s+WHERE seller_id = \\$1 AND active").
		WithArgs(a.SellerID).
		WillReturnRows(pgxmock.NewRows(subscriptionRowColumns()).
			AddRow(a.ID, a.SellerID, a.URL, a.Events, a.Active, a.SecretEnc, a.LastDeliveredAt, a.CreatedAt).
			AddRow(b.ID, b.SellerID, b.URL, b.Events, b.Active, b.SecretEnc, b.LastDeliveredAt, b.CreatedAt))

	subs, err := repo.ListActiveSubscriptions(context.Background(), a.SellerID)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Nil(t, subs[0].Events)
	assert.Equal(t, []string{domain.EventPaymentFailed}, subs[1].Events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookRepo_SetSubscriptionActive(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWebhookRepo(mock)
	id := uuid.New()

	mock.ExpectExec("UPDATE webhook_subscriptions SET active").
		WithArgs(false, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := repo.SetSubscriptionActive(context.Background(), id, false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookRepo_CreateEvent_DefaultsPayload(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWebhookRepo(mock)
	e := &domain.WebhookEvent{
		ID:           uuid.New(),
		EventType:    domain.EventPaymentSucceeded,
		SellerID:     uuid.New(),
		ResourceType: "payment_attempt",
		ResourceID:   "pa_1",
		CreatedAt:    time.Now(),
	}

	mock.ExpectExec("INSERT INTO webhook_events").
		WithArgs(e.ID, e.EventType, e.SellerID, e.ResourceType, e.ResourceID, []byte("{}"), e.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	assert.NoError(t, repo.CreateEvent(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookRepo_GetEvent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWebhookRepo(mock)
	id := uuid.New()
	seller := uuid.New()
	created := time.Now().UTC()

	mock.ExpectQuery("SELECT .+ FROM webhook_events WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "event_type", "seller_id", "resource_type", "resource_id", "payload", "created_at"}).
			AddRow(id, domain.EventSettlementFailed, seller, "settlement", "s_1", []byte(`{"reason":"insufficient_funds"}`), created))

	e, err := repo.GetEvent(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, domain.EventSettlementFailed, e.EventType)
	assert.Equal(t, json.RawMessage(`{"reason":"insufficient_funds"}`), e.Payload)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookRepo_ListDueDeliveries(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWebhookRepo(mock)
	now := time.Now()
	id := uuid.New()
	code := 503
	msg := "HTTP 503"

	mock.ExpectQuery("SELECT .+ FROM webhook_deliveries\\s+WHERE status IN").
		WithArgs(now, 10).
		WillReturnRows(pgxmock.NewRows(deliveryRowColumns()).
			AddRow(id, uuid.New(), uuid.New(), "retry", 2, 5, &code, (*string)(nil), &msg, (*time.Time)(nil), (*time.Time)(nil), now))

	due, err := repo.ListDueDeliveries(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, domain.WebhookDeliveryRetry, due[0].Status)
	assert.Equal(t, 2, due[0].AttemptCount)
	assert.Equal(t, 503, *due[0].ResponseStatusCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookRepo_LeaseDelivery(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWebhookRepo(mock)
	id := uuid.New()
	now := time.Now()
	until := now.Add(time.Minute)

	mock.ExpectExec("UPDATE webhook_deliveries SET next_retry_at").
		WithArgs(until, id, "pending", 0, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE webhook_deliveries SET next_retry_at").
		WithArgs(until, id, "pending", 0, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	first, err := repo.LeaseDelivery(context.Background(), id, domain.WebhookDeliveryPending, 0, now, until)
	require.NoError(t, err)
	second, err := repo.LeaseDelivery(context.Background(), id, domain.WebhookDeliveryPending, 0, now, until)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookRepo_UpdateDelivery(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWebhookRepo(mock)
	d := &domain.WebhookDelivery{ID: uuid.New(), Status: domain.WebhookDeliveryPending, MaxAttempts: 5}
	d.MarkAttemptFailed(time.Now(), "HTTP 500")

	mock.ExpectExec("UPDATE webhook_deliveries\\s+SET status").
		WithArgs("retry", 1, d.ResponseStatusCode, d.ResponseBody, d.ErrorMessage, d.NextRetryAt, d.DeliveredAt, d.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	assert.NoError(t, repo.UpdateDelivery(context.Background(), d))
	assert.NoError(t, mock.ExpectationsWereMet())
}
