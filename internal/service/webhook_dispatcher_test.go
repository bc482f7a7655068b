package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"settlement-pipeline/internal/core/domain"
	"settlement-pipeline/internal/core/ports"
	"settlement-pipeline/internal/core/ports/mocks"
	"settlement-pipeline/pkg/webhooksig"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testWebhookSecret = "whsec_0123456789abcdef"

var dispatcherNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func setupDispatcher(t *testing.T, client HTTPClient) (*WebhookDispatcher, *mocks.MockWebhookRepository, *mocks.MockEncryptionService) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockWebhookRepository(ctrl)
	enc := mocks.NewMockEncryptionService(ctrl)

	d := NewWebhookDispatcher(repo, enc, NewHMACSignatureService(), client, WebhookDispatcherConfig{
		Timeout:      time.Second,
		PollInterval: 10 * time.Millisecond,
	}, newTestLogger())
	d.now = func() time.Time { return dispatcherNow }
	return d, repo, enc
}

func testWebhookFixtures(url string) (*domain.WebhookDelivery, *domain.WebhookSubscription, *domain.WebhookEvent) {
	sub := &domain.WebhookSubscription{
		ID:        uuid.New(),
		SellerID:  uuid.New(),
		URL:       url,
		Active:    true,
		SecretEnc: "enc-secret",
	}
	event := &domain.WebhookEvent{
		ID:           uuid.New(),
		EventType:    domain.EventSettlementConfirmed,
		SellerID:     sub.SellerID,
		ResourceType: "settlement",
		ResourceID:   uuid.NewString(),
		Payload:      json.RawMessage(`{"tx_hash":"tx-123"}`),
		CreatedAt:    dispatcherNow.Add(-time.Minute),
	}
	delivery := &domain.WebhookDelivery{
		ID:                    uuid.New(),
		WebhookSubscriptionID: sub.ID,
		WebhookEventID:        event.ID,
		Status:                domain.WebhookDeliveryPending,
		MaxAttempts:           domain.DefaultWebhookMaxAttempts,
	}
	return delivery, sub, event
}

func TestWebhookDispatcher_ProcessDelivery_Success(t *testing.T) {
	var delivery *domain.WebhookDelivery
	var sub *domain.WebhookSubscription
	var event *domain.WebhookEvent

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, domain.EventSettlementConfirmed, r.Header.Get(webhooksig.HeaderEvent))
		assert.Equal(t, event.CreatedAt.Format(time.RFC3339), r.Header.Get(webhooksig.HeaderTimestamp))
		assert.True(t, webhooksig.VerifyRequest(r.Header, body, testWebhookSecret))

		var payload WebhookPayload
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, event.EventType, payload.EventType)
		assert.Equal(t, event.SellerID, payload.SellerID)
		assert.Equal(t, "settlement", payload.ResourceType)
		assert.Equal(t, event.ResourceID, payload.ResourceID)
		assert.JSONEq(t, `{"tx_hash":"tx-123"}`, string(payload.Payload))
		assert.Equal(t, event.CreatedAt.Format(time.RFC3339), payload.Timestamp)

		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	d, repo, enc := setupDispatcher(t, srv.Client())
	delivery, sub, event = testWebhookFixtures(srv.URL)

	enc.EXPECT().Decrypt("enc-secret").Return(testWebhookSecret, nil)
	repo.EXPECT().UpdateDelivery(gomock.Any(), delivery).DoAndReturn(func(_ context.Context, got *domain.WebhookDelivery) error {
		assert.Equal(t, domain.WebhookDeliverySuccess, got.Status)
		assert.Equal(t, 1, got.AttemptCount)
		assert.Equal(t, http.StatusOK, *got.ResponseStatusCode)
		assert.Equal(t, "ok", *got.ResponseBody)
		assert.Equal(t, dispatcherNow, *got.DeliveredAt)
		assert.Nil(t, got.NextRetryAt)
		return nil
	})
	repo.EXPECT().TouchSubscription(gomock.Any(), sub.ID, dispatcherNow).Return(nil)

	require.NoError(t, d.ProcessDelivery(context.Background(), delivery, sub, event))
}

func TestWebhookDispatcher_ProcessDelivery_FinalAttemptFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance"))
	}))
	defer srv.Close()

	d, repo, enc := setupDispatcher(t, srv.Client())
	delivery, sub, event := testWebhookFixtures(srv.URL)
	delivery.Status = domain.WebhookDeliveryRetry
	delivery.AttemptCount = 4

	enc.EXPECT().Decrypt(gomock.Any()).Return(testWebhookSecret, nil)
	repo.EXPECT().UpdateDelivery(gomock.Any(), delivery).Return(nil)

	require.NoError(t, d.ProcessDelivery(context.Background(), delivery, sub, event))

	assert.Equal(t, domain.WebhookDeliveryFailed, delivery.Status)
	assert.Equal(t, 5, delivery.AttemptCount)
	assert.Equal(t, "Failed after 5 attempts: HTTP 503", *delivery.ErrorMessage)
	assert.Equal(t, http.StatusServiceUnavailable, *delivery.ResponseStatusCode)
	assert.Equal(t, "maintenance", *delivery.ResponseBody)
	assert.Nil(t, delivery.NextRetryAt)
	assert.Nil(t, delivery.DeliveredAt)
}

func TestWebhookDispatcher_ProcessDelivery_SchedulesRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tests := []struct {
		before int
		delay  time.Duration
	}{
		{0, 2 * time.Minute},
		{1, 4 * time.Minute},
		{2, 8 * time.Minute},
		{3, 16 * time.Minute},
	}

	for _, tt := range tests {
		d, repo, enc := setupDispatcher(t, srv.Client())
		delivery, sub, event := testWebhookFixtures(srv.URL)
		delivery.AttemptCount = tt.before

		enc.EXPECT().Decrypt(gomock.Any()).Return(testWebhookSecret, nil)
		repo.EXPECT().UpdateDelivery(gomock.Any(), delivery).Return(nil)

		require.NoError(t, d.ProcessDelivery(context.Background(), delivery, sub, event))
		assert.Equal(t, domain.WebhookDeliveryRetry, delivery.Status)
		assert.Equal(t, tt.before+1, delivery.AttemptCount)
		assert.Equal(t, dispatcherNow.Add(tt.delay), *delivery.NextRetryAt)
		assert.Equal(t, "HTTP 500", *delivery.ErrorMessage)
	}
}

func TestWebhookDispatcher_ProcessDelivery_TransportError(t *testing.T) {
	client := doerFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp: connection refused")
	})
	d, repo, enc := setupDispatcher(t, client)
	delivery, sub, event := testWebhookFixtures("https://shop.example.com/hooks")

	enc.EXPECT().Decrypt(gomock.Any()).Return(testWebhookSecret, nil)
	repo.EXPECT().UpdateDelivery(gomock.Any(), delivery).Return(nil)

	require.NoError(t, d.ProcessDelivery(context.Background(), delivery, sub, event))
	assert.Equal(t, domain.WebhookDeliveryRetry, delivery.Status)
	assert.Nil(t, delivery.ResponseStatusCode)
	assert.Contains(t, *delivery.ErrorMessage, "connection refused")
}

func TestWebhookDispatcher_ProcessDelivery_TruncatesResponseBody(t *testing.T) {
	client := doerFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusBadRequest,
			Body:       io.NopCloser(strings.NewReader(strings.Repeat("x", 5000))),
		}, nil
	})
	d, repo, enc := setupDispatcher(t, client)
	delivery, sub, event := testWebhookFixtures("https://shop.example.com/hooks")

	enc.EXPECT().Decrypt(gomock.Any()).Return(testWebhookSecret, nil)
	repo.EXPECT().UpdateDelivery(gomock.Any(), delivery).Return(nil)

	require.NoError(t, d.ProcessDelivery(context.Background(), delivery, sub, event))
	assert.Len(t, *delivery.ResponseBody, maxResponseBodyBytes)
}

func TestWebhookDispatcher_ProcessDelivery_DecryptErrorLeavesRow(t *testing.T) {
	client := doerFunc(func(*http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	})
	d, _, enc := setupDispatcher(t, client)
	delivery, sub, event := testWebhookFixtures("https://shop.example.com/hooks")

	enc.EXPECT().Decrypt(gomock.Any()).Return("", errors.New("cipher: message authentication failed"))

	err := d.ProcessDelivery(context.Background(), delivery, sub, event)
	require.Error(t, err)
	assert.Equal(t, domain.WebhookDeliveryPending, delivery.Status)
	assert.Zero(t, delivery.AttemptCount)
}

func TestWebhookDispatcher_TriggerEvent_FanOut(t *testing.T) {
	d, repo, _ := setupDispatcher(t, nil)
	sellerID := uuid.New()

	subAll := domain.WebhookSubscription{ID: uuid.New(), SellerID: sellerID, Active: true}
	subOther := domain.WebhookSubscription{ID: uuid.New(), SellerID: sellerID, Active: true, Events: []string{domain.EventPaymentFailed}}
	subMatch := domain.WebhookSubscription{ID: uuid.New(), SellerID: sellerID, Active: true, Events: []string{domain.EventSettlementConfirmed}}
	subBroken := domain.WebhookSubscription{ID: uuid.New(), SellerID: sellerID, Active: true}

	event := &domain.WebhookEvent{
		EventType:    domain.EventSettlementConfirmed,
		SellerID:     sellerID,
		ResourceType: "settlement",
		ResourceID:   "s-1",
	}

	repo.EXPECT().CreateEvent(gomock.Any(), event).Return(nil)
	repo.EXPECT().ListActiveSubscriptions(gomock.Any(), sellerID).
		Return([]domain.WebhookSubscription{subAll, subOther, subMatch, subBroken}, nil)

	var targets []uuid.UUID
	repo.EXPECT().CreateDelivery(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, del *domain.WebhookDelivery) error {
		targets = append(targets, del.WebhookSubscriptionID)
		assert.Equal(t, domain.WebhookDeliveryPending, del.Status)
		assert.Equal(t, domain.DefaultWebhookMaxAttempts, del.MaxAttempts)
		assert.Zero(t, del.AttemptCount)
		assert.Equal(t, event.ID, del.WebhookEventID)
		if del.WebhookSubscriptionID == subBroken.ID {
			return errors.New("insert failed")
		}
		return nil
	}).Times(3)

	res, err := d.TriggerEvent(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, ports.FanoutResult{Created: 2, Failed: 1}, res)
	assert.Equal(t, []uuid.UUID{subAll.ID, subMatch.ID, subBroken.ID}, targets)
	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, dispatcherNow, event.CreatedAt)
}

func TestWebhookDispatcher_TriggerEvent_StorageErrors(t *testing.T) {
	d, repo, _ := setupDispatcher(t, nil)
	event := &domain.WebhookEvent{EventType: domain.EventPaymentSucceeded, SellerID: uuid.New()}

	repo.EXPECT().CreateEvent(gomock.Any(), event).Return(errors.New("db down"))
	_, err := d.TriggerEvent(context.Background(), event)
	assert.ErrorContains(t, err, "persist webhook event")

	repo.EXPECT().CreateEvent(gomock.Any(), event).Return(nil)
	repo.EXPECT().ListActiveSubscriptions(gomock.Any(), event.SellerID).Return(nil, errors.New("db down"))
	_, err = d.TriggerEvent(context.Background(), event)
	assert.ErrorContains(t, err, "list webhook subscriptions")
}

func TestWebhookDispatcher_ProcessPendingDeliveries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d, repo, enc := setupDispatcher(t, srv.Client())

	ok, okSub, okEvent := testWebhookFixtures(srv.URL)
	taken, _, _ := testWebhookFixtures(srv.URL)
	orphan, _, orphanEvent := testWebhookFixtures(srv.URL)
	paused, pausedSub, pausedEvent := testWebhookFixtures(srv.URL)
	pausedSub.Active = false

	repo.EXPECT().ListDueDeliveries(gomock.Any(), dispatcherNow, 10).
		Return([]domain.WebhookDelivery{*ok, *taken, *orphan, *paused}, nil)

	leaseUntil := dispatcherNow.Add(DefaultWebhookLease)
	repo.EXPECT().LeaseDelivery(gomock.Any(), ok.ID, domain.WebhookDeliveryPending, 0, dispatcherNow, leaseUntil).Return(true, nil)
	repo.EXPECT().LeaseDelivery(gomock.Any(), taken.ID, domain.WebhookDeliveryPending, 0, dispatcherNow, leaseUntil).Return(false, nil)
	repo.EXPECT().LeaseDelivery(gomock.Any(), orphan.ID, gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil)
	repo.EXPECT().LeaseDelivery(gomock.Any(), paused.ID, gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil)

	repo.EXPECT().GetSubscription(gomock.Any(), okSub.ID).Return(okSub, nil)
	repo.EXPECT().GetEvent(gomock.Any(), okEvent.ID).Return(okEvent, nil)
	repo.EXPECT().GetSubscription(gomock.Any(), orphan.WebhookSubscriptionID).Return(nil, nil)
	repo.EXPECT().GetEvent(gomock.Any(), orphanEvent.ID).Return(orphanEvent, nil)
	repo.EXPECT().GetSubscription(gomock.Any(), pausedSub.ID).Return(pausedSub, nil)
	repo.EXPECT().GetEvent(gomock.Any(), pausedEvent.ID).Return(pausedEvent, nil)

	enc.EXPECT().Decrypt(gomock.Any()).Return(testWebhookSecret, nil)

	updates := map[uuid.UUID]domain.WebhookDelivery{}
	repo.EXPECT().UpdateDelivery(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, del *domain.WebhookDelivery) error {
		updates[del.ID] = *del
		return nil
	}).Times(3)
	repo.EXPECT().TouchSubscription(gomock.Any(), okSub.ID, dispatcherNow).Return(nil)

	stats, err := d.ProcessPendingDeliveries(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, ports.DeliveryStats{Processed: 3, Succeeded: 1, Failed: 2}, stats)

	assert.Equal(t, domain.WebhookDeliverySuccess, updates[ok.ID].Status)

	assert.Equal(t, domain.WebhookDeliveryFailed, updates[orphan.ID].Status)
	assert.Equal(t, "webhook subscription not found", *updates[orphan.ID].ErrorMessage)
	assert.Zero(t, updates[orphan.ID].AttemptCount)

	assert.Equal(t, domain.WebhookDeliveryFailed, updates[paused.ID].Status)
	assert.Equal(t, "webhook subscription inactive", *updates[paused.ID].ErrorMessage)

	_, touched := updates[taken.ID]
	assert.False(t, touched)
}

func TestWebhookDispatcher_ProcessPendingDeliveries_ListError(t *testing.T) {
	d, repo, _ := setupDispatcher(t, nil)

	repo.EXPECT().ListDueDeliveries(gomock.Any(), gomock.Any(), 5).Return(nil, errors.New("db down"))

	_, err := d.ProcessPendingDeliveries(context.Background(), 5)
	assert.ErrorContains(t, err, "list due webhook deliveries")
}

func TestWebhookDispatcher_RunStopsOnCancel(t *testing.T) {
	d, repo, _ := setupDispatcher(t, nil)

	polled := make(chan struct{}, 1)
	repo.EXPECT().ListDueDeliveries(gomock.Any(), gomock.Any(), DefaultWebhookBatchSize).
		DoAndReturn(func(context.Context, time.Time, int) ([]domain.WebhookDelivery, error) {
			select {
			case polled <- struct{}{}:
			default:
			}
			return nil, nil
		}).MinTimes(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	<-polled
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after cancel")
	}
}
