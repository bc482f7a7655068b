package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"settlement-pipeline/internal/core/domain"
	"settlement-pipeline/internal/core/ports"
	"settlement-pipeline/internal/metrics"
	"settlement-pipeline/pkg/webhooksig"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Webhook dispatcher defaults.
const (
	DefaultWebhookTimeout      = 10 * time.Second
	DefaultWebhookBatchSize    = 10
	DefaultWebhookPollInterval = 10 * time.Second
	DefaultWebhookLease        = time.Minute

	maxResponseBodyBytes = 1024
)

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookDispatcherConfig tunes delivery. Zero values fall back to defaults.
type WebhookDispatcherConfig struct {
	Timeout      time.Duration
	MaxAttempts  int
	BatchSize    int
	PollInterval time.Duration
	Lease        time.Duration
}

func (c WebhookDispatcherConfig) withDefaults() WebhookDispatcherConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultWebhookTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = domain.DefaultWebhookMaxAttempts
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultWebhookBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultWebhookPollInterval
	}
	if c.Lease <= 0 {
		c.Lease = DefaultWebhookLease
	}
	return c
}

// WebhookPayload is the JSON body POSTed to subscribers.
type WebhookPayload struct {
	EventType    string          `json:"event_type"`
	SellerID     uuid.UUID       `json:"seller_id"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	Payload      json.RawMessage `json:"payload"`
	Timestamp    string          `json:"timestamp"`
}

// WebhookDispatcher fans events out to subscriptions and delivers them.
type WebhookDispatcher struct {
	repo       ports.WebhookRepository
	encSvc     ports.EncryptionService
	sigSvc     ports.SignatureService
	httpClient HTTPClient
	cfg        WebhookDispatcherConfig
	log        zerolog.Logger
	now        func() time.Time
}

// NewWebhookDispatcher creates a webhook dispatcher.
func NewWebhookDispatcher(
	repo ports.WebhookRepository,
	encSvc ports.EncryptionService,
	sigSvc ports.SignatureService,
	httpClient HTTPClient,
	cfg WebhookDispatcherConfig,
	log zerolog.Logger,
) *WebhookDispatcher {
	return &WebhookDispatcher{
		repo:       repo,
		encSvc:     encSvc,
		sigSvc:     sigSvc,
		httpClient: httpClient,
		cfg:        cfg.withDefaults(),
		log:        log,
		now:        time.Now,
	}
}

// TriggerEvent persists the event and creates one pending delivery per
// matching active subscription. A failed delivery insert is counted, not
// returned.
func (d *WebhookDispatcher) TriggerEvent(ctx context.Context, event *domain.WebhookEvent) (ports.FanoutResult, error) {
	var res ports.FanoutResult
	now := d.now().UTC()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}

	if err := d.repo.CreateEvent(ctx, event); err != nil {
		return res, fmt.Errorf("persist webhook event: %w", err)
	}

	subs, err := d.repo.ListActiveSubscriptions(ctx, event.SellerID)
	if err != nil {
		return res, fmt.Errorf("list webhook subscriptions: %w", err)
	}

	for i := range subs {
		sub := &subs[i]
		if !sub.Matches(event.EventType) {
			continue
		}
		delivery := &domain.WebhookDelivery{
			ID:                    uuid.New(),
			WebhookSubscriptionID: sub.ID,
			WebhookEventID:        event.ID,
			Status:                domain.WebhookDeliveryPending,
			MaxAttempts:           d.cfg.MaxAttempts,
			CreatedAt:             now,
		}
		if err := d.repo.CreateDelivery(ctx, delivery); err != nil {
			d.log.Error().Err(err).
				Str("event_id", event.ID.String()).
				Str("subscription_id", sub.ID.String()).
				Msg("webhook: failed to create delivery")
			res.Failed++
			continue
		}
		res.Created++
	}

	metrics.RecordWebhookFanout(res.Created, res.Failed)
	d.log.Info().
		Str("event_id", event.ID.String()).
		Str("event_type", event.EventType).
		Int("created", res.Created).
		Int("failed", res.Failed).
		Msg("webhook: event fanned out")
	return res, nil
}

// ProcessDelivery makes one signed POST and records the attempt on the
// delivery row. A non-2xx or transport failure is recorded, not returned;
// the error result is reserved for problems that leave the row untouched.
func (d *WebhookDispatcher) ProcessDelivery(
	ctx context.Context,
	delivery *domain.WebhookDelivery,
	sub *domain.WebhookSubscription,
	event *domain.WebhookEvent,
) error {
	log := d.log.With().
		Str("delivery_id", delivery.ID.String()).
		Str("event_type", event.EventType).
		Logger()

	secret, err := d.encSvc.Decrypt(sub.SecretEnc)
	if err != nil {
		return fmt.Errorf("decrypt webhook secret: %w", err)
	}

	body, err := json.Marshal(WebhookPayload{
		EventType:    event.EventType,
		SellerID:     event.SellerID,
		ResourceType: event.ResourceType,
		ResourceID:   event.ResourceID,
		Payload:      payloadOrEmpty(event.Payload),
		Timestamp:    event.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	status, respBody, cause := d.post(ctx, sub.URL, body, d.sigSvc.Sign(secret, body), event)
	now := d.now().UTC()
	if status != 0 {
		delivery.ResponseStatusCode = &status
		delivery.ResponseBody = &respBody
	}

	if cause == "" {
		delivery.MarkDelivered(now)
		log.Info().Int("status", status).Int("attempt", delivery.AttemptCount).Msg("webhook: delivered")
	} else {
		delivery.MarkAttemptFailed(now, cause)
		ev := log.Warn()
		if delivery.Status == domain.WebhookDeliveryFailed {
			ev = log.Error()
		}
		ev.Str("cause", cause).
			Int("attempt", delivery.AttemptCount).
			Str("status", string(delivery.Status)).
			Msg("webhook: delivery attempt failed")
	}

	// the POST already happened; the record must be kept
	writeCtx := context.WithoutCancel(ctx)
	if err := d.repo.UpdateDelivery(writeCtx, delivery); err != nil {
		return fmt.Errorf("update webhook delivery: %w", err)
	}
	if delivery.Status == domain.WebhookDeliverySuccess {
		if err := d.repo.TouchSubscription(writeCtx, sub.ID, now); err != nil {
			log.Warn().Err(err).Msg("webhook: failed to update last_delivered_at")
		}
	}
	metrics.RecordWebhookDelivery(string(delivery.Status))
	return nil
}

// post returns the response status and (truncated) body, and a non-empty
// cause when the attempt did not succeed.
func (d *WebhookDispatcher) post(ctx context.Context, url string, body []byte, signature string, event *domain.WebhookEvent) (int, string, string) {
	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, "", err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhooksig.HeaderSignature, signature)
	req.Header.Set(webhooksig.HeaderEvent, event.EventType)
	req.Header.Set(webhooksig.HeaderTimestamp, event.CreatedAt.UTC().Format(time.RFC3339))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, "", err.Error()
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, string(respBody), ""
	}
	return resp.StatusCode, string(respBody), fmt.Sprintf("HTTP %d", resp.StatusCode)
}

// ProcessPendingDeliveries leases and delivers up to batchSize due
// deliveries. Failed counts every delivery that did not succeed this pass,
// including ones scheduled for retry.
func (d *WebhookDispatcher) ProcessPendingDeliveries(ctx context.Context, batchSize int) (ports.DeliveryStats, error) {
	var stats ports.DeliveryStats
	if batchSize <= 0 {
		batchSize = d.cfg.BatchSize
	}
	now := d.now().UTC()

	due, err := d.repo.ListDueDeliveries(ctx, now, batchSize)
	if err != nil {
		return stats, fmt.Errorf("list due webhook deliveries: %w", err)
	}

	for i := range due {
		if ctx.Err() != nil {
			break
		}
		delivery := &due[i]

		leased, err := d.repo.LeaseDelivery(ctx, delivery.ID, delivery.Status, delivery.AttemptCount, now, now.Add(d.cfg.Lease))
		if err != nil {
			d.log.Error().Err(err).Str("delivery_id", delivery.ID.String()).Msg("webhook: lease delivery")
			continue
		}
		if !leased {
			continue
		}
		stats.Processed++

		if d.deliver(ctx, delivery) {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
	}

	if stats.Processed > 0 {
		d.log.Info().
			Int("processed", stats.Processed).
			Int("succeeded", stats.Succeeded).
			Int("failed", stats.Failed).
			Msg("webhook: deliveries processed")
	}
	return stats, nil
}

// deliver resolves the subscription and event for a leased delivery and
// posts it. It reports whether the delivery succeeded.
func (d *WebhookDispatcher) deliver(ctx context.Context, delivery *domain.WebhookDelivery) bool {
	log := d.log.With().Str("delivery_id", delivery.ID.String()).Logger()

	sub, err := d.repo.GetSubscription(ctx, delivery.WebhookSubscriptionID)
	if err != nil {
		log.Error().Err(err).Msg("webhook: load subscription")
		return false
	}
	event, err := d.repo.GetEvent(ctx, delivery.WebhookEventID)
	if err != nil {
		log.Error().Err(err).Msg("webhook: load event")
		return false
	}

	switch {
	case sub == nil:
		d.abandon(ctx, delivery, "webhook subscription not found")
		return false
	case event == nil:
		d.abandon(ctx, delivery, "webhook event not found")
		return false
	case !sub.Active:
		d.abandon(ctx, delivery, "webhook subscription inactive")
		return false
	}

	if err := d.ProcessDelivery(ctx, delivery, sub, event); err != nil {
		log.Error().Err(err).Msg("webhook: process delivery")
		return false
	}
	return delivery.Status == domain.WebhookDeliverySuccess
}

func (d *WebhookDispatcher) abandon(ctx context.Context, delivery *domain.WebhookDelivery, reason string) {
	delivery.MarkAbandoned(reason)
	if err := d.repo.UpdateDelivery(context.WithoutCancel(ctx), delivery); err != nil {
		d.log.Error().Err(err).Str("delivery_id", delivery.ID.String()).Msg("webhook: failed to abandon delivery")
		return
	}
	metrics.RecordWebhookDelivery("abandoned")
	d.log.Error().Str("delivery_id", delivery.ID.String()).Str("reason", reason).Msg("webhook: delivery abandoned")
}

// Run drains pending deliveries every poll interval until ctx is cancelled.
func (d *WebhookDispatcher) Run(ctx context.Context) error {
	d.log.Info().Dur("poll_interval", d.cfg.PollInterval).Msg("webhook dispatcher started")

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.ProcessPendingDeliveries(ctx, d.cfg.BatchSize); err != nil && ctx.Err() == nil {
			d.log.Error().Err(err).Msg("webhook: drain failed")
		}

		select {
		case <-ctx.Done():
			d.log.Info().Msg("webhook dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func payloadOrEmpty(p json.RawMessage) json.RawMessage {
	if len(p) == 0 {
		return json.RawMessage("{}")
	}
	return p
}
