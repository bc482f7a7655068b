package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"settlement-pipeline/internal/core/domain"
	"settlement-pipeline/internal/core/ports"
	"settlement-pipeline/pkg/apperror"

	"github.com/google/uuid"
)

const webhookSecretPrefix = "whsec_"

type subscriptionService struct {
	repo     ports.WebhookRepository
	encSvc   ports.EncryptionService
	trigger  ports.EventTrigger
	auditSvc ports.AuditService
	now      func() time.Time
}

// NewSubscriptionService creates the webhook subscription management service.
func NewSubscriptionService(
	repo ports.WebhookRepository,
	encSvc ports.EncryptionService,
	trigger ports.EventTrigger,
	auditSvc ports.AuditService,
) ports.SubscriptionService {
	return &subscriptionService{
		repo:     repo,
		encSvc:   encSvc,
		trigger:  trigger,
		auditSvc: auditSvc,
		now:      time.Now,
	}
}

// Create registers a subscription with a freshly generated signing secret.
// The plaintext secret is returned once and only its ciphertext is stored.
func (s *subscriptionService) Create(ctx context.Context, req ports.CreateSubscriptionRequest) (*ports.CreatedSubscription, error) {
	if !isHTTPSURL(req.URL) {
		return nil, apperror.ErrInsecureWebhookURL()
	}
	events, err := normalizeEventTypes(req.Events)
	if err != nil {
		return nil, err
	}

	secret, err := generateWebhookSecret()
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("generate webhook secret: %w", err))
	}
	secretEnc, err := s.encSvc.Encrypt(secret)
	if err != nil {
		return nil, apperror.ErrEncryptionFailure(err)
	}

	sub := &domain.WebhookSubscription{
		ID:        uuid.New(),
		SellerID:  req.SellerID,
		URL:       req.URL,
		Events:    events,
		Active:    true,
		SecretEnc: secretEnc,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.CreateSubscription(ctx, sub); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create webhook subscription: %w", err))
	}

	s.auditSvc.Log(ctx, &domain.AuditLog{
		Action:       domain.AuditActionSubscriptionCreated,
		ResourceType: "webhook_subscription",
		ResourceID:   sub.ID.String(),
		Details:      fmt.Sprintf(`{"seller_id":%q,"url":%q}`, sub.SellerID, sub.URL),
		Actor:        req.Actor,
	})

	return &ports.CreatedSubscription{Subscription: sub, Secret: secret}, nil
}

func (s *subscriptionService) List(ctx context.Context, sellerID uuid.UUID) ([]domain.WebhookSubscription, error) {
	subs, err := s.repo.ListSubscriptionsBySeller(ctx, sellerID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if subs == nil {
		subs = []domain.WebhookSubscription{}
	}
	return subs, nil
}

// SetActive enables or disables a subscription. Disabled subscriptions get
// no new deliveries and their pending ones are abandoned.
func (s *subscriptionService) SetActive(ctx context.Context, id uuid.UUID, active bool, actor string) (*domain.WebhookSubscription, error) {
	updated, err := s.repo.SetSubscriptionActive(ctx, id, active)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("update webhook subscription: %w", err))
	}
	if !updated {
		return nil, apperror.ErrNotFound("webhook subscription")
	}

	sub, err := s.repo.GetSubscription(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if sub == nil {
		return nil, apperror.ErrNotFound("webhook subscription")
	}

	s.auditSvc.Log(ctx, &domain.AuditLog{
		Action:       domain.AuditActionSubscriptionUpdated,
		ResourceType: "webhook_subscription",
		ResourceID:   id.String(),
		Details:      fmt.Sprintf(`{"active":%t}`, active),
		Actor:        actor,
	})

	return sub, nil
}

// RaiseEvent records a business event and fans it out.
func (s *subscriptionService) RaiseEvent(ctx context.Context, req ports.RaiseEventRequest) (*ports.RaisedEvent, error) {
	if !domain.KnownEventTypes[req.EventType] {
		return nil, apperror.ErrUnknownEventType(req.EventType)
	}
	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	} else if !json.Valid(payload) {
		return nil, apperror.Validation("payload must be valid JSON")
	}

	event := &domain.WebhookEvent{
		ID:           uuid.New(),
		EventType:    req.EventType,
		SellerID:     req.SellerID,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Payload:      payload,
		CreatedAt:    s.now().UTC(),
	}

	fanout, err := s.trigger.TriggerEvent(ctx, event)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	s.auditSvc.Log(ctx, &domain.AuditLog{
		Action:       domain.AuditActionEventRaised,
		ResourceType: "webhook_event",
		ResourceID:   event.ID.String(),
		Details:      fmt.Sprintf(`{"event_type":%q,"created":%d,"failed":%d}`, event.EventType, fanout.Created, fanout.Failed),
		Actor:        req.Actor,
	})

	return &ports.RaisedEvent{Event: event, Fanout: fanout}, nil
}

// isHTTPSURL reports whether raw is an absolute https URL with a host.
func isHTTPSURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "https" && u.Host != ""
}

// normalizeEventTypes maps an empty filter to nil (every event) and rejects
// unknown types.
func normalizeEventTypes(events []string) ([]string, error) {
	if len(events) == 0 {
		return nil, nil
	}
	seen := make(map[string]bool, len(events))
	out := make([]string, 0, len(events))
	for _, e := range events {
		if !domain.KnownEventTypes[e] {
			return nil, apperror.ErrUnknownEventType(e)
		}
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out, nil
}

func generateWebhookSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return webhookSecretPrefix + hex.EncodeToString(b), nil
}
