package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"settlement-pipeline/internal/core/domain"

	"github.com/google/uuid"
)

// memWebhookStore is an in-memory ports.WebhookRepository.
type memWebhookStore struct {
	mu         sync.Mutex
	subs       map[uuid.UUID]*domain.WebhookSubscription
	events     map[uuid.UUID]*domain.WebhookEvent
	deliveries map[uuid.UUID]*domain.WebhookDelivery
}

func newMemWebhookStore() *memWebhookStore {
	return &memWebhookStore{
		subs:       make(map[uuid.UUID]*domain.WebhookSubscription),
		events:     make(map[uuid.UUID]*domain.WebhookEvent),
		deliveries: make(map[uuid.UUID]*domain.WebhookDelivery),
	}
}

func (m *memWebhookStore) CreateSubscription(_ context.Context, sub *domain.WebhookSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

func (m *memWebhookStore) GetSubscription(_ context.Context, id uuid.UUID) (*domain.WebhookSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, nil
	}
	cp := *sub
	return &cp, nil
}

func (m *memWebhookStore) listSubs(sellerID uuid.UUID, activeOnly bool) []domain.WebhookSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.WebhookSubscription
	for _, sub := range m.subs {
		if sub.SellerID == sellerID && (!activeOnly || sub.Active) {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *memWebhookStore) ListSubscriptionsBySeller(_ context.Context, sellerID uuid.UUID) ([]domain.WebhookSubscription, error) {
	return m.listSubs(sellerID, false), nil
}

func (m *memWebhookStore) ListActiveSubscriptions(_ context.Context, sellerID uuid.UUID) ([]domain.WebhookSubscription, error) {
	return m.listSubs(sellerID, true), nil
}

func (m *memWebhookStore) SetSubscriptionActive(_ context.Context, id uuid.UUID, active bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return false, nil
	}
	sub.Active = active
	return true, nil
}

func (m *memWebhookStore) TouchSubscription(_ context.Context, id uuid.UUID, deliveredAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subs[id]; ok {
		sub.LastDeliveredAt = &deliveredAt
	}
	return nil
}

func (m *memWebhookStore) CreateEvent(_ context.Context, event *domain.WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *event
	m.events[event.ID] = &cp
	return nil
}

func (m *memWebhookStore) GetEvent(_ context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	event, ok := m.events[id]
	if !ok {
		return nil, nil
	}
	cp := *event
	return &cp, nil
}

func (m *memWebhookStore) CreateDelivery(_ context.Context, d *domain.WebhookDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.deliveries[d.ID] = &cp
	return nil
}

func deliveryDue(d *domain.WebhookDelivery, now time.Time) bool {
	if d.Status != domain.WebhookDeliveryPending && d.Status != domain.WebhookDeliveryRetry {
		return false
	}
	return d.NextRetryAt == nil || !d.NextRetryAt.After(now)
}

func (m *memWebhookStore) ListDueDeliveries(_ context.Context, now time.Time, limit int) ([]domain.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []domain.WebhookDelivery
	for _, d := range m.deliveries {
		if deliveryDue(d, now) {
			due = append(due, *d)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *memWebhookStore) LeaseDelivery(_ context.Context, id uuid.UUID, observed domain.WebhookDeliveryStatus, observedAttempts int, now, leaseUntil time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok || d.Status != observed || d.AttemptCount != observedAttempts || !deliveryDue(d, now) {
		return false, nil
	}
	d.NextRetryAt = &leaseUntil
	return true, nil
}

func (m *memWebhookStore) UpdateDelivery(_ context.Context, d *domain.WebhookDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.deliveries[d.ID] = &cp
	return nil
}

func (m *memWebhookStore) allDeliveries() []domain.WebhookDelivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.WebhookDelivery, 0, len(m.deliveries))
	for _, d := range m.deliveries {
		out = append(out, *d)
	}
	return out
}

// memAuditStore is an in-memory ports.AuditRepository.
type memAuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditLog
}

func (m *memAuditStore) Create(_ context.Context, entry *domain.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memAuditStore) actions() []domain.AuditAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.AuditAction, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}
