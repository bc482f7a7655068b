package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"settlement-pipeline/internal/core/domain"

	"github.com/google/uuid"
)

// memSettlementStore is an in-memory ports.SettlementRepository with the
// same conditional-update semantics as the postgres repo.
type memSettlementStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*domain.Settlement
}

func newMemSettlementStore() *memSettlementStore {
	return &memSettlementStore{rows: make(map[uuid.UUID]*domain.Settlement)}
}

func (m *memSettlementStore) Create(_ context.Context, s *domain.Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.rows[s.ID] = &cp
	return nil
}

func (m *memSettlementStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

// get is GetByID for tests that know the row exists.
func (m *memSettlementStore) get(id uuid.UUID) domain.Settlement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[id]
}

func (m *memSettlementStore) ReclaimStale(_ context.Context, lockedBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.rows {
		if s.Status == domain.SettlementStatusInProgress && s.LockedAt != nil && s.LockedAt.Before(lockedBefore) {
			s.Status = domain.SettlementStatusRetry
			s.LockedBy, s.LockedAt, s.NextRetryAt = nil, nil, nil
			n++
		}
	}
	return n, nil
}

func (m *memSettlementStore) ListDue(_ context.Context, now time.Time, limit int) ([]domain.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []domain.Settlement
	for _, s := range m.rows {
		if s.IsDue(now) {
			due = append(due, *s)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *memSettlementStore) Claim(_ context.Context, id uuid.UUID, observed domain.SettlementStatus, workerID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok || s.Status != observed || !s.IsDue(now) {
		return false, nil
	}
	s.Status = domain.SettlementStatusInProgress
	s.LockedBy = &workerID
	s.LockedAt = &now
	s.NextRetryAt = nil
	return true, nil
}

func (m *memSettlementStore) Finish(_ context.Context, id uuid.UUID, workerID string, upd domain.SettlementUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok || s.Status != domain.SettlementStatusInProgress || s.LockedBy == nil || *s.LockedBy != workerID {
		return false, nil
	}
	s.Status = upd.Status
	s.Attempts = upd.Attempts
	s.LastError = upd.LastError
	s.NextRetryAt = upd.NextRetryAt
	if upd.FacilitatorResponse != nil {
		s.FacilitatorResponse = upd.FacilitatorResponse
	}
	if upd.TxHash != nil {
		s.TxHash = upd.TxHash
	}
	s.LockedBy, s.LockedAt = nil, nil
	return true, nil
}

func (m *memSettlementStore) ResetFailed(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok || s.Status != domain.SettlementStatusFailed {
		return false, nil
	}
	s.Status = domain.SettlementStatusQueued
	s.Attempts = 0
	s.LastError, s.NextRetryAt = nil, nil
	return true, nil
}

func (m *memSettlementStore) CountByStatus(context.Context) (map[domain.SettlementStatus]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.SettlementStatus]int64, len(domain.SettlementStatuses))
	for _, st := range domain.SettlementStatuses {
		counts[st] = 0
	}
	for _, s := range m.rows {
		counts[s.Status]++
	}
	return counts, nil
}

// steal simulates another worker reclaiming and claiming the row.
func (m *memSettlementStore) steal(id uuid.UUID, workerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.rows[id]
	now := time.Now()
	s.Status = domain.SettlementStatusInProgress
	s.LockedBy = &workerID
	s.LockedAt = &now
}
