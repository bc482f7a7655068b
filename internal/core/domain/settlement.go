package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SettlementStatus represents the lifecycle state of a queued settlement.
type SettlementStatus string

const (
	SettlementStatusQueued     SettlementStatus = "queued"
	SettlementStatusInProgress SettlementStatus = "in_progress"
	SettlementStatusConfirmed  SettlementStatus = "confirmed"
	SettlementStatusFailed     SettlementStatus = "failed"
	SettlementStatusRetry      SettlementStatus = "retry"
)

// SettlementStatuses lists every status, in lifecycle order.
var SettlementStatuses = []SettlementStatus{
	SettlementStatusQueued,
	SettlementStatusInProgress,
	SettlementStatusRetry,
	SettlementStatusConfirmed,
	SettlementStatusFailed,
}

// Settlement is one durable settle job: a facilitator request to replay
// until it is confirmed or permanently failed.
type Settlement struct {
	ID                  uuid.UUID        `json:"id"`
	PaymentAttemptID    *uuid.UUID       `json:"payment_attempt_id,omitempty"`
	SellerID            *uuid.UUID       `json:"seller_id,omitempty"`
	FacilitatorRequest  json.RawMessage  `json:"facilitator_request"`
	FacilitatorResponse json.RawMessage  `json:"facilitator_response,omitempty"`
	Status              SettlementStatus `json:"status"`
	Attempts            int              `json:"attempts"`
	LastError           *string          `json:"last_error,omitempty"`
	NextRetryAt         *time.Time       `json:"next_retry_at,omitempty"`
	LockedBy            *string          `json:"locked_by,omitempty"`
	LockedAt            *time.Time       `json:"locked_at,omitempty"`
	TxHash              *string          `json:"tx_hash,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// IsTerminal returns true once the settlement is confirmed or failed.
func (s *Settlement) IsTerminal() bool {
	return s.Status == SettlementStatusConfirmed || s.Status == SettlementStatusFailed
}

// IsDue reports whether a worker may pick the settlement up at now.
func (s *Settlement) IsDue(now time.Time) bool {
	if s.Status != SettlementStatusQueued && s.Status != SettlementStatusRetry {
		return false
	}
	return s.NextRetryAt == nil || !s.NextRetryAt.After(now)
}

// IsStale reports whether an in-progress lock is older than lockTimeout.
func (s *Settlement) IsStale(now time.Time, lockTimeout time.Duration) bool {
	return s.Status == SettlementStatusInProgress &&
		s.LockedAt != nil &&
		s.LockedAt.Before(now.Add(-lockTimeout))
}

// SettlementUpdate is the outcome a worker records after a processing pass.
// Locks and next_retry_at are cleared unless NextRetryAt is set.
type SettlementUpdate struct {
	Status              SettlementStatus
	Attempts            int
	LastError           *string
	NextRetryAt         *time.Time
	FacilitatorResponse json.RawMessage
	TxHash              *string
}

// SettlementRetryDelay returns attempts² × base.
func SettlementRetryDelay(attempts int, base time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return time.Duration(attempts*attempts) * base
}
