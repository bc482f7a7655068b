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

const settlementColumns = `id, payment_attempt_id, seller_id, facilitator_request, facilitator_response,
	status, attempts, last_error, next_retry_at, locked_by, locked_at, tx_hash, created_at, updated_at`

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// SettlementRepo implements ports.SettlementRepository.
type SettlementRepo struct {
	pool Pool
}

// NewSettlementRepo creates a new SettlementRepo.
func NewSettlementRepo(pool Pool) *SettlementRepo {
	return &SettlementRepo{pool: pool}
}

// Create inserts a new settlement.
func (r *SettlementRepo) Create(ctx context.Context, s *domain.Settlement) error {
	query := `INSERT INTO settlements (id, payment_attempt_id, seller_id, facilitator_request, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		s.ID, s.PaymentAttemptID, s.SellerID, []byte(s.FacilitatorRequest),
		string(s.Status), s.Attempts, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}
	return nil
}

// GetByID fetches a settlement. It returns nil, nil when absent.
func (r *SettlementRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE id = $1`

	s, err := scanSettlement(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get settlement by id: %w", err)
	}
	return s, nil
}

// ReclaimStale returns abandoned in_progress rows to retry.
func (r *SettlementRepo) ReclaimStale(ctx context.Context, lockedBefore time.Time) (int64, error) {
	query := `UPDATE settlements
		SET status = 'retry', locked_by = NULL, locked_at = NULL, next_retry_at = NULL, updated_at = NOW()
		WHERE status = 'in_progress' AND locked_at < $1`

	tag, err := r.pool.Exec(ctx, query, lockedBefore)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale settlements: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListDue returns queued and retry rows that are due, oldest first.
func (r *SettlementRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements
		WHERE status IN ('queued', 'retry') AND (next_retry_at IS NULL OR next_retry_at <= $1)
		ORDER BY created_at ASC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due settlements: %w", err)
	}
	defer rows.Close()

	var out []domain.Settlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan settlement: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settlements: %w", err)
	}
	return out, nil
}

// Claim takes the row for workerID if it is still in the observed status
// and due.
func (r *SettlementRepo) Claim(ctx context.Context, id uuid.UUID, observed domain.SettlementStatus, workerID string, now time.Time) (bool, error) {
	query := `UPDATE settlements
		SET status = 'in_progress', locked_by = $1, locked_at = $2, next_retry_at = NULL, updated_at = $2
		WHERE id = $3 AND status = $4 AND (next_retry_at IS NULL OR next_retry_at <= $2)`

	tag, err := r.pool.Exec(ctx, query, workerID, now, id, string(observed))
	if err != nil {
		return false, fmt.Errorf("claim settlement: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Finish records a processing outcome and releases the lock. It is a no-op
// returning false when workerID no longer holds the row.
func (r *SettlementRepo) Finish(ctx context.Context, id uuid.UUID, workerID string, upd domain.SettlementUpdate) (bool, error) {
	query := `UPDATE settlements
		SET status = $1, attempts = $2, last_error = $3, next_retry_at = $4,
			facilitator_response = COALESCE($5::jsonb, facilitator_response),
			tx_hash = COALESCE($6, tx_hash),
			locked_by = NULL, locked_at = NULL, updated_at = NOW()
		WHERE id = $7 AND locked_by = $8 AND status = 'in_progress'`

	tag, err := r.pool.Exec(ctx, query,
		string(upd.Status), upd.Attempts, upd.LastError, upd.NextRetryAt,
		jsonOrNil(upd.FacilitatorResponse), upd.TxHash,
		id, workerID,
	)
	if err != nil {
		return false, fmt.Errorf("finish settlement: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ResetFailed re-queues a failed row with a fresh retry budget.
func (r *SettlementRepo) ResetFailed(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `UPDATE settlements
		SET status = 'queued', attempts = 0, last_error = NULL, next_retry_at = NULL,
			locked_by = NULL, locked_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'failed'`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("reset settlement: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CountByStatus returns a count for every status, including zeros.
func (r *SettlementRepo) CountByStatus(ctx context.Context) (map[domain.SettlementStatus]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM settlements GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count settlements: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.SettlementStatus]int64, len(domain.SettlementStatuses))
	for _, st := range domain.SettlementStatuses {
		counts[st] = 0
	}
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan settlement count: %w", err)
		}
		counts[domain.SettlementStatus(status)] = n
	}
	return counts, rows.Err()
}

func scanSettlement(row rowScanner) (*domain.Settlement, error) {
	s := &domain.Settlement{}
	var (
		status   string
		request  []byte
		response []byte
	)
	err := row.Scan(
		&s.ID, &s.PaymentAttemptID, &s.SellerID, &request, &response,
		&status, &s.Attempts, &s.LastError, &s.NextRetryAt, &s.LockedBy, &s.LockedAt, &s.TxHash,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = domain.SettlementStatus(status)
	s.FacilitatorRequest = json.RawMessage(request)
	if len(response) > 0 {
		s.FacilitatorResponse = json.RawMessage(response)
	}
	return s, nil
}

// jsonOrNil maps an empty document to SQL NULL.
func jsonOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
