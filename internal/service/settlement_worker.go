package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"settlement-pipeline/internal/core/domain"
	"settlement-pipeline/internal/core/ports"
	"settlement-pipeline/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Settlement worker defaults.
const (
	DefaultLockTimeout        = 5 * time.Minute
	DefaultSettlePollInterval = 5 * time.Second
	DefaultSettleMaxAttempts  = 5
	DefaultSettleBaseRetry    = 30 * time.Second
	DefaultSettleBatchSize    = 10
)

// SettlementWorkerConfig tunes one worker process. Zero values fall back to
// the defaults above.
type SettlementWorkerConfig struct {
	WorkerID     string
	LockTimeout  time.Duration
	PollInterval time.Duration
	MaxAttempts  int
	BaseRetry    time.Duration
	BatchSize    int
}

func (c SettlementWorkerConfig) withDefaults() SettlementWorkerConfig {
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultSettlePollInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultSettleMaxAttempts
	}
	if c.BaseRetry <= 0 {
		c.BaseRetry = DefaultSettleBaseRetry
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultSettleBatchSize
	}
	return c
}

type outcome string

const (
	outcomeConfirmed outcome = "confirmed"
	outcomeFailed    outcome = "failed"
	outcomeRetried   outcome = "retry"
	outcomeLost      outcome = "lost"
	outcomeReleased  outcome = "config_released"
)

// SettlementWorker drains the settlement queue. Any number of workers may
// run against the same table; a row is processed by whoever claims it.
type SettlementWorker struct {
	repo        ports.SettlementRepository
	facilitator ports.FacilitatorClient
	cache       ports.SettleResultCache
	events      ports.EventTrigger
	audit       ports.AuditService
	cfg         SettlementWorkerConfig
	log         zerolog.Logger
	now         func() time.Time
}

// WorkerOption configures optional SettlementWorker collaborators.
type WorkerOption func(*SettlementWorker)

// WithSettleResultCache makes the worker reuse settle results it already
// obtained for a row.
func WithSettleResultCache(c ports.SettleResultCache) WorkerOption {
	return func(w *SettlementWorker) { w.cache = c }
}

// WithEventTrigger raises settlement.confirmed / settlement.failed for rows
// that carry a seller.
func WithEventTrigger(t ports.EventTrigger) WorkerOption {
	return func(w *SettlementWorker) { w.events = t }
}

func WithAuditService(a ports.AuditService) WorkerOption {
	return func(w *SettlementWorker) { w.audit = a }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) WorkerOption {
	return func(w *SettlementWorker) { w.now = now }
}

// NewSettlementWorker creates a settlement worker.
func NewSettlementWorker(
	repo ports.SettlementRepository,
	facilitator ports.FacilitatorClient,
	cfg SettlementWorkerConfig,
	log zerolog.Logger,
	opts ...WorkerOption,
) *SettlementWorker {
	w := &SettlementWorker{
		repo:        repo,
		facilitator: facilitator,
		cfg:         cfg.withDefaults(),
		log:         log,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// another cycle.
func (w *SettlementWorker) Run(ctx context.Context) error {
	w.log.Info().
		Str("worker_id", w.cfg.WorkerID).
		Dur("poll_interval", w.cfg.PollInterval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("settlement worker started")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		stats, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("settlement cycle failed")
		}

		if ctx.Err() != nil {
			w.log.Info().Msg("settlement worker stopped")
			return nil
		}
		if err == nil && stats.Claimed+stats.Skipped >= w.cfg.BatchSize {
			continue
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("settlement worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce executes one reclaim/select/claim/settle pass.
func (w *SettlementWorker) RunOnce(ctx context.Context) (ports.CycleStats, error) {
	var stats ports.CycleStats
	now := w.now()

	reclaimed, err := w.repo.ReclaimStale(ctx, now.Add(-w.cfg.LockTimeout))
	if err != nil {
		return stats, fmt.Errorf("reclaim stale settlements: %w", err)
	}
	stats.Reclaimed = reclaimed
	if reclaimed > 0 {
		w.log.Warn().Int64("count", reclaimed).Msg("reclaimed stale settlements")
	}

	due, err := w.repo.ListDue(ctx, now, w.cfg.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("list due settlements: %w", err)
	}

	for i := range due {
		if ctx.Err() != nil {
			break
		}
		s := &due[i]

		claimed, err := w.repo.Claim(ctx, s.ID, s.Status, w.cfg.WorkerID, w.now())
		if err != nil {
			w.log.Error().Err(err).Str("settlement_id", s.ID.String()).Msg("claim settlement")
			continue
		}
		if !claimed {
			stats.Skipped++
			continue
		}
		stats.Claimed++

		switch w.process(ctx, s) {
		case outcomeConfirmed:
			stats.Confirmed++
		case outcomeFailed:
			stats.Failed++
		case outcomeRetried:
			stats.Retried++
		case outcomeReleased:
			stats.Released++
		case outcomeLost:
			stats.Skipped++
		}
	}

	metrics.RecordSettlementOutcome("reclaimed", int(stats.Reclaimed))
	metrics.RecordSettlementOutcome(string(outcomeConfirmed), stats.Confirmed)
	metrics.RecordSettlementOutcome(string(outcomeFailed), stats.Failed)
	metrics.RecordSettlementOutcome(string(outcomeRetried), stats.Retried)
	metrics.RecordSettlementOutcome("skipped", stats.Skipped)
	metrics.RecordSettlementOutcome(string(outcomeReleased), stats.Released)

	if stats.Claimed > 0 || stats.Reclaimed > 0 {
		w.log.Info().
			Int64("reclaimed", stats.Reclaimed).
			Int("claimed", stats.Claimed).
			Int("confirmed", stats.Confirmed).
			Int("failed", stats.Failed).
			Int("retried", stats.Retried).
			Int("skipped", stats.Skipped).
			Int("released", stats.Released).
			Msg("settlement cycle complete")
	}
	return stats, nil
}

// process settles one claimed row and records the outcome.
func (w *SettlementWorker) process(ctx context.Context, s *domain.Settlement) outcome {
	log := w.log.With().Str("settlement_id", s.ID.String()).Int("attempts", s.Attempts).Logger()

	req, err := domain.DecodeFacilitatorRequest(s.FacilitatorRequest)
	if err != nil {
		log.Error().Err(err).Msg("malformed settlement request")
		msg := err.Error()
		return w.finish(ctx, s, domain.SettlementUpdate{
			Status:    domain.SettlementStatusFailed,
			Attempts:  s.Attempts,
			LastError: &msg,
		}, nil)
	}

	result, err := w.settle(ctx, s, req)
	if err != nil {
		return w.recordError(ctx, s, err, log)
	}

	upd := domain.SettlementUpdate{
		Attempts:            s.Attempts + 1,
		FacilitatorResponse: result.RawResponse(),
	}
	switch r := result.(type) {
	case domain.Settled:
		upd.Status = domain.SettlementStatusConfirmed
		if r.Transaction != "" {
			tx := r.Transaction
			upd.TxHash = &tx
		}
		log.Info().Str("tx_hash", r.Transaction).Str("network", r.Network).Msg("settlement confirmed")
	case domain.Rejected:
		upd.Status = domain.SettlementStatusFailed
		reason := r.Reason
		if reason == "" {
			reason = "settlement rejected by facilitator"
		}
		upd.LastError = &reason
		log.Error().Str("reason", r.Reason).Str("network", r.Network).Msg("settlement rejected")
	}
	return w.finish(ctx, s, upd, result)
}

// settle returns a cached result when this row already settled once.
func (w *SettlementWorker) settle(ctx context.Context, s *domain.Settlement, req domain.FacilitatorRequest) (domain.SettleResult, error) {
	if w.cache != nil {
		cached, err := w.cache.Get(ctx, s.ID)
		if err != nil {
			w.log.Warn().Err(err).Str("settlement_id", s.ID.String()).Msg("settle result cache unavailable")
		} else if cached != nil {
			w.log.Info().Str("settlement_id", s.ID.String()).Msg("reusing cached settle result")
			return *cached, nil
		}
	}

	result, err := w.facilitator.Settle(ctx, req, s.ID.String())
	if err != nil {
		return nil, err
	}

	if settled, ok := result.(domain.Settled); ok && w.cache != nil {
		if err := w.cache.Put(context.WithoutCancel(ctx), s.ID, settled); err != nil {
			w.log.Warn().Err(err).Str("settlement_id", s.ID.String()).Msg("cache settle result")
		}
	}
	return result, nil
}

// recordError applies the retry schedule. Configuration errors release the
// row without spending an attempt.
func (w *SettlementWorker) recordError(ctx context.Context, s *domain.Settlement, cause error, log zerolog.Logger) outcome {
	msg := cause.Error()
	now := w.now()

	if errors.Is(cause, domain.ErrFacilitatorConfig) {
		log.Error().Err(cause).Msg("facilitator misconfigured, releasing settlement")
		next := now.Add(w.cfg.BaseRetry)
		res := w.finish(ctx, s, domain.SettlementUpdate{
			Status:      domain.SettlementStatusRetry,
			Attempts:    s.Attempts,
			LastError:   &msg,
			NextRetryAt: &next,
		}, nil)
		if res == outcomeRetried {
			return outcomeReleased
		}
		return res
	}

	attempts := s.Attempts + 1
	if attempts < w.cfg.MaxAttempts {
		next := now.Add(domain.SettlementRetryDelay(attempts, w.cfg.BaseRetry))
		log.Warn().Err(cause).Int("attempt", attempts).Time("next_retry_at", next).Msg("settlement attempt failed, will retry")
		return w.finish(ctx, s, domain.SettlementUpdate{
			Status:      domain.SettlementStatusRetry,
			Attempts:    attempts,
			LastError:   &msg,
			NextRetryAt: &next,
		}, nil)
	}

	log.Error().Err(cause).Int("attempt", attempts).Msg("settlement failed permanently")
	return w.finish(ctx, s, domain.SettlementUpdate{
		Status:    domain.SettlementStatusFailed,
		Attempts:  attempts,
		LastError: &msg,
	}, nil)
}

// finish writes the outcome under the worker's lock, then audits and raises
// lifecycle events for terminal states.
func (w *SettlementWorker) finish(ctx context.Context, s *domain.Settlement, upd domain.SettlementUpdate, result domain.SettleResult) outcome {
	// the facilitator call may already have happened; the write must land
	ctx = context.WithoutCancel(ctx)

	ok, err := w.repo.Finish(ctx, s.ID, w.cfg.WorkerID, upd)
	if err != nil {
		w.log.Error().Err(err).Str("settlement_id", s.ID.String()).Msg("record settlement outcome")
		return outcomeLost
	}
	if !ok {
		w.log.Warn().
			Str("settlement_id", s.ID.String()).
			Str("worker_id", w.cfg.WorkerID).
			Str("status", string(upd.Status)).
			Msg("settlement lock lost before outcome was recorded")
		return outcomeLost
	}

	switch upd.Status {
	case domain.SettlementStatusConfirmed:
		w.afterTerminal(ctx, s, upd, result, domain.AuditActionSettlementConfirmed, domain.EventSettlementConfirmed)
		return outcomeConfirmed
	case domain.SettlementStatusFailed:
		w.afterTerminal(ctx, s, upd, result, domain.AuditActionSettlementFailed, domain.EventSettlementFailed)
		return outcomeFailed
	default:
		return outcomeRetried
	}
}

// settlementEventPayload is the payload of settlement lifecycle events.
type settlementEventPayload struct {
	SettlementID     uuid.UUID  `json:"settlement_id"`
	PaymentAttemptID *uuid.UUID `json:"payment_attempt_id,omitempty"`
	Status           string     `json:"status"`
	Attempts         int        `json:"attempts"`
	TxHash           string     `json:"tx_hash,omitempty"`
	Network          string     `json:"network,omitempty"`
	Payer            string     `json:"payer,omitempty"`
	Error            string     `json:"error,omitempty"`
}

func (w *SettlementWorker) afterTerminal(
	ctx context.Context,
	s *domain.Settlement,
	upd domain.SettlementUpdate,
	result domain.SettleResult,
	action domain.AuditAction,
	eventType string,
) {
	payload := settlementEventPayload{
		SettlementID:     s.ID,
		PaymentAttemptID: s.PaymentAttemptID,
		Status:           string(upd.Status),
		Attempts:         upd.Attempts,
	}
	if upd.TxHash != nil {
		payload.TxHash = *upd.TxHash
	}
	if upd.LastError != nil {
		payload.Error = *upd.LastError
	}
	switch r := result.(type) {
	case domain.Settled:
		payload.Network, payload.Payer = r.Network, r.Payer
	case domain.Rejected:
		payload.Network, payload.Payer = r.Network, r.Payer
	}
	body, _ := json.Marshal(payload)

	if w.audit != nil {
		w.audit.Log(ctx, &domain.AuditLog{
			Action:       action,
			ResourceType: "settlement",
			ResourceID:   s.ID.String(),
			Details:      string(body),
			Actor:        w.cfg.WorkerID,
		})
	}

	if w.events == nil || s.SellerID == nil {
		return
	}
	event := &domain.WebhookEvent{
		ID:           uuid.New(),
		EventType:    eventType,
		SellerID:     *s.SellerID,
		ResourceType: "settlement",
		ResourceID:   s.ID.String(),
		Payload:      body,
		CreatedAt:    w.now().UTC(),
	}
	if _, err := w.events.TriggerEvent(ctx, event); err != nil {
		w.log.Warn().Err(err).Str("settlement_id", s.ID.String()).Str("event_type", eventType).Msg("raise settlement event")
	}
}
