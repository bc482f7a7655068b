package service

import (
	"context"
	"fmt"
	"time"

	"settlement-pipeline/internal/core/domain"
	"settlement-pipeline/internal/core/ports"
	"settlement-pipeline/pkg/apperror"

	"github.com/google/uuid"
)

type settlementService struct {
	repo     ports.SettlementRepository
	auditSvc ports.AuditService
	now      func() time.Time
}

// NewSettlementService creates the operator-facing settlement queue service.
func NewSettlementService(repo ports.SettlementRepository, auditSvc ports.AuditService) ports.SettlementService {
	return &settlementService{
		repo:     repo,
		auditSvc: auditSvc,
		now:      time.Now,
	}
}

// Enqueue validates the facilitator request and inserts a queued settlement.
// Requests the worker could never replay are rejected here.
func (s *settlementService) Enqueue(ctx context.Context, req ports.EnqueueSettlementRequest) (*domain.Settlement, error) {
	if _, err := domain.DecodeFacilitatorRequest(req.FacilitatorRequest); err != nil {
		return nil, apperror.ErrMalformedSettlementRequest(err)
	}

	now := s.now().UTC()
	settlement := &domain.Settlement{
		ID:                 uuid.New(),
		PaymentAttemptID:   req.PaymentAttemptID,
		SellerID:           req.SellerID,
		FacilitatorRequest: req.FacilitatorRequest,
		Status:             domain.SettlementStatusQueued,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.repo.Create(ctx, settlement); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create settlement: %w", err))
	}

	s.auditSvc.Log(ctx, &domain.AuditLog{
		Action:       domain.AuditActionSettlementEnqueued,
		ResourceType: "settlement",
		ResourceID:   settlement.ID.String(),
		Actor:        req.Actor,
	})

	return settlement, nil
}

func (s *settlementService) Get(ctx context.Context, id uuid.UUID) (*domain.Settlement, error) {
	settlement, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if settlement == nil {
		return nil, apperror.ErrNotFound("settlement")
	}
	return settlement, nil
}

// Retry resets a failed settlement to queued with attempts=0.
func (s *settlementService) Retry(ctx context.Context, id uuid.UUID, actor string) (*domain.Settlement, error) {
	reset, err := s.repo.ResetFailed(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("reset settlement: %w", err))
	}

	settlement, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if settlement == nil {
		return nil, apperror.ErrNotFound("settlement")
	}
	if !reset {
		return nil, apperror.ErrSettlementNotFailed()
	}

	s.auditSvc.Log(ctx, &domain.AuditLog{
		Action:       domain.AuditActionSettlementReset,
		ResourceType: "settlement",
		ResourceID:   id.String(),
		Actor:        actor,
	})

	return settlement, nil
}

// Stats returns the number of settlements in every status.
func (s *settlementService) Stats(ctx context.Context) (map[domain.SettlementStatus]int64, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("count settlements: %w", err))
	}
	return counts, nil
}
