package service

import (
	"context"
	"errors"
	"testing"

	"settlement-pipeline/internal/core/domain"
	"settlement-pipeline/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

func TestAuditService_Log_PersistsToRepo(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockRepo := mocks.NewMockAuditRepository(ctrl)
	svc := NewAuditService(mockRepo, newTestLogger())

	resourceID := uuid.NewString()
	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, entry *domain.AuditLog) error {
			assert.Equal(t, domain.AuditActionSettlementReset, entry.Action)
			assert.Equal(t, resourceID, entry.ResourceID)
			assert.Equal(t, "admin", entry.Actor)
			assert.NotEqual(t, uuid.Nil, entry.ID)
			assert.False(t, entry.CreatedAt.IsZero())
			return nil
		},
	)

	svc.Log(context.Background(), &domain.AuditLog{
		Action:       domain.AuditActionSettlementReset,
		ResourceType: "settlement",
		ResourceID:   resourceID,
		Actor:        "admin",
	})
}

func TestAuditService_Log_RepoErrorIsSwallowed(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockRepo := mocks.NewMockAuditRepository(ctrl)
	svc := NewAuditService(mockRepo, newTestLogger())

	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("db down"))

	assert.NotPanics(t, func() {
		svc.Log(context.Background(), &domain.AuditLog{Action: domain.AuditActionLogin, ResourceType: "operator", Actor: "admin"})
	})
}

func TestAuditService_Log_SurvivesCanceledContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockRepo := mocks.NewMockAuditRepository(ctrl)
	svc := NewAuditService(mockRepo, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ *domain.AuditLog) error {
			assert.NoError(t, ctx.Err())
			return nil
		},
	)
	svc.Log(ctx, &domain.AuditLog{Action: domain.AuditActionSettlementFailed, ResourceType: "settlement", Actor: "worker-1"})
}

func TestAuditService_Log_NilRepo(t *testing.T) {
	svc := NewAuditService(nil, newTestLogger())
	assert.NotPanics(t, func() {
		svc.Log(context.Background(), &domain.AuditLog{Action: domain.AuditActionLogin})
	})
}

func TestAuditService_Log_TakesClientIPFromContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockRepo := mocks.NewMockAuditRepository(ctrl)
	svc := NewAuditService(mockRepo, newTestLogger())

	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, entry *domain.AuditLog) error {
			assert.Equal(t, "203.0.113.7", entry.IPAddress)
			return nil
		},
	)
	ctx := domain.ContextWithClientIP(context.Background(), "203.0.113.7")
	svc.Log(ctx, &domain.AuditLog{Action: domain.AuditActionLogin, ResourceType: "operator", Actor: "admin"})
}
