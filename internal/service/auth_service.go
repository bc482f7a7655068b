package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"settlement-pipeline/internal/core/domain"
	"settlement-pipeline/internal/core/ports"
	"settlement-pipeline/pkg/apperror"
)

// AuthServiceImpl implements ports.AuthService for the single admin operator.
type AuthServiceImpl struct {
	username     string
	passwordHash string
	hashSvc      ports.HashService
	tokenSvc     ports.TokenService
	auditSvc     ports.AuditService
}

// NewAuthService creates a new AuthServiceImpl.
func NewAuthService(
	username string,
	passwordHash string,
	hashSvc ports.HashService,
	tokenSvc ports.TokenService,
	auditSvc ports.AuditService,
) *AuthServiceImpl {
	return &AuthServiceImpl{
		username:     username,
		passwordHash: passwordHash,
		hashSvc:      hashSvc,
		tokenSvc:     tokenSvc,
		auditSvc:     auditSvc,
	}
}

// Login validates operator credentials and returns a JWT token.
func (s *AuthServiceImpl) Login(ctx context.Context, username, password string) (string, time.Time, error) {
	if s.username == "" || s.passwordHash == "" {
		return "", time.Time{}, apperror.ErrInvalidCredentials()
	}
	if subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) != 1 {
		return "", time.Time{}, apperror.ErrInvalidCredentials()
	}

	valid, err := s.hashSvc.Verify(password, s.passwordHash)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("verify password: %w", err))
	}
	if !valid {
		return "", time.Time{}, apperror.ErrInvalidCredentials()
	}

	token, expiry, err := s.tokenSvc.Generate(s.username)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("generate token: %w", err))
	}

	s.auditSvc.Log(ctx, &domain.AuditLog{
		Action:       domain.AuditActionLogin,
		ResourceType: "operator",
		ResourceID:   s.username,
		Actor:        s.username,
	})

	return token, expiry, nil
}
