package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Settlements (SET) ----

func ErrMalformedSettlementRequest(err error) *AppError {
	return Wrap("SET_001", "Malformed facilitator request", http.StatusBadRequest, err)
}

func ErrSettlementNotFailed() *AppError {
	return New("SET_002", "Only failed settlements can be retried", http.StatusConflict)
}

// ErrNotFound reports a missing entity by name.
func ErrNotFound(entity string) *AppError {
	return New("SET_004", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- Webhooks (WH) ----

func ErrInsecureWebhookURL() *AppError {
	return New("WH_001", "Webhook URL must be an absolute https URL", http.StatusBadRequest)
}

func ErrUnknownEventType(eventType string) *AppError {
	return New("WH_002", fmt.Sprintf("Unknown event type %q", eventType), http.StatusBadRequest)
}

// ---- Facilitator (FAC) ----

func ErrFacilitatorUnavailable(err error) *AppError {
	return Wrap("FAC_001", "Facilitator request failed", http.StatusBadGateway, err)
}

// ---- Authentication (AUTH) ----

func ErrInvalidCredentials() *AppError {
	return New("AUTH_001", "Invalid credentials", http.StatusUnauthorized)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_003", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("SYS_003", "Encryption service failure", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a request validation error.
func Validation(message string) *AppError {
	return New("SET_003", message, http.StatusBadRequest)
}
