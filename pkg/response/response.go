package response

import (
	"errors"
	"net/http"
	"time"

	"settlement-pipeline/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// requestIDKey matches the key middleware.RequestID stores under.
const requestIDKey = "request_id"

// SuccessResponse wraps every 2xx payload.
type SuccessResponse struct {
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id"`
	Timestamp string      `json:"timestamp"`
}

// ErrorResponse is the body of every non-2xx reply. Retryable marks
// failures a caller may resubmit unchanged: rate limiting, facilitator
// outages and degraded dependencies.
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

func OK(c *gin.Context, data interface{})       { success(c, http.StatusOK, data) }
func Created(c *gin.Context, data interface{})  { success(c, http.StatusCreated, data) }
func Accepted(c *gin.Context, data interface{}) { success(c, http.StatusAccepted, data) }

// Error renders err. An *apperror.AppError anywhere in the chain supplies
// status, code and message; anything else is a SYS_000 500 with no detail.
func Error(c *gin.Context, err error) {
	status, code, msg := http.StatusInternalServerError, "SYS_000", "Internal server error"

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status, code, msg = appErr.HTTPStatus, appErr.Code, appErr.Message
	}

	c.JSON(status, ErrorResponse{
		ErrorCode: code,
		Message:   msg,
		Retryable: retryable(status),
		RequestID: requestID(c),
		Timestamp: now(),
	})
}

func success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, SuccessResponse{Data: data, RequestID: requestID(c), Timestamp: now()})
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable:
		return true
	}
	return false
}

func requestID(c *gin.Context) string {
	if id := c.GetString(requestIDKey); id != "" {
		return id
	}
	return uuid.NewString()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
