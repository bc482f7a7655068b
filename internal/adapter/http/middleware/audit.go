package middleware

import (
	"encoding/json"
	"net/http"

	"settlement-pipeline/internal/core/domain"
	"settlement-pipeline/internal/core/ports"

	"github.com/gin-gonic/gin"
)

// AuditContext carries the client IP into the request context so audit
// entries written by services record it.
func AuditContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(domain.ContextWithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}

// AuditDenied records rejected authentication and rate-limited requests.
// Successful operations are audited by the services themselves.
func AuditDenied(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status != http.StatusUnauthorized && status != http.StatusTooManyRequests {
			return
		}

		actor := Operator(c)
		if actor == "" {
			actor = "anonymous"
		}
		details, _ := json.Marshal(map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": status,
		})

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			Action:       domain.AuditActionAccessDenied,
			ResourceType: "http_route",
			ResourceID:   routeOrPath(c),
			Details:      string(details),
			Actor:        actor,
			IPAddress:    c.ClientIP(),
		})
	}
}

func routeOrPath(c *gin.Context) string {
	if r := c.FullPath(); r != "" {
		return r
	}
	return c.Request.URL.Path
}
