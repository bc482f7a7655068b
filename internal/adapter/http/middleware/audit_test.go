package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"settlement-pipeline/internal/core/domain"
	"settlement-pipeline/internal/core/ports/mocks"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

func TestAuditContext_SetsClientIP(t *testing.T) {
	router := gin.New()
	router.Use(AuditContext())
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, domain.ClientIPFromContext(c.Request.Context()))
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "198.51.100.4:5555"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "198.51.100.4", w.Body.String())
}

func TestAuditDenied_RecordsUnauthorized(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockAudit := mocks.NewMockAuditService(ctrl)

	mockAudit.EXPECT().Log(gomock.Any(), gomock.Any()).Do(func(_ context.Context, entry *domain.AuditLog) {
		assert.Equal(t, domain.AuditActionAccessDenied, entry.Action)
		assert.Equal(t, "/api/v1/settlements/:id", entry.ResourceID)
		assert.Equal(t, "anonymous", entry.Actor)
		assert.JSONEq(t, `{"method":"GET","path":"/api/v1/settlements/abc","status":401}`, entry.Details)
	})

	router := gin.New()
	router.Use(AuditDenied(mockAudit))
	router.GET("/api/v1/settlements/:id", func(c *gin.Context) {
		c.AbortWithStatus(http.StatusUnauthorized)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/settlements/abc", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuditDenied_IgnoresOtherStatuses(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockAudit := mocks.NewMockAuditService(ctrl) // no calls expected

	router := gin.New()
	router.Use(AuditDenied(mockAudit))
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for _, path := range []string{"/ok", "/missing"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}
}
