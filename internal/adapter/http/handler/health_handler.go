package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"settlement-pipeline/internal/core/ports"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// healthCheckTimeout bounds each dependency probe so a hung Redis does not
// hold the load balancer's probe past its own deadline.
const healthCheckTimeout = 2 * time.Second

type dependencyHealth struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthCheck handles GET /health. Dependencies are probed concurrently; any
// failure turns the reply into a 503 "degraded".
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			mu   sync.Mutex
			deps = make(map[string]dependencyHealth, len(checkers))
		)

		var g errgroup.Group
		for _, checker := range checkers {
			g.Go(func() error {
				res := probe(c.Request.Context(), checker)
				mu.Lock()
				deps[checker.Name()] = res
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		status, code := "healthy", http.StatusOK
		for _, d := range deps {
			if d.Status != "healthy" {
				status, code = "degraded", http.StatusServiceUnavailable
				break
			}
		}

		c.JSON(code, gin.H{"status": status, "dependencies": deps})
	}
}

func probe(ctx context.Context, checker ports.HealthChecker) dependencyHealth {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	start := time.Now()
	err := checker.Ping(ctx)
	res := dependencyHealth{Status: "healthy", LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status, res.Error = "unhealthy", err.Error()
	}
	return res
}
