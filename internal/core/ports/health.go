package ports

import "context"

// HealthChecker is one dependency probed by GET /health. Ping must honour
// ctx cancellation; the handler gives each probe a short deadline.
type HealthChecker interface {
	Name() string
	Ping(ctx context.Context) error
}
