package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SchemaCheck reports the database unhealthy when it is unreachable or when
// golang-migrate left the schema unapplied or dirty. Workers claiming against
// a half-migrated schema would fail every cycle.
type SchemaCheck struct {
	pool Pool
}

func NewHealthCheck(pool Pool) *SchemaCheck {
	return &SchemaCheck{pool: pool}
}

func (h *SchemaCheck) Ping(ctx context.Context) error {
	var (
		version int64
		dirty   bool
	)
	err := h.pool.QueryRow(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return errors.New("schema not migrated")
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case dirty:
		return fmt.Errorf("schema version %d is dirty", version)
	}
	return nil
}

func (h *SchemaCheck) Name() string {
	return "postgresql"
}
