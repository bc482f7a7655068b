package postgres

import (
	"testing"
	"time"

	"settlement-pipeline/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseURLs(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "db",
		Port:     5432,
		User:     "settler",
		Password: "s3cret",
		DBName:   "settlements",
		SSLMode:  "disable",
	}

	// NewPool and MigrateUp are fed from the same settings.
	assert.Equal(t, "postgres://settler:s3cret@db:5432/settlements?sslmode=disable", cfg.DSN())
	assert.Equal(t, "pgx5://settler:s3cret@db:5432/settlements?sslmode=disable", cfg.MigrateURL())
}

func TestPoolConfig(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:             "db",
		Port:             5432,
		User:             "settler",
		Password:         "s3cret",
		DBName:           "settlements",
		SSLMode:          "disable",
		MaxConns:         8,
		MinConns:         2,
		ConnMaxLifetime:  10 * time.Minute,
		StatementTimeout: 15 * time.Second,
		ApplicationName:  "settlement-worker",
	}

	poolCfg, err := poolConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, int32(8), poolCfg.MaxConns)
	assert.Equal(t, int32(2), poolCfg.MinConns)
	assert.Equal(t, 10*time.Minute, poolCfg.MaxConnLifetime)
	assert.Equal(t, "15000", poolCfg.ConnConfig.RuntimeParams["statement_timeout"])
	assert.Equal(t, "settlement-worker", poolCfg.ConnConfig.RuntimeParams["application_name"])
}

func TestPoolConfig_ZeroValuesKeepPgxDefaults(t *testing.T) {
	poolCfg, err := poolConfig(config.DatabaseConfig{Host: "db", Port: 5432, User: "u", DBName: "d", SSLMode: "disable"})
	require.NoError(t, err)

	assert.Positive(t, poolCfg.MaxConns)
	assert.NotContains(t, poolCfg.ConnConfig.RuntimeParams, "statement_timeout")
}

func TestPoolConfig_BadDSN(t *testing.T) {
	_, err := poolConfig(config.DatabaseConfig{Host: "db", Port: 5432, SSLMode: "bogus"})
	assert.Error(t, err)
}
