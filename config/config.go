package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	AES         AESConfig         `mapstructure:"aes"`
	Log         LogConfig         `mapstructure:"log"`
	Admin       AdminConfig       `mapstructure:"admin"`
	Facilitator FacilitatorConfig `mapstructure:"facilitator"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Webhook     WebhookConfig     `mapstructure:"webhook"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	User             string        `mapstructure:"user"`
	Password         string        `mapstructure:"password"`
	DBName           string        `mapstructure:"dbname"`
	SSLMode          string        `mapstructure:"sslmode"`
	MaxConns         int32         `mapstructure:"max_conns"`
	MinConns         int32         `mapstructure:"min_conns"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"` // 0 keeps the server default
	ApplicationName  string        `mapstructure:"application_name"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// MigrateURL returns the connection string in the form golang-migrate's
// pgx/v5 driver expects.
func (d DatabaseConfig) MigrateURL() string {
	return "pgx5" + strings.TrimPrefix(d.DSN(), "postgres")
}

type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"` // dial, read and write
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type AESConfig struct {
	Key string `mapstructure:"key"` // 32-byte hex-encoded key for AES-256
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// AdminConfig is the single operator account for the admin API.
type AdminConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"` // argon2id encoded
}

type FacilitatorConfig struct {
	BaseURL        string        `mapstructure:"base_url"` // overrides every registry entry when set
	Network        string        `mapstructure:"network"`  // registry key for requests without a network
	ProviderAPIKey string        `mapstructure:"provider_api_key"`
	CDPKeyID       string        `mapstructure:"cdp_key_id"`
	CDPKeySecret   string        `mapstructure:"cdp_key_secret"`
	VerifyTimeout  time.Duration `mapstructure:"verify_timeout"`
	SettleTimeout  time.Duration `mapstructure:"settle_timeout"`
	VerifyRetries  int           `mapstructure:"verify_retries"`
	SettleRetries  int           `mapstructure:"settle_retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
}

type WorkerConfig struct {
	ID           string        `mapstructure:"id"`
	LockTimeout  time.Duration `mapstructure:"lock_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BaseRetry    time.Duration `mapstructure:"base_retry"`
	BatchSize    int           `mapstructure:"batch_size"`
	RunOnce      bool          `mapstructure:"run_once"`
	MetricsAddr  string        `mapstructure:"metrics_addr"` // empty disables /metrics
}

type WebhookConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BatchSize    int           `mapstructure:"batch_size"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Lease        time.Duration `mapstructure:"lease"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: SPL_ (Settlement PipeLine).
// Nested keys use underscore: SPL_DATABASE_HOST, SPL_WORKER_BATCH_SIZE, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "settlement_pipeline")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.statement_timeout", "15s")
	v.SetDefault("database.application_name", "settlement-pipeline")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.timeout", "3s")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "settlement-pipeline")
	v.SetDefault("aes.key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.password_hash", "")
	v.SetDefault("facilitator.base_url", "")
	v.SetDefault("facilitator.network", "default")
	v.SetDefault("facilitator.provider_api_key", "")
	v.SetDefault("facilitator.cdp_key_id", "")
	v.SetDefault("facilitator.cdp_key_secret", "")
	v.SetDefault("facilitator.verify_timeout", "30s")
	v.SetDefault("facilitator.settle_timeout", "20s")
	v.SetDefault("facilitator.verify_retries", 2)
	v.SetDefault("facilitator.settle_retries", 2)
	v.SetDefault("facilitator.retry_backoff", "200ms")
	v.SetDefault("worker.id", "")
	v.SetDefault("worker.lock_timeout", "5m")
	v.SetDefault("worker.poll_interval", "5s")
	v.SetDefault("worker.max_attempts", 5)
	v.SetDefault("worker.base_retry", "30s")
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.run_once", false)
	v.SetDefault("worker.metrics_addr", ":9091")
	v.SetDefault("webhook.timeout", "10s")
	v.SetDefault("webhook.max_attempts", 5)
	v.SetDefault("webhook.batch_size", 10)
	v.SetDefault("webhook.poll_interval", "10s")
	v.SetDefault("webhook.lease", "1m")

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: SPL_DATABASE_HOST -> database.host
	v.SetEnvPrefix("SPL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.Worker.ID == "" {
		cfg.Worker.ID = defaultWorkerID()
	}

	return &cfg, nil
}

// defaultWorkerID identifies this process as hostname-pid.
func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
