// Package config loads process settings from STOCKCORE_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ServiceName    = "stockcore"
	ServiceVersion = "0.1.0"
)

const (
	DefaultHTTPAddr       = ":8080"
	DefaultSQLitePath     = "stockcore.db"
	DefaultLockTimeout    = 5 * time.Second
	DefaultOrdersTopic    = "stock.orders"
	DefaultMovementsTopic = "stock.movements"
	DefaultExportPrefix   = "exports/"
	BatchTimeout          = 10 * time.Millisecond
	BatchSize             = 100
)

const (
	LogsPath      = "/v1/logs"
	TracesPath    = "/v1/traces"
	ExportTimeout = 30 * time.Second
	MaxQueueSize  = 2048
)

// Config is the resolved process configuration.
type Config struct {
	HTTPAddr string

	StorageDriver string
	SQLitePath    string
	PostgresDSN   string
	LockTimeout   time.Duration
	Seed          bool

	OtelEnabled    bool
	OtelEndpoint   string
	OtelAuthHeader string
	OtelInsecure   bool

	KafkaBrokers   []string
	OrdersTopic    string
	MovementsTopic string

	RedisAddr      string
	IdempotencyTTL time.Duration

	BlobDriver   string
	BlobRoot     string
	BlobBucket   string
	BlobRegion   string
	BlobEndpoint string
	ExportPrefix string
}

// LoadConfig reads the environment. Unset values fall back to defaults;
// malformed or inconsistent values are errors.
func LoadConfig() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		HTTPAddr:       orDefault(getenv("STOCKCORE_HTTP_ADDR"), DefaultHTTPAddr),
		StorageDriver:  orDefault(strings.ToLower(getenv("STOCKCORE_STORAGE_DRIVER")), "sqlite"),
		SQLitePath:     orDefault(getenv("STOCKCORE_SQLITE_PATH"), DefaultSQLitePath),
		PostgresDSN:    getenv("STOCKCORE_POSTGRES_DSN"),
		OtelEndpoint:   getenv("STOCKCORE_OTEL_ENDPOINT"),
		OtelAuthHeader: getenv("STOCKCORE_OTEL_AUTH_HEADER"),
		KafkaBrokers:   splitList(getenv("STOCKCORE_KAFKA_BROKERS")),
		OrdersTopic:    orDefault(getenv("STOCKCORE_KAFKA_ORDERS_TOPIC"), DefaultOrdersTopic),
		MovementsTopic: orDefault(getenv("STOCKCORE_KAFKA_MOVEMENTS_TOPIC"), DefaultMovementsTopic),
		RedisAddr:      getenv("STOCKCORE_REDIS_ADDR"),
		BlobDriver:     orDefault(strings.ToLower(getenv("STOCKCORE_BLOB_DRIVER")), "memory"),
		BlobRoot:       getenv("STOCKCORE_BLOB_ROOT"),
		BlobBucket:     getenv("STOCKCORE_BLOB_BUCKET"),
		BlobRegion:     orDefault(getenv("STOCKCORE_BLOB_REGION"), "us-east-1"),
		BlobEndpoint:   getenv("STOCKCORE_BLOB_ENDPOINT"),
		ExportPrefix:   orDefault(getenv("STOCKCORE_EXPORT_PREFIX"), DefaultExportPrefix),
	}
	var err error
	if cfg.LockTimeout, err = parseDuration(getenv, "STOCKCORE_LOCK_TIMEOUT", DefaultLockTimeout); err != nil {
		return nil, err
	}
	if cfg.IdempotencyTTL, err = parseDuration(getenv, "STOCKCORE_IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Seed, err = parseBool(getenv, "STOCKCORE_SEED"); err != nil {
		return nil, err
	}
	if cfg.OtelEnabled, err = parseBool(getenv, "STOCKCORE_OTEL_ENABLED"); err != nil {
		return nil, err
	}
	if cfg.OtelInsecure, err = parseBool(getenv, "STOCKCORE_OTEL_INSECURE"); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations that cannot start.
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case "memory", "sqlite":
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("STOCKCORE_POSTGRES_DSN is required when STOCKCORE_STORAGE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("STOCKCORE_LOCK_TIMEOUT must be positive")
	}
	if c.OtelEnabled && c.OtelEndpoint == "" {
		return fmt.Errorf("STOCKCORE_OTEL_ENDPOINT is required when STOCKCORE_OTEL_ENABLED=true")
	}
	switch c.BlobDriver {
	case "memory":
	case "fs":
		if c.BlobRoot == "" {
			return fmt.Errorf("STOCKCORE_BLOB_ROOT is required when STOCKCORE_BLOB_DRIVER=fs")
		}
	case "s3":
		if c.BlobBucket == "" {
			return fmt.Errorf("STOCKCORE_BLOB_BUCKET is required when STOCKCORE_BLOB_DRIVER=s3")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.BlobDriver)
	}
	return nil
}

// KafkaEnabled reports whether lifecycle events are published.
func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseDuration(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	raw := getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func parseBool(getenv func(string) string, key string) (bool, error) {
	raw := getenv(key)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
