package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the PALMS pipeline server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Worker   WorkerConfig
	Pipeline PipelineConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	RateLimitPerMin int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// WorkerConfig points at the external AI worker. Timeout bounds the awaited
// calls (tagging, custom-prompt extension); the translation dispatch is
// fire-and-forget and uses the same timeout for its detached request.
type WorkerConfig struct {
	BaseURL string
	Timeout time.Duration
}

type PipelineConfig struct {
	// BulkBatchSize caps the rows per INSERT in the tree inserter, keeping
	// bulk statements under the database's parameter-count limit.
	BulkBatchSize int
	// BulkTxTimeout is applied as the statement timeout inside a bulk
	// insert transaction.
	BulkTxTimeout time.Duration
	// StaleJobSweepInterval enables a periodic sweep marking jobs that
	// never received a callback as failed. Zero disables the sweep.
	StaleJobSweepInterval time.Duration
	// StaleJobAge is how old a non-terminal job must be before the sweep
	// fails it.
	StaleJobAge time.Duration
}

// Load reads configuration from environment variables and returns a validated
// Config. Returns an error with a descriptive message if any required value
// is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("PALMS_PORT", 8080),
			Env:             envString("PALMS_ENV", "development"),
			RateLimitPerMin: envInt("PALMS_RATE_LIMIT_PER_MIN", 120),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Worker: WorkerConfig{
			BaseURL: os.Getenv("PALMS_WORKER_BASE_URL"),
			Timeout: envDuration("PALMS_WORKER_TIMEOUT", 120*time.Second),
		},
		Pipeline: PipelineConfig{
			BulkBatchSize:         envInt("PALMS_BULK_BATCH_SIZE", 500),
			BulkTxTimeout:         envDuration("PALMS_BULK_TX_TIMEOUT", 5*time.Minute),
			StaleJobSweepInterval: envDuration("PALMS_STALE_JOB_SWEEP_INTERVAL", 0),
			StaleJobAge:           envDuration("PALMS_STALE_JOB_AGE", 60*time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Worker.BaseURL == "" {
		return fmt.Errorf("PALMS_WORKER_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Worker.BaseURL, "http://") && !strings.HasPrefix(c.Worker.BaseURL, "https://") {
		return fmt.Errorf("PALMS_WORKER_BASE_URL must start with http:// or https://, got %q", c.Worker.BaseURL)
	}
	if _, err := url.Parse(c.Worker.BaseURL); err != nil {
		return fmt.Errorf("PALMS_WORKER_BASE_URL is not a valid URL: %w", err)
	}

	if c.Pipeline.BulkBatchSize <= 0 {
		return fmt.Errorf("PALMS_BULK_BATCH_SIZE must be positive, got %d", c.Pipeline.BulkBatchSize)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
