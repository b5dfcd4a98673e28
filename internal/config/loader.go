package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "paracle.yaml"

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "*",
		},
		Postgres: Postgres{
			MaxConns:        8,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 15 * time.Minute,
		},
		Logging: Logging{
			Level:   "info",
			Service: "paracle-orchestrator",
		},
		Resilience: Resilience{
			FailureThreshold:   5,
			SuccessThreshold:   2,
			RecoveryTimeout:    30 * time.Second,
			MaxAttempts:        3,
			Backoff:            "exponential",
			InitialDelay:       100 * time.Millisecond,
			MaxDelay:           30 * time.Second,
			JitterFactor:       0.1,
			MaxConcurrentCalls: 8,
			StepTimeout:        2 * time.Minute,
		},
		Approval: Approval{
			DefaultTimeout: time.Hour,
			SweepInterval:  30 * time.Second,
		},
		Engine: Engine{
			MaxParallel: 4,
		},
		Cache: Cache{
			MaxSizeMB: 32,
			TTL:       5 * time.Minute,
		},
		Workflows: Workflows{
			Dir: "workflows",
		},
	}
}

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PARACLE_PORT")
	setString(&cfg.Server.CORSOrigin, "PARACLE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "PARACLE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "PARACLE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "PARACLE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "PARACLE_PG_MAX_CONN_IDLE_TIME")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "PARACLE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "PARACLE_LOG_SERVICE")

	setInt(&cfg.Resilience.FailureThreshold, "PARACLE_BREAKER_FAILURE_THRESHOLD")
	setInt(&cfg.Resilience.SuccessThreshold, "PARACLE_BREAKER_SUCCESS_THRESHOLD")
	setDuration(&cfg.Resilience.RecoveryTimeout, "PARACLE_BREAKER_RECOVERY_TIMEOUT")
	setInt(&cfg.Resilience.MaxAttempts, "PARACLE_RETRY_MAX_ATTEMPTS")
	setString(&cfg.Resilience.Backoff, "PARACLE_RETRY_BACKOFF")
	setDuration(&cfg.Resilience.InitialDelay, "PARACLE_RETRY_INITIAL_DELAY")
	setDuration(&cfg.Resilience.MaxDelay, "PARACLE_RETRY_MAX_DELAY")
	setFloat64(&cfg.Resilience.JitterFactor, "PARACLE_RETRY_JITTER")
	setInt(&cfg.Resilience.MaxConcurrentCalls, "PARACLE_BULKHEAD_MAX_CONCURRENT")
	setDuration(&cfg.Resilience.StepTimeout, "PARACLE_STEP_TIMEOUT")

	setDuration(&cfg.Approval.DefaultTimeout, "PARACLE_APPROVAL_TIMEOUT")
	setDuration(&cfg.Approval.SweepInterval, "PARACLE_APPROVAL_SWEEP_INTERVAL")

	setInt(&cfg.Engine.MaxParallel, "PARACLE_ENGINE_MAX_PARALLEL")

	setInt64(&cfg.Cache.MaxSizeMB, "PARACLE_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "PARACLE_CACHE_TTL")

	setString(&cfg.Telemetry.OTLPEndpoint, "PARACLE_OTLP_ENDPOINT")
	setString(&cfg.Workflows.Dir, "PARACLE_WORKFLOWS_DIR")
}

func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server port is required")
	}
	if cfg.Resilience.MaxAttempts < 1 {
		return errors.New("resilience max_attempts must be >= 1")
	}
	if cfg.Resilience.JitterFactor < 0 || cfg.Resilience.JitterFactor > 1 {
		return errors.New("resilience jitter_factor must be in [0, 1]")
	}
	switch cfg.Resilience.Backoff {
	case "fixed", "linear", "exponential":
	default:
		return fmt.Errorf("unknown backoff strategy %q", cfg.Resilience.Backoff)
	}
	if cfg.Approval.DefaultTimeout <= 0 {
		return errors.New("approval default_timeout must be positive")
	}
	if cfg.Engine.MaxParallel < 1 {
		return errors.New("engine max_parallel must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
