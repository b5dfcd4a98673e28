// Package config provides hierarchical configuration loading for the
// orchestrator. Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the orchestrator service.
type Config struct {
	Server     Server     `yaml:"server"`
	Postgres   Postgres   `yaml:"postgres"`
	NATS       NATS       `yaml:"nats"`
	Logging    Logging    `yaml:"logging"`
	Resilience Resilience `yaml:"resilience"`
	Approval   Approval   `yaml:"approval"`
	Engine     Engine     `yaml:"engine"`
	Cache      Cache      `yaml:"cache"`
	Telemetry  Telemetry  `yaml:"telemetry"`
	Workflows  Workflows  `yaml:"workflows"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Postgres holds the workflow definitions store configuration. An empty
// DSN runs the service with the in-memory repository only.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// NATS holds JetStream configuration. An empty URL disables event
// publishing.
type NATS struct {
	URL string `yaml:"url"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// Resilience holds the default settings for the step-call wrapper.
type Resilience struct {
	FailureThreshold   int           `yaml:"failure_threshold"`    // breaker trip threshold (default: 5)
	SuccessThreshold   int           `yaml:"success_threshold"`    // half-open successes to close (default: 2)
	RecoveryTimeout    time.Duration `yaml:"recovery_timeout"`     // open-state hold (default: 30s)
	MaxAttempts        int           `yaml:"max_attempts"`         // retry budget incl. first try (default: 3)
	Backoff            string        `yaml:"backoff"`              // fixed | linear | exponential
	InitialDelay       time.Duration `yaml:"initial_delay"`        // backoff seed (default: 100ms)
	MaxDelay           time.Duration `yaml:"max_delay"`            // backoff cap (default: 30s)
	JitterFactor       float64       `yaml:"jitter_factor"`        // ±fraction of each delay (default: 0.1)
	MaxConcurrentCalls int           `yaml:"max_concurrent_calls"` // bulkhead permits per step; 0 disables
	StepTimeout        time.Duration `yaml:"step_timeout"`         // per-attempt deadline; 0 disables
}

// Approval holds human-in-the-loop defaults.
type Approval struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"` // request expiry (default: 1h)
	SweepInterval  time.Duration `yaml:"sweep_interval"`  // expiry sweep period (default: 30s)
}

// Engine holds workflow execution configuration.
type Engine struct {
	MaxParallel int `yaml:"max_parallel"` // concurrent steps per execution (default: 4)
}

// Cache holds the in-process definitions cache configuration.
type Cache struct {
	MaxSizeMB int64         `yaml:"max_size_mb"` // L1 budget (default: 32)
	TTL       time.Duration `yaml:"ttl"`         // entry lifetime (default: 5m)
}

// Telemetry holds OpenTelemetry export configuration. An empty endpoint
// disables export.
type Telemetry struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Workflows holds the definition loading configuration.
type Workflows struct {
	Dir string `yaml:"dir"` // directory of YAML definitions loaded at boot
}
