package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	if cfg.Server.Port != "8080" {
		t.Errorf("port = %q", cfg.Server.Port)
	}
	if cfg.Resilience.MaxAttempts != 3 {
		t.Errorf("max_attempts = %d", cfg.Resilience.MaxAttempts)
	}
	if cfg.Resilience.Backoff != "exponential" {
		t.Errorf("backoff = %q", cfg.Resilience.Backoff)
	}
	if cfg.Approval.DefaultTimeout != time.Hour {
		t.Errorf("approval timeout = %v", cfg.Approval.DefaultTimeout)
	}
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadFrom_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("port = %q, want default", cfg.Server.Port)
	}
}

func TestLoadFrom_YAMLOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "paracle.yaml")
	yaml := `
server:
  port: "9090"
resilience:
  max_attempts: 5
  backoff: linear
approval:
  default_timeout: 2h
engine:
  max_parallel: 8
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("port = %q", cfg.Server.Port)
	}
	if cfg.Resilience.MaxAttempts != 5 {
		t.Errorf("max_attempts = %d", cfg.Resilience.MaxAttempts)
	}
	if cfg.Resilience.Backoff != "linear" {
		t.Errorf("backoff = %q", cfg.Resilience.Backoff)
	}
	if cfg.Approval.DefaultTimeout != 2*time.Hour {
		t.Errorf("approval timeout = %v", cfg.Approval.DefaultTimeout)
	}
	// Untouched keys keep their defaults.
	if cfg.Resilience.FailureThreshold != 5 {
		t.Errorf("failure_threshold = %d, want default", cfg.Resilience.FailureThreshold)
	}
}

func TestLoadFrom_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paracle.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: \"9090\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("PARACLE_PORT", "7070")
	t.Setenv("PARACLE_RETRY_MAX_ATTEMPTS", "7")
	t.Setenv("PARACLE_RETRY_JITTER", "0.25")
	t.Setenv("PARACLE_STEP_TIMEOUT", "45s")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("port = %q, env must beat yaml", cfg.Server.Port)
	}
	if cfg.Resilience.MaxAttempts != 7 {
		t.Errorf("max_attempts = %d", cfg.Resilience.MaxAttempts)
	}
	if cfg.Resilience.JitterFactor != 0.25 {
		t.Errorf("jitter = %v", cfg.Resilience.JitterFactor)
	}
	if cfg.Resilience.StepTimeout != 45*time.Second {
		t.Errorf("step_timeout = %v", cfg.Resilience.StepTimeout)
	}
}

func TestValidate_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }},
		{"zero attempts", func(c *Config) { c.Resilience.MaxAttempts = 0 }},
		{"jitter above one", func(c *Config) { c.Resilience.JitterFactor = 1.5 }},
		{"unknown backoff", func(c *Config) { c.Resilience.Backoff = "random" }},
		{"non-positive approval timeout", func(c *Config) { c.Approval.DefaultTimeout = 0 }},
		{"zero max_parallel", func(c *Config) { c.Engine.MaxParallel = 0 }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := Defaults()
			tt.mutate(&cfg)
			if err := validate(&cfg); err == nil {
				t.Error("validate: want error")
			}
		})
	}
}
