package config

import (
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("NICONICO_CONNECT_TIMEOUT", "9s")
	t.Setenv("NICONICO_INITIAL_BACKLOG", "50")
	t.Setenv("NICONICO_USER_AGENT", "test-agent")

	cfg := DefaultConfig()
	cfg.loadFromEnv()

	if cfg.ConnectTimeout != 9*time.Second {
		t.Errorf("expected 9s connect timeout, got %v", cfg.ConnectTimeout)
	}
	if cfg.InitialBacklog != 50 {
		t.Errorf("expected backlog 50, got %d", cfg.InitialBacklog)
	}
	if cfg.UserAgent != "test-agent" {
		t.Errorf("expected test-agent, got %q", cfg.UserAgent)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero connect timeout", func(c *Config) { c.ConnectTimeout = 0 }},
		{"zero post timeout", func(c *Config) { c.PostTimeout = 0 }},
		{"negative backlog", func(c *Config) { c.InitialBacklog = -1 }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
		{"backoff order", func(c *Config) { c.MaxBackoff = c.InitialBackoff / 2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
