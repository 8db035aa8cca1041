package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crew.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/crew
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("http_port = %d, want 8080", cfg.Server.HTTPPort)
	}
	if cfg.Session.IdleTTL != 30*time.Minute {
		t.Errorf("idle_ttl = %v, want 30m", cfg.Session.IdleTTL)
	}
	if cfg.Credits.SessionCap != 50 {
		t.Errorf("session_cap = %d, want 50", cfg.Credits.SessionCap)
	}
	if cfg.Team.MaxHandoffs != 5 {
		t.Errorf("max_handoffs = %d, want 5", cfg.Team.MaxHandoffs)
	}
	if cfg.Jobs.SweepSchedule != "@every 5m" {
		t.Errorf("sweep_schedule = %q", cfg.Jobs.SweepSchedule)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("CREW_TEST_API_KEY", "key-from-env")
	path := writeConfig(t, `
models:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: ${CREW_TEST_API_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Models.Providers["anthropic"].APIKey; got != "key-from-env" {
		t.Errorf("api_key = %q, want key-from-env", got)
	}
}

func TestLoadValidatesDefaultProvider(t *testing.T) {
	path := writeConfig(t, `
models:
  default_provider: openai
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "default_provider") {
		t.Fatalf("expected default_provider error, got %v", err)
	}
}

func TestLoadValidatesFallbacks(t *testing.T) {
	path := writeConfig(t, `
models:
  default_provider: anthropic
  fallbacks: [openai]
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "fallbacks") {
		t.Fatalf("expected fallbacks error, got %v", err)
	}
}

func TestLoadValidatesLoggingFormat(t *testing.T) {
	path := writeConfig(t, `
logging:
  format: xml
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "logging.format") {
		t.Fatalf("expected logging.format error, got %v", err)
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := validate(cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
