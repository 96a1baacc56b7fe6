package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  env: development
postgres:
  host: localhost
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Scheduler.MaxBatchSize != 10 {
		t.Fatalf("expected batch size 10, got %d", cfg.Scheduler.MaxBatchSize)
	}
	if cfg.Scheduler.TickInterval != time.Minute {
		t.Fatalf("expected tick interval 1m, got %s", cfg.Scheduler.TickInterval)
	}
	if cfg.CallBridge.BaseURL != "https://api.vapi.ai" || cfg.CallBridge.CallsPath != "/v1/call" {
		t.Fatalf("unexpected call bridge defaults: %+v", cfg.CallBridge)
	}
	if cfg.CallBridge.RequestTimeout != 10*time.Second {
		t.Fatalf("expected 10s dispatch timeout, got %s", cfg.CallBridge.RequestTimeout)
	}
}

func TestLoadReadsEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
app:
  env: development
scheduler:
  max_batch_size: 25
`)
	t.Setenv("OUTREACH_SCHEDULER_MAX_BATCH_SIZE", "4")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Scheduler.MaxBatchSize != 4 {
		t.Fatalf("expected env override to win, got %d", cfg.Scheduler.MaxBatchSize)
	}
}

func TestValidateRejectsProductionWithoutSecret(t *testing.T) {
	cfg := &Config{
		App:        AppConfig{Env: "production"},
		CallBridge: CallBridgeConfig{ProviderName: "mock"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing webhook secret to fail in production")
	}

	cfg.Webhook.AllowUnverified = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected allow_unverified to pass, got %v", err)
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := &Config{CallBridge: CallBridgeConfig{ProviderName: "carrier-pigeon"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown provider to fail")
	}
}

func TestSchedulerLocation(t *testing.T) {
	loc, err := SchedulerConfig{TimeZone: "America/New_York"}.Location()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc.String() != "America/New_York" {
		t.Fatalf("unexpected location %s", loc)
	}

	if _, err := (SchedulerConfig{TimeZone: "Mars/Olympus"}).Location(); err == nil {
		t.Fatalf("expected unknown zone to fail")
	}
}
