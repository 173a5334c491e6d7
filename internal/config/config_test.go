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
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "database:\n  url: postgres://localhost/warmup\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.URL != "postgres://localhost/warmup" {
		t.Errorf("Database.URL = %q", cfg.Database.URL)
	}
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8080 {
		t.Errorf("server defaults = %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.BusinessHours.Start != 9 || cfg.BusinessHours.End != 18 {
		t.Errorf("business hours defaults = %d-%d", cfg.BusinessHours.Start, cfg.BusinessHours.End)
	}
	if cfg.Bands.PeakWeight != 0.60 || cfg.Bands.NormalWeight != 0.30 || cfg.Bands.LowWeight != 0.10 {
		t.Errorf("band weight defaults = %v/%v/%v",
			cfg.Bands.PeakWeight, cfg.Bands.NormalWeight, cfg.Bands.LowWeight)
	}
	if got := cfg.Intervals.Dispatch(); got != 2*time.Minute {
		t.Errorf("dispatch interval = %v", got)
	}
	if got := cfg.Plan.GraceWindow(); got != 5*time.Minute {
		t.Errorf("grace window = %v", got)
	}
	if got := cfg.Plan.FireWindow(); got != 2*time.Minute {
		t.Errorf("fire window = %v", got)
	}
	if got := cfg.Plan.Retention(); got != 7*24*time.Hour {
		t.Errorf("retention = %v", got)
	}
	if cfg.Engagement.StarProbability != 0.20 {
		t.Errorf("star probability = %v", cfg.Engagement.StarProbability)
	}
	if got := cfg.Engagement.OpenDelayMax(); got != 10*time.Minute {
		t.Errorf("open delay max = %v", got)
	}
	if cfg.Score.WindowDays != 30 {
		t.Errorf("score window = %d", cfg.Score.WindowDays)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  port: 9090
business_hours:
  start: 8
  end: 17
plan:
  grace_window_seconds: 600
intervals:
  dispatch_seconds: 60
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 9090 {
		t.Errorf("server = %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.BusinessHours.Start != 8 || cfg.BusinessHours.End != 17 {
		t.Errorf("business hours = %d-%d", cfg.BusinessHours.Start, cfg.BusinessHours.End)
	}
	if got := cfg.Plan.GraceWindow(); got != 10*time.Minute {
		t.Errorf("grace window = %v", got)
	}
	if got := cfg.Intervals.Dispatch(); got != time.Minute {
		t.Errorf("dispatch interval = %v", got)
	}
	// Untouched sections still get defaults.
	if cfg.Plan.FireWindowSeconds != 120 {
		t.Errorf("fire window seconds = %d", cfg.Plan.FireWindowSeconds)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	path := writeConfig(t, "database:\n  url: postgres://file/db\n")

	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("REDIS_URL", "redis://env:6379")
	t.Setenv("GOOGLE_CLIENT_ID", "env-client-id")

	cfg, err := LoadFromEnv(path)
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	if cfg.Database.URL != "postgres://env/db" {
		t.Errorf("Database.URL = %q, want env override", cfg.Database.URL)
	}
	if cfg.Redis.URL != "redis://env:6379" {
		t.Errorf("Redis.URL = %q", cfg.Redis.URL)
	}
	if cfg.Google.ClientID != "env-client-id" {
		t.Errorf("Google.ClientID = %q", cfg.Google.ClientID)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load should fail on a missing file")
	}
}
