package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadCreatesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	def := DefaultConfig()
	if cfg.Listen != def.Listen || cfg.API.BaseURL != def.API.BaseURL || cfg.Schedule.Refresh != def.Schedule.Refresh {
		t.Errorf("cfg = %+v", cfg)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 600", perm)
	}
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
listen: "0.0.0.0:9000"
week_start: Sunday
api:
  base_url: "https://api.example.com/"
  timeout: 3s
ics:
  max_occurrences: -1
basic_auth:
  username: admin
  password: ""
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Listen != "0.0.0.0:9000" {
		t.Errorf("listen = %s", cfg.Listen)
	}
	if !cfg.SundayFirst() {
		t.Errorf("week_start = %s, want sunday", cfg.WeekStart)
	}
	if cfg.API.BaseURL != "https://api.example.com" {
		t.Errorf("base url = %s, want trailing slash trimmed", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 3*time.Second {
		t.Errorf("timeout = %v", cfg.API.Timeout)
	}
	if cfg.API.UserAgent == "" || cfg.Session.DBPath == "" || cfg.Schedule.CredentialCheck == "" {
		t.Error("missing defaults after normalize")
	}
	if cfg.ICS.MaxOccurrences != DefaultConfig().ICS.MaxOccurrences {
		t.Errorf("max occurrences = %d", cfg.ICS.MaxOccurrences)
	}
	if cfg.BasicAuth != nil {
		t.Error("basic auth with empty password should be disabled")
	}
}

func TestUnknownWeekStartFallsBack(t *testing.T) {
	cfg := &Config{WeekStart: "friday"}
	cfg.Normalize()
	if cfg.WeekStart != "monday" {
		t.Errorf("week start = %s", cfg.WeekStart)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := Save(path, DefaultConfig()); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvAPIURL, "http://localhost:3001/")
	t.Setenv(EnvListen, ":7070")
	t.Setenv(EnvTimezone, "America/Chicago")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvSessionDB, "/tmp/s.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.API.BaseURL != "http://localhost:3001" {
		t.Errorf("base url = %s", cfg.API.BaseURL)
	}
	if cfg.Listen != ":7070" || cfg.Timezone != "America/Chicago" || cfg.LogLevel != "debug" || cfg.Session.DBPath != "/tmp/s.db" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("GUARDSCHED_LISTEN=:6060\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvListen, "")
	os.Unsetenv(EnvListen)

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), envFile); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv(EnvListen); got != ":6060" {
		t.Errorf("%s = %q", EnvListen, got)
	}
	if err := LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing files should be ignored: %v", err)
	}
}

func TestLocation(t *testing.T) {
	cfg := &Config{Timezone: "Local"}
	if loc, err := cfg.Location(); err != nil || loc != time.Local {
		t.Errorf("Local = %v, %v", loc, err)
	}

	cfg.Timezone = "Not/AZone"
	loc, err := cfg.Location()
	if err == nil || loc != time.Local {
		t.Errorf("bad zone = %v, %v", loc, err)
	}
}

func TestSaveRejectsEmpty(t *testing.T) {
	if err := Save("", DefaultConfig()); err == nil {
		t.Error("expected error for empty path")
	}
	if err := Save(filepath.Join(t.TempDir(), "c.yaml"), nil); err == nil {
		t.Error("expected error for nil config")
	}
}
