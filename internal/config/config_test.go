package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadSubstitutesEnvVars(t *testing.T) {
	t.Setenv("TEST_CM_DSN", "postgres://live/db")
	path := writeConfig(t, `{
		"server": {"port": 9090},
		"database": {
			"postgres": {"dsn": "${TEST_CM_DSN}"},
			"redis": {"url": "${TEST_CM_REDIS:redis://fallback:6379}"}
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Database.Postgres.DSN != "postgres://live/db" {
		t.Errorf("env var not substituted: %q", cfg.Database.Postgres.DSN)
	}
	if cfg.Database.Redis.URL != "redis://fallback:6379" {
		t.Errorf("default not applied: %q", cfg.Database.Redis.URL)
	}
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	t.Setenv("TEST_CM_REDIS", "redis://real:6379")
	path := writeConfig(t, `{
		"database": {"redis": {"url": "${TEST_CM_REDIS:redis://fallback:6379}"}}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Redis.URL != "redis://real:6379" {
		t.Errorf("env should beat default: %q", cfg.Database.Redis.URL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	path := writeConfig(t, `{"server": `)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid json")
	}
}

func TestAgentConfigDefaults(t *testing.T) {
	var a AgentConfig
	if got := a.CycleInterval(); got != 5*time.Minute {
		t.Errorf("default cycle interval = %v", got)
	}
	if got := a.ReceiptTimeout(); got != 2*time.Minute {
		t.Errorf("default receipt timeout = %v", got)
	}

	a = AgentConfig{CycleIntervalMinutes: 1, ReceiptTimeoutSeconds: 30}
	if got := a.CycleInterval(); got != time.Minute {
		t.Errorf("cycle interval = %v", got)
	}
	if got := a.ReceiptTimeout(); got != 30*time.Second {
		t.Errorf("receipt timeout = %v", got)
	}
}
