package config

import (
	"testing"
	"time"
)

type mapEnv map[string]string

func (m mapEnv) Getenv(key string) string { return m[key] }

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapEnv{"MASTER_SECRET": "s"})
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.Port != 3000 {
		t.Fatalf("expected default port 3000, got %d", cfg.Port)
	}
	if cfg.DBPath != "data/hub.db" {
		t.Fatalf("unexpected db path: %q", cfg.DBPath)
	}
	if cfg.TokenExpiry != 7*24*time.Hour {
		t.Fatalf("unexpected token expiry: %v", cfg.TokenExpiry)
	}
	if cfg.TerminalIdleTimeout != 5*time.Minute {
		t.Fatalf("unexpected idle timeout: %v", cfg.TerminalIdleTimeout)
	}
}

func TestLoadConfigRequiresMasterSecret(t *testing.T) {
	if _, err := LoadConfigFromEnv(mapEnv{}); err == nil {
		t.Fatalf("expected error without MASTER_SECRET")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapEnv{
		"MASTER_SECRET":                 "s",
		"PORT":                          "8080",
		"CLI_API_TOKEN":                 "legacy",
		"DB_PATH":                       "/tmp/x.db",
		"TOKEN_EXPIRY_SECONDS":          "60",
		"TERMINAL_IDLE_TIMEOUT_SECONDS": "0",
	})
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.Port != 8080 || cfg.CliApiToken != "legacy" || cfg.DBPath != "/tmp/x.db" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.TokenExpiry != time.Minute {
		t.Fatalf("unexpected token expiry: %v", cfg.TokenExpiry)
	}
	if cfg.TerminalIdleTimeout != 0 {
		t.Fatalf("zero idle timeout not honored: %v", cfg.TerminalIdleTimeout)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := []mapEnv{
		{"MASTER_SECRET": "s", "PORT": "nope"},
		{"MASTER_SECRET": "s", "PORT": "70000"},
		{"MASTER_SECRET": "s", "TOKEN_EXPIRY_SECONDS": "-1"},
		{"MASTER_SECRET": "s", "TERMINAL_IDLE_TIMEOUT_SECONDS": "x"},
	}
	for i, env := range cases {
		if _, err := LoadConfigFromEnv(env); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
