package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port                int
	MasterSecret        string
	CliApiToken         string
	DBPath              string
	GinMode             string
	TLSCertFile         string
	TLSKeyFile          string
	TokenExpiry         time.Duration
	TerminalIdleTimeout time.Duration
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

func LoadConfig() (Config, error) {
	return LoadConfigFromEnv(osEnv{})
}

func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := Config{
		Port:                3000,
		DBPath:              "data/hub.db",
		GinMode:             "release",
		TokenExpiry:         7 * 24 * time.Hour,
		TerminalIdleTimeout: 5 * time.Minute,
	}

	if raw := env.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid PORT")
		}
		cfg.Port = port
	}

	cfg.MasterSecret = env.Getenv("MASTER_SECRET")
	if cfg.MasterSecret == "" {
		return Config{}, fmt.Errorf("MASTER_SECRET is required")
	}

	// Optional legacy shared API token; empty disables that auth strategy.
	cfg.CliApiToken = env.Getenv("CLI_API_TOKEN")

	if raw := env.Getenv("DB_PATH"); raw != "" {
		cfg.DBPath = raw
	}

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}

	cfg.TLSCertFile = env.Getenv("TLS_CERT_FILE")
	cfg.TLSKeyFile = env.Getenv("TLS_KEY_FILE")

	if raw := env.Getenv("TOKEN_EXPIRY_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid TOKEN_EXPIRY_SECONDS")
		}
		cfg.TokenExpiry = time.Duration(seconds) * time.Second
	}

	// Zero disables idle eviction entirely; bridges then live until an
	// explicit close or disconnect cleanup.
	if raw := env.Getenv("TERMINAL_IDLE_TIMEOUT_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds < 0 {
			return Config{}, fmt.Errorf("invalid TERMINAL_IDLE_TIMEOUT_SECONDS")
		}
		cfg.TerminalIdleTimeout = time.Duration(seconds) * time.Second
	}

	return cfg, nil
}
