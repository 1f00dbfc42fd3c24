package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	base "github.com/devdazzlee/canton-clob/libs/config"
)

type LedgerConfig struct {
	BaseURL       string
	SubmitTimeout time.Duration
}

type IdentityConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Audience     string
	StaticToken  string
}

type MatchingConfig struct {
	Interval    time.Duration
	MaxPerCycle int
}

type Config struct {
	App           base.AppConfig
	Ledger        LedgerConfig
	Identity      IdentityConfig
	Matching      MatchingConfig
	OperatorParty string
}

func Load() (*Config, error) {
	appCfg, err := base.Load(os.Getenv("CLOB_CONFIG"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: *appCfg,
		Ledger: LedgerConfig{
			BaseURL:       envString("LEDGER_BASE_URL", "http://localhost:7575"),
			SubmitTimeout: envDuration("LEDGER_SUBMIT_TIMEOUT", 10*time.Second),
		},
		Identity: IdentityConfig{
			TokenURL:     envString("IDP_TOKEN_URL", ""),
			ClientID:     envString("IDP_CLIENT_ID", ""),
			ClientSecret: envString("IDP_CLIENT_SECRET", ""),
			Audience:     envString("IDP_AUDIENCE", ""),
			StaticToken:  envString("LEDGER_STATIC_TOKEN", ""),
		},
		Matching: MatchingConfig{
			Interval:    envDuration("MATCHING_INTERVAL", 5*time.Second),
			MaxPerCycle: envInt("MATCHING_MAX_PER_CYCLE", 10),
		},
		OperatorParty: envString("OPERATOR_PARTY", ""),
	}

	if cfg.Ledger.BaseURL == "" {
		return nil, fmt.Errorf("LEDGER_BASE_URL must be set")
	}
	if cfg.OperatorParty == "" {
		return nil, fmt.Errorf("OPERATOR_PARTY must be set")
	}
	if cfg.Identity.TokenURL == "" && cfg.Identity.StaticToken == "" {
		return nil, fmt.Errorf("either IDP_TOKEN_URL or LEDGER_STATIC_TOKEN must be set")
	}
	if cfg.Matching.Interval <= 0 {
		return nil, fmt.Errorf("MATCHING_INTERVAL must be positive")
	}
	if cfg.Matching.MaxPerCycle <= 0 {
		return nil, fmt.Errorf("MATCHING_MAX_PER_CYCLE must be positive")
	}

	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
