package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadCreatesTemplatesOnFirstRun(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	for _, name := range []string{"config.toml", "credentials.toml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}

	// Defaults carry a full paper setup.
	if cfg.Trading.Mode != "paper" {
		t.Errorf("Mode = %q, want paper", cfg.Trading.Mode)
	}
	if len(cfg.Trading.Symbols) == 0 {
		t.Error("default symbols empty")
	}
	if cfg.Risk.RiskPerTrade != 0.005 {
		t.Errorf("RiskPerTrade = %v, want 0.005", cfg.Risk.RiskPerTrade)
	}
	if cfg.Breaker.ConsecutiveLossLimit != 3 {
		t.Errorf("ConsecutiveLossLimit = %d, want 3", cfg.Breaker.ConsecutiveLossLimit)
	}
	if cfg.RateLimit.MaxRequests != 900 || cfg.RateLimit.SafetyMargin != 0.90 {
		t.Errorf("ratelimit defaults = %+v", cfg.RateLimit)
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()

	err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(`
[trading]
mode = "paper"
symbols = ["SOL/USDT"]
timeframe = "1h"
loop_seconds = 30
initial_cash = 25000.0

[risk]
risk_per_trade = 0.01

[executor]
order_type = "limit"
chase_enabled = true
`), 0644)
	if err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := cfg.Trading.Symbols; len(got) != 1 || got[0] != "SOL/USDT" {
		t.Errorf("Symbols = %v", got)
	}
	if cfg.Trading.Timeframe != "1h" || cfg.Trading.LoopSeconds != 30 {
		t.Errorf("trading = %+v", cfg.Trading)
	}
	if cfg.Trading.InitialCash != 25000 {
		t.Errorf("InitialCash = %v, want 25000", cfg.Trading.InitialCash)
	}
	if cfg.Risk.RiskPerTrade != 0.01 {
		t.Errorf("RiskPerTrade = %v, want 0.01", cfg.Risk.RiskPerTrade)
	}
	if cfg.Executor.OrderType != "limit" || !cfg.Executor.ChaseEnabled {
		t.Errorf("executor = %+v", cfg.Executor)
	}
	// Untouched sections keep their defaults.
	if cfg.Risk.KellyLookback != 50 {
		t.Errorf("KellyLookback = %d, want default 50", cfg.Risk.KellyLookback)
	}
}

func TestLoadCredentialsSeparateFile(t *testing.T) {
	dir := t.TempDir()

	err := os.WriteFile(filepath.Join(dir, "credentials.toml"), []byte(`
[exchange]
api_key = "key-123"
api_secret = "secret-456"
testnet = true
`), 0600)
	if err != nil {
		t.Fatalf("write credentials: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Credentials.Exchange.APIKey != "key-123" {
		t.Errorf("APIKey = %q", cfg.Credentials.Exchange.APIKey)
	}
	if cfg.Credentials.Exchange.APISecret != "secret-456" {
		t.Errorf("APISecret = %q", cfg.Credentials.Exchange.APISecret)
	}
	if !cfg.Credentials.Exchange.Testnet {
		t.Error("Testnet = false, want true")
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()

	t.Setenv("EXCHANGE_API_KEY", "env-key")
	t.Setenv("EXCHANGE_API_SECRET", "env-secret")
	t.Setenv("TRADING_MODE", "live")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Credentials.Exchange.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want env override", cfg.Credentials.Exchange.APIKey)
	}
	if cfg.Trading.Mode != "live" {
		t.Errorf("Mode = %q, want live", cfg.Trading.Mode)
	}
}

func TestValidateRejections(t *testing.T) {
	base := func() *Config {
		dir := t.TempDir()
		cfg, err := Load(dir)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "bad mode",
			mutate:  func(c *Config) { c.Trading.Mode = "demo" },
			wantSub: "trading.mode",
		},
		{
			name:    "no symbols",
			mutate:  func(c *Config) { c.Trading.Symbols = nil },
			wantSub: "symbols",
		},
		{
			name:    "zero cash",
			mutate:  func(c *Config) { c.Trading.InitialCash = 0 },
			wantSub: "initial_cash",
		},
		{
			name:    "risk fraction out of range",
			mutate:  func(c *Config) { c.Risk.RiskPerTrade = 1.5 },
			wantSub: "risk_per_trade",
		},
		{
			name:    "kelly fraction negative",
			mutate:  func(c *Config) { c.Risk.KellyFraction = -0.1 },
			wantSub: "kelly_fraction",
		},
		{
			name:    "bad order type",
			mutate:  func(c *Config) { c.Executor.OrderType = "iceberg" },
			wantSub: "order_type",
		},
		{
			name:    "safety margin above one",
			mutate:  func(c *Config) { c.RateLimit.SafetyMargin = 1.2 },
			wantSub: "safety_margin",
		},
		{
			name: "live without credentials",
			mutate: func(c *Config) {
				c.Trading.Mode = "live"
				c.Credentials.Exchange.APIKey = ""
			},
			wantSub: "credentials",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate passed, want error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("err = %v, want mention of %q", err, tt.wantSub)
			}
		})
	}
}

func TestLoopIntervalAndMode(t *testing.T) {
	cfg := &Config{}
	cfg.Trading.Mode = "paper"
	cfg.Trading.LoopSeconds = 45

	if !cfg.IsPaperMode() {
		t.Error("IsPaperMode = false")
	}
	if got := cfg.LoopInterval().Seconds(); got != 45 {
		t.Errorf("LoopInterval = %vs, want 45s", got)
	}
}
