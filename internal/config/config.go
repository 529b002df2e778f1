// Package config provides configuration management for the trading core.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Trading     TradingConfig   `mapstructure:"trading"`
	Risk        RiskConfig      `mapstructure:"risk"`
	Breaker     BreakerConfig   `mapstructure:"breaker"`
	Executor    ExecutorConfig  `mapstructure:"executor"`
	RateLimit   RateLimitConfig `mapstructure:"ratelimit"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Store       StoreConfig     `mapstructure:"store"`
	Credentials Credentials     `mapstructure:"-"` // Loaded separately
}

// TradingConfig holds trading loop configuration.
type TradingConfig struct {
	Mode           string   `mapstructure:"mode"` // "live", "paper"
	Symbols        []string `mapstructure:"symbols"`
	Timeframe      string   `mapstructure:"timeframe"`
	LoopSeconds    int      `mapstructure:"loop_seconds"`
	LookbackBars   int      `mapstructure:"lookback_bars"`
	InitialCash    float64  `mapstructure:"initial_cash"`
	CommissionRate float64  `mapstructure:"commission_rate"`
	SlippageBps    float64  `mapstructure:"slippage_bps"`
	HurstWindow    int      `mapstructure:"hurst_window"`
	ADXPeriod      int      `mapstructure:"adx_period"`
}

// RiskConfig holds risk management configuration.
type RiskConfig struct {
	RiskPerTrade         float64 `mapstructure:"risk_per_trade"`
	MaxOpenPositions     int     `mapstructure:"max_open_positions"`
	MaxDailyLossPct      float64 `mapstructure:"max_daily_loss_pct"`
	MaxTotalDrawdownPct  float64 `mapstructure:"max_total_drawdown_pct"`
	CooldownMinutes      int     `mapstructure:"cooldown_minutes_after_loss"`
	MinATRPctFilter      float64 `mapstructure:"min_atr_pct_filter"`
	SpreadGuardBps       float64 `mapstructure:"spread_guard_bps"`
	StopATRMultiple      float64 `mapstructure:"stop_atr_multiple"`
	KellyLookback        int     `mapstructure:"kelly_lookback"`
	KellyFraction        float64 `mapstructure:"kelly_fraction"`
	TargetAnnualVol      float64 `mapstructure:"target_annual_vol"`
	CorrelationThreshold float64 `mapstructure:"correlation_threshold"`
	MaxEquityNotionalPct float64 `mapstructure:"max_equity_notional_pct"`
}

// BreakerConfig holds circuit breaker configuration.
type BreakerConfig struct {
	AssetDropPct         float64 `mapstructure:"asset_drop_pct"`
	AssetWindowSeconds   int     `mapstructure:"asset_window_seconds"`
	FlashCrashPct        float64 `mapstructure:"flash_crash_pct"`
	FlashCrashSeconds    int     `mapstructure:"flash_crash_window_seconds"`
	PortfolioKillPct     float64 `mapstructure:"portfolio_kill_pct"`
	ConsecutiveLossLimit int     `mapstructure:"consecutive_loss_limit"`
	ConsecutiveCooldown  int     `mapstructure:"consecutive_cooldown_minutes"`
}

// ExecutorConfig holds order execution configuration.
type ExecutorConfig struct {
	OrderType          string `mapstructure:"order_type"` // "market", "limit"
	PostOnly           bool   `mapstructure:"post_only"`
	ChaseEnabled       bool   `mapstructure:"chase_enabled"`
	ChaseMaxReprices   int    `mapstructure:"chase_max_reprices"`
	ChaseIntervalSec   int    `mapstructure:"chase_interval_seconds"`
	ReconcileTimeout   int    `mapstructure:"reconcile_timeout_seconds"`
	CancelMaxAttempts  int    `mapstructure:"cancel_max_attempts"`
	CancelInitialDelay int    `mapstructure:"cancel_initial_delay_ms"`
}

// RateLimitConfig holds API rate limiter configuration.
type RateLimitConfig struct {
	MaxRequests   int     `mapstructure:"max_requests"`
	WindowSeconds int     `mapstructure:"window_seconds"`
	SafetyMargin  float64 `mapstructure:"safety_margin"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// Credentials holds venue API credentials.
type Credentials struct {
	Exchange ExchangeCredentials `mapstructure:"exchange"`
}

// ExchangeCredentials holds exchange API credentials.
type ExchangeCredentials struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	Testnet   bool   `mapstructure:"testnet"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/hot-crypto"
	}
	return filepath.Join(home, ".config", "hot-crypto")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	// Load main config
	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	// Load credentials
	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir string, target *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if werr := createTemplateConfig(configDir); werr != nil {
				return werr
			}
			// Template mirrors the defaults; proceed with them.
			return v.Unmarshal(target)
		}
		return err
	}

	return v.Unmarshal(target)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trading.mode", "paper")
	v.SetDefault("trading.symbols", []string{"BTC/USDT", "ETH/USDT"})
	v.SetDefault("trading.timeframe", "4h")
	v.SetDefault("trading.loop_seconds", 60)
	v.SetDefault("trading.lookback_bars", 500)
	v.SetDefault("trading.initial_cash", 10000.0)
	v.SetDefault("trading.commission_rate", 0.0005)
	v.SetDefault("trading.slippage_bps", 2.0)
	v.SetDefault("trading.hurst_window", 100)
	v.SetDefault("trading.adx_period", 14)

	v.SetDefault("risk.risk_per_trade", 0.005)
	v.SetDefault("risk.max_open_positions", 2)
	v.SetDefault("risk.max_daily_loss_pct", 0.02)
	v.SetDefault("risk.max_total_drawdown_pct", 0.10)
	v.SetDefault("risk.cooldown_minutes_after_loss", 240)
	v.SetDefault("risk.min_atr_pct_filter", 0.003)
	v.SetDefault("risk.spread_guard_bps", 10.0)
	v.SetDefault("risk.stop_atr_multiple", 1.5)
	v.SetDefault("risk.kelly_lookback", 50)
	v.SetDefault("risk.kelly_fraction", 0.5)
	v.SetDefault("risk.target_annual_vol", 0.15)
	v.SetDefault("risk.correlation_threshold", 0.80)
	v.SetDefault("risk.max_equity_notional_pct", 0.50)

	v.SetDefault("breaker.asset_drop_pct", 0.15)
	v.SetDefault("breaker.asset_window_seconds", 3600)
	v.SetDefault("breaker.flash_crash_pct", 0.05)
	v.SetDefault("breaker.flash_crash_window_seconds", 60)
	v.SetDefault("breaker.portfolio_kill_pct", 0.10)
	v.SetDefault("breaker.consecutive_loss_limit", 3)
	v.SetDefault("breaker.consecutive_cooldown_minutes", 30)

	v.SetDefault("executor.order_type", "market")
	v.SetDefault("executor.post_only", false)
	v.SetDefault("executor.chase_enabled", false)
	v.SetDefault("executor.chase_max_reprices", 3)
	v.SetDefault("executor.chase_interval_seconds", 10)
	v.SetDefault("executor.reconcile_timeout_seconds", 10)
	v.SetDefault("executor.cancel_max_attempts", 3)
	v.SetDefault("executor.cancel_initial_delay_ms", 500)

	v.SetDefault("ratelimit.max_requests", 900)
	v.SetDefault("ratelimit.window_seconds", 60)
	v.SetDefault("ratelimit.safety_margin", 0.90)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join(DefaultConfigDir(), "logs", "hotbot.log"))
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age_days", 30)

	v.SetDefault("store.path", filepath.Join(DefaultConfigDir(), "hotbot.db"))
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EXCHANGE_API_KEY"); v != "" {
		cfg.Credentials.Exchange.APIKey = v
	}
	if v := os.Getenv("EXCHANGE_API_SECRET"); v != "" {
		cfg.Credentials.Exchange.APISecret = v
	}
	if v := os.Getenv("TRADING_MODE"); v != "" {
		cfg.Trading.Mode = v
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Trading.Mode != "paper" && c.Trading.Mode != "live" {
		return fmt.Errorf("trading.mode must be 'paper' or 'live', got %q", c.Trading.Mode)
	}
	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("trading.symbols must not be empty")
	}
	if c.Trading.InitialCash <= 0 {
		return fmt.Errorf("trading.initial_cash must be positive, got %v", c.Trading.InitialCash)
	}
	if c.Risk.RiskPerTrade <= 0 || c.Risk.RiskPerTrade >= 1 {
		return fmt.Errorf("risk.risk_per_trade must be in (0, 1), got %v", c.Risk.RiskPerTrade)
	}
	if c.Risk.MaxOpenPositions < 1 {
		return fmt.Errorf("risk.max_open_positions must be at least 1, got %d", c.Risk.MaxOpenPositions)
	}
	if c.Risk.KellyFraction < 0 || c.Risk.KellyFraction > 1 {
		return fmt.Errorf("risk.kelly_fraction must be in [0, 1], got %v", c.Risk.KellyFraction)
	}
	if c.Breaker.ConsecutiveLossLimit < 1 {
		return fmt.Errorf("breaker.consecutive_loss_limit must be at least 1, got %d", c.Breaker.ConsecutiveLossLimit)
	}
	if c.Executor.OrderType != "market" && c.Executor.OrderType != "limit" {
		return fmt.Errorf("executor.order_type must be 'market' or 'limit', got %q", c.Executor.OrderType)
	}
	if c.RateLimit.MaxRequests < 1 {
		return fmt.Errorf("ratelimit.max_requests must be at least 1, got %d", c.RateLimit.MaxRequests)
	}
	if c.RateLimit.SafetyMargin <= 0 || c.RateLimit.SafetyMargin > 1 {
		return fmt.Errorf("ratelimit.safety_margin must be in (0, 1], got %v", c.RateLimit.SafetyMargin)
	}
	if c.Trading.Mode == "live" && c.Credentials.Exchange.APIKey == "" {
		return fmt.Errorf("live mode requires exchange credentials")
	}
	return nil
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return c.Trading.Mode == "paper"
}

// LoopInterval returns the engine cycle interval.
func (c *Config) LoopInterval() time.Duration {
	return time.Duration(c.Trading.LoopSeconds) * time.Second
}

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	template := `# hot-crypto configuration

[trading]
mode = "paper"              # "paper" or "live"
symbols = ["BTC/USDT", "ETH/USDT"]
timeframe = "4h"
loop_seconds = 60
lookback_bars = 500
initial_cash = 10000.0
commission_rate = 0.0005
slippage_bps = 2.0
hurst_window = 100
adx_period = 14

[risk]
risk_per_trade = 0.005
max_open_positions = 2
max_daily_loss_pct = 0.02
max_total_drawdown_pct = 0.10
cooldown_minutes_after_loss = 240
min_atr_pct_filter = 0.003
spread_guard_bps = 10.0
stop_atr_multiple = 1.5
kelly_lookback = 50
kelly_fraction = 0.5
target_annual_vol = 0.15
correlation_threshold = 0.80
max_equity_notional_pct = 0.50

[breaker]
asset_drop_pct = 0.15
asset_window_seconds = 3600
flash_crash_pct = 0.05
flash_crash_window_seconds = 60
portfolio_kill_pct = 0.10
consecutive_loss_limit = 3
consecutive_cooldown_minutes = 30

[executor]
order_type = "market"       # "market" or "limit"
post_only = false
chase_enabled = false
chase_max_reprices = 3
chase_interval_seconds = 10
reconcile_timeout_seconds = 10
cancel_max_attempts = 3
cancel_initial_delay_ms = 500

[ratelimit]
max_requests = 900
window_seconds = 60
safety_margin = 0.90

[logging]
level = "info"
console = true
file = true

[store]
# path defaults to <config dir>/hotbot.db
`

	path := filepath.Join(configDir, "config.toml")
	return os.WriteFile(path, []byte(template), 0644)
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	template := `# hot-crypto credentials
# Keep this file private. Values may also be set via the EXCHANGE_API_KEY
# and EXCHANGE_API_SECRET environment variables.

[exchange]
api_key = ""
api_secret = ""
testnet = false
`

	path := filepath.Join(configDir, "credentials.toml")
	return os.WriteFile(path, []byte(template), 0600)
}
