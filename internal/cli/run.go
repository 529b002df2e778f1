package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"hot-crypto/internal/breaker"
	"hot-crypto/internal/broker"
	"hot-crypto/internal/config"
	"hot-crypto/internal/engine"
	"hot-crypto/internal/ensemble"
	"hot-crypto/internal/exec"
	"hot-crypto/internal/models"
	"hot-crypto/internal/portfolio"
	"hot-crypto/internal/ratelimit"
	"hot-crypto/internal/regime"
	"hot-crypto/internal/risk"
	"hot-crypto/internal/store"
)

func newRunCmd(app *App) *cobra.Command {
	var (
		once        bool
		signalsPath string
		mode        string
		symbols     []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the trading loop",
		Long: `Start the trading loop in the configured mode.

Paper mode simulates fills against a local ledger using real market data.
Live mode routes orders to Binance and requires exchange credentials.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			cfg := app.Config

			if mode != "" {
				cfg.Trading.Mode = mode
			}
			if len(symbols) > 0 {
				cfg.Trading.Symbols = symbols
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if !cfg.IsPaperMode() && cfg.Credentials.Exchange.APIKey == "" {
				return fmt.Errorf("live mode requires exchange credentials; set EXCHANGE_API_KEY or edit %s/credentials.toml", config.DefaultConfigDir())
			}

			eng, st, err := buildEngine(app, signalsPath)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if once {
				output.Info("Running a single evaluation cycle (%s mode)", cfg.Trading.Mode)
				eng.RunCycle(ctx)
				output.Success("Cycle complete")
				return nil
			}

			output.Info("Starting trading loop: mode=%s symbols=%v timeframe=%s",
				cfg.Trading.Mode, cfg.Trading.Symbols, cfg.Trading.Timeframe)
			output.Dim("Press Ctrl+C to stop")

			if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			output.Success("Shutdown complete")
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle and exit")
	cmd.Flags().StringVar(&signalsPath, "signals", "", "path to a static signals JSON file")
	cmd.Flags().StringVar(&mode, "mode", "", "override trading mode (paper or live)")
	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "override traded symbols (e.g. BTC/USDT,ETH/USDT)")

	return cmd
}

// buildEngine assembles the full stack from configuration. The store is
// returned separately so the caller controls its lifetime.
func buildEngine(app *App, signalsPath string) (*engine.Engine, store.Store, error) {
	cfg := app.Config
	logger := app.Logger

	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	limiter := ratelimit.New(
		cfg.RateLimit.MaxRequests,
		time.Duration(cfg.RateLimit.WindowSeconds)*time.Second,
		cfg.RateLimit.SafetyMargin,
	)

	// The Binance client serves public market data in both modes; keys
	// are only needed for live order flow.
	binanceVenue := broker.NewBinanceVenue(broker.BinanceConfig{
		APIKey:    cfg.Credentials.Exchange.APIKey,
		APISecret: cfg.Credentials.Exchange.APISecret,
		Testnet:   cfg.Credentials.Exchange.Testnet,
		Logger:    logger,
	}, limiter)

	var venue broker.Venue = binanceVenue
	if cfg.IsPaperMode() {
		venue = broker.NewPaperVenue(broker.PaperVenueConfig{
			DataVenue:    binanceVenue,
			QuoteBalance: cfg.Trading.InitialCash,
		})
	}

	ledger := portfolio.New(portfolio.Config{
		InitialCash: cfg.Trading.InitialCash,
		Commission:  cfg.Trading.CommissionRate,
		SlippageBps: cfg.Trading.SlippageBps,
	})

	riskMgr := risk.New(risk.Config{
		InitialEquity:        cfg.Trading.InitialCash,
		RiskPerTrade:         cfg.Risk.RiskPerTrade,
		MaxOpenPositions:     cfg.Risk.MaxOpenPositions,
		MaxDailyLossPct:      cfg.Risk.MaxDailyLossPct,
		MaxTotalDrawdownPct:  cfg.Risk.MaxTotalDrawdownPct,
		CooldownAfterLoss:    time.Duration(cfg.Risk.CooldownMinutes) * time.Minute,
		MinATRPctFilter:      cfg.Risk.MinATRPctFilter,
		SpreadGuardBps:       cfg.Risk.SpreadGuardBps,
		StopATRMultiple:      cfg.Risk.StopATRMultiple,
		KellyLookback:        cfg.Risk.KellyLookback,
		KellyFraction:        cfg.Risk.KellyFraction,
		TargetAnnualVol:      cfg.Risk.TargetAnnualVol,
		CorrelationThreshold: cfg.Risk.CorrelationThreshold,
		MaxEquityNotionalPct: cfg.Risk.MaxEquityNotionalPct,
	})

	guard := breaker.New(breaker.Config{
		AssetDropPct:         cfg.Breaker.AssetDropPct,
		AssetWindow:          time.Duration(cfg.Breaker.AssetWindowSeconds) * time.Second,
		FlashCrashPct:        cfg.Breaker.FlashCrashPct,
		FlashCrashWindow:     time.Duration(cfg.Breaker.FlashCrashSeconds) * time.Second,
		PortfolioKillPct:     cfg.Breaker.PortfolioKillPct,
		ConsecutiveLossLimit: cfg.Breaker.ConsecutiveLossLimit,
		ConsecutiveCooldown:  time.Duration(cfg.Breaker.ConsecutiveCooldown) * time.Minute,
	})

	execCfg := exec.Config{
		Mode:      exec.ModePaper,
		EntryType: models.OrderTypeMarket,
		Chase: exec.ChaseConfig{
			Enabled:     cfg.Executor.ChaseEnabled,
			MaxReprices: cfg.Executor.ChaseMaxReprices,
			IntervalSec: cfg.Executor.ChaseIntervalSec,
		},
		Retry: exec.DefaultConfig().Retry,
	}
	if !cfg.IsPaperMode() {
		execCfg.Mode = exec.ModeLive
	}
	if cfg.Executor.OrderType == "limit" {
		execCfg.EntryType = models.OrderTypeLimit
	}

	executor := exec.New(execCfg, venue, ledger, riskMgr, guard, logger)

	var stream *broker.TradeStream
	if !cfg.IsPaperMode() {
		venueSyms := make([]string, len(cfg.Trading.Symbols))
		for i, s := range cfg.Trading.Symbols {
			venueSyms[i] = strings.ReplaceAll(s, "/", "")
		}
		stream = broker.NewTradeStream(broker.DefaultStreamConfig(venueSyms))
	}

	source, err := loadSignalSource(signalsPath)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	eng, err := engine.New(engine.Config{
		Mode:         cfg.Trading.Mode,
		Symbols:      cfg.Trading.Symbols,
		Timeframe:    cfg.Trading.Timeframe,
		LoopInterval: cfg.LoopInterval(),
		LookbackBars: cfg.Trading.LookbackBars,
		HurstWindow:  cfg.Trading.HurstWindow,
		ADXPeriod:    cfg.Trading.ADXPeriod,
	}, engine.Deps{
		Venue:    venue,
		Stream:   stream,
		Ledger:   ledger,
		Risk:     riskMgr,
		Guard:    guard,
		Executor: executor,
		Detector: regime.NewDetector(cfg.Trading.HurstWindow, cfg.Trading.ADXPeriod),
		Blender:  ensemble.New(ensemble.Config{}),
		Limiter:  limiter,
		Store:    st,
		Signals:  source,
		Logger:   logger,
	})
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return eng, st, nil
}

// loadSignalSource resolves the strategy vote source. An explicit path must
// load; the default location is optional.
func loadSignalSource(path string) (engine.SignalSource, error) {
	if path != "" {
		src, err := engine.LoadStaticSignals(path)
		if err != nil {
			return nil, fmt.Errorf("load signals: %w", err)
		}
		return src, nil
	}

	defaultPath := config.DefaultConfigDir() + "/signals.json"
	if _, err := os.Stat(defaultPath); err == nil {
		src, err := engine.LoadStaticSignals(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("load signals: %w", err)
		}
		return src, nil
	}
	return engine.NewStaticSource(), nil
}
