// Package cli provides the hotbot command-line interface.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"hot-crypto/internal/config"
	"hot-crypto/internal/logging"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-08-01"
)

// App holds the application dependencies shared by the commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	rootCmd := &cobra.Command{
		Use:   "hotbot",
		Short: "hotbot - regime-aware crypto trading bot",
		Long: `hotbot is an automated crypto trading bot for Binance spot markets.

It classifies each market's regime, blends strategy votes into a single
decision per symbol and routes entries through a risk manager and circuit
breaker before anything reaches the venue. Paper mode simulates fills
locally; live mode trades real balances.

Use 'hotbot run' to start the trading loop and 'hotbot status' to inspect
the most recent run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/hot-crypto)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("hotbot v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Trading")
	output.Printf("  Mode:          %s\n", cfg.Trading.Mode)
	output.Printf("  Symbols:       %v\n", cfg.Trading.Symbols)
	output.Printf("  Timeframe:     %s\n", cfg.Trading.Timeframe)
	output.Printf("  Loop interval: %s\n", cfg.LoopInterval())
	output.Printf("  Initial cash:  %.2f\n", cfg.Trading.InitialCash)
	output.Println()

	output.Bold("Risk")
	output.Printf("  Risk per trade:     %.3f%%\n", cfg.Risk.RiskPerTrade*100)
	output.Printf("  Max open positions: %d\n", cfg.Risk.MaxOpenPositions)
	output.Printf("  Max daily loss:     %.1f%%\n", cfg.Risk.MaxDailyLossPct*100)
	output.Printf("  Max drawdown:       %.1f%%\n", cfg.Risk.MaxTotalDrawdownPct*100)
	output.Printf("  Stop ATR multiple:  %.1f\n", cfg.Risk.StopATRMultiple)
	output.Println()

	output.Bold("Breaker")
	output.Printf("  Asset drop:         %.1f%% / %ds\n", cfg.Breaker.AssetDropPct*100, cfg.Breaker.AssetWindowSeconds)
	output.Printf("  Flash crash:        %.1f%% / %ds\n", cfg.Breaker.FlashCrashPct*100, cfg.Breaker.FlashCrashSeconds)
	output.Printf("  Portfolio kill:     %.1f%%\n", cfg.Breaker.PortfolioKillPct*100)
	output.Printf("  Consecutive losses: %d\n", cfg.Breaker.ConsecutiveLossLimit)
	output.Println()

	output.Bold("Executor")
	output.Printf("  Order type: %s\n", cfg.Executor.OrderType)
	output.Printf("  Chase:      %v\n", cfg.Executor.ChaseEnabled)
	output.Println()

	output.Bold("Store")
	output.Printf("  Path: %s\n", cfg.Store.Path)

	if cfg.Credentials.Exchange.APIKey == "" {
		output.Println()
		output.Warning("No exchange credentials configured; live mode is unavailable.")
	}
}
