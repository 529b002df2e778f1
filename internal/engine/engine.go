// Package engine drives the per-symbol evaluation cycle: fetch candles,
// sweep stops, classify the regime, blend strategy votes and hand the
// decision to the executor. One Engine owns one run from start to shutdown.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"hot-crypto/internal/breaker"
	"hot-crypto/internal/broker"
	"hot-crypto/internal/ensemble"
	"hot-crypto/internal/exec"
	"hot-crypto/internal/logging"
	"hot-crypto/internal/models"
	"hot-crypto/internal/portfolio"
	"hot-crypto/internal/ratelimit"
	"hot-crypto/internal/regime"
	"hot-crypto/internal/risk"
	"hot-crypto/internal/store"
)

// Config holds the loop parameters.
type Config struct {
	Mode         string // "paper" or "live"
	Symbols      []string
	Timeframe    string
	LoopInterval time.Duration
	LookbackBars int
	HurstWindow  int
	ADXPeriod    int
	ATRPeriod    int

	// MaxParallel bounds concurrent symbol evaluations per cycle.
	MaxParallel int
}

// Deps are the engine's collaborators. Venue, Ledger, Risk, Guard,
// Executor, Detector, Blender and Signals are required; Stream, Limiter
// and Store are optional.
type Deps struct {
	Venue    broker.Venue
	Stream   *broker.TradeStream
	Ledger   *portfolio.Portfolio
	Risk     *risk.Manager
	Guard    *breaker.Breaker
	Executor *exec.Executor
	Detector *regime.Detector
	Blender  *ensemble.Ensemble
	Limiter  *ratelimit.Limiter
	Store    store.Store
	Signals  SignalSource
	Logger   zerolog.Logger
}

// Engine runs the trading loop.
type Engine struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	now func() time.Time

	mu      sync.Mutex
	runID   int64
	cycles  int
	closes  map[string][]float64 // trailing close series per symbol
	blocked map[string]bool      // last breaker verdict per symbol, for edge logging
}

// New validates the wiring and returns an engine. Missing required
// collaborators are a configuration error, reported up front rather than
// panicking mid-cycle.
func New(cfg Config, deps Deps) (*Engine, error) {
	switch {
	case deps.Venue == nil:
		return nil, fmt.Errorf("engine: venue is required")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("engine: ledger is required")
	case deps.Risk == nil:
		return nil, fmt.Errorf("engine: risk manager is required")
	case deps.Guard == nil:
		return nil, fmt.Errorf("engine: circuit breaker is required")
	case deps.Executor == nil:
		return nil, fmt.Errorf("engine: executor is required")
	case deps.Detector == nil:
		return nil, fmt.Errorf("engine: regime detector is required")
	case deps.Blender == nil:
		return nil, fmt.Errorf("engine: ensemble is required")
	case deps.Signals == nil:
		return nil, fmt.Errorf("engine: signal source is required")
	case len(cfg.Symbols) == 0:
		return nil, fmt.Errorf("engine: no symbols configured")
	}
	if cfg.Mode != "paper" && cfg.Mode != "live" {
		return nil, fmt.Errorf("engine: mode must be paper or live, got %q", cfg.Mode)
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = "4h"
	}
	if cfg.LoopInterval <= 0 {
		cfg.LoopInterval = time.Minute
	}
	if cfg.LookbackBars <= 0 {
		cfg.LookbackBars = 500
	}
	if cfg.HurstWindow <= 0 {
		cfg.HurstWindow = regime.DefaultHurstWindow
	}
	if cfg.ADXPeriod <= 0 {
		cfg.ADXPeriod = regime.DefaultADXPeriod
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = 14
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}

	return &Engine{
		cfg:     cfg,
		deps:    deps,
		log:     logging.WithComponent(deps.Logger, "engine"),
		now:     time.Now,
		closes:  make(map[string][]float64),
		blocked: make(map[string]bool),
	}, nil
}

// Run executes trading cycles until ctx is cancelled, then shuts down:
// live orders are cancelled and the run row is closed with final equity.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.startRun(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if e.cfg.Mode == "live" && e.deps.Stream != nil {
		e.wireStream()
		g.Go(func() error {
			return e.deps.Stream.Run(gctx)
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(e.cfg.LoopInterval)
		defer ticker.Stop()
		for {
			e.RunCycle(gctx)
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
			}
		}
	})

	err := g.Wait()
	e.shutdown()
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// startRun opens the run record and, in live mode, surfaces orders left
// at the venue by a previous session before any new order is placed.
func (e *Engine) startRun(ctx context.Context) error {
	if e.cfg.Mode == "live" {
		adopted, err := e.deps.Executor.SurfaceOpenOrders(ctx, e.venueSymbols())
		if err != nil {
			return fmt.Errorf("surface open orders: %w", err)
		}
		if adopted > 0 {
			e.log.Warn().Int("adopted", adopted).Msg("previous session left open orders at the venue")
		}
	}

	if e.deps.Store != nil {
		runID, err := e.deps.Store.CreateRun(ctx, e.cfg.Mode, e.cfg.Symbols, e.cfg.Timeframe, e.deps.Ledger.Cash(), e.now())
		if err != nil {
			return fmt.Errorf("create run: %w", err)
		}
		e.mu.Lock()
		e.runID = runID
		e.mu.Unlock()
	}

	e.log.Info().
		Str("mode", e.cfg.Mode).
		Strs("symbols", e.cfg.Symbols).
		Str("timeframe", e.cfg.Timeframe).
		Dur("interval", e.cfg.LoopInterval).
		Int64("run_id", e.RunID()).
		Msg("engine started")
	e.event(context.Background(), "INFO", "", models.StrategyUnknown, store.EventStatus,
		fmt.Sprintf("run started in %s mode", e.cfg.Mode), nil)
	return nil
}

// wireStream forwards live trade prints into the ledger marks and the
// breaker's price history. Trips are logged on the blocked edge only.
func (e *Engine) wireStream() {
	byVenueSym := make(map[string]string, len(e.cfg.Symbols))
	for _, sym := range e.cfg.Symbols {
		byVenueSym[venueSymbol(sym)] = sym
	}

	e.deps.Stream.OnTick(func(t models.Tick) {
		symbol, ok := byVenueSym[t.Symbol]
		if !ok {
			symbol = t.Symbol
		}
		e.deps.Ledger.MarkPrice(symbol, t.Price)
		res := e.deps.Guard.Check(symbol, t.Price, e.deps.Ledger.Equity(), t.Timestamp)

		e.mu.Lock()
		wasBlocked := e.blocked[symbol]
		e.blocked[symbol] = !res.Allowed
		e.mu.Unlock()

		if !res.Allowed && !wasBlocked {
			e.log.Error().
				Str("symbol", symbol).
				Str("reason", res.Reason).
				Time("until", res.TrippedUntil).
				Msg("circuit breaker tripped on live tick")
			e.event(context.Background(), "CRITICAL", symbol, models.StrategyUnknown,
				store.EventBreaker, res.Reason, nil)
		}
	})
	e.deps.Stream.OnError(func(err error) {
		e.log.Warn().Err(err).Msg("trade stream error")
	})
}

// RunCycle evaluates every configured symbol once. Per-symbol failures
// are journaled and skipped so one bad feed never stalls the rest.
func (e *Engine) RunCycle(ctx context.Context) {
	// Fills that landed on resting entries since the last cycle become
	// ledger positions before any new decision looks at the book.
	if e.cfg.Mode == "live" {
		for _, fill := range e.deps.Executor.SyncEntries(ctx) {
			e.event(ctx, "INFO", fill.Symbol, fill.Strategy, store.EventFill,
				fmt.Sprintf("opened %s %.6f @ %.2f", fill.Side, fill.Qty, fill.Price), fill)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxParallel)

	for _, symbol := range e.cfg.Symbols {
		symbol := symbol
		g.Go(func() error {
			if err := e.cycleSymbol(gctx, symbol); err != nil {
				e.log.Error().Err(err).Str("symbol", symbol).Msg("cycle failed")
				e.event(gctx, "ERROR", symbol, models.StrategyUnknown, store.EventError, err.Error(), nil)
			}
			return nil
		})
	}
	g.Wait()

	e.deps.Risk.UpdateEquity(e.deps.Ledger.Equity())

	e.mu.Lock()
	e.cycles++
	cycles := e.cycles
	e.mu.Unlock()
	e.logStatus(ctx, cycles)
}

func (e *Engine) cycleSymbol(ctx context.Context, symbol string) error {
	candles, err := e.deps.Venue.FetchCandles(ctx, venueSymbol(symbol), e.cfg.Timeframe, e.cfg.LookbackBars)
	if err != nil {
		return fmt.Errorf("fetch candles: %w", err)
	}
	if len(candles) == 0 {
		e.log.Warn().Str("symbol", symbol).Msg("no candle data")
		return nil
	}

	if e.deps.Store != nil {
		if err := e.deps.Store.SaveCandles(ctx, symbol, e.cfg.Timeframe, candles); err != nil {
			e.log.Warn().Err(err).Str("symbol", symbol).Msg("persisting candles failed")
		}
	}

	latest := candles[len(candles)-1]
	e.deps.Ledger.MarkPrice(symbol, latest.Close)
	e.rememberCloses(symbol, candles)

	// Stops and take-profits fire on the bar's range before any new
	// decision, so an exit is never shadowed by the same bar's entry.
	if result, ok := e.deps.Ledger.SweepStops(symbol, latest); ok {
		e.deps.Executor.RecordClose(result, e.now())
		e.journalTrade(ctx, result)
		e.log.Info().
			Str("symbol", symbol).
			Str("reason", result.Reason).
			Float64("pnl", result.PnL).
			Msg("protective exit filled")
	}

	snap := e.deps.Detector.Detect(candles)
	symLog := logging.WithSymbol(e.log, symbol)
	signals := e.deps.Signals.Signals(logging.WithLogger(ctx, symLog), symbol, candles, snap)
	decision := e.deps.Blender.Aggregate(symbol, signals, snap)

	symLog.Debug().
		Str("regime", string(snap.Regime)).
		Float64("hurst", snap.Hurst).
		Float64("adx", snap.ADX).
		Int("signals", len(signals)).
		Str("decision", decision.String()).
		Msg("cycle evaluated")

	if decision.IsHold() {
		return nil
	}

	logging.LogDecision(symLog, symbol, string(decision.Action), decision.Confidence, decision.Reason)
	e.event(ctx, "INFO", symbol, primaryVoter(decision), store.EventSignal,
		decision.String(), decision)

	msnap := exec.MarketSnapshot{
		Candle:      latest,
		ATR:         regime.ATR(candles, e.cfg.ATRPeriod),
		RealizedVol: realizedVol(candles, e.cfg.Timeframe),
	}
	if decision.Action.IsEntry() {
		msnap.SizeScale = e.correlationScale(symbol)
	}

	result, err := e.deps.Executor.ExecuteSignal(ctx, decision, msnap, primaryVoter(decision))
	if err != nil {
		return fmt.Errorf("execute %s: %w", decision.Action, err)
	}
	if result == nil {
		return nil
	}

	switch result.Outcome {
	case exec.OutcomeRejected:
		e.event(ctx, "WARN", symbol, primaryVoter(decision), store.EventReject, result.Reason, nil)
	case exec.OutcomeSubmitted:
		e.event(ctx, "INFO", symbol, primaryVoter(decision), store.EventOrder,
			fmt.Sprintf("entry %s resting at venue @ %.2f", result.Resting.ClientOrderID, result.Resting.Price), result.Resting)
	case exec.OutcomeFilled:
		e.event(ctx, "INFO", symbol, primaryVoter(decision), store.EventFill,
			fmt.Sprintf("opened %s %.6f @ %.2f", result.Fill.Side, result.Fill.Qty, result.Fill.Price), result.Fill)
	case exec.OutcomeClosed:
		if result.Closed != nil {
			e.journalTrade(ctx, *result.Closed)
		}
	}
	return nil
}

// correlationScale sizes down entries that would stack exposure onto
// already-correlated holdings. Returns 1.0 with no open positions.
func (e *Engine) correlationScale(candidate string) float64 {
	positions := e.deps.Ledger.Positions()
	if len(positions) == 0 {
		return 1.0
	}

	e.mu.Lock()
	series := make(map[string][]float64, len(positions)+1)
	if closes, ok := e.closes[candidate]; ok {
		series[candidate] = closes
	}
	for _, pos := range positions {
		if closes, ok := e.closes[pos.Symbol]; ok {
			series[pos.Symbol] = closes
		}
	}
	e.mu.Unlock()

	return e.deps.Risk.CorrelationGuard(series)
}

// correlationLookback bounds the close series kept per symbol.
const correlationLookback = 100

func (e *Engine) rememberCloses(symbol string, candles []models.Candle) {
	start := 0
	if len(candles) > correlationLookback {
		start = len(candles) - correlationLookback
	}
	closes := make([]float64, 0, len(candles)-start)
	for _, c := range candles[start:] {
		closes = append(closes, c.Close)
	}
	e.mu.Lock()
	e.closes[symbol] = closes
	e.mu.Unlock()
}

func (e *Engine) journalTrade(ctx context.Context, result models.TradeResult) {
	e.event(ctx, "INFO", result.Symbol, result.Strategy, store.EventClose,
		fmt.Sprintf("closed %s %s: pnl %.2f (%s)", result.Side, result.Symbol, result.PnL, result.Reason), result)
	if e.deps.Store == nil {
		return
	}
	if err := e.deps.Store.LogTrade(ctx, e.RunID(), result); err != nil {
		e.log.Warn().Err(err).Str("symbol", result.Symbol).Msg("persisting trade failed")
	}
}

func (e *Engine) logStatus(ctx context.Context, cycle int) {
	now := e.now()
	equity := e.deps.Ledger.Equity()
	pf := e.deps.Ledger.Status()
	rs := e.deps.Risk.Status()
	bs := e.deps.Guard.Status(now)

	ev := e.log.Info().
		Int("cycle", cycle).
		Float64("equity", equity).
		Float64("cash", pf.Cash).
		Int("open_positions", pf.OpenPositions).
		Float64("daily_pnl", rs.DailyPnL).
		Float64("drawdown_pct", rs.DrawdownPct).
		Int("active_trips", len(bs.ActiveTrips))
	if e.deps.Limiter != nil {
		ev = ev.Float64("api_usage_pct", e.deps.Limiter.UsagePct())
	}
	ev.Msg("cycle complete")

	e.event(ctx, "INFO", "", models.StrategyUnknown, store.EventStatus,
		fmt.Sprintf("cycle %d: equity %.2f, %d open, %d trips", cycle, equity, pf.OpenPositions, len(bs.ActiveTrips)), nil)
}

// shutdown runs on a fresh context because Run's context is already done.
func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if e.cfg.Mode == "live" {
		for _, symbol := range e.cfg.Symbols {
			cancelled, err := e.deps.Executor.CancelAll(ctx, symbol)
			if err != nil {
				e.log.Error().Err(err).Str("symbol", symbol).Msg("cancel sweep finished with failures")
			}
			if cancelled > 0 {
				e.log.Info().Str("symbol", symbol).Int("cancelled", cancelled).Msg("cancelled resting orders")
			}
		}
	}

	finalEquity := e.deps.Ledger.Equity()
	e.event(ctx, "INFO", "", models.StrategyUnknown, store.EventStatus,
		fmt.Sprintf("run stopped, final equity %.2f", finalEquity), nil)
	if e.deps.Store != nil {
		if err := e.deps.Store.EndRun(ctx, e.RunID(), finalEquity, store.RunFinished, e.now()); err != nil {
			e.log.Error().Err(err).Msg("closing run record failed")
		}
	}
	e.log.Info().Float64("final_equity", finalEquity).Msg("engine stopped")
}

// RunID returns the store's identifier for this run, zero when no store
// is wired.
func (e *Engine) RunID() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runID
}

// Cycles returns the number of completed evaluation cycles.
func (e *Engine) Cycles() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cycles
}

func (e *Engine) event(ctx context.Context, level, symbol string, strategy models.StrategyID, typ store.EventType, msg string, payload interface{}) {
	if e.deps.Store == nil {
		return
	}
	var blob string
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			blob = string(data)
		}
	}
	err := e.deps.Store.LogEvent(ctx, store.Event{
		RunID:    e.RunID(),
		At:       e.now(),
		Level:    level,
		Symbol:   symbol,
		Strategy: string(strategy),
		Type:     typ,
		Message:  msg,
		Payload:  blob,
	})
	if err != nil {
		e.log.Warn().Err(err).Str("type", string(typ)).Msg("journaling event failed")
	}
}

func (e *Engine) venueSymbols() []string {
	out := make([]string, 0, len(e.cfg.Symbols))
	for _, s := range e.cfg.Symbols {
		out = append(out, venueSymbol(s))
	}
	return out
}

// venueSymbol strips the pair separator: config uses BTC/USDT, the venue
// wants BTCUSDT.
func venueSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

func primaryVoter(d models.Decision) models.StrategyID {
	if len(d.Voters) > 0 {
		return d.Voters[0]
	}
	return models.StrategyUnknown
}
