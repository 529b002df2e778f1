package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"hot-crypto/internal/breaker"
	"hot-crypto/internal/broker"
	"hot-crypto/internal/ensemble"
	"hot-crypto/internal/exec"
	"hot-crypto/internal/models"
	"hot-crypto/internal/portfolio"
	"hot-crypto/internal/regime"
	"hot-crypto/internal/risk"
)

// trendingCandles builds an hourly series with per-bar drift and a fixed
// high-low span, ending at the current hour.
func trendingCandles(n int, start, drift, span float64) []models.Candle {
	base := time.Now().UTC().Truncate(time.Hour).Add(-time.Duration(n) * time.Hour)
	candles := make([]models.Candle, n)
	for i := 0; i < n; i++ {
		c := start + drift*float64(i)
		candles[i] = models.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      c - drift/2,
			High:      c + span/2,
			Low:       c - span/2,
			Close:     c,
			Volume:    1000,
		}
	}
	return candles
}

type paperStack struct {
	venue    *broker.PaperVenue
	ledger   *portfolio.Portfolio
	risk     *risk.Manager
	guard    *breaker.Breaker
	executor *exec.Executor
	source   *StaticSource
	engine   *Engine
}

func newPaperStack(t *testing.T, symbols []string) *paperStack {
	t.Helper()

	venue := broker.NewPaperVenue(broker.PaperVenueConfig{})
	ledger := portfolio.New(portfolio.Config{InitialCash: 10000})
	riskMgr := risk.New(risk.Config{InitialEquity: 10000})
	guard := breaker.New(breaker.DefaultConfig())
	executor := exec.New(exec.DefaultConfig(), venue, ledger, riskMgr, guard, zerolog.Nop())
	source := NewStaticSource()

	eng, err := New(Config{
		Mode:         "paper",
		Symbols:      symbols,
		Timeframe:    "1h",
		LookbackBars: 500,
	}, Deps{
		Venue:    venue,
		Ledger:   ledger,
		Risk:     riskMgr,
		Guard:    guard,
		Executor: executor,
		Detector: regime.NewDetector(0, 0),
		Blender:  ensemble.New(ensemble.Config{}),
		Signals:  source,
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &paperStack{
		venue:    venue,
		ledger:   ledger,
		risk:     riskMgr,
		guard:    guard,
		executor: executor,
		source:   source,
		engine:   eng,
	}
}

func TestNewValidatesWiring(t *testing.T) {
	_, err := New(Config{Mode: "paper", Symbols: []string{"BTC/USDT"}}, Deps{})
	if err == nil {
		t.Fatal("expected error for missing collaborators")
	}

	venue := broker.NewPaperVenue(broker.PaperVenueConfig{})
	ledger := portfolio.New(portfolio.Config{})
	riskMgr := risk.New(risk.Config{})
	guard := breaker.New(breaker.DefaultConfig())
	executor := exec.New(exec.DefaultConfig(), venue, ledger, riskMgr, guard, zerolog.Nop())
	deps := Deps{
		Venue:    venue,
		Ledger:   ledger,
		Risk:     riskMgr,
		Guard:    guard,
		Executor: executor,
		Detector: regime.NewDetector(0, 0),
		Blender:  ensemble.New(ensemble.Config{}),
		Signals:  NewStaticSource(),
		Logger:   zerolog.Nop(),
	}

	if _, err := New(Config{Mode: "dry", Symbols: []string{"BTC/USDT"}}, deps); err == nil {
		t.Fatal("expected error for invalid mode")
	}
	if _, err := New(Config{Mode: "paper"}, deps); err == nil {
		t.Fatal("expected error for empty symbols")
	}
	if _, err := New(Config{Mode: "paper", Symbols: []string{"BTC/USDT"}}, deps); err != nil {
		t.Fatalf("valid wiring rejected: %v", err)
	}
}

func TestRunCycleOpensPositionOnConsensus(t *testing.T) {
	st := newPaperStack(t, []string{"BTC/USDT"})
	st.venue.SeedCandles("BTCUSDT", "1h", trendingCandles(300, 100, 1.0, 2.0))

	st.source.Set("BTC/USDT",
		models.Signal{Strategy: models.StrategyTrendEMA, Action: models.ActionOpenLong, Confidence: 0.9, RiskR: 1},
		models.Signal{Strategy: models.StrategySupertrend, Action: models.ActionOpenLong, Confidence: 0.85, RiskR: 1},
		models.Signal{Strategy: models.StrategyTurtle, Action: models.ActionHold, RiskR: 1},
	)

	st.engine.RunCycle(context.Background())

	pos, ok := st.ledger.GetPosition("BTC/USDT")
	if !ok {
		t.Fatal("expected an open position after a 2-of-3 long consensus")
	}
	if pos.Side != models.PositionLong {
		t.Fatalf("position side = %s, want long", pos.Side)
	}
	if pos.Qty <= 0 {
		t.Fatalf("position qty = %v, want > 0", pos.Qty)
	}
	if pos.StopPrice <= 0 || pos.StopPrice >= pos.EntryPrice {
		t.Fatalf("long stop %v must sit below entry %v", pos.StopPrice, pos.EntryPrice)
	}

	status := st.executor.Status()
	if status.FilledOrders != 1 {
		t.Fatalf("filled orders = %d, want 1", status.FilledOrders)
	}
	if st.engine.Cycles() != 1 {
		t.Fatalf("cycles = %d, want 1", st.engine.Cycles())
	}
}

func TestRunCycleAllHoldDoesNothing(t *testing.T) {
	st := newPaperStack(t, []string{"BTC/USDT"})
	st.venue.SeedCandles("BTCUSDT", "1h", trendingCandles(300, 100, 1.0, 2.0))

	st.engine.RunCycle(context.Background())

	if st.ledger.HasPosition("BTC/USDT") {
		t.Fatal("no votes must mean no position")
	}
	if status := st.executor.Status(); status.TotalOrders != 0 {
		t.Fatalf("total orders = %d, want 0", status.TotalOrders)
	}
}

func TestRunCycleSingleVoteFailsConsensus(t *testing.T) {
	st := newPaperStack(t, []string{"BTC/USDT"})
	st.venue.SeedCandles("BTCUSDT", "1h", trendingCandles(300, 100, 1.0, 2.0))

	st.source.Set("BTC/USDT",
		models.Signal{Strategy: models.StrategyTrendEMA, Action: models.ActionOpenLong, Confidence: 0.9, RiskR: 1},
	)

	st.engine.RunCycle(context.Background())

	if st.ledger.HasPosition("BTC/USDT") {
		t.Fatal("one vote must not clear a consensus threshold of two")
	}
}

func TestRunCycleSweepsStops(t *testing.T) {
	st := newPaperStack(t, []string{"BTC/USDT"})
	st.venue.SeedCandles("BTCUSDT", "1h", trendingCandles(300, 100, 0, 2.0))

	_, err := st.ledger.Open(portfolio.OpenRequest{
		Symbol:   "BTC/USDT",
		Side:     models.PositionLong,
		Size:     1,
		Price:    100,
		Stop:     99.5, // last bar's low of 99 crosses it
		Strategy: models.StrategyTrendEMA,
		At:       time.Now().UTC().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	st.engine.RunCycle(context.Background())

	if st.ledger.HasPosition("BTC/USDT") {
		t.Fatal("stop inside the bar range must close the position")
	}
	if got := st.risk.Status().TradeCount; got != 1 {
		t.Fatalf("risk trade count = %d, want 1 after stop sweep", got)
	}
	history := st.ledger.History()
	if len(history) != 1 || history[0].Reason != "stop_loss" {
		t.Fatalf("history = %+v, want one stop_loss close", history)
	}
}

func TestRunCycleSkipsSymbolWithoutData(t *testing.T) {
	st := newPaperStack(t, []string{"BTC/USDT", "ETH/USDT"})
	st.venue.SeedCandles("ETHUSDT", "1h", trendingCandles(300, 100, 1.0, 2.0))

	st.source.Set("ETH/USDT",
		models.Signal{Strategy: models.StrategyTrendEMA, Action: models.ActionOpenLong, Confidence: 0.9, RiskR: 1},
		models.Signal{Strategy: models.StrategySupertrend, Action: models.ActionOpenLong, Confidence: 0.85, RiskR: 1},
	)

	st.engine.RunCycle(context.Background())

	if st.ledger.HasPosition("BTC/USDT") {
		t.Fatal("symbol without data must be skipped")
	}
	if !st.ledger.HasPosition("ETH/USDT") {
		t.Fatal("healthy symbol must still trade when a sibling has no data")
	}
}

func TestVenueSymbol(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"BTC/USDT", "BTCUSDT"},
		{"ETHUSDT", "ETHUSDT"},
		{"SOL/USDC", "SOLUSDC"},
	}
	for _, tt := range tests {
		if got := venueSymbol(tt.in); got != tt.want {
			t.Errorf("venueSymbol(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTimeframeDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"1m", time.Minute},
		{"15m", 15 * time.Minute},
		{"4h", 4 * time.Hour},
		{"1d", 24 * time.Hour},
		{"1w", 7 * 24 * time.Hour},
		{"", 0},
		{"h", 0},
		{"4x", 0},
		{"0h", 0},
	}
	for _, tt := range tests {
		if got := timeframeDuration(tt.in); got != tt.want {
			t.Errorf("timeframeDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRealizedVolDegenerateInputs(t *testing.T) {
	if v := realizedVol(nil, "1h"); v != 0 {
		t.Errorf("nil candles: vol = %v, want 0", v)
	}
	if v := realizedVol(trendingCandles(100, 100, 1, 2), "bogus"); v != 0 {
		t.Errorf("bad timeframe: vol = %v, want 0", v)
	}
	// Constant closes carry zero variance.
	if v := realizedVol(trendingCandles(100, 100, 0, 2), "1h"); v != 0 {
		t.Errorf("flat series: vol = %v, want 0", v)
	}
	if v := realizedVol(trendingCandles(100, 100, 1, 2), "1h"); v <= 0 {
		t.Errorf("drifting series: vol = %v, want > 0", v)
	}
}

func TestLoadStaticSignals(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signals.json")

	content := `{
		"BTC/USDT": [
			{"strategy": "trend_ema", "action": "open_long", "confidence": 0.8},
			{"strategy": "no_such_strategy", "action": "hold", "confidence": 0.2}
		]
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := LoadStaticSignals(path)
	if err != nil {
		t.Fatalf("LoadStaticSignals: %v", err)
	}

	signals := src.Signals(context.Background(), "BTC/USDT", nil, regime.Snapshot{})
	if len(signals) != 2 {
		t.Fatalf("got %d signals, want 2", len(signals))
	}
	if signals[0].Strategy != models.StrategyTrendEMA || signals[0].Action != models.ActionOpenLong {
		t.Fatalf("first signal = %+v", signals[0])
	}
	if signals[0].RiskR != 1.0 {
		t.Fatalf("omitted risk_r should default to 1.0, got %v", signals[0].RiskR)
	}
	if signals[1].Strategy != models.StrategyUnknown {
		t.Fatalf("unknown strategy name must parse to StrategyUnknown, got %q", signals[1].Strategy)
	}
}

func TestLoadStaticSignalsRejectsUnknownAction(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signals.json")
	content := `{"BTC/USDT": [{"strategy": "trend_ema", "action": "yolo", "confidence": 0.8}]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadStaticSignals(path); err == nil {
		t.Fatal("unknown action must be rejected")
	}
}
