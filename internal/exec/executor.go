// Package exec routes ensemble decisions through risk and breaker checks
// to the venue and the ledger.
package exec

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"hot-crypto/internal/breaker"
	"hot-crypto/internal/broker"
	apperrors "hot-crypto/internal/errors"
	"hot-crypto/internal/logging"
	"hot-crypto/internal/models"
	"hot-crypto/internal/portfolio"
	"hot-crypto/internal/risk"
	"hot-crypto/pkg/utils"
)

// Mode selects where fills come from.
type Mode string

const (
	ModePaper Mode = "paper" // fills simulated in the local ledger
	ModeLive  Mode = "live"  // orders routed to the venue
)

// ChaseConfig controls repricing of unfilled limit orders. The executor
// exposes the Chase operation; deciding when to invoke it belongs to the
// live trading driver.
type ChaseConfig struct {
	Enabled     bool
	MaxReprices int
	IntervalSec int
}

// Config holds executor settings.
type Config struct {
	Mode      Mode
	EntryType models.OrderType // entries only; exits always go out as market
	Chase     ChaseConfig
	Retry     utils.RetryConfig // reconciliation and cancel retries
}

// DefaultConfig returns conservative paper-mode defaults.
func DefaultConfig() Config {
	return Config{
		Mode:      ModePaper,
		EntryType: models.OrderTypeMarket,
		Chase:     ChaseConfig{Enabled: false, MaxReprices: 3, IntervalSec: 10},
		Retry: utils.RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  500 * time.Millisecond,
			MaxDelay:      5 * time.Second,
			BackoffFactor: 2.0,
		},
	}
}

// RiskArbiter approves and sizes entries and ingests realized results.
type RiskArbiter interface {
	Evaluate(req risk.TradeRequest) risk.Verdict
	RegisterTradeOpen()
	RegisterTradeClose(result models.TradeResult)
}

// Guard halts trading during market dislocations and loss streaks.
type Guard interface {
	Check(symbol string, price, portfolioValue float64, now time.Time) breaker.Result
	RecordTradeResult(win bool, now time.Time) *breaker.Trip
}

// MarketSnapshot carries the per-bar market state the risk checks need.
// Zero ATR means the indicator is not warmed up yet.
type MarketSnapshot struct {
	Candle      models.Candle
	ATR         float64
	RealizedVol float64
	SpreadBps   float64

	// SizeScale is the correlation-guard multiplier the caller computed
	// over its open positions plus the candidate symbol. Zero means no
	// adjustment.
	SizeScale float64
}

// Outcome classifies what ExecuteSignal did. Filled and Closed mean
// executed quantity exists and the ledger reflects it; Submitted means the
// order rests at the venue with no exposure yet, to be booked by
// SyncEntries once it executes.
type Outcome string

const (
	OutcomeFilled    Outcome = "filled"    // entry executed, position booked
	OutcomeSubmitted Outcome = "submitted" // entry resting at the venue, unfilled
	OutcomeClosed    Outcome = "closed"    // position closed
	OutcomeRejected  Outcome = "rejected"  // breaker or risk said no
)

// Fill summarizes one execution.
type Fill struct {
	ClientOrderID string
	Symbol        string
	Side          models.Side
	Qty           float64
	Price         float64
	Fees          float64
	Strategy      models.StrategyID
}

// Result is the observable outcome of one decision. Rejections are
// results, not errors; errors are reserved for venue and ledger failures.
// Resting is set only for OutcomeSubmitted and snapshots the order left
// working at the venue.
type Result struct {
	Outcome Outcome
	Reason  string
	Fill    *Fill
	Closed  *models.TradeResult
	Resting *ManagedOrder
}

// minimalNotional sizes entries when the risk manager cannot, so that an
// unwarmed ATR never silently blocks a whole session.
const minimalNotional = 10.0

// clientIDPrefix marks orders this process owns at the venue.
const clientIDPrefix = "HOT_"

// Executor drives decisions through the breaker, risk, the venue and the
// ledger, tracking every order in the transition table.
type Executor struct {
	cfg    Config
	venue  broker.Venue
	ledger *portfolio.Portfolio
	risk   RiskArbiter
	guard  Guard
	log    zerolog.Logger

	now     func() time.Time
	entropy func() [4]byte
	sleep   func(ctx context.Context, d time.Duration) error

	mu             sync.Mutex
	orders         map[string]*ManagedOrder
	riskRejects    int
	breakerRejects int
}

// New creates an executor. All collaborators are required except the
// venue in paper mode, where fills never leave the ledger.
func New(cfg Config, venue broker.Venue, ledger *portfolio.Portfolio, arbiter RiskArbiter, guard Guard, log zerolog.Logger) *Executor {
	if cfg.Mode == "" {
		cfg.Mode = ModePaper
	}
	if cfg.EntryType == "" {
		cfg.EntryType = models.OrderTypeMarket
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultConfig().Retry
	}
	if cfg.Chase.MaxReprices <= 0 {
		cfg.Chase.MaxReprices = 3
	}
	return &Executor{
		cfg:     cfg,
		venue:   venue,
		ledger:  ledger,
		risk:    arbiter,
		guard:   guard,
		log:     logging.WithComponent(log, "executor"),
		now:     time.Now,
		entropy: newEntropy,
		sleep:   sleepContext,
		orders:  make(map[string]*ManagedOrder),
	}
}

// ExecuteSignal runs one ensemble decision end to end. Hold decisions and
// exits without a matching position return (nil, nil).
func (e *Executor) ExecuteSignal(ctx context.Context, decision models.Decision, snap MarketSnapshot, strategy models.StrategyID) (*Result, error) {
	if decision.IsHold() {
		return nil, nil
	}

	now := e.now()
	price := snap.Candle.Close

	if res := e.guard.Check(decision.Symbol, price, e.ledger.Equity(), now); !res.Allowed {
		e.mu.Lock()
		e.breakerRejects++
		e.mu.Unlock()
		logging.LogReject(e.log, decision.Symbol, "breaker", res.Reason)
		return &Result{Outcome: OutcomeRejected, Reason: res.Reason}, nil
	}

	switch {
	case decision.Action.IsEntry():
		return e.executeOpen(ctx, decision, snap, strategy, now)
	case decision.Action.IsExit():
		return e.executeClose(ctx, decision, price, now)
	}
	return nil, nil
}

func (e *Executor) executeOpen(ctx context.Context, decision models.Decision, snap MarketSnapshot, strategy models.StrategyID, now time.Time) (*Result, error) {
	symbol := decision.Symbol
	price := snap.Candle.Close
	log := logging.WithStrategy(logging.WithSymbol(e.log, symbol), string(strategy))

	if e.ledger.HasPosition(symbol) {
		return &Result{Outcome: OutcomeRejected, Reason: "position already open"}, nil
	}

	posSide := models.PositionLong
	orderSide := models.SideBuy
	if decision.Action == models.ActionOpenShort {
		posSide = models.PositionShort
		orderSide = models.SideSell
	}

	var qty, stop, tp float64
	if snap.ATR > 0 {
		verdict := e.risk.Evaluate(risk.TradeRequest{
			Symbol:      symbol,
			Side:        posSide,
			Price:       price,
			ATR:         snap.ATR,
			SpreadBps:   snap.SpreadBps,
			RealizedVol: snap.RealizedVol,
		})
		if !verdict.Approved {
			e.mu.Lock()
			e.riskRejects++
			e.mu.Unlock()
			logging.LogReject(log, symbol, "risk", verdict.Reason)
			return &Result{Outcome: OutcomeRejected, Reason: verdict.Reason}, nil
		}
		qty, stop, tp = verdict.Qty, verdict.StopPrice, verdict.TakeProfit
		if snap.SizeScale > 0 && snap.SizeScale < 1 {
			qty *= snap.SizeScale
			log.Info().
				Float64("scale", snap.SizeScale).
				Float64("qty", qty).
				Msg("correlation guard shrank entry size")
		}
	} else {
		qty = minimalNotional / price
		log.Warn().
			Float64("qty", qty).
			Msg("ATR unavailable, sizing entry at minimal notional without stops")
	}

	order := &ManagedOrder{
		ClientOrderID: ClientOrderID(strategy, symbol, now, e.entropy()),
		Symbol:        symbol,
		Side:          orderSide,
		Type:          e.cfg.EntryType,
		Qty:           qty,
		Strategy:      strategy,
		State:         StatePending,
		SubmittedAt:   now,
		UpdatedAt:     now,
		StopPrice:     stop,
		TakeProfit:    tp,
	}
	if order.Type == models.OrderTypeLimit {
		order.Price = price
	}
	e.track(order)

	fillPrice := price
	if e.cfg.Mode == ModeLive {
		ack, err := e.submit(ctx, order)
		if err != nil {
			return nil, err
		}
		st := e.snapshotOf(order)
		switch {
		case st.IsTerminal() && st.State != StateFilled:
			log.Warn().
				Str("client_order_id", order.ClientOrderID).
				Str("venue_status", ack.Status).
				Msg("venue closed entry order without a fill")
			return &Result{Outcome: OutcomeRejected, Reason: "venue status " + ack.Status}, nil
		case st.State == StateFilled, st.State == StatePartiallyFilled && st.FilledQty > 0:
			// Only executed quantity becomes exposure. A partial fill
			// books what traded; the remainder keeps working and is
			// picked up by SyncEntries.
			if st.AvgFillPrice > 0 {
				fillPrice = st.AvgFillPrice
			}
			if st.FilledQty > 0 {
				qty = st.FilledQty
			}
		default:
			// Resting at the venue: the ledger stays flat until the fill
			// is confirmed, so a later cancel leaves no phantom position.
			log.Info().
				Str("client_order_id", order.ClientOrderID).
				Float64("price", order.Price).
				Float64("qty", qty).
				Msg("entry order resting at venue")
			resting := st
			return &Result{Outcome: OutcomeSubmitted, Reason: "resting at venue", Resting: &resting}, nil
		}
	}

	pfFill, err := e.ledger.Open(portfolio.OpenRequest{
		Symbol:   symbol,
		Side:     posSide,
		Size:     qty,
		Price:    fillPrice,
		Stop:     stop,
		TP:       tp,
		Strategy: strategy,
		At:       now,
	})
	if err != nil {
		if e.cfg.Mode != ModeLive {
			e.failOrder(order, err)
		}
		return nil, fmt.Errorf("open %s: %w", symbol, err)
	}
	if e.cfg.Mode != ModeLive {
		// Simulation: the ledger is the fill engine and the venue is
		// never touched. Its slipped price becomes the fill.
		e.fillOrder(order, pfFill.Price, qty)
	}

	e.risk.RegisterTradeOpen()

	log.Info().
		Str("side", string(orderSide)).
		Str("client_order_id", order.ClientOrderID).
		Float64("qty", qty).
		Float64("price", pfFill.Price).
		Float64("stop", stop).
		Float64("take_profit", tp).
		Msg("position opened")

	return &Result{
		Outcome: OutcomeFilled,
		Fill: &Fill{
			ClientOrderID: order.ClientOrderID,
			Symbol:        symbol,
			Side:          orderSide,
			Qty:           qty,
			Price:         pfFill.Price,
			Fees:          pfFill.Fees,
			Strategy:      strategy,
		},
	}, nil
}

func (e *Executor) executeClose(ctx context.Context, decision models.Decision, price float64, now time.Time) (*Result, error) {
	symbol := decision.Symbol

	posSide := models.PositionLong
	orderSide := models.SideSell
	if decision.Action == models.ActionCloseShort {
		posSide = models.PositionShort
		orderSide = models.SideBuy
	}

	pos, ok := e.ledger.GetPosition(symbol)
	if !ok || pos.Side != posSide {
		// Nothing to close. Exit signals against a flat book are routine.
		return nil, nil
	}

	// Exits always go out as market orders: a stale close is worse than
	// a few basis points of taker fee.
	order := &ManagedOrder{
		ClientOrderID: ClientOrderID(pos.Strategy, symbol, now, e.entropy()),
		Symbol:        symbol,
		Side:          orderSide,
		Type:          models.OrderTypeMarket,
		Qty:           pos.Qty,
		Strategy:      pos.Strategy,
		State:         StatePending,
		SubmittedAt:   now,
		UpdatedAt:     now,
		Exit:          true,
	}
	e.track(order)

	fillPrice := price
	if e.cfg.Mode == ModeLive {
		ack, err := e.submit(ctx, order)
		if err != nil {
			return nil, err
		}
		if st := e.snapshotOf(order); st.IsTerminal() && st.State != StateFilled {
			return nil, apperrors.NewOrderError(order.ClientOrderID, symbol, "close",
				"venue closed exit order without a fill: "+ack.Status, apperrors.ErrOrderRejected)
		}
		if ack.AvgFillPrice > 0 {
			fillPrice = ack.AvgFillPrice
		}
	}

	result, pfFill, err := e.ledger.Close(symbol, posSide, fillPrice, "signal", now)
	if err != nil {
		if e.cfg.Mode != ModeLive {
			e.failOrder(order, err)
		}
		return nil, fmt.Errorf("close %s: %w", symbol, err)
	}
	if e.cfg.Mode != ModeLive {
		e.fillOrder(order, pfFill.Price, order.Qty)
	}

	e.RecordClose(result, now)

	return &Result{
		Outcome: OutcomeClosed,
		Fill: &Fill{
			ClientOrderID: order.ClientOrderID,
			Symbol:        symbol,
			Side:          orderSide,
			Qty:           order.Qty,
			Price:         pfFill.Price,
			Fees:          pfFill.Fees,
			Strategy:      pos.Strategy,
		},
		Closed: &result,
	}, nil
}

// RecordClose feeds a realized trade into the risk and breaker hooks. The
// engine also calls it for closes that bypass ExecuteSignal, like stop
// sweeps inside the ledger.
func (e *Executor) RecordClose(result models.TradeResult, now time.Time) {
	logging.LogTrade(e.log, result.Symbol, string(result.Side), result.Qty,
		result.EntryPrice, result.ExitPrice, result.PnL)
	e.risk.RegisterTradeClose(result)
	if trip := e.guard.RecordTradeResult(result.Win, now); trip != nil {
		e.log.Warn().
			Str("type", string(trip.Type)).
			Time("until", trip.Until).
			Str("reason", trip.Reason).
			Msg("loss streak tripped the breaker")
	}
}

// SyncEntries polls every working entry order at the venue and books the
// ones that filled since submission into the ledger with the stops sized
// at decision time. Exit orders are left to their own flow. Returns the
// fills applied on this pass.
func (e *Executor) SyncEntries(ctx context.Context) []Fill {
	if e.cfg.Mode != ModeLive {
		return nil
	}

	e.mu.Lock()
	var working []*ManagedOrder
	for _, o := range e.orders {
		if o.Exit || o.IsTerminal() || o.State == StatePending {
			continue
		}
		working = append(working, o)
	}
	e.mu.Unlock()

	sort.Slice(working, func(i, j int) bool {
		return working[i].SubmittedAt.Before(working[j].SubmittedAt)
	})

	var fills []Fill
	for _, order := range working {
		st, err := e.venue.FetchOrder(ctx, order.Symbol, order.ClientOrderID)
		if err != nil {
			e.log.Warn().
				Err(err).
				Str("client_order_id", order.ClientOrderID).
				Msg("entry sync query failed")
			continue
		}
		e.adoptStatus(order, st)

		snap := e.snapshotOf(order)
		if snap.State != StateFilled {
			continue
		}
		fill, err := e.openFromFill(snap, e.now())
		if err != nil {
			e.log.Error().
				Err(err).
				Str("client_order_id", snap.ClientOrderID).
				Msg("booking synced fill failed")
			continue
		}
		if fill != nil {
			fills = append(fills, *fill)
		}
	}
	return fills
}

// openFromFill books a venue-confirmed entry fill into the ledger. Returns
// nil when a position already exists for the symbol.
func (e *Executor) openFromFill(order ManagedOrder, now time.Time) (*Fill, error) {
	if e.ledger.HasPosition(order.Symbol) {
		return nil, nil
	}

	posSide := models.PositionLong
	if order.Side == models.SideSell {
		posSide = models.PositionShort
	}
	pfFill, err := e.ledger.Open(portfolio.OpenRequest{
		Symbol:   order.Symbol,
		Side:     posSide,
		Size:     order.FilledQty,
		Price:    order.AvgFillPrice,
		Stop:     order.StopPrice,
		TP:       order.TakeProfit,
		Strategy: order.Strategy,
		At:       now,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", order.Symbol, err)
	}
	e.risk.RegisterTradeOpen()

	log := logging.WithStrategy(logging.WithSymbol(e.log, order.Symbol), string(order.Strategy))
	log.Info().
		Str("client_order_id", order.ClientOrderID).
		Float64("qty", order.FilledQty).
		Float64("price", pfFill.Price).
		Msg("resting entry filled, position opened")

	return &Fill{
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Qty:           order.FilledQty,
		Price:         pfFill.Price,
		Fees:          pfFill.Fees,
		Strategy:      order.Strategy,
	}, nil
}

// submit routes one order to the venue. A timeout triggers reconciliation
// instead of a blind retry so the idempotent client ID is never burned on
// a duplicate.
func (e *Executor) submit(ctx context.Context, order *ManagedOrder) (broker.OrderAck, error) {
	req := broker.OrderRequest{
		Symbol:        order.Symbol,
		Side:          order.Side,
		Type:          order.Type,
		Qty:           order.Qty,
		Price:         order.Price,
		ClientOrderID: order.ClientOrderID,
		PostOnly:      order.Type == models.OrderTypeLimit,
	}

	ack, err := e.venue.PlaceOrder(ctx, req)
	if err != nil {
		if isTimeout(err) {
			status, recErr := e.reconcile(ctx, order)
			if recErr != nil {
				return broker.OrderAck{}, recErr
			}
			return broker.OrderAck{
				ExchangeOrderID: status.ExchangeOrderID,
				ClientOrderID:   status.ClientOrderID,
				Status:          status.Status,
				FilledQty:       status.FilledQty,
				AvgFillPrice:    status.AvgFillPrice,
				TransactAt:      status.UpdatedAt,
			}, nil
		}
		e.failOrder(order, err)
		return broker.OrderAck{}, apperrors.NewOrderError(order.ClientOrderID, order.Symbol, "place", "venue rejected submission", err)
	}

	e.adoptAck(order, ack)
	return ack, nil
}

// reconcile recovers an order whose submission outcome is unknown. It asks
// the venue for the client order ID, falls back to scanning open orders,
// and marks the order Orphaned when the venue has no trace of it.
func (e *Executor) reconcile(ctx context.Context, order *ManagedOrder) (broker.OrderStatus, error) {
	status, err := utils.RetryWithResult(ctx, e.cfg.Retry, func() (broker.OrderStatus, error) {
		st, fetchErr := e.venue.FetchOrder(ctx, order.Symbol, order.ClientOrderID)
		if fetchErr == nil {
			return st, nil
		}
		if errors.Is(fetchErr, apperrors.ErrOrderNotFound) {
			open, scanErr := e.venue.OpenOrders(ctx, order.Symbol)
			if scanErr != nil {
				return broker.OrderStatus{}, scanErr
			}
			for _, o := range open {
				if o.ClientOrderID == order.ClientOrderID {
					return o, nil
				}
			}
		}
		return broker.OrderStatus{}, fetchErr
	})
	if err != nil {
		e.orphanOrder(order, err)
		e.log.Error().
			Err(err).
			Str("symbol", order.Symbol).
			Str("client_order_id", order.ClientOrderID).
			Msg("order orphaned, venue has no record after submission timeout")
		return broker.OrderStatus{}, fmt.Errorf("reconcile %s: %w", order.ClientOrderID, err)
	}

	e.adoptStatus(order, status)
	e.log.Warn().
		Str("symbol", order.Symbol).
		Str("client_order_id", order.ClientOrderID).
		Str("venue_status", status.Status).
		Msg("recovered order after submission timeout")
	return status, nil
}

// CancelAll cancels every resting tracked order for symbol, tolerating
// individual failures so the sweep always completes. A venue not-found
// counts as success because the goal state is already reached. Returns
// the number cancelled and the collected failures.
func (e *Executor) CancelAll(ctx context.Context, symbol string) (int, error) {
	e.mu.Lock()
	var targets []*ManagedOrder
	for _, o := range e.orders {
		if o.Symbol == symbol && !o.IsTerminal() && o.State != StatePending {
			targets = append(targets, o)
		}
	}
	e.mu.Unlock()

	sort.Slice(targets, func(i, j int) bool {
		return targets[i].SubmittedAt.Before(targets[j].SubmittedAt)
	})

	cancelled := 0
	var errs []error
	for _, order := range targets {
		err := utils.Retry(ctx, e.cfg.Retry, func() error {
			cancelErr := e.venue.CancelOrder(ctx, order.Symbol, order.ClientOrderID)
			if cancelErr != nil && !errors.Is(cancelErr, apperrors.ErrOrderNotFound) {
				return cancelErr
			}
			return nil
		})
		if err != nil {
			e.log.Error().
				Err(err).
				Str("client_order_id", order.ClientOrderID).
				Msg("cancel failed after retries")
			errs = append(errs, fmt.Errorf("cancel %s: %w", order.ClientOrderID, err))
			continue
		}
		if applyErr := e.applyState(order, StateCancelled); applyErr == nil {
			cancelled++
		}
	}
	return cancelled, errors.Join(errs...)
}

// SurfaceOpenOrders queries the venue for orders left over from an earlier
// session. Orders carrying our client ID prefix are adopted into the
// table; anything else is logged loudly and left alone.
func (e *Executor) SurfaceOpenOrders(ctx context.Context, symbols []string) (int, error) {
	adopted := 0
	for _, symbol := range symbols {
		open, err := e.venue.OpenOrders(ctx, symbol)
		if err != nil {
			return adopted, fmt.Errorf("open orders %s: %w", symbol, err)
		}
		for _, st := range open {
			if !strings.HasPrefix(st.ClientOrderID, clientIDPrefix) {
				e.log.Warn().
					Str("symbol", symbol).
					Str("client_order_id", st.ClientOrderID).
					Str("status", st.Status).
					Msg("foreign open order at venue, leaving untouched")
				continue
			}

			e.mu.Lock()
			_, known := e.orders[st.ClientOrderID]
			if !known {
				e.orders[st.ClientOrderID] = &ManagedOrder{
					ClientOrderID:   st.ClientOrderID,
					ExchangeOrderID: st.ExchangeOrderID,
					Symbol:          st.Symbol,
					Side:            st.Side,
					Type:            st.Type,
					Qty:             st.Qty,
					FilledQty:       st.FilledQty,
					AvgFillPrice:    st.AvgFillPrice,
					State:           mapVenueState(st.Status),
					SubmittedAt:     st.UpdatedAt,
					UpdatedAt:       st.UpdatedAt,
				}
				adopted++
			}
			e.mu.Unlock()

			if !known {
				e.log.Warn().
					Str("symbol", symbol).
					Str("client_order_id", st.ClientOrderID).
					Str("status", st.Status).
					Float64("filled", st.FilledQty).
					Msg("adopted open order from a previous session")
			}
		}
	}
	return adopted, nil
}

// Chase reprices an unfilled limit order toward target, halving the
// distance on each attempt, then escalates the remainder to a market order
// once MaxReprices is exhausted. No-op unless chasing is enabled.
func (e *Executor) Chase(ctx context.Context, clientOrderID string, target float64) error {
	if !e.cfg.Chase.Enabled {
		return nil
	}

	e.mu.Lock()
	order, ok := e.orders[clientOrderID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("chase %s: %w", clientOrderID, apperrors.ErrOrderNotFound)
	}

	log := logging.WithOrderID(e.log, clientOrderID)
	interval := time.Duration(e.cfg.Chase.IntervalSec) * time.Second
	current := order

	for attempt := 0; attempt < e.cfg.Chase.MaxReprices; attempt++ {
		if err := e.sleep(ctx, interval); err != nil {
			return err
		}

		if st, err := e.venue.FetchOrder(ctx, current.Symbol, current.ClientOrderID); err == nil {
			e.adoptStatus(current, st)
		}
		snap := e.snapshotOf(current)
		if snap.IsTerminal() {
			return nil
		}

		if err := e.cancelResting(ctx, current); err != nil {
			return err
		}

		price := snap.Price + (target-snap.Price)/2
		replacement := &ManagedOrder{
			ClientOrderID: ClientOrderID(snap.Strategy, snap.Symbol, e.now(), e.entropy()),
			Symbol:        snap.Symbol,
			Side:          snap.Side,
			Type:          models.OrderTypeLimit,
			Qty:           snap.RemainingQty(),
			Price:         price,
			Strategy:      snap.Strategy,
			State:         StatePending,
			SubmittedAt:   e.now(),
			UpdatedAt:     e.now(),
			StopPrice:     snap.StopPrice,
			TakeProfit:    snap.TakeProfit,
			Exit:          snap.Exit,
		}
		e.track(replacement)
		if _, err := e.submit(ctx, replacement); err != nil {
			return fmt.Errorf("chase reprice %s: %w", replacement.ClientOrderID, err)
		}
		log.Info().
			Str("symbol", snap.Symbol).
			Str("replaces", snap.ClientOrderID).
			Str("replacement", replacement.ClientOrderID).
			Float64("price", price).
			Int("attempt", attempt+1).
			Msg("chased unfilled order")
		current = replacement
	}

	if st, err := e.venue.FetchOrder(ctx, current.Symbol, current.ClientOrderID); err == nil {
		e.adoptStatus(current, st)
	}
	snap := e.snapshotOf(current)
	if snap.IsTerminal() {
		return nil
	}
	if err := e.cancelResting(ctx, current); err != nil {
		return err
	}

	final := &ManagedOrder{
		ClientOrderID: ClientOrderID(snap.Strategy, snap.Symbol, e.now(), e.entropy()),
		Symbol:        snap.Symbol,
		Side:          snap.Side,
		Type:          models.OrderTypeMarket,
		Qty:           snap.RemainingQty(),
		Strategy:      snap.Strategy,
		State:         StatePending,
		SubmittedAt:   e.now(),
		UpdatedAt:     e.now(),
		StopPrice:     snap.StopPrice,
		TakeProfit:    snap.TakeProfit,
		Exit:          snap.Exit,
	}
	e.track(final)
	if _, err := e.submit(ctx, final); err != nil {
		return fmt.Errorf("chase escalation %s: %w", final.ClientOrderID, err)
	}
	log.Warn().
		Str("symbol", snap.Symbol).
		Str("escalation", final.ClientOrderID).
		Float64("qty", final.Qty).
		Msg("chase exhausted, crossed the spread at market")
	return nil
}

func (e *Executor) cancelResting(ctx context.Context, order *ManagedOrder) error {
	err := e.venue.CancelOrder(ctx, order.Symbol, order.ClientOrderID)
	if err != nil && !errors.Is(err, apperrors.ErrOrderNotFound) {
		return fmt.Errorf("cancel %s: %w", order.ClientOrderID, err)
	}
	return e.applyState(order, StateCancelled)
}

// Orders returns a snapshot of every tracked order, oldest first.
func (e *Executor) Orders() []ManagedOrder {
	e.mu.Lock()
	out := make([]ManagedOrder, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, *o)
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ClientOrderID < out[j].ClientOrderID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// Order returns a snapshot of one tracked order.
func (e *Executor) Order(clientOrderID string) (ManagedOrder, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[clientOrderID]
	if !ok {
		return ManagedOrder{}, false
	}
	return *o, true
}

// Status is a point-in-time summary of the executor.
type Status struct {
	Mode           Mode
	TotalOrders    int
	OpenOrders     int
	FilledOrders   int
	RiskRejects    int
	BreakerRejects int
}

// Status reports order counts and rejection tallies.
func (e *Executor) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Status{
		Mode:           e.cfg.Mode,
		TotalOrders:    len(e.orders),
		RiskRejects:    e.riskRejects,
		BreakerRejects: e.breakerRejects,
	}
	for _, o := range e.orders {
		switch {
		case o.State == StateFilled:
			s.FilledOrders++
		case !o.IsTerminal():
			s.OpenOrders++
		}
	}
	return s
}

func (e *Executor) track(order *ManagedOrder) {
	e.mu.Lock()
	e.orders[order.ClientOrderID] = order
	e.mu.Unlock()
}

func (e *Executor) snapshotOf(order *ManagedOrder) ManagedOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *order
}

func (e *Executor) applyState(order *ManagedOrder, to OrderState) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyStateLocked(order, to)
}

func (e *Executor) applyStateLocked(order *ManagedOrder, to OrderState) error {
	if err := transition(order.State, to); err != nil {
		return err
	}
	order.State = to
	order.UpdatedAt = e.now()
	logging.LogOrder(e.log, order.ClientOrderID, order.Symbol, string(order.Side), string(to))
	return nil
}

func (e *Executor) fillOrder(order *ManagedOrder, price, qty float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.applyStateLocked(order, StateFilled) != nil {
		return
	}
	order.FilledQty = qty
	order.AvgFillPrice = price
}

func (e *Executor) failOrder(order *ManagedOrder, cause error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.applyStateLocked(order, StateError) != nil {
		return
	}
	order.LastError = cause.Error()
}

func (e *Executor) orphanOrder(order *ManagedOrder, cause error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.applyStateLocked(order, StateOrphaned) != nil {
		return
	}
	order.LastError = cause.Error()
}

func (e *Executor) adoptAck(order *ManagedOrder, ack broker.OrderAck) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ack.ExchangeOrderID != "" {
		order.ExchangeOrderID = ack.ExchangeOrderID
	}
	e.adoptLocked(order, ack.Status, ack.FilledQty, ack.AvgFillPrice)
}

func (e *Executor) adoptStatus(order *ManagedOrder, st broker.OrderStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st.ExchangeOrderID != "" {
		order.ExchangeOrderID = st.ExchangeOrderID
	}
	e.adoptLocked(order, st.Status, st.FilledQty, st.AvgFillPrice)
}

func (e *Executor) adoptLocked(order *ManagedOrder, venueStatus string, filledQty, avgPrice float64) {
	if order.IsTerminal() {
		return
	}
	if next := mapVenueState(venueStatus); next != order.State {
		if err := e.applyStateLocked(order, next); err != nil {
			// A venue status the table cannot reach from here means the
			// local view has diverged. Orphan instead of guessing.
			if e.applyStateLocked(order, StateOrphaned) == nil {
				order.LastError = err.Error()
			}
			return
		}
	} else {
		order.UpdatedAt = e.now()
	}
	if filledQty > 0 {
		order.FilledQty = filledQty
		order.AvgFillPrice = avgPrice
	}
}

// mapVenueState translates a venue status string into the local state
// machine. Unknown remote states orphan the order rather than guessing.
func mapVenueState(status string) OrderState {
	switch status {
	case broker.StatusNew:
		return StateSubmitted
	case broker.StatusPartiallyFilled:
		return StatePartiallyFilled
	case broker.StatusFilled:
		return StateFilled
	case broker.StatusCanceled, broker.StatusExpired:
		return StateCancelled
	case broker.StatusRejected:
		return StateError
	}
	return StateOrphaned
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, apperrors.ErrTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
