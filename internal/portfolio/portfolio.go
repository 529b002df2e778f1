// Package portfolio tracks the paper trading ledger: cash, open
// positions and realized trade history. Every simulated fill pays
// slippage in the adverse direction and commission on notional, so
// paper results stay honest about friction.
package portfolio

import (
	"fmt"
	"sync"
	"time"

	apperrors "hot-crypto/internal/errors"
	"hot-crypto/internal/models"
)

const (
	DefaultInitialCash = 10000.0
	DefaultCommission  = 0.0005
	DefaultSlippageBps = 2.0
)

// Config holds the ledger parameters. Non-positive fields fall back to
// the defaults in New.
type Config struct {
	InitialCash float64
	Commission  float64
	SlippageBps float64
}

// Fill describes one simulated execution.
type Fill struct {
	Price    float64
	Fees     float64
	Slippage float64
}

// OpenRequest describes a position to open.
type OpenRequest struct {
	Symbol   string
	Side     models.PositionSide
	Size     float64
	Price    float64
	Stop     float64
	TP       float64
	Strategy models.StrategyID
	At       time.Time
}

// Portfolio is the paper ledger. One position per symbol; entry prices
// include slippage so equity math matches what a venue would report.
type Portfolio struct {
	mu          sync.Mutex
	cash        float64
	initialCash float64
	commission  float64
	slippageBps float64

	positions map[string]models.Position
	marks     map[string]float64
	history   []models.TradeResult
}

// New creates a portfolio. Non-positive config fields take defaults.
func New(cfg Config) *Portfolio {
	if cfg.InitialCash <= 0 {
		cfg.InitialCash = DefaultInitialCash
	}
	if cfg.Commission <= 0 {
		cfg.Commission = DefaultCommission
	}
	if cfg.SlippageBps <= 0 {
		cfg.SlippageBps = DefaultSlippageBps
	}
	return &Portfolio{
		cash:        cfg.InitialCash,
		initialCash: cfg.InitialCash,
		commission:  cfg.Commission,
		slippageBps: cfg.SlippageBps,
		positions:   make(map[string]models.Position),
		marks:       make(map[string]float64),
	}
}

// Open opens a long or short position at the requested price plus
// slippage. Longs pay notional and fees from cash; shorts pay fees only
// (margin is not simulated).
func (p *Portfolio) Open(req OpenRequest) (Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.positions[req.Symbol]; ok {
		return Fill{}, apperrors.Wrapf(apperrors.ErrPositionExists, "open %s %s", req.Side, req.Symbol)
	}
	if req.Size <= 0 {
		return Fill{}, apperrors.NewValidationError("size", req.Size, "must be positive")
	}
	if req.Price <= 0 {
		return Fill{}, apperrors.NewValidationError("price", req.Price, "must be positive")
	}

	var fill Fill
	if req.Side == models.PositionShort {
		fill.Price = p.slip(req.Price, false)
		fill.Slippage = req.Price - fill.Price
		fill.Fees = req.Size * fill.Price * p.commission
		p.cash -= fill.Fees
	} else {
		fill.Price = p.slip(req.Price, true)
		fill.Slippage = fill.Price - req.Price
		notional := req.Size * fill.Price
		fill.Fees = notional * p.commission
		cost := notional + fill.Fees
		if cost > p.cash {
			return Fill{}, apperrors.Wrapf(apperrors.ErrInsufficientFunds,
				"need %.2f, have %.2f", cost, p.cash)
		}
		p.cash -= cost
	}

	at := req.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	p.positions[req.Symbol] = models.Position{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Qty:        req.Size,
		EntryPrice: fill.Price,
		StopPrice:  req.Stop,
		TakeProfit: req.TP,
		Strategy:   req.Strategy,
		OpenedAt:   at,
	}
	p.marks[req.Symbol] = fill.Price
	return fill, nil
}

// Close closes the open position for symbol at the given price plus
// slippage and realizes its PnL. The side must match what is open.
func (p *Portfolio) Close(symbol string, side models.PositionSide, price float64, reason string, at time.Time) (models.TradeResult, Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked(symbol, side, price, reason, at)
}

func (p *Portfolio) closeLocked(symbol string, side models.PositionSide, price float64, reason string, at time.Time) (models.TradeResult, Fill, error) {
	pos, ok := p.positions[symbol]
	if !ok {
		return models.TradeResult{}, Fill{}, apperrors.Wrapf(apperrors.ErrPositionNotFound, "close %s", symbol)
	}
	if pos.Side != side {
		return models.TradeResult{}, Fill{}, apperrors.NewValidationError(
			"side", side, fmt.Sprintf("position for %s is %s", symbol, pos.Side))
	}

	var fill Fill
	var pnl float64
	if pos.Side == models.PositionShort {
		// buy to cover
		fill.Price = p.slip(price, true)
		fill.Slippage = fill.Price - price
		notional := pos.Qty * fill.Price
		fill.Fees = notional * p.commission
		pnl = pos.Qty*pos.EntryPrice - (notional + fill.Fees)
		p.cash += pnl
	} else {
		fill.Price = p.slip(price, false)
		fill.Slippage = price - fill.Price
		notional := pos.Qty * fill.Price
		fill.Fees = notional * p.commission
		proceeds := notional - fill.Fees
		pnl = proceeds - pos.Qty*pos.EntryPrice
		p.cash += proceeds
	}

	if at.IsZero() {
		at = time.Now().UTC()
	}
	trade := models.TradeResult{
		Symbol:     symbol,
		Strategy:   pos.Strategy,
		Side:       pos.Side,
		Qty:        pos.Qty,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  fill.Price,
		PnL:        pnl,
		Win:        pnl >= 0,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   at,
		Reason:     reason,
	}
	p.history = append(p.history, trade)
	delete(p.positions, symbol)
	return trade, fill, nil
}

// SweepStops closes the symbol's position if the candle's range crossed
// its stop or take profit. The stop is checked first and fills at the
// stop price, the conservative assumption for a bar you did not watch
// tick by tick.
func (p *Portfolio) SweepStops(symbol string, c models.Candle) (models.TradeResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return models.TradeResult{}, false
	}
	p.marks[symbol] = c.Close

	var exitPrice float64
	var reason string
	if pos.Side == models.PositionLong {
		switch {
		case pos.StopPrice > 0 && c.Low <= pos.StopPrice:
			exitPrice, reason = pos.StopPrice, "stop_loss"
		case pos.TakeProfit > 0 && c.High >= pos.TakeProfit:
			exitPrice, reason = pos.TakeProfit, "take_profit"
		}
	} else {
		switch {
		case pos.StopPrice > 0 && c.High >= pos.StopPrice:
			exitPrice, reason = pos.StopPrice, "stop_loss"
		case pos.TakeProfit > 0 && c.Low <= pos.TakeProfit:
			exitPrice, reason = pos.TakeProfit, "take_profit"
		}
	}
	if reason == "" {
		return models.TradeResult{}, false
	}

	trade, _, err := p.closeLocked(symbol, pos.Side, exitPrice, reason, c.Timestamp)
	if err != nil {
		return models.TradeResult{}, false
	}
	return trade, true
}

// MarkPrice updates the symbol's mark used for equity.
func (p *Portfolio) MarkPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marks[symbol] = price
}

// Equity returns cash plus the mark-to-market value of open positions.
// Symbols never marked value at their entry price.
func (p *Portfolio) Equity() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.equityLocked()
}

func (p *Portfolio) equityLocked() float64 {
	equity := p.cash
	for symbol, pos := range p.positions {
		mark, ok := p.marks[symbol]
		if !ok || mark <= 0 {
			mark = pos.EntryPrice
		}
		if pos.Side == models.PositionLong {
			equity += pos.Qty * (mark - pos.EntryPrice)
		} else {
			equity += pos.Qty * (pos.EntryPrice - mark)
		}
	}
	return equity
}

// HasPosition reports whether a position is open for symbol.
func (p *Portfolio) HasPosition(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.positions[symbol]
	return ok
}

// GetPosition returns a copy of the open position for symbol.
func (p *Portfolio) GetPosition(symbol string) (models.Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[symbol]
	return pos, ok
}

// Positions returns a snapshot of all open positions.
func (p *Portfolio) Positions() []models.Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	return out
}

// History returns a copy of the realized trade history.
func (p *Portfolio) History() []models.TradeResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.TradeResult, len(p.history))
	copy(out, p.history)
	return out
}

// Cash returns the free cash balance.
func (p *Portfolio) Cash() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash
}

// Status is a point-in-time view of the ledger.
type Status struct {
	Cash          float64
	Equity        float64
	InitialCash   float64
	ReturnPct     float64
	OpenPositions int
	TotalTrades   int
}

// Status reports the ledger state using current marks.
func (p *Portfolio) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	equity := p.equityLocked()
	return Status{
		Cash:          p.cash,
		Equity:        equity,
		InitialCash:   p.initialCash,
		ReturnPct:     (equity - p.initialCash) / p.initialCash * 100,
		OpenPositions: len(p.positions),
		TotalTrades:   len(p.history),
	}
}

// slip moves the price against the taker: buys pay up, sells receive
// less.
func (p *Portfolio) slip(price float64, buy bool) float64 {
	pct := p.slippageBps / 10000.0
	if buy {
		return price * (1 + pct)
	}
	return price * (1 - pct)
}
