// Package broker provides venue connectivity implementations.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "hot-crypto/internal/errors"
	"hot-crypto/internal/models"
)

// PaperVenue implements the Venue interface for paper trading simulation.
// Every order fills in full immediately: market orders at the current mark
// price, limit orders at their limit price.
type PaperVenue struct {
	// Optional live venue for market data
	data Venue

	// Simulated state
	balances map[string]models.Balance
	orders   map[string]*OrderStatus
	fills    []OrderAck
	marks    map[string]float64
	candles  map[string][]models.Candle

	orderCounter int

	now func() time.Time

	mu sync.RWMutex
}

// PaperVenueConfig holds configuration for the paper venue.
type PaperVenueConfig struct {
	// DataVenue, when set, serves candle requests for symbols that have
	// not been seeded locally.
	DataVenue Venue
	// QuoteAsset and QuoteBalance seed the starting balance.
	QuoteAsset   string
	QuoteBalance float64
}

// NewPaperVenue creates a new paper trading venue.
func NewPaperVenue(cfg PaperVenueConfig) *PaperVenue {
	quoteAsset := cfg.QuoteAsset
	if quoteAsset == "" {
		quoteAsset = "USDT"
	}
	quoteBalance := cfg.QuoteBalance
	if quoteBalance == 0 {
		quoteBalance = 10000
	}

	v := &PaperVenue{
		data:     cfg.DataVenue,
		balances: make(map[string]models.Balance),
		orders:   make(map[string]*OrderStatus),
		marks:    make(map[string]float64),
		candles:  make(map[string][]models.Candle),
		now:      time.Now,
	}
	v.balances[quoteAsset] = models.Balance{Asset: quoteAsset, Free: quoteBalance}
	return v
}

// Name returns the venue identifier.
func (v *PaperVenue) Name() string {
	return "paper"
}

// FetchCandles returns seeded candles for the symbol, falling back to the
// data venue when none were seeded.
func (v *PaperVenue) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	v.mu.RLock()
	seeded, ok := v.candles[candleKey(symbol, interval)]
	v.mu.RUnlock()

	if ok {
		if limit > 0 && len(seeded) > limit {
			seeded = seeded[len(seeded)-limit:]
		}
		out := make([]models.Candle, len(seeded))
		copy(out, seeded)
		return out, nil
	}

	if v.data != nil {
		return v.data.FetchCandles(ctx, symbol, interval, limit)
	}
	return nil, fmt.Errorf("no candles for %s %s: %w", symbol, interval, apperrors.ErrDataNotFound)
}

// Balance returns the simulated balance for an asset.
func (v *PaperVenue) Balance(ctx context.Context, asset string) (models.Balance, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if b, ok := v.balances[asset]; ok {
		return b, nil
	}
	return models.Balance{Asset: asset}, nil
}

// PlaceOrder simulates order placement with an immediate full fill.
func (v *PaperVenue) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if req.Qty <= 0 {
		return OrderAck{}, fmt.Errorf("paper order qty %v: %w", req.Qty, apperrors.ErrInvalidOrder)
	}
	if req.ClientOrderID != "" {
		if _, exists := v.orders[req.ClientOrderID]; exists {
			return OrderAck{}, fmt.Errorf("duplicate client order ID %s: %w", req.ClientOrderID, apperrors.ErrInvalidOrder)
		}
	}

	fillPrice := v.marks[req.Symbol]
	if req.Type == models.OrderTypeLimit && req.Price > 0 {
		fillPrice = req.Price
	}
	if fillPrice <= 0 {
		return OrderAck{}, fmt.Errorf("no mark price for %s: %w", req.Symbol, apperrors.ErrDataNotFound)
	}

	v.orderCounter++
	exchangeID := fmt.Sprintf("PAPER_%d_%d", v.now().Unix(), v.orderCounter)
	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = exchangeID
	}

	filledAt := v.now()
	status := &OrderStatus{
		ExchangeOrderID: exchangeID,
		ClientOrderID:   clientID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Type:            req.Type,
		Status:          StatusFilled,
		Qty:             req.Qty,
		FilledQty:       req.Qty,
		AvgFillPrice:    fillPrice,
		UpdatedAt:       filledAt,
	}
	v.orders[clientID] = status

	ack := OrderAck{
		ExchangeOrderID: exchangeID,
		ClientOrderID:   clientID,
		Status:          StatusFilled,
		FilledQty:       req.Qty,
		AvgFillPrice:    fillPrice,
		TransactAt:      filledAt,
	}
	v.fills = append(v.fills, ack)
	return ack, nil
}

// CancelOrder simulates order cancellation. Paper orders fill immediately,
// so cancels report the order as already gone, matching live venue
// behaviour for closed orders.
func (v *PaperVenue) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	order, ok := v.orders[clientOrderID]
	if !ok {
		return fmt.Errorf("cancel %s: %w", clientOrderID, apperrors.ErrOrderNotFound)
	}
	if StatusIsTerminal(order.Status) {
		return fmt.Errorf("cancel %s: order already %s: %w", clientOrderID, order.Status, apperrors.ErrOrderNotFound)
	}

	order.Status = StatusCanceled
	order.UpdatedAt = v.now()
	return nil
}

// FetchOrder returns the state of a paper order.
func (v *PaperVenue) FetchOrder(ctx context.Context, symbol, clientOrderID string) (OrderStatus, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	order, ok := v.orders[clientOrderID]
	if !ok {
		return OrderStatus{}, fmt.Errorf("fetch %s: %w", clientOrderID, apperrors.ErrOrderNotFound)
	}
	return *order, nil
}

// OpenOrders returns paper orders that are still working.
func (v *PaperVenue) OpenOrders(ctx context.Context, symbol string) ([]OrderStatus, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var open []OrderStatus
	for _, o := range v.orders {
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		if !StatusIsTerminal(o.Status) {
			open = append(open, *o)
		}
	}
	return open, nil
}

// SetBalance sets the simulated balance for an asset.
func (v *PaperVenue) SetBalance(asset string, free, locked float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[asset] = models.Balance{Asset: asset, Free: free, Locked: locked}
}

// SeedCandles loads a candle series served by FetchCandles.
func (v *PaperVenue) SeedCandles(symbol, interval string, candles []models.Candle) {
	v.mu.Lock()
	defer v.mu.Unlock()
	cp := make([]models.Candle, len(candles))
	copy(cp, candles)
	v.candles[candleKey(symbol, interval)] = cp
}

// UpdatePrice updates the mark price used to fill market orders.
func (v *PaperVenue) UpdatePrice(symbol string, price float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.marks[symbol] = price
}

// ProcessTick updates the mark price from a live tick.
func (v *PaperVenue) ProcessTick(tick models.Tick) {
	v.UpdatePrice(tick.Symbol, tick.Price)
}

// MarkPrice returns the current mark price for a symbol, zero if unknown.
func (v *PaperVenue) MarkPrice(symbol string) float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.marks[symbol]
}

// Fills returns all fills in placement order.
func (v *PaperVenue) Fills() []OrderAck {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]OrderAck, len(v.fills))
	copy(out, v.fills)
	return out
}

// Reset clears all simulated state and reseeds the quote balance.
func (v *PaperVenue) Reset(quoteAsset string, quoteBalance float64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.balances = make(map[string]models.Balance)
	v.orders = make(map[string]*OrderStatus)
	v.fills = nil
	v.marks = make(map[string]float64)
	v.candles = make(map[string][]models.Candle)
	v.orderCounter = 0
	v.balances[quoteAsset] = models.Balance{Asset: quoteAsset, Free: quoteBalance}
}

func candleKey(symbol, interval string) string {
	return symbol + "|" + interval
}

// Ensure PaperVenue implements the Venue interface
var _ Venue = (*PaperVenue)(nil)
