// Package broker provides venue connectivity implementations.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/rs/zerolog"

	apperrors "hot-crypto/internal/errors"
	"hot-crypto/internal/logging"
	"hot-crypto/internal/models"
	"hot-crypto/internal/ratelimit"
)

// Request weights per the venue's published REST limits.
const (
	weightKlines     = 2  // GET /api/v3/klines
	weightAccount    = 20 // GET /api/v3/account
	weightPlaceOrder = 1  // POST /api/v3/order
	weightCancel     = 1  // DELETE /api/v3/order
	weightQueryOrder = 4  // GET /api/v3/order
	weightOpenOrders = 6  // GET /api/v3/openOrders with symbol
)

// Venue error codes that need sentinel mapping.
const (
	codeUnknownOrder     = -2011
	codeNoSuchOrder      = -2013
	codeNewOrderRejected = -2010
	codeTooManyRequests  = -1003
)

// BinanceConfig holds credentials and endpoint selection for the live venue.
// The zero-value Logger discards; pass one to get per-request API traces.
type BinanceConfig struct {
	APIKey    string
	APISecret string
	Testnet   bool
	Logger    zerolog.Logger
}

// BinanceVenue implements the Venue interface against the Binance spot API.
// Every request acquires rate-limit budget before going out.
type BinanceVenue struct {
	client  *binance.Client
	limiter *ratelimit.Limiter
	log     zerolog.Logger
}

// NewBinanceVenue creates a live venue client.
func NewBinanceVenue(cfg BinanceConfig, limiter *ratelimit.Limiter) *BinanceVenue {
	if cfg.Testnet {
		binance.UseTestnet = true
	}
	return &BinanceVenue{
		client:  binance.NewClient(cfg.APIKey, cfg.APISecret),
		limiter: limiter,
		log:     logging.WithComponent(cfg.Logger, "binance"),
	}
}

// Name returns the venue identifier.
func (v *BinanceVenue) Name() string {
	return "binance"
}

// FetchCandles returns up to limit most recent candles for the symbol.
func (v *BinanceVenue) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	if err := v.acquire(ctx, weightKlines); err != nil {
		return nil, err
	}

	start := time.Now()
	klines, err := v.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	logging.LogAPICall(v.log, "GET", "/api/v3/klines", time.Since(start), err)
	if err != nil {
		return nil, v.mapErr("fetch candles", err)
	}

	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, models.Candle{
			Timestamp: time.UnixMilli(k.OpenTime).UTC(),
			Open:      parseF(k.Open),
			High:      parseF(k.High),
			Low:       parseF(k.Low),
			Close:     parseF(k.Close),
			Volume:    parseF(k.Volume),
		})
	}
	return candles, nil
}

// Balance returns the free and locked amounts of one asset.
func (v *BinanceVenue) Balance(ctx context.Context, asset string) (models.Balance, error) {
	if err := v.acquire(ctx, weightAccount); err != nil {
		return models.Balance{}, err
	}

	start := time.Now()
	acct, err := v.client.NewGetAccountService().Do(ctx)
	logging.LogAPICall(v.log, "GET", "/api/v3/account", time.Since(start), err)
	if err != nil {
		return models.Balance{}, v.mapErr("fetch account", err)
	}

	for _, b := range acct.Balances {
		if b.Asset == asset {
			return models.Balance{
				Asset:  b.Asset,
				Free:   parseF(b.Free),
				Locked: parseF(b.Locked),
			}, nil
		}
	}
	return models.Balance{Asset: asset}, nil
}

// PlaceOrder submits an order. Post-only limit orders are sent as
// LIMIT_MAKER so the venue rejects them instead of crossing the book.
func (v *BinanceVenue) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	if err := v.acquire(ctx, weightPlaceOrder); err != nil {
		return OrderAck{}, err
	}

	svc := v.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binance.SideType(req.Side)).
		Quantity(formatF(req.Qty))
	if req.ClientOrderID != "" {
		svc.NewClientOrderID(req.ClientOrderID)
	}

	switch {
	case req.Type == models.OrderTypeMarket:
		svc.Type(binance.OrderTypeMarket)
	case req.PostOnly:
		svc.Type(binance.OrderTypeLimitMaker).Price(formatF(req.Price))
	default:
		svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(formatF(req.Price))
	}

	start := time.Now()
	res, err := svc.Do(ctx)
	logging.LogAPICall(v.log, "POST", "/api/v3/order", time.Since(start), err)
	if err != nil {
		return OrderAck{}, v.mapErr("place order", err)
	}

	filled := parseF(res.ExecutedQuantity)
	return OrderAck{
		ExchangeOrderID: strconv.FormatInt(res.OrderID, 10),
		ClientOrderID:   res.ClientOrderID,
		Status:          string(res.Status),
		FilledQty:       filled,
		AvgFillPrice:    avgFill(parseF(res.CummulativeQuoteQuantity), filled),
		TransactAt:      time.UnixMilli(res.TransactTime).UTC(),
	}, nil
}

// CancelOrder cancels an open order by client order ID.
func (v *BinanceVenue) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	if err := v.acquire(ctx, weightCancel); err != nil {
		return err
	}

	start := time.Now()
	_, err := v.client.NewCancelOrderService().
		Symbol(symbol).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	logging.LogAPICall(v.log, "DELETE", "/api/v3/order", time.Since(start), err)
	if err != nil {
		return v.mapErr("cancel order", err)
	}
	return nil
}

// FetchOrder returns the current state of an order by client order ID.
func (v *BinanceVenue) FetchOrder(ctx context.Context, symbol, clientOrderID string) (OrderStatus, error) {
	if err := v.acquire(ctx, weightQueryOrder); err != nil {
		return OrderStatus{}, err
	}

	start := time.Now()
	o, err := v.client.NewGetOrderService().
		Symbol(symbol).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	logging.LogAPICall(v.log, "GET", "/api/v3/order", time.Since(start), err)
	if err != nil {
		return OrderStatus{}, v.mapErr("fetch order", err)
	}
	return mapOrder(o), nil
}

// OpenOrders returns all open orders for a symbol.
func (v *BinanceVenue) OpenOrders(ctx context.Context, symbol string) ([]OrderStatus, error) {
	if err := v.acquire(ctx, weightOpenOrders); err != nil {
		return nil, err
	}

	start := time.Now()
	orders, err := v.client.NewListOpenOrdersService().
		Symbol(symbol).
		Do(ctx)
	logging.LogAPICall(v.log, "GET", "/api/v3/openOrders", time.Since(start), err)
	if err != nil {
		return nil, v.mapErr("fetch open orders", err)
	}

	out := make([]OrderStatus, 0, len(orders))
	for _, o := range orders {
		out = append(out, mapOrder(o))
	}
	return out, nil
}

func (v *BinanceVenue) acquire(ctx context.Context, weight int) error {
	if v.limiter == nil {
		return nil
	}
	_, err := v.limiter.Acquire(ctx, weight)
	return err
}

// mapErr translates venue API errors into application sentinels where a
// caller needs to branch on them, and VenueError otherwise.
func (v *BinanceVenue) mapErr(op string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case codeUnknownOrder, codeNoSuchOrder:
			return fmt.Errorf("%s: %w", op, apperrors.ErrOrderNotFound)
		case codeNewOrderRejected:
			return fmt.Errorf("%s: %s: %w", op, apiErr.Message, apperrors.ErrOrderRejected)
		case codeTooManyRequests:
			return fmt.Errorf("%s: %w", op, apperrors.ErrRateLimited)
		}
		return apperrors.NewVenueError("binance", int(apiErr.Code), apiErr.Message, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func mapOrder(o *binance.Order) OrderStatus {
	filled := parseF(o.ExecutedQuantity)
	return OrderStatus{
		ExchangeOrderID: strconv.FormatInt(o.OrderID, 10),
		ClientOrderID:   o.ClientOrderID,
		Symbol:          o.Symbol,
		Side:            models.Side(o.Side),
		Type:            mapOrderType(o.Type),
		Status:          string(o.Status),
		Qty:             parseF(o.OrigQuantity),
		FilledQty:       filled,
		AvgFillPrice:    avgFill(parseF(o.CummulativeQuoteQuantity), filled),
		UpdatedAt:       time.UnixMilli(o.UpdateTime).UTC(),
	}
}

func mapOrderType(t binance.OrderType) models.OrderType {
	if t == binance.OrderTypeMarket {
		return models.OrderTypeMarket
	}
	// LIMIT, LIMIT_MAKER, STOP_LOSS_LIMIT and friends all rest at a price.
	return models.OrderTypeLimit
}

func avgFill(cumQuote, filledQty float64) float64 {
	if filledQty <= 0 {
		return 0
	}
	return cumQuote / filledQty
}

func parseF(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func formatF(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Ensure BinanceVenue implements the Venue interface
var _ Venue = (*BinanceVenue)(nil)
