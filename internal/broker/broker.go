// Package broker provides venue connectivity for market data and order routing.
package broker

import (
	"context"
	"time"

	"hot-crypto/internal/models"
)

// Order statuses as reported by the venue.
const (
	StatusNew             = "NEW"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
	StatusCanceled        = "CANCELED"
	StatusRejected        = "REJECTED"
	StatusExpired         = "EXPIRED"
)

// StatusIsTerminal reports whether a venue status can no longer change.
func StatusIsTerminal(status string) bool {
	switch status {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Venue defines the interface to an exchange, live or simulated.
// Orders are addressed by client order ID so that state can be
// reconciled after a restart without persisting exchange IDs.
type Venue interface {
	// Name returns the venue identifier used in logs and errors.
	Name() string

	// Market Data
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)

	// Account
	Balance(ctx context.Context, asset string) (models.Balance, error)

	// Orders
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, symbol, clientOrderID string) error
	FetchOrder(ctx context.Context, symbol, clientOrderID string) (OrderStatus, error)
	OpenOrders(ctx context.Context, symbol string) ([]OrderStatus, error)
}

// OrderRequest describes an order to submit to a venue.
type OrderRequest struct {
	Symbol        string
	Side          models.Side
	Type          models.OrderType
	Qty           float64
	Price         float64 // limit price; ignored for market orders
	ClientOrderID string
	PostOnly      bool // maker-only; rejected instead of crossing the book
}

// OrderAck is the venue's acknowledgement of a newly placed order.
type OrderAck struct {
	ExchangeOrderID string
	ClientOrderID   string
	Status          string
	FilledQty       float64
	AvgFillPrice    float64
	TransactAt      time.Time
}

// OrderStatus is the venue's view of an existing order.
type OrderStatus struct {
	ExchangeOrderID string
	ClientOrderID   string
	Symbol          string
	Side            models.Side
	Type            models.OrderType
	Status          string
	Qty             float64
	FilledQty       float64
	AvgFillPrice    float64
	UpdatedAt       time.Time
}

// Remaining returns the unfilled quantity.
func (s OrderStatus) Remaining() float64 {
	r := s.Qty - s.FilledQty
	if r < 0 {
		return 0
	}
	return r
}
