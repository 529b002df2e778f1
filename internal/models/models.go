// Package models provides domain models for the trading core.
package models

import "time"

// Side represents the side of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// Candle represents OHLCV data for one bar. Timestamps are UTC; series are
// ascending with no duplicate timestamps.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Tick represents a live trade print from the venue stream.
type Tick struct {
	Symbol    string
	Price     float64
	Qty       float64
	Timestamp time.Time
}

// Balance represents the free and locked amounts of one asset.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}
