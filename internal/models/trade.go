package models

import "time"

// PositionSide distinguishes long and short exposure.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// Position is an open trade tracked by the portfolio.
type Position struct {
	Symbol     string
	Side       PositionSide
	Qty        float64
	EntryPrice float64
	StopPrice  float64
	TakeProfit float64
	Strategy   StrategyID
	OpenedAt   time.Time
}

// Notional returns the position's entry notional value.
func (p Position) Notional() float64 {
	return p.Qty * p.EntryPrice
}

// TradeResult records a closed trade.
type TradeResult struct {
	Symbol     string
	Strategy   StrategyID
	Side       PositionSide
	Qty        float64
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	Win        bool
	OpenedAt   time.Time
	ClosedAt   time.Time
	Reason     string // signal, stop_loss, take_profit, shutdown
}
