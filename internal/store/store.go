// Package store persists candles, run sessions, trades and the event journal.
package store

import (
	"context"
	"time"

	"hot-crypto/internal/models"
)

// EventType labels a row in the events journal.
type EventType string

const (
	EventSignal  EventType = "SIGNAL"  // ensemble produced a non-hold decision
	EventReject  EventType = "REJECT"  // risk or breaker refused an entry
	EventOrder   EventType = "ORDER"   // an entry order is resting at the venue
	EventFill    EventType = "FILL"    // an entry order filled
	EventClose   EventType = "CLOSE"   // a position was closed
	EventBreaker EventType = "BREAKER" // a circuit breaker tripped
	EventStatus  EventType = "STATUS"  // periodic engine heartbeat
	EventError   EventType = "ERROR"   // a loop iteration failed
)

// Run statuses.
const (
	RunRunning  = "running"
	RunFinished = "finished"
	RunAborted  = "aborted"
)

// Run is one engine session from start to shutdown.
type Run struct {
	ID          int64
	StartedAt   time.Time
	EndedAt     time.Time // zero while the run is still open
	Mode        string
	Symbols     []string
	Timeframe   string
	InitialCash float64
	FinalEquity float64
	Status      string
}

// Event is one journaled engine decision or action.
type Event struct {
	ID       int64
	RunID    int64
	At       time.Time
	Level    string
	Symbol   string
	Strategy string
	Type     EventType
	Message  string
	Payload  string // optional JSON blob
}

// TradeFilter narrows trade queries. Zero fields are ignored.
type TradeFilter struct {
	RunID    int64
	Symbol   string
	Strategy string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// EventFilter narrows event queries. Zero fields are ignored.
type EventFilter struct {
	RunID  int64
	Symbol string
	Type   EventType
	Since  time.Time
	Limit  int
}

// Store defines the persistence surface the engine and CLI depend on.
type Store interface {
	// Candles
	SaveCandles(ctx context.Context, symbol, interval string, candles []models.Candle) error
	GetCandles(ctx context.Context, symbol, interval string, from, to time.Time) ([]models.Candle, error)
	GetLastCandleTime(ctx context.Context, symbol, interval string) (time.Time, error)

	// Runs
	CreateRun(ctx context.Context, mode string, symbols []string, timeframe string, initialCash float64, at time.Time) (int64, error)
	EndRun(ctx context.Context, runID int64, finalEquity float64, status string, at time.Time) error
	GetRun(ctx context.Context, runID int64) (Run, error)
	GetLastRun(ctx context.Context) (Run, error)

	// Event journal
	LogEvent(ctx context.Context, e Event) error
	GetEvents(ctx context.Context, filter EventFilter) ([]Event, error)

	// Trades
	LogTrade(ctx context.Context, runID int64, result models.TradeResult) error
	GetTrades(ctx context.Context, filter TradeFilter) ([]models.TradeResult, error)

	// Lifecycle
	Close() error
}
