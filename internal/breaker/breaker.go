// Package breaker implements the trading kill switches: a per-asset
// crash halt, a flash move detector, a portfolio-wide intraday kill and
// a consecutive-loss pause. The breaker owns bounded per-symbol price
// rings behind its mutex; callers pass explicit clocks so every rule is
// testable.
package breaker

import (
	"fmt"
	"sync"
	"time"
)

// TripType identifies which safety mechanism fired.
type TripType string

const (
	TripAssetDrop         TripType = "asset_drop"         // single asset fell too far in the window
	TripFlashCrash        TripType = "flash_crash"        // abnormally fast move, either direction
	TripPortfolioKill     TripType = "portfolio_kill"     // intraday portfolio drawdown
	TripConsecutiveLosses TripType = "consecutive_losses" // losing streak pause
)

// Config holds the breaker thresholds. Non-positive fields fall back to
// the defaults in New.
type Config struct {
	AssetDropPct     float64
	AssetWindow      time.Duration
	FlashCrashPct    float64
	FlashCrashWindow time.Duration
	PortfolioKillPct float64

	ConsecutiveLossLimit int
	ConsecutiveCooldown  time.Duration

	AssetTripDuration     time.Duration
	FlashTripDuration     time.Duration
	PortfolioTripDuration time.Duration

	// HistoryRetention bounds the per-symbol price rings.
	HistoryRetention time.Duration
}

// DefaultConfig returns the standard breaker thresholds.
func DefaultConfig() Config {
	return Config{
		AssetDropPct:          0.15,
		AssetWindow:           time.Hour,
		FlashCrashPct:         0.05,
		FlashCrashWindow:      60 * time.Second,
		PortfolioKillPct:      0.10,
		ConsecutiveLossLimit:  3,
		ConsecutiveCooldown:   30 * time.Minute,
		AssetTripDuration:     time.Hour,
		FlashTripDuration:     15 * time.Minute,
		PortfolioTripDuration: 24 * time.Hour,
		HistoryRetention:      2 * time.Hour,
	}
}

// Trip records one triggered breaker. Symbol is empty for trips that
// block every symbol.
type Trip struct {
	Type      TripType
	Symbol    string
	TrippedAt time.Time
	Until     time.Time
	Reason    string
}

func (t Trip) activeAt(now time.Time) bool {
	return now.Before(t.Until)
}

func (t Trip) blocks(symbol string) bool {
	return t.Symbol == "" || t.Symbol == symbol
}

// Result is the outcome of a breaker check.
type Result struct {
	Allowed      bool
	Reason       string
	TrippedUntil time.Time
}

type pricePoint struct {
	at    time.Time
	price float64
}

// Breaker evaluates all safety checks for a symbol in one call.
type Breaker struct {
	mu  sync.Mutex
	cfg Config

	history map[string][]pricePoint
	trips   []Trip

	consecutiveLosses int

	sodValue float64
	sodDay   time.Time
}

// New creates a breaker. Non-positive config fields take defaults.
func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.AssetDropPct <= 0 {
		cfg.AssetDropPct = def.AssetDropPct
	}
	if cfg.AssetWindow <= 0 {
		cfg.AssetWindow = def.AssetWindow
	}
	if cfg.FlashCrashPct <= 0 {
		cfg.FlashCrashPct = def.FlashCrashPct
	}
	if cfg.FlashCrashWindow <= 0 {
		cfg.FlashCrashWindow = def.FlashCrashWindow
	}
	if cfg.PortfolioKillPct <= 0 {
		cfg.PortfolioKillPct = def.PortfolioKillPct
	}
	if cfg.ConsecutiveLossLimit <= 0 {
		cfg.ConsecutiveLossLimit = def.ConsecutiveLossLimit
	}
	if cfg.ConsecutiveCooldown <= 0 {
		cfg.ConsecutiveCooldown = def.ConsecutiveCooldown
	}
	if cfg.AssetTripDuration <= 0 {
		cfg.AssetTripDuration = def.AssetTripDuration
	}
	if cfg.FlashTripDuration <= 0 {
		cfg.FlashTripDuration = def.FlashTripDuration
	}
	if cfg.PortfolioTripDuration <= 0 {
		cfg.PortfolioTripDuration = def.PortfolioTripDuration
	}
	if cfg.HistoryRetention <= 0 {
		cfg.HistoryRetention = def.HistoryRetention
	}
	return &Breaker{
		cfg:     cfg,
		history: make(map[string][]pricePoint),
	}
}

// Check records the price tick and runs every breaker for the symbol.
// The first observation of a UTC day anchors the start-of-day portfolio
// value; portfolioValue <= 0 means unknown and skips the kill switch.
func (b *Breaker) Check(symbol string, price, portfolioValue float64, now time.Time) Result {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.recordPriceLocked(symbol, price, now)
	b.rollDayLocked(portfolioValue, now)

	if t, blocked := b.activeTripLocked(symbol, now); blocked {
		return Result{
			Reason:       fmt.Sprintf("circuit breaker active [%s]: %s", t.Type, t.Reason),
			TrippedUntil: t.Until,
		}
	}

	if t, tripped := b.checkAssetDropLocked(symbol, price, now); tripped {
		return Result{Reason: t.Reason, TrippedUntil: t.Until}
	}
	if t, tripped := b.checkFlashCrashLocked(symbol, price, now); tripped {
		return Result{Reason: t.Reason, TrippedUntil: t.Until}
	}
	if t, tripped := b.checkPortfolioKillLocked(portfolioValue, now); tripped {
		return Result{Reason: t.Reason, TrippedUntil: t.Until}
	}

	return Result{Allowed: true}
}

// RecordTradeResult feeds consecutive-loss tracking. A win clears the
// streak; hitting the limit trips a portfolio-wide pause. The returned
// trip is nil unless this result fired one.
func (b *Breaker) RecordTradeResult(win bool, now time.Time) *Trip {
	b.mu.Lock()
	defer b.mu.Unlock()

	if win {
		b.consecutiveLosses = 0
		return nil
	}
	b.consecutiveLosses++
	if b.consecutiveLosses < b.cfg.ConsecutiveLossLimit {
		return nil
	}
	t := Trip{
		Type:      TripConsecutiveLosses,
		TrippedAt: now,
		Until:     now.Add(b.cfg.ConsecutiveCooldown),
		Reason:    fmt.Sprintf("%d consecutive losing trades", b.consecutiveLosses),
	}
	b.trips = append(b.trips, t)
	return &t
}

// ActiveTrips returns the trips still in force at now.
func (b *Breaker) ActiveTrips(now time.Time) []Trip {
	b.mu.Lock()
	defer b.mu.Unlock()

	var active []Trip
	for _, t := range b.trips {
		if t.activeAt(now) {
			active = append(active, t)
		}
	}
	return active
}

// Status is a point-in-time view of the breaker state.
type Status struct {
	ActiveTrips       []Trip
	ConsecutiveLosses int
	HistorySizes      map[string]int
}

// Status reports active trips, the loss streak and ring sizes.
func (b *Breaker) Status(now time.Time) Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Status{
		ConsecutiveLosses: b.consecutiveLosses,
		HistorySizes:      make(map[string]int, len(b.history)),
	}
	for sym, pts := range b.history {
		s.HistorySizes[sym] = len(pts)
	}
	for _, t := range b.trips {
		if t.activeAt(now) {
			s.ActiveTrips = append(s.ActiveTrips, t)
		}
	}
	return s
}

func (b *Breaker) recordPriceLocked(symbol string, price float64, now time.Time) {
	pts := append(b.history[symbol], pricePoint{at: now, price: price})
	cutoff := now.Add(-b.cfg.HistoryRetention)
	keep := pts[:0]
	for _, p := range pts {
		if p.at.After(cutoff) {
			keep = append(keep, p)
		}
	}
	b.history[symbol] = keep
}

// rollDayLocked anchors the start-of-day portfolio value on the first
// observation of each UTC day and drops trips that have expired.
func (b *Breaker) rollDayLocked(portfolioValue float64, now time.Time) {
	if portfolioValue <= 0 {
		return
	}
	day := now.UTC().Truncate(24 * time.Hour)
	if b.sodDay.Equal(day) {
		return
	}
	b.sodValue = portfolioValue
	b.sodDay = day

	keep := b.trips[:0]
	for _, t := range b.trips {
		if t.activeAt(now) {
			keep = append(keep, t)
		}
	}
	b.trips = keep
}

func (b *Breaker) activeTripLocked(symbol string, now time.Time) (Trip, bool) {
	for _, t := range b.trips {
		if t.activeAt(now) && t.blocks(symbol) {
			return t, true
		}
	}
	return Trip{}, false
}

// checkAssetDropLocked trips when the symbol has fallen too far from
// its window high. The tick just recorded is part of the window.
func (b *Breaker) checkAssetDropLocked(symbol string, price float64, now time.Time) (Trip, bool) {
	cutoff := now.Add(-b.cfg.AssetWindow)
	var windowHigh float64
	for _, p := range b.history[symbol] {
		if p.at.After(cutoff) && p.price > windowHigh {
			windowHigh = p.price
		}
	}
	if windowHigh <= 0 {
		return Trip{}, false
	}
	drop := (windowHigh - price) / windowHigh
	if drop < b.cfg.AssetDropPct {
		return Trip{}, false
	}
	t := Trip{
		Type:      TripAssetDrop,
		Symbol:    symbol,
		TrippedAt: now,
		Until:     now.Add(b.cfg.AssetTripDuration),
		Reason: fmt.Sprintf("asset %s dropped %.1f%% in %s (limit %.0f%%)",
			symbol, drop*100, b.cfg.AssetWindow, b.cfg.AssetDropPct*100),
	}
	b.trips = append(b.trips, t)
	return t, true
}

// checkFlashCrashLocked trips on an abnormally fast move in either
// direction, measured against the earliest price in the flash window.
func (b *Breaker) checkFlashCrashLocked(symbol string, price float64, now time.Time) (Trip, bool) {
	pts := b.history[symbol]
	if len(pts) < 2 {
		return Trip{}, false
	}
	cutoff := now.Add(-b.cfg.FlashCrashWindow)
	var earliest float64
	count := 0
	for _, p := range pts {
		if p.at.After(cutoff) {
			if count == 0 {
				earliest = p.price
			}
			count++
		}
	}
	if count < 2 || earliest <= 0 {
		return Trip{}, false
	}
	move := (price - earliest) / earliest
	if move < 0 {
		move = -move
	}
	if move < b.cfg.FlashCrashPct {
		return Trip{}, false
	}
	t := Trip{
		Type:      TripFlashCrash,
		Symbol:    symbol,
		TrippedAt: now,
		Until:     now.Add(b.cfg.FlashTripDuration),
		Reason: fmt.Sprintf("flash crash on %s: %.1f%% move in %s (limit %.0f%%)",
			symbol, move*100, b.cfg.FlashCrashWindow, b.cfg.FlashCrashPct*100),
	}
	b.trips = append(b.trips, t)
	return t, true
}

func (b *Breaker) checkPortfolioKillLocked(portfolioValue float64, now time.Time) (Trip, bool) {
	if b.sodValue <= 0 || portfolioValue <= 0 {
		return Trip{}, false
	}
	drawdown := (b.sodValue - portfolioValue) / b.sodValue
	if drawdown < b.cfg.PortfolioKillPct {
		return Trip{}, false
	}
	t := Trip{
		Type:      TripPortfolioKill,
		TrippedAt: now,
		Until:     now.Add(b.cfg.PortfolioTripDuration),
		Reason: fmt.Sprintf("portfolio kill switch: down %.1f%% intraday (limit %.0f%%)",
			drawdown*100, b.cfg.PortfolioKillPct*100),
	}
	b.trips = append(b.trips, t)
	return t, true
}
