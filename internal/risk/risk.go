// Package risk enforces account-level loss limits and computes position
// sizes. A single Manager owns all risk state behind a mutex: equity
// marks, daily PnL, open-position count, loss streaks and the rolling
// trade history that feeds the Kelly overlay.
package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"hot-crypto/internal/models"
)

// Config holds the risk limits and sizing parameters. Non-positive
// fields fall back to the defaults in New.
type Config struct {
	InitialEquity        float64
	RiskPerTrade         float64
	MaxOpenPositions     int
	MaxDailyLossPct      float64
	MaxTotalDrawdownPct  float64
	CooldownAfterLoss    time.Duration
	MinATRPctFilter      float64
	SpreadGuardBps       float64
	StopATRMultiple      float64
	KellyLookback        int
	KellyFraction        float64
	TargetAnnualVol      float64
	CorrelationThreshold float64
	MaxEquityNotionalPct float64
}

// DefaultConfig returns the standard risk parameters.
func DefaultConfig() Config {
	return Config{
		InitialEquity:        10000.0,
		RiskPerTrade:         0.005,
		MaxOpenPositions:     2,
		MaxDailyLossPct:      0.02,
		MaxTotalDrawdownPct:  0.10,
		CooldownAfterLoss:    240 * time.Minute,
		MinATRPctFilter:      0.003,
		SpreadGuardBps:       10.0,
		StopATRMultiple:      1.5,
		KellyLookback:        50,
		KellyFraction:        0.5,
		TargetAnnualVol:      0.15,
		CorrelationThreshold: 0.80,
		MaxEquityNotionalPct: 0.50,
	}
}

// TradeRequest describes a candidate entry.
type TradeRequest struct {
	Symbol string
	Side   models.PositionSide
	Price  float64
	ATR    float64

	// SpreadBps is the current spread in basis points; zero means
	// unknown and skips the spread guard.
	SpreadBps float64

	// RealizedVol is the annualized realized volatility; zero means
	// unknown and skips volatility targeting.
	RealizedVol float64
}

// Verdict is the outcome of a risk evaluation.
type Verdict struct {
	Approved     bool
	Reason       string
	Qty          float64
	StopPrice    float64
	TakeProfit   float64
	ChecksPassed []string
	ChecksFailed []string
	KellyApplied bool
	VolScale     float64
}

// closedTrade is one entry in the rolling history ring.
type closedTrade struct {
	pnl    float64
	pnlPct float64
	symbol string
	at     time.Time
}

// Manager owns all mutable risk state.
type Manager struct {
	mu  sync.Mutex
	cfg Config

	currentEquity     float64
	peakEquity        float64
	dailyStartEquity  float64
	dailyPnL          float64
	openPositions     int
	lastLossAt        time.Time
	consecutiveLosses int
	lastResetDay      time.Time

	history []closedTrade

	now func() time.Time
}

// New creates a risk manager. Non-positive config fields take defaults.
func New(cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.InitialEquity <= 0 {
		cfg.InitialEquity = def.InitialEquity
	}
	if cfg.RiskPerTrade <= 0 {
		cfg.RiskPerTrade = def.RiskPerTrade
	}
	if cfg.MaxOpenPositions <= 0 {
		cfg.MaxOpenPositions = def.MaxOpenPositions
	}
	if cfg.MaxDailyLossPct <= 0 {
		cfg.MaxDailyLossPct = def.MaxDailyLossPct
	}
	if cfg.MaxTotalDrawdownPct <= 0 {
		cfg.MaxTotalDrawdownPct = def.MaxTotalDrawdownPct
	}
	if cfg.CooldownAfterLoss <= 0 {
		cfg.CooldownAfterLoss = def.CooldownAfterLoss
	}
	if cfg.MinATRPctFilter <= 0 {
		cfg.MinATRPctFilter = def.MinATRPctFilter
	}
	if cfg.SpreadGuardBps <= 0 {
		cfg.SpreadGuardBps = def.SpreadGuardBps
	}
	if cfg.StopATRMultiple <= 0 {
		cfg.StopATRMultiple = def.StopATRMultiple
	}
	if cfg.KellyLookback <= 0 {
		cfg.KellyLookback = def.KellyLookback
	}
	if cfg.KellyFraction <= 0 {
		cfg.KellyFraction = def.KellyFraction
	}
	if cfg.TargetAnnualVol <= 0 {
		cfg.TargetAnnualVol = def.TargetAnnualVol
	}
	if cfg.CorrelationThreshold <= 0 {
		cfg.CorrelationThreshold = def.CorrelationThreshold
	}
	if cfg.MaxEquityNotionalPct <= 0 {
		cfg.MaxEquityNotionalPct = def.MaxEquityNotionalPct
	}

	return &Manager{
		cfg:              cfg,
		currentEquity:    cfg.InitialEquity,
		peakEquity:       cfg.InitialEquity,
		dailyStartEquity: cfg.InitialEquity,
		now:              time.Now,
	}
}

// Evaluate runs the ordered risk checks and, when they all pass, sizes
// the position. The first failing check rejects the trade.
func (m *Manager) Evaluate(req TradeRequest) Verdict {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetDailyLocked()

	v := Verdict{VolScale: 1.0}

	ok, reason := m.checkDailyLoss()
	if !ok {
		v.Reason = reason
		v.ChecksFailed = append(v.ChecksFailed, "daily_loss")
		return v
	}
	v.ChecksPassed = append(v.ChecksPassed, "daily_loss")

	ok, reason = m.checkDrawdown()
	if !ok {
		v.Reason = reason
		v.ChecksFailed = append(v.ChecksFailed, "drawdown")
		return v
	}
	v.ChecksPassed = append(v.ChecksPassed, "drawdown")

	ok, reason = m.checkMaxPositions()
	if !ok {
		v.Reason = reason
		v.ChecksFailed = append(v.ChecksFailed, "max_positions")
		return v
	}
	v.ChecksPassed = append(v.ChecksPassed, "max_positions")

	ok, reason = m.checkCooldown()
	if !ok {
		v.Reason = reason
		v.ChecksFailed = append(v.ChecksFailed, "cooldown")
		return v
	}
	v.ChecksPassed = append(v.ChecksPassed, "cooldown")

	ok, reason = m.checkATRFilter(req)
	if !ok {
		v.Reason = reason
		v.ChecksFailed = append(v.ChecksFailed, "atr_filter")
		return v
	}
	v.ChecksPassed = append(v.ChecksPassed, "atr_filter")

	ok, reason = m.checkSpread(req)
	if !ok {
		v.Reason = reason
		v.ChecksFailed = append(v.ChecksFailed, "spread")
		return v
	}
	v.ChecksPassed = append(v.ChecksPassed, "spread")

	qty, stop, tp, kellyApplied, volScale := m.sizeLocked(req)
	v.KellyApplied = kellyApplied
	v.VolScale = volScale
	if qty <= 0 {
		v.Reason = "position size calculated as zero or negative"
		v.ChecksFailed = append(v.ChecksFailed, "position_size")
		return v
	}
	v.ChecksPassed = append(v.ChecksPassed, "position_size")

	if req.Price > 0 {
		maxQty := m.currentEquity * m.cfg.MaxEquityNotionalPct / req.Price
		if qty > maxQty {
			qty = maxQty
		}
	}

	v.Approved = true
	v.Qty = qty
	v.StopPrice = stop
	v.TakeProfit = tp
	v.Reason = fmt.Sprintf("approved: %.6f units, stop=%.2f", qty, stop)
	return v
}

// checkDailyLoss rejects once the day's realized loss hits the limit.
func (m *Manager) checkDailyLoss() (bool, string) {
	if m.dailyStartEquity <= 0 {
		return true, ""
	}
	lossPct := math.Abs(m.dailyPnL) / m.dailyStartEquity
	if m.dailyPnL < 0 && lossPct >= m.cfg.MaxDailyLossPct {
		return false, fmt.Sprintf("daily loss limit reached: %.2f%% >= %.1f%%",
			lossPct*100, m.cfg.MaxDailyLossPct*100)
	}
	return true, ""
}

// checkDrawdown rejects once equity has fallen too far from its peak.
func (m *Manager) checkDrawdown() (bool, string) {
	if m.peakEquity <= 0 {
		return true, ""
	}
	drawdown := (m.peakEquity - m.currentEquity) / m.peakEquity
	if drawdown >= m.cfg.MaxTotalDrawdownPct {
		return false, fmt.Sprintf("max drawdown reached: %.2f%% >= %.1f%%",
			drawdown*100, m.cfg.MaxTotalDrawdownPct*100)
	}
	return true, ""
}

func (m *Manager) checkMaxPositions() (bool, string) {
	if m.openPositions >= m.cfg.MaxOpenPositions {
		return false, fmt.Sprintf("max positions reached: %d >= %d",
			m.openPositions, m.cfg.MaxOpenPositions)
	}
	return true, ""
}

// checkCooldown blocks new entries for a spell after a losing trade.
func (m *Manager) checkCooldown() (bool, string) {
	if m.lastLossAt.IsZero() {
		return true, ""
	}
	end := m.lastLossAt.Add(m.cfg.CooldownAfterLoss)
	if m.now().Before(end) {
		remaining := end.Sub(m.now())
		return false, fmt.Sprintf("cooldown active: %.0f minutes remaining after loss",
			remaining.Minutes())
	}
	return true, ""
}

// checkATRFilter skips entries when volatility is too thin to pay for
// fees and slippage.
func (m *Manager) checkATRFilter(req TradeRequest) (bool, string) {
	var atrPct float64
	if req.Price > 0 {
		atrPct = req.ATR / req.Price
	}
	if atrPct < m.cfg.MinATRPctFilter {
		return false, fmt.Sprintf("ATR too low: %.3f%% < %.2f%%",
			atrPct*100, m.cfg.MinATRPctFilter*100)
	}
	return true, ""
}

func (m *Manager) checkSpread(req TradeRequest) (bool, string) {
	if req.SpreadBps > 0 && req.SpreadBps > m.cfg.SpreadGuardBps {
		return false, fmt.Sprintf("spread too wide: %.1f bps > %.1f bps",
			req.SpreadBps, m.cfg.SpreadGuardBps)
	}
	return true, ""
}

// sizeLocked layers ATR risk sizing, the Kelly overlay and volatility
// targeting. Callers hold the mutex.
func (m *Manager) sizeLocked(req TradeRequest) (qty, stop, tp float64, kellyApplied bool, volScale float64) {
	riskDollars := m.currentEquity * m.cfg.RiskPerTrade
	dist := req.ATR * m.cfg.StopATRMultiple

	if req.Side == models.PositionShort {
		stop = req.Price + dist
		tp = req.Price - 2*dist
	} else {
		stop = req.Price - dist
		tp = req.Price + 2*dist
	}

	var base float64
	if dist > 0 {
		base = riskDollars / dist
	}
	qty = base

	if f, ok := m.kellyFractionLocked(); ok {
		kellyApplied = true
		qty = base * (f / m.cfg.RiskPerTrade)
		if qty > base*2 {
			qty = base * 2
		}
	}

	volScale = 1.0
	if req.RealizedVol > 0 && m.cfg.TargetAnnualVol > 0 {
		volScale = clamp(m.cfg.TargetAnnualVol/req.RealizedVol, 0.25, 2.0)
		qty *= volScale
	}
	return qty, stop, tp, kellyApplied, volScale
}

// kellyFractionLocked derives the fractional-Kelly bet size from the
// rolling trade history. Requires at least 10 trades with both wins and
// losses present; the result is clamped to [0, 2x risk per trade].
func (m *Manager) kellyFractionLocked() (float64, bool) {
	start := len(m.history) - m.cfg.KellyLookback
	if start < 0 {
		start = 0
	}
	recent := m.history[start:]
	if len(recent) < 10 {
		return 0, false
	}

	var winSum, lossSum float64
	var winCount, lossCount int
	for _, t := range recent {
		if t.pnl > 0 {
			winSum += t.pnl
			winCount++
		} else if t.pnl < 0 {
			lossSum += -t.pnl
			lossCount++
		}
	}
	if winCount == 0 || lossCount == 0 {
		return 0, false
	}

	winRate := float64(winCount) / float64(len(recent))
	avgWin := winSum / float64(winCount)
	avgLoss := lossSum / float64(lossCount)
	if avgWin <= 0 {
		return 0, false
	}

	kelly := (winRate*avgWin - (1-winRate)*avgLoss) / avgWin
	f := m.cfg.KellyFraction * kelly
	return clamp(f, 0, m.cfg.RiskPerTrade*2), true
}

// RegisterTradeOpen records that a position was opened.
func (m *Manager) RegisterTradeOpen() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openPositions++
}

// RegisterTradeClose folds a finished trade into equity, daily PnL, the
// loss streak and the Kelly history ring.
func (m *Manager) RegisterTradeClose(result models.TradeResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.openPositions > 0 {
		m.openPositions--
	}
	m.dailyPnL += result.PnL
	m.currentEquity += result.PnL

	var pnlPct float64
	if m.currentEquity > 0 {
		pnlPct = result.PnL / m.currentEquity
	}
	m.history = append(m.history, closedTrade{
		pnl:    result.PnL,
		pnlPct: pnlPct,
		symbol: result.Symbol,
		at:     m.now(),
	})
	if len(m.history) > m.cfg.KellyLookback*2 {
		trimmed := make([]closedTrade, m.cfg.KellyLookback)
		copy(trimmed, m.history[len(m.history)-m.cfg.KellyLookback:])
		m.history = trimmed
	}

	if result.PnL >= 0 {
		m.consecutiveLosses = 0
		m.lastLossAt = time.Time{}
	} else {
		m.consecutiveLosses++
		m.lastLossAt = m.now()
	}

	if m.currentEquity > m.peakEquity {
		m.peakEquity = m.currentEquity
	}
}

// UpdateEquity marks equity to market and advances the peak.
func (m *Manager) UpdateEquity(equity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentEquity = equity
	if equity > m.peakEquity {
		m.peakEquity = equity
	}
}

// Status is a point-in-time view of the risk state.
type Status struct {
	CurrentEquity     float64
	PeakEquity        float64
	DailyPnL          float64
	DailyLossPct      float64
	DrawdownPct       float64
	OpenPositions     int
	ConsecutiveLosses int
	CooldownActive    bool
	KellyFraction     float64
	TradeCount        int
}

// Status reports the current risk state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{
		CurrentEquity:     m.currentEquity,
		PeakEquity:        m.peakEquity,
		DailyPnL:          m.dailyPnL,
		OpenPositions:     m.openPositions,
		ConsecutiveLosses: m.consecutiveLosses,
		TradeCount:        len(m.history),
	}
	if m.peakEquity > 0 {
		s.DrawdownPct = (m.peakEquity - m.currentEquity) / m.peakEquity
	}
	if m.dailyPnL < 0 && m.dailyStartEquity > 0 {
		s.DailyLossPct = math.Abs(m.dailyPnL) / m.dailyStartEquity
	}
	if !m.lastLossAt.IsZero() {
		s.CooldownActive = m.now().Before(m.lastLossAt.Add(m.cfg.CooldownAfterLoss))
	}
	if f, ok := m.kellyFractionLocked(); ok {
		s.KellyFraction = f
	}
	return s
}

// resetDailyLocked zeroes daily tracking when the UTC day rolls over.
func (m *Manager) resetDailyLocked() {
	today := m.now().UTC().Truncate(24 * time.Hour)
	if !m.lastResetDay.Equal(today) {
		m.dailyPnL = 0
		m.dailyStartEquity = m.currentEquity
		m.lastResetDay = today
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
