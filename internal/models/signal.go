package models

import "fmt"

// StrategyID identifies a signal-producing strategy. The set is closed:
// identifiers arriving from config, wire or storage are parsed exactly once
// at the boundary, and names outside the set map to StrategyUnknown.
type StrategyID string

const (
	StrategyUnknown          StrategyID = ""
	StrategyTrendEMA         StrategyID = "trend_ema"
	StrategySupertrend       StrategyID = "supertrend"
	StrategyTurtle           StrategyID = "turtle"
	StrategyTripleMomentum   StrategyID = "triple_momentum"
	StrategySqueezeBreakout  StrategyID = "squeeze_breakout"
	StrategyMACDCrossover    StrategyID = "macd_crossover"
	StrategyMeanReversionBB  StrategyID = "mean_reversion_bb"
	StrategyRSIDivergence    StrategyID = "rsi_divergence"
	StrategyVWAPBounce       StrategyID = "vwap_bounce"
	StrategyVolatilityHunter StrategyID = "volatility_hunter"
	StrategyGridLadder       StrategyID = "grid_ladder"
)

// AllStrategies lists every known strategy identifier.
var AllStrategies = []StrategyID{
	StrategyTrendEMA,
	StrategySupertrend,
	StrategyTurtle,
	StrategyTripleMomentum,
	StrategySqueezeBreakout,
	StrategyMACDCrossover,
	StrategyMeanReversionBB,
	StrategyRSIDivergence,
	StrategyVWAPBounce,
	StrategyVolatilityHunter,
	StrategyGridLadder,
}

// ParseStrategyID maps a wire name to a StrategyID. Matching is exact; no
// case folding or aliasing.
func ParseStrategyID(s string) (StrategyID, bool) {
	for _, id := range AllStrategies {
		if string(id) == s {
			return id, true
		}
	}
	return StrategyUnknown, false
}

// SignalAction represents what a strategy wants done for a symbol.
type SignalAction string

const (
	ActionHold       SignalAction = "hold"
	ActionOpenLong   SignalAction = "open_long"
	ActionCloseLong  SignalAction = "close_long"
	ActionOpenShort  SignalAction = "open_short"
	ActionCloseShort SignalAction = "close_short"
)

// ParseSignalAction maps a wire name to a SignalAction. Matching is exact.
func ParseSignalAction(s string) (SignalAction, bool) {
	switch SignalAction(s) {
	case ActionHold, ActionOpenLong, ActionCloseLong, ActionOpenShort, ActionCloseShort:
		return SignalAction(s), true
	}
	return ActionHold, false
}

// IsEntry reports whether the action opens new exposure.
func (a SignalAction) IsEntry() bool {
	return a == ActionOpenLong || a == ActionOpenShort
}

// IsExit reports whether the action closes existing exposure.
func (a SignalAction) IsExit() bool {
	return a == ActionCloseLong || a == ActionCloseShort
}

// IsBuySide reports whether the action increases long exposure.
func (a SignalAction) IsBuySide() bool {
	return a == ActionOpenLong
}

// IsSellSide reports whether the action decreases long or increases short
// exposure.
func (a SignalAction) IsSellSide() bool {
	return a == ActionCloseLong || a == ActionOpenShort
}

// Signal is a single strategy vote for one symbol on one bar.
type Signal struct {
	Strategy   StrategyID
	Symbol     string
	Action     SignalAction
	Confidence float64 // [0, 1]
	RiskR      float64 // risk unit multiplier, 1.0 when the strategy has no opinion
	Extra      map[string]string
}

// Decision is the ensemble's blended instruction for one symbol on one bar.
// Voters lists the strategies behind the winning action; VotesTotal counts
// every non-hold vote the ensemble weighed, so len(Voters) <= VotesTotal
// always holds. ConsensusMet reports whether the winning action reached the
// vote threshold; a decision can still be a hold past that point when its
// weighted confidence is too low.
type Decision struct {
	Symbol       string
	Action       SignalAction
	Confidence   float64
	RiskR        float64
	Voters       []StrategyID
	VotesTotal   int
	ConsensusMet bool
	Reason       string
	Extra        map[string]string
}

// IsHold reports whether the decision takes no action.
func (d Decision) IsHold() bool {
	return d.Action == ActionHold
}

// String returns a compact human-readable form for logs.
func (d Decision) String() string {
	if d.IsHold() {
		return fmt.Sprintf("%s hold (%s, votes %d/%d)", d.Symbol, d.Reason, len(d.Voters), d.VotesTotal)
	}
	return fmt.Sprintf("%s %s conf=%.2f votes=%d/%d", d.Symbol, d.Action, d.Confidence, len(d.Voters), d.VotesTotal)
}
