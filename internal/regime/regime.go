// Package regime classifies market character from OHLCV data using the
// Hurst exponent and ADX, and maps each regime to the strategy set and
// capital allocation that should be active in it.
package regime

import (
	"fmt"
	"time"

	"hot-crypto/internal/models"
)

// Regime is a market character classification.
type Regime string

const (
	TrendingStrong Regime = "trending_strong"
	TrendingWeak   Regime = "trending_weak"
	MeanReverting  Regime = "mean_reverting"
	RandomWalk     Regime = "random_walk"
)

// regimeStrategies maps each regime to the strategies permitted to trade in it.
var regimeStrategies = map[Regime][]models.StrategyID{
	TrendingStrong: {
		models.StrategyTrendEMA,
		models.StrategySupertrend,
		models.StrategyTurtle,
		models.StrategyTripleMomentum,
	},
	TrendingWeak: {
		models.StrategyTrendEMA,
		models.StrategySupertrend,
		models.StrategySqueezeBreakout,
		models.StrategyMACDCrossover,
	},
	MeanReverting: {
		models.StrategyMeanReversionBB,
		models.StrategyRSIDivergence,
		models.StrategyVWAPBounce,
	},
	RandomWalk: {
		models.StrategyGridLadder,
	},
}

// regimeAllocation is the share of capital the active strategies receive.
var regimeAllocation = map[Regime]float64{
	TrendingStrong: 0.80,
	TrendingWeak:   0.50,
	MeanReverting:  0.80,
	RandomWalk:     1.00,
}

// StrategiesFor returns a copy of the strategy set active in the regime.
func StrategiesFor(r Regime) []models.StrategyID {
	src := regimeStrategies[r]
	out := make([]models.StrategyID, len(src))
	copy(out, src)
	return out
}

// AllocationFor returns the capital allocation weight for the regime.
func AllocationFor(r Regime) float64 {
	return regimeAllocation[r]
}

// Snapshot is the result of classifying one symbol at one point in time.
// It is a value type; callers receive their own copy and the detector
// holds no reference to it.
type Snapshot struct {
	Regime     Regime
	Hurst      float64
	ADX        float64
	Confidence float64
	Strategies []models.StrategyID
	Allocation float64
	At         time.Time
}

// String returns a compact form for logs.
func (s Snapshot) String() string {
	return fmt.Sprintf("%s H=%.3f ADX=%.1f conf=%.2f", s.Regime, s.Hurst, s.ADX, s.Confidence)
}
