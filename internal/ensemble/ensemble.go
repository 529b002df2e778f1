// Package ensemble blends per-strategy signals into a single decision
// using regime-aware affinity weights and a consensus rule.
package ensemble

import (
	"hot-crypto/internal/models"
	"hot-crypto/internal/regime"
)

// Defaults for the consensus rule.
const (
	DefaultConsensusThreshold    = 2
	DefaultMinWeightedConfidence = 0.3

	// DefaultConflictRatio is how many times one side's weighted score
	// must exceed the opposing side's before it wins an open conflict.
	DefaultConflictRatio = 2.0

	// defaultAffinityWeight applies to strategies absent from a regime row.
	defaultAffinityWeight = 0.3
)

// Decision reasons.
const (
	ReasonNoSignals     = "no_signals"
	ReasonConflict      = "conflict"
	ReasonNoConsensus   = "no_consensus"
	ReasonLowConfidence = "low_confidence"
	ReasonConsensus     = "consensus"
)

// defaultAffinity weights each strategy by how well it performs in each
// regime. Values outside [0, 1] are never used.
var defaultAffinity = map[regime.Regime]map[models.StrategyID]float64{
	regime.TrendingStrong: {
		models.StrategyTrendEMA:         1.0,
		models.StrategySupertrend:       1.0,
		models.StrategyTurtle:           0.9,
		models.StrategyTripleMomentum:   0.8,
		models.StrategySqueezeBreakout:  0.6,
		models.StrategyMACDCrossover:    0.7,
		models.StrategyMeanReversionBB:  0.1,
		models.StrategyRSIDivergence:    0.1,
		models.StrategyVWAPBounce:       0.2,
		models.StrategyVolatilityHunter: 0.5,
	},
	regime.TrendingWeak: {
		models.StrategyTrendEMA:         0.7,
		models.StrategySupertrend:       0.7,
		models.StrategyTurtle:           0.5,
		models.StrategyTripleMomentum:   0.6,
		models.StrategySqueezeBreakout:  0.8,
		models.StrategyMACDCrossover:    0.7,
		models.StrategyMeanReversionBB:  0.3,
		models.StrategyRSIDivergence:    0.3,
		models.StrategyVWAPBounce:       0.4,
		models.StrategyVolatilityHunter: 0.6,
	},
	regime.MeanReverting: {
		models.StrategyTrendEMA:         0.1,
		models.StrategySupertrend:       0.2,
		models.StrategyTurtle:           0.1,
		models.StrategyTripleMomentum:   0.2,
		models.StrategySqueezeBreakout:  0.3,
		models.StrategyMACDCrossover:    0.3,
		models.StrategyMeanReversionBB:  1.0,
		models.StrategyRSIDivergence:    0.9,
		models.StrategyVWAPBounce:       0.8,
		models.StrategyVolatilityHunter: 0.4,
	},
	regime.RandomWalk: {
		models.StrategyTrendEMA:         0.0,
		models.StrategySupertrend:       0.0,
		models.StrategyTurtle:           0.0,
		models.StrategyTripleMomentum:   0.0,
		models.StrategySqueezeBreakout:  0.1,
		models.StrategyMACDCrossover:    0.0,
		models.StrategyMeanReversionBB:  0.2,
		models.StrategyRSIDivergence:    0.1,
		models.StrategyVWAPBounce:       0.1,
		models.StrategyVolatilityHunter: 0.1,
	},
}

// Config tunes the consensus rule. Zero fields fall back to defaults.
type Config struct {
	ConsensusThreshold    int
	MinWeightedConfidence float64
	ConflictRatio         float64

	// Affinity overrides the built-in regime affinity table when set.
	Affinity map[regime.Regime]map[models.StrategyID]float64
}

// Ensemble aggregates strategy signals for one symbol at a time.
type Ensemble struct {
	cfg      Config
	affinity map[regime.Regime]map[models.StrategyID]float64
}

// New creates an ensemble aggregator.
func New(cfg Config) *Ensemble {
	if cfg.ConsensusThreshold <= 0 {
		cfg.ConsensusThreshold = DefaultConsensusThreshold
	}
	if cfg.MinWeightedConfidence <= 0 {
		cfg.MinWeightedConfidence = DefaultMinWeightedConfidence
	}
	if cfg.ConflictRatio <= 0 {
		cfg.ConflictRatio = DefaultConflictRatio
	}
	affinity := cfg.Affinity
	if affinity == nil {
		affinity = defaultAffinity
	}
	return &Ensemble{cfg: cfg, affinity: affinity}
}

// AffinityFor returns the weight of a strategy in a regime, falling back
// to the neutral default for strategies absent from the regime row.
func (e *Ensemble) AffinityFor(r regime.Regime, s models.StrategyID) float64 {
	if row, ok := e.affinity[r]; ok {
		if w, ok := row[s]; ok {
			return w
		}
	}
	return defaultAffinityWeight
}

// vote is a non-hold signal with its regime-adjusted weighted score.
type vote struct {
	strategy models.StrategyID
	action   models.SignalAction
	score    float64
	riskR    float64
	extra    map[string]string
}

// Aggregate blends the signals for one symbol into a decision.
//
// Hold votes are dropped. The action with the highest weighted score
// wins, unless buy and sell sides oppose each other without either side
// exceeding ConflictRatio times the other, in which case the decision is
// a hold. A winning action still needs ConsensusThreshold votes and a
// mean weighted score of at least MinWeightedConfidence.
func (e *Ensemble) Aggregate(symbol string, signals []models.Signal, snap regime.Snapshot) models.Decision {
	votes := make([]vote, 0, len(signals))
	for _, s := range signals {
		if s.Action == models.ActionHold {
			continue
		}
		riskR := s.RiskR
		if riskR <= 0 {
			riskR = 1.0
		}
		votes = append(votes, vote{
			strategy: s.Strategy,
			action:   s.Action,
			score:    clamp01(s.Confidence) * e.AffinityFor(snap.Regime, s.Strategy),
			riskR:    riskR,
			extra:    s.Extra,
		})
	}
	if len(votes) == 0 {
		return models.Decision{Symbol: symbol, Action: models.ActionHold, Reason: ReasonNoSignals}
	}
	votesTotal := len(votes)

	byAction := make(map[models.SignalAction][]vote)
	var actions []models.SignalAction
	for _, v := range votes {
		if _, seen := byAction[v.action]; !seen {
			actions = append(actions, v.action)
		}
		byAction[v.action] = append(byAction[v.action], v)
	}

	var best models.SignalAction
	var bestScore float64
	for _, a := range actions {
		if total := scoreSum(byAction[a]); total > bestScore {
			best, bestScore = a, total
		}
	}

	// An open buy/sell disagreement overrides the plain score ranking:
	// one side must dominate by ConflictRatio or nobody trades.
	hasBuy := len(byAction[models.ActionOpenLong]) > 0
	hasSell := len(byAction[models.ActionOpenShort]) > 0 || len(byAction[models.ActionCloseLong]) > 0
	if hasBuy && hasSell {
		buyScore := scoreSum(byAction[models.ActionOpenLong])
		sellScore := scoreSum(byAction[models.ActionOpenShort]) + scoreSum(byAction[models.ActionCloseLong])
		switch {
		case buyScore > e.cfg.ConflictRatio*sellScore:
			best = models.ActionOpenLong
		case sellScore > e.cfg.ConflictRatio*buyScore:
			best = models.ActionOpenShort
			if len(byAction[models.ActionCloseLong]) > 0 {
				best = models.ActionCloseLong
			}
		default:
			return models.Decision{
				Symbol:     symbol,
				Action:     models.ActionHold,
				VotesTotal: votesTotal,
				Reason:     ReasonConflict,
			}
		}
	}

	winners := byAction[best]
	votesFor := len(winners)
	var avg float64
	if votesFor > 0 {
		avg = scoreSum(winners) / float64(votesFor)
	}

	if votesFor < e.cfg.ConsensusThreshold {
		return models.Decision{
			Symbol:     symbol,
			Action:     models.ActionHold,
			Confidence: clamp01(avg),
			Voters:     voterIDs(winners),
			VotesTotal: votesTotal,
			Reason:     ReasonNoConsensus,
			Extra:      mergeExtra(winners),
		}
	}
	if avg < e.cfg.MinWeightedConfidence {
		return models.Decision{
			Symbol:       symbol,
			Action:       models.ActionHold,
			Confidence:   clamp01(avg),
			Voters:       voterIDs(winners),
			VotesTotal:   votesTotal,
			ConsensusMet: true,
			Reason:       ReasonLowConfidence,
			Extra:        mergeExtra(winners),
		}
	}

	return models.Decision{
		Symbol:       symbol,
		Action:       best,
		Confidence:   clamp01(avg),
		RiskR:        meanRiskR(winners),
		Voters:       voterIDs(winners),
		VotesTotal:   votesTotal,
		ConsensusMet: true,
		Reason:       ReasonConsensus,
		Extra:        mergeExtra(winners),
	}
}

func scoreSum(votes []vote) float64 {
	var total float64
	for _, v := range votes {
		total += v.score
	}
	return total
}

func meanRiskR(votes []vote) float64 {
	if len(votes) == 0 {
		return 0
	}
	var total float64
	for _, v := range votes {
		total += v.riskR
	}
	return total / float64(len(votes))
}

func voterIDs(votes []vote) []models.StrategyID {
	if len(votes) == 0 {
		return nil
	}
	ids := make([]models.StrategyID, len(votes))
	for i, v := range votes {
		ids[i] = v.strategy
	}
	return ids
}

// mergeExtra folds voter metadata together, first voter wins per key.
func mergeExtra(votes []vote) map[string]string {
	var merged map[string]string
	for _, v := range votes {
		for k, val := range v.extra {
			if merged == nil {
				merged = make(map[string]string)
			}
			if _, ok := merged[k]; !ok {
				merged[k] = val
			}
		}
	}
	return merged
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
