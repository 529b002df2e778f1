package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"hot-crypto/internal/logging"
	"hot-crypto/internal/models"
	"hot-crypto/internal/regime"
)

// SignalSource supplies per-strategy votes for a symbol on each cycle.
// Strategy signal generation itself lives outside the core; the engine
// only consumes the votes.
type SignalSource interface {
	Signals(ctx context.Context, symbol string, candles []models.Candle, snap regime.Snapshot) []models.Signal
}

// StaticSource replays a fixed vote set per symbol. It backs paper runs
// driven from a signals file and keeps tests deterministic.
type StaticSource struct {
	mu       sync.RWMutex
	bySymbol map[string][]models.Signal
}

// NewStaticSource returns an empty source; every symbol reads as all-hold
// until Set is called.
func NewStaticSource() *StaticSource {
	return &StaticSource{bySymbol: make(map[string][]models.Signal)}
}

// Set replaces the votes for symbol.
func (s *StaticSource) Set(symbol string, signals ...models.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySymbol[symbol] = append([]models.Signal(nil), signals...)
}

// Clear removes all votes for symbol.
func (s *StaticSource) Clear(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bySymbol, symbol)
}

// Signals returns a copy of the configured votes with the symbol stamped.
// The caller's cycle logger rides in on ctx; sources outside the core have
// no other way to log into the right run context.
func (s *StaticSource) Signals(ctx context.Context, symbol string, _ []models.Candle, _ regime.Snapshot) []models.Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.bySymbol[symbol]
	out := make([]models.Signal, len(stored))
	for i, sig := range stored {
		sig.Symbol = symbol
		out[i] = sig
	}
	logging.FromContext(ctx).Debug().Int("votes", len(out)).Msg("static votes replayed")
	return out
}

var _ SignalSource = (*StaticSource)(nil)

// fileSignal is the JSON shape of one vote in a signals file.
type fileSignal struct {
	Strategy   string            `json:"strategy"`
	Action     string            `json:"action"`
	Confidence float64           `json:"confidence"`
	RiskR      float64           `json:"risk_r"`
	Extra      map[string]string `json:"extra"`
}

// LoadStaticSignals reads a JSON file mapping symbols to vote lists.
// Unknown strategy names parse to StrategyUnknown (neutral affinity
// downstream); an unknown action is a hard error because it would change
// the decision's meaning silently.
func LoadStaticSignals(path string) (*StaticSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signals file: %w", err)
	}

	var raw map[string][]fileSignal
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse signals file: %w", err)
	}

	src := NewStaticSource()
	for symbol, votes := range raw {
		signals := make([]models.Signal, 0, len(votes))
		for i, v := range votes {
			action, ok := models.ParseSignalAction(v.Action)
			if !ok {
				return nil, fmt.Errorf("signals file %s[%d]: unknown action %q", symbol, i, v.Action)
			}
			strategy, _ := models.ParseStrategyID(v.Strategy)
			riskR := v.RiskR
			if riskR <= 0 {
				riskR = 1.0
			}
			signals = append(signals, models.Signal{
				Strategy:   strategy,
				Symbol:     symbol,
				Action:     action,
				Confidence: v.Confidence,
				RiskR:      riskR,
				Extra:      v.Extra,
			})
		}
		src.Set(symbol, signals...)
	}
	return src, nil
}
