package exec

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	apperrors "hot-crypto/internal/errors"
	"hot-crypto/internal/models"
)

func TestClientOrderIDFormat(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 34, 56, 0, time.UTC)
	entropy := [4]byte{0xde, 0xad, 0xbe, 0xef}

	tests := []struct {
		name     string
		strategy models.StrategyID
		symbol   string
		want     string
	}{
		{
			name:     "strategy truncated to six chars",
			strategy: models.StrategyTrendEMA,
			symbol:   "BTCUSDT",
			want:     "HOT_trend__BTCUSDT_202405011234_deadbeef",
		},
		{
			name:     "short strategy kept whole",
			strategy: models.StrategyTurtle,
			symbol:   "BTCUSDT",
			want:     "HOT_turtle_BTCUSDT_202405011234_deadbeef",
		},
		{
			name:     "dash separator stripped",
			strategy: models.StrategyTurtle,
			symbol:   "ETH-USDT",
			want:     "HOT_turtle_ETHUSDT_202405011234_deadbeef",
		},
		{
			name:     "slash separator stripped",
			strategy: models.StrategyTurtle,
			symbol:   "SOL/USDT",
			want:     "HOT_turtle_SOLUSDT_202405011234_deadbeef",
		},
		{
			name:     "underscore separator stripped",
			strategy: models.StrategyTurtle,
			symbol:   "DOGE_USDT",
			want:     "HOT_turtle_DOGEUSDT_202405011234_deadbeef",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClientOrderID(tt.strategy, tt.symbol, at, entropy)
			if got != tt.want {
				t.Errorf("ClientOrderID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientOrderIDUsesUTC(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	at := time.Date(2024, 5, 1, 18, 4, 0, 0, loc) // 12:34 UTC

	got := ClientOrderID(models.StrategyTurtle, "BTCUSDT", at, [4]byte{1, 2, 3, 4})
	if !strings.Contains(got, "_202405011234_") {
		t.Errorf("ClientOrderID = %q, want UTC timestamp 202405011234", got)
	}
}

func TestOrderStateTransitions(t *testing.T) {
	all := []OrderState{
		StatePending, StateSubmitted, StatePartiallyFilled,
		StateFilled, StateCancelled, StateOrphaned, StateError,
	}
	legal := map[string]bool{
		"pending->submitted":          true,
		"pending->partially_filled":   true,
		"pending->filled":             true,
		"pending->orphaned":           true,
		"pending->error":              true,
		"submitted->partially_filled": true,
		"submitted->filled":           true,
		"submitted->cancelled":        true,
		"submitted->orphaned":         true,
		"submitted->error":            true,
		"partially_filled->filled":    true,
		"partially_filled->cancelled": true,
		"partially_filled->orphaned":  true,
	}

	for _, from := range all {
		for _, to := range all {
			key := fmt.Sprintf("%s->%s", from, to)
			err := transition(from, to)
			if legal[key] && err != nil {
				t.Errorf("transition(%s): unexpected error %v", key, err)
			}
			if !legal[key] {
				if err == nil {
					t.Errorf("transition(%s): expected rejection", key)
				} else if !errors.Is(err, apperrors.ErrInvalidOrderState) {
					t.Errorf("transition(%s): err = %v, want ErrInvalidOrderState", key, err)
				}
			}
		}
	}
}

func TestOrderStateTerminal(t *testing.T) {
	tests := []struct {
		state OrderState
		want  bool
	}{
		{StatePending, false},
		{StateSubmitted, false},
		{StatePartiallyFilled, false},
		{StateFilled, true},
		{StateCancelled, true},
		{StateOrphaned, true},
		{StateError, true},
	}
	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.want {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestManagedOrderRemainingQty(t *testing.T) {
	tests := []struct {
		name   string
		qty    float64
		filled float64
		want   float64
	}{
		{"untouched", 2, 0, 2},
		{"partial", 2, 0.5, 1.5},
		{"complete", 2, 2, 0},
		{"overfill clamps to zero", 2, 2.1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := ManagedOrder{Qty: tt.qty, FilledQty: tt.filled}
			if got := o.RemainingQty(); got != tt.want {
				t.Errorf("RemainingQty() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProperty_ClientOrderIDsWellFormed(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())
	properties := gopter.NewProperties(parameters)

	properties.Property("every ID carries the HOT prefix and clean symbol", prop.ForAll(
		func(strategy models.StrategyID, symbol string, unixSec int64, raw uint32) bool {
			at := time.Unix(unixSec, 0).UTC()
			entropy := [4]byte{byte(raw >> 24), byte(raw >> 16), byte(raw >> 8), byte(raw)}

			id := ClientOrderID(strategy, symbol, at, entropy)
			if !strings.HasPrefix(id, "HOT_") {
				return false
			}
			if strings.ContainsAny(id, "-/") {
				return false
			}
			if !strings.Contains(id, at.Format("200601021504")) {
				return false
			}
			return strings.HasSuffix(id, fmt.Sprintf("%08x", raw))
		},
		gen.OneConstOf(
			models.StrategyTrendEMA, models.StrategySupertrend, models.StrategyTurtle,
			models.StrategyMACDCrossover, models.StrategyGridLadder,
		),
		gen.OneConstOf("BTCUSDT", "ETH-USDT", "SOL/USDT", "DOGE_USDT"),
		gen.Int64Range(1600000000, 1900000000),
		gen.UInt32(),
	))

	properties.TestingRun(t)
}

func TestProperty_FreshEntropyNeverCollides(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())
	properties := gopter.NewProperties(parameters)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	properties.Property("same strategy, symbol and minute still yield unique IDs", prop.ForAll(
		func(n int) bool {
			seen := make(map[string]bool, n)
			for i := 0; i < n; i++ {
				id := ClientOrderID(models.StrategyTurtle, "BTCUSDT", at, newEntropy())
				if seen[id] {
					return false
				}
				seen[id] = true
			}
			return true
		},
		gen.IntRange(2, 40),
	))

	properties.TestingRun(t)
}
