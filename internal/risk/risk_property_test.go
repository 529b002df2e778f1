package risk

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"hot-crypto/internal/models"
)

func TestProperty_ApprovedVerdictInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("approved trades carry a positive size, a capped notional and a protective stop", prop.ForAll(
		func(price, atrFactor float64, short bool) bool {
			m, _ := newTestManager(Config{})
			side := models.PositionLong
			if short {
				side = models.PositionShort
			}
			v := m.Evaluate(TradeRequest{Symbol: "BTCUSDT", Side: side, Price: price, ATR: price * atrFactor})
			if !v.Approved {
				return false
			}
			if v.Qty <= 0 {
				return false
			}
			if v.Qty*price > 10000.0*0.5+1e-6 {
				return false
			}
			if short {
				return v.StopPrice > price && v.TakeProfit < price
			}
			return v.StopPrice < price && v.TakeProfit > price
		},
		gen.Float64Range(100, 100000),
		gen.Float64Range(0.004, 0.10),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestProperty_SizeScalesWithEquity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("position size is linear in account equity", prop.ForAll(
		func(equity, price, atrFactor float64) bool {
			req := TradeRequest{Symbol: "BTCUSDT", Side: models.PositionLong, Price: price, ATR: price * atrFactor}

			small, _ := newTestManager(Config{InitialEquity: equity})
			big, _ := newTestManager(Config{InitialEquity: equity * 2})

			a := small.Evaluate(req)
			b := big.Evaluate(req)
			if !a.Approved || !b.Approved {
				return false
			}
			return math.Abs(b.Qty-2*a.Qty) <= 1e-9*math.Max(1, b.Qty)
		},
		gen.Float64Range(1000, 1e6),
		gen.Float64Range(100, 100000),
		gen.Float64Range(0.004, 0.10),
	))

	properties.TestingRun(t)
}

func TestProperty_CooldownBlocksEntries(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("a losing close blocks entries for the full cooldown window", prop.ForAll(
		func(pnl float64, minutes int) bool {
			m, clk := newTestManager(Config{})
			m.RegisterTradeClose(models.TradeResult{Symbol: "BTCUSDT", PnL: pnl})
			clk.advance(time.Duration(minutes) * time.Minute)

			v := m.Evaluate(TradeRequest{Symbol: "BTCUSDT", Side: models.PositionLong, Price: 50000, ATR: 500})
			if v.Approved {
				return false
			}
			return len(v.ChecksFailed) == 1 && v.ChecksFailed[0] == "cooldown"
		},
		gen.Float64Range(-100, -1),
		gen.IntRange(0, 239),
	))

	properties.TestingRun(t)
}
