package portfolio

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"hot-crypto/internal/models"
)

func TestProperty_RoundTripPaysFriction(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("a flat round trip always loses slippage plus commission", prop.ForAll(
		func(price, notionalFrac float64, short bool) bool {
			p := New(Config{})
			side := models.PositionLong
			if short {
				side = models.PositionShort
			}
			size := 9000.0 * notionalFrac / price

			if _, err := p.Open(OpenRequest{Symbol: "BTCUSDT", Side: side, Size: size, Price: price}); err != nil {
				return false
			}
			if _, _, err := p.Close("BTCUSDT", side, price, "signal", time.Time{}); err != nil {
				return false
			}
			if p.HasPosition("BTCUSDT") {
				return false
			}
			// friction is strictly positive, and a flat book marks at cash
			return p.Cash() < 10000.0 && p.Equity() == p.Cash()
		},
		gen.Float64Range(100, 100000),
		gen.Float64Range(0.01, 0.99),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestProperty_InsideBarNeverSweeps(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("bars that stay inside stop and take profit never close the position", prop.ForAll(
		func(lowFrac, highFrac float64) bool {
			p := New(Config{})
			_, err := p.Open(OpenRequest{
				Symbol: "BTCUSDT", Side: models.PositionLong,
				Size: 0.01, Price: 50000, Stop: 49000, TP: 52000,
			})
			if err != nil {
				return false
			}
			// low in (stop, 50000], high in [50000, tp)
			low := 49000.0 + (50000.0-49000.0)*lowFrac
			high := 50000.0 + (52000.0-50000.0)*highFrac
			c := models.Candle{
				Timestamp: time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC),
				Open:      50000, High: high, Low: low, Close: high,
				Volume: 1,
			}
			_, closed := p.SweepStops("BTCUSDT", c)
			return !closed && p.HasPosition("BTCUSDT")
		},
		gen.Float64Range(0.001, 0.999),
		gen.Float64Range(0.001, 0.999),
	))

	properties.TestingRun(t)
}
