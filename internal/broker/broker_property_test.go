package broker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"hot-crypto/internal/models"
)

// Property: every accepted paper order fills in full, immediately, at a
// deterministic price: market orders at the current mark, limit orders at
// their limit price. FetchOrder agrees with the acknowledgement.
func TestProperty_PaperOrdersFillDeterministically(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("paper fills are immediate and exact", prop.ForAll(
		func(mark, limitPx, qty float64, sell, limit bool) bool {
			venue := NewPaperVenue(PaperVenueConfig{})
			venue.UpdatePrice("BTCUSDT", mark)

			req := OrderRequest{
				Symbol: "BTCUSDT",
				Side:   models.SideBuy,
				Type:   models.OrderTypeMarket,
				Qty:    qty,
			}
			if sell {
				req.Side = models.SideSell
			}
			want := mark
			if limit {
				req.Type = models.OrderTypeLimit
				req.Price = limitPx
				want = limitPx
			}

			ack, err := venue.PlaceOrder(context.Background(), req)
			if err != nil {
				return false
			}
			if ack.Status != StatusFilled || ack.FilledQty != qty || ack.AvgFillPrice != want {
				return false
			}

			got, err := venue.FetchOrder(context.Background(), "BTCUSDT", ack.ClientOrderID)
			return err == nil && got.Status == StatusFilled && got.AvgFillPrice == want && got.Remaining() == 0
		},
		gen.Float64Range(1, 100000),
		gen.Float64Range(1, 100000),
		gen.Float64Range(0.0001, 1000),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// Property: exchange order IDs stay unique no matter how many orders are
// placed, and the fill log grows by exactly one entry per accepted order.
func TestProperty_PaperOrderIDsUnique(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("IDs unique, one fill per order", prop.ForAll(
		func(n int) bool {
			venue := NewPaperVenue(PaperVenueConfig{})
			venue.UpdatePrice("ETHUSDT", 2500)

			seen := make(map[string]bool)
			for i := 0; i < n; i++ {
				ack, err := venue.PlaceOrder(context.Background(), OrderRequest{
					Symbol:        "ETHUSDT",
					Side:          models.SideBuy,
					Type:          models.OrderTypeMarket,
					Qty:           1,
					ClientOrderID: fmt.Sprintf("ORD_%d", i),
				})
				if err != nil {
					return false
				}
				if seen[ack.ExchangeOrderID] {
					return false
				}
				seen[ack.ExchangeOrderID] = true
			}
			return len(venue.Fills()) == n
		},
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}
