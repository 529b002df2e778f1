package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_WindowNeverOverfilled(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("usage never exceeds capacity across any acquire sequence", prop.ForAll(
		func(capacity int, weights []int) bool {
			l, _ := newTestLimiter(capacity, time.Second, 1.0)
			ctx := context.Background()
			for _, w := range weights {
				if _, err := l.Acquire(ctx, w); err != nil {
					return false
				}
				s := l.Status()
				if s.Available < 0 || s.UsagePct > 1.0 {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 20),
		gen.SliceOfN(10, gen.IntRange(1, 5)),
	))

	properties.TestingRun(t)
}
