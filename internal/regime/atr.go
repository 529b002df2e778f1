package regime

import (
	"math"

	"hot-crypto/internal/models"
)

// ATR returns the latest Average True Range over the given period using
// Wilder smoothing. The engine feeds it into position sizing alongside the
// regime snapshot. Returns 0.0 with fewer than period+1 candles, matching
// the ADX warm-up contract.
func ATR(candles []models.Candle, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 0.0
	}

	trs := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		trs = append(trs, trueRange(candles[i], candles[i-1]))
	}

	smoothed := wilderEMA(trs, period)
	return smoothed[len(smoothed)-1]
}

func trueRange(c, prev models.Candle) float64 {
	tr := c.High - c.Low
	if hc := math.Abs(c.High - prev.Close); hc > tr {
		tr = hc
	}
	if lc := math.Abs(c.Low - prev.Close); lc > tr {
		tr = lc
	}
	return tr
}
