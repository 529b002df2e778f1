package regime

import (
	"math"

	"hot-crypto/internal/models"
)

// ADX computes Wilder's Average Directional Index over the candle series
// and returns the latest value on the 0-100 scale. Above 25 marks a
// strong trend, below 20 a weak or absent one. Returns 0 when fewer
// than period+1 candles are available or too few DX values are defined.
func ADX(candles []models.Candle, period int) float64 {
	n := len(candles)
	if period <= 0 || n < period+1 {
		return 0.0
	}

	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)

	tr[0] = candles[0].High - candles[0].Low
	for i := 1; i < n; i++ {
		cur, prev := candles[i], candles[i-1]
		hl := cur.High - cur.Low
		hc := math.Abs(cur.High - prev.Close)
		lc := math.Abs(cur.Low - prev.Close)
		tr[i] = math.Max(hl, math.Max(hc, lc))

		up := cur.High - prev.High
		down := prev.Low - cur.Low
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	atr := wilderEMA(tr, period)
	smoothPlus := wilderEMA(plusDM, period)
	smoothMinus := wilderEMA(minusDM, period)

	// DX is defined once the smoothed series cover a full period, and only
	// where ATR is positive and the directional indicators do not cancel.
	alpha := 1.0 / float64(period)
	var adx float64
	var seeded bool
	var valid int
	for i := period - 1; i < n; i++ {
		if atr[i] <= 0 {
			continue
		}
		plusDI := 100 * smoothPlus[i] / atr[i]
		minusDI := 100 * smoothMinus[i] / atr[i]
		diSum := plusDI + minusDI
		if diSum == 0 {
			continue
		}
		dx := 100 * math.Abs(plusDI-minusDI) / diSum
		if !seeded {
			adx = dx
			seeded = true
		} else {
			adx += alpha * (dx - adx)
		}
		valid++
	}
	if valid < period {
		return 0.0
	}
	return adx
}

// wilderEMA applies Wilder's recursive smoothing, an EMA with
// alpha = 1/period seeded at the first value.
func wilderEMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 1.0 / float64(period)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = out[i-1] + alpha*(values[i]-out[i-1])
	}
	return out
}
