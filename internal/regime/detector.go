package regime

import (
	"math"
	"time"

	"hot-crypto/internal/models"
)

// Default parameter values for regime detection.
const (
	DefaultHurstWindow = 100
	DefaultADXPeriod   = 14
)

// Detector classifies market regime from OHLCV candles.
type Detector struct {
	hurstWindow int
	adxPeriod   int
}

// NewDetector creates a regime detector. Non-positive parameters fall
// back to the defaults.
func NewDetector(hurstWindow, adxPeriod int) *Detector {
	if hurstWindow <= 0 {
		hurstWindow = DefaultHurstWindow
	}
	if adxPeriod <= 0 {
		adxPeriod = DefaultADXPeriod
	}
	return &Detector{
		hurstWindow: hurstWindow,
		adxPeriod:   adxPeriod,
	}
}

// Detect classifies the regime for the candle series. The snapshot is
// stamped with the last candle's timestamp.
func (d *Detector) Detect(candles []models.Candle) Snapshot {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	h := Hurst(closes, d.hurstWindow)
	adx := ADX(candles, d.adxPeriod)
	r, conf := classify(h, adx)

	var at time.Time
	if len(candles) > 0 {
		at = candles[len(candles)-1].Timestamp
	}

	return Snapshot{
		Regime:     r,
		Hurst:      h,
		ADX:        adx,
		Confidence: conf,
		Strategies: StrategiesFor(r),
		Allocation: AllocationFor(r),
		At:         at,
	}
}

// classify applies the threshold table, first match wins. Confidence
// measures how far inside the matched zone the metrics sit.
func classify(hurst, adx float64) (Regime, float64) {
	switch {
	case hurst > 0.60 && adx > 25:
		conf := math.Min(1.0, (hurst-0.60)/0.15*0.5+(adx-25)/25*0.5)
		return TrendingStrong, conf
	case hurst > 0.55 && adx > 20:
		conf := math.Min(1.0, (hurst-0.55)/0.10*0.5+(adx-20)/10*0.5)
		return TrendingWeak, conf
	case hurst < 0.45 && adx < 20:
		conf := math.Min(1.0, (0.45-hurst)/0.15*0.5+(20-adx)/20*0.5)
		return MeanReverting, conf
	default:
		conf := math.Max(0.0, 1.0-math.Abs(hurst-0.50)/0.10)
		return RandomWalk, conf
	}
}
