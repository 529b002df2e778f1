package regime

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"hot-crypto/internal/models"
)

// makeCandles builds an OHLCV series around a close series with a
// proportional spread, mirroring how exchange bars look.
func makeCandles(closes []float64) []models.Candle {
	candles := make([]models.Candle, len(closes))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		spread := c * 0.005
		candles[i] = models.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      c - spread*0.5,
			High:      c + spread,
			Low:       c - spread,
			Close:     c,
			Volume:    1000,
		}
	}
	return candles
}

// persistentCloses generates a price series whose returns are positively
// autocorrelated, so cumulative deviations grow faster than a random walk.
func persistentCloses(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	closes := make([]float64, n)
	logPrice := math.Log(100.0)
	ret := 0.0
	for i := 0; i < n; i++ {
		ret = 0.8*ret + rng.NormFloat64()*0.01
		logPrice += ret
		closes[i] = math.Exp(logPrice)
	}
	return closes
}

// meanRevertingCloses generates an Ornstein-Uhlenbeck style series pulled
// back toward a fixed level each step.
func meanRevertingCloses(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	const level = 100.0
	closes := make([]float64, n)
	closes[0] = level
	for i := 1; i < n; i++ {
		reversion := 0.5 * (level - closes[i-1])
		closes[i] = closes[i-1] + reversion + rng.NormFloat64()*0.5
	}
	return closes
}

// randomWalkCloses generates a plain geometric random walk.
func randomWalkCloses(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	closes := make([]float64, n)
	logPrice := math.Log(100.0)
	for i := 0; i < n; i++ {
		logPrice += rng.NormFloat64() * 0.01
		closes[i] = math.Exp(logPrice)
	}
	return closes
}

// alternatingCloses flips between two levels every bar, the most
// anti-persistent series possible.
func alternatingCloses(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100.0
		if i%2 == 1 {
			closes[i] = 101.0
		}
	}
	return closes
}

// trendingCandles builds a strictly rising series with higher highs and
// higher lows on every bar.
func trendingCandles(n int) []models.Candle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100.0 + float64(i)
	}
	return makeCandles(closes)
}

func TestHurst(t *testing.T) {
	t.Run("persistent series above half", func(t *testing.T) {
		h := Hurst(persistentCloses(200, 42), 100)
		if h <= 0.5 {
			t.Errorf("persistent series: H = %.3f, want > 0.5", h)
		}
	})

	t.Run("mean reverting series below 0.55", func(t *testing.T) {
		h := Hurst(meanRevertingCloses(200, 42), 100)
		if h >= 0.55 {
			t.Errorf("mean-reverting series: H = %.3f, want < 0.55", h)
		}
	})

	t.Run("alternating series strongly anti-persistent", func(t *testing.T) {
		h := Hurst(alternatingCloses(200), 100)
		if h >= 0.45 {
			t.Errorf("alternating series: H = %.3f, want < 0.45", h)
		}
	})

	t.Run("insufficient data returns half", func(t *testing.T) {
		h := Hurst([]float64{100, 101, 102}, 100)
		if h != 0.5 {
			t.Errorf("H = %.3f, want exactly 0.5", h)
		}
	})

	t.Run("flat series returns half", func(t *testing.T) {
		closes := make([]float64, 200)
		for i := range closes {
			closes[i] = 100.0
		}
		h := Hurst(closes, 100)
		if h != 0.5 {
			t.Errorf("flat series: H = %.3f, want 0.5", h)
		}
	})

	t.Run("output clamped to unit interval", func(t *testing.T) {
		for seed := int64(1); seed <= 5; seed++ {
			h := Hurst(randomWalkCloses(200, seed), 100)
			if h < 0 || h > 1 {
				t.Errorf("seed %d: H = %.3f outside [0, 1]", seed, h)
			}
		}
	})

	t.Run("non-finite values dropped", func(t *testing.T) {
		closes := randomWalkCloses(200, 7)
		closes[10] = math.NaN()
		closes[20] = math.Inf(1)
		h := Hurst(closes, 100)
		if h < 0 || h > 1 {
			t.Errorf("H = %.3f outside [0, 1]", h)
		}
	})
}

func TestADX(t *testing.T) {
	t.Run("monotonic trend saturates", func(t *testing.T) {
		adx := ADX(trendingCandles(200), 14)
		if adx <= 90 {
			t.Errorf("monotonic trend: ADX = %.1f, want > 90", adx)
		}
	})

	t.Run("zigzag stays weak", func(t *testing.T) {
		adx := ADX(makeCandles(alternatingCloses(200)), 14)
		if adx >= 20 {
			t.Errorf("zigzag: ADX = %.1f, want < 20", adx)
		}
	})

	t.Run("insufficient data returns zero", func(t *testing.T) {
		adx := ADX(trendingCandles(10), 14)
		if adx != 0 {
			t.Errorf("ADX = %.1f, want 0", adx)
		}
	})

	t.Run("invalid period returns zero", func(t *testing.T) {
		adx := ADX(trendingCandles(50), 0)
		if adx != 0 {
			t.Errorf("ADX = %.1f, want 0", adx)
		}
	})

	t.Run("flat candles return zero", func(t *testing.T) {
		candles := make([]models.Candle, 50)
		ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		for i := range candles {
			candles[i] = models.Candle{
				Timestamp: ts.Add(time.Duration(i) * time.Hour),
				Open:      100, High: 100, Low: 100, Close: 100,
				Volume: 1000,
			}
		}
		adx := ADX(candles, 14)
		if adx != 0 {
			t.Errorf("flat candles: ADX = %.1f, want 0", adx)
		}
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		hurst      float64
		adx        float64
		wantRegime Regime
	}{
		{"strong trend", 0.70, 30, TrendingStrong},
		{"weak trend", 0.58, 22, TrendingWeak},
		{"strong hurst weak adx", 0.62, 24, TrendingWeak},
		{"boundary hurst falls to weak", 0.60, 30, TrendingWeak},
		{"mean reverting", 0.40, 15, MeanReverting},
		{"low hurst high adx is random walk", 0.44, 21, RandomWalk},
		{"mid zone random walk", 0.50, 22, RandomWalk},
		{"boundary mean reversion excluded", 0.45, 15, RandomWalk},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, conf := classify(tt.hurst, tt.adx)
			if got != tt.wantRegime {
				t.Errorf("classify(%.2f, %.1f) = %s, want %s", tt.hurst, tt.adx, got, tt.wantRegime)
			}
			if conf < 0 || conf > 1 {
				t.Errorf("confidence %.3f outside [0, 1]", conf)
			}
		})
	}

	t.Run("deep in zone saturates confidence", func(t *testing.T) {
		_, conf := classify(0.75, 50)
		if conf != 1.0 {
			t.Errorf("conf = %.3f, want 1.0", conf)
		}
	})

	t.Run("exact random walk center full confidence", func(t *testing.T) {
		r, conf := classify(0.50, 10)
		if r != RandomWalk {
			t.Errorf("regime = %s, want %s", r, RandomWalk)
		}
		if conf != 1.0 {
			t.Errorf("conf = %.3f, want 1.0", conf)
		}
	})
}

func TestDetector(t *testing.T) {
	t.Run("monotonic trend classifies as trending", func(t *testing.T) {
		d := NewDetector(100, 14)
		snap := d.Detect(trendingCandles(200))
		if snap.Regime != TrendingStrong && snap.Regime != TrendingWeak {
			t.Errorf("regime = %s, want trending", snap.Regime)
		}
		if snap.ADX <= 25 {
			t.Errorf("ADX = %.1f, want > 25", snap.ADX)
		}
	})

	t.Run("snapshot carries strategy set and allocation", func(t *testing.T) {
		d := NewDetector(100, 14)
		snap := d.Detect(makeCandles(randomWalkCloses(200, 3)))
		if len(snap.Strategies) == 0 {
			t.Error("snapshot has no strategies")
		}
		if snap.Allocation <= 0 || snap.Allocation > 1 {
			t.Errorf("allocation = %.2f outside (0, 1]", snap.Allocation)
		}
		if snap.Confidence < 0 || snap.Confidence > 1 {
			t.Errorf("confidence = %.2f outside [0, 1]", snap.Confidence)
		}
	})

	t.Run("snapshot stamped with last candle time", func(t *testing.T) {
		d := NewDetector(100, 14)
		candles := trendingCandles(50)
		snap := d.Detect(candles)
		if !snap.At.Equal(candles[len(candles)-1].Timestamp) {
			t.Errorf("At = %v, want %v", snap.At, candles[len(candles)-1].Timestamp)
		}
	})

	t.Run("empty input is a neutral random walk", func(t *testing.T) {
		d := NewDetector(100, 14)
		snap := d.Detect(nil)
		if snap.Regime != RandomWalk {
			t.Errorf("regime = %s, want %s", snap.Regime, RandomWalk)
		}
		if snap.Hurst != 0.5 {
			t.Errorf("Hurst = %.3f, want 0.5", snap.Hurst)
		}
		if snap.ADX != 0 {
			t.Errorf("ADX = %.1f, want 0", snap.ADX)
		}
	})

	t.Run("defaults applied for non-positive parameters", func(t *testing.T) {
		d := NewDetector(0, -1)
		if d.hurstWindow != DefaultHurstWindow {
			t.Errorf("hurstWindow = %d, want %d", d.hurstWindow, DefaultHurstWindow)
		}
		if d.adxPeriod != DefaultADXPeriod {
			t.Errorf("adxPeriod = %d, want %d", d.adxPeriod, DefaultADXPeriod)
		}
	})
}

func TestStrategiesFor(t *testing.T) {
	tests := []struct {
		regime Regime
		want   []models.StrategyID
	}{
		{TrendingStrong, []models.StrategyID{
			models.StrategyTrendEMA, models.StrategySupertrend,
			models.StrategyTurtle, models.StrategyTripleMomentum,
		}},
		{TrendingWeak, []models.StrategyID{
			models.StrategyTrendEMA, models.StrategySupertrend,
			models.StrategySqueezeBreakout, models.StrategyMACDCrossover,
		}},
		{MeanReverting, []models.StrategyID{
			models.StrategyMeanReversionBB, models.StrategyRSIDivergence,
			models.StrategyVWAPBounce,
		}},
		{RandomWalk, []models.StrategyID{models.StrategyGridLadder}},
	}

	for _, tt := range tests {
		t.Run(string(tt.regime), func(t *testing.T) {
			got := StrategiesFor(tt.regime)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d strategies, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("strategy[%d] = %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}

	t.Run("returned slice is a copy", func(t *testing.T) {
		a := StrategiesFor(TrendingStrong)
		a[0] = models.StrategyGridLadder
		b := StrategiesFor(TrendingStrong)
		if b[0] != models.StrategyTrendEMA {
			t.Error("mutating the returned slice leaked into the table")
		}
	})
}

func TestAllocationFor(t *testing.T) {
	tests := []struct {
		regime Regime
		want   float64
	}{
		{TrendingStrong, 0.80},
		{TrendingWeak, 0.50},
		{MeanReverting, 0.80},
		{RandomWalk, 1.00},
	}
	for _, tt := range tests {
		if got := AllocationFor(tt.regime); got != tt.want {
			t.Errorf("AllocationFor(%s) = %.2f, want %.2f", tt.regime, got, tt.want)
		}
	}
}
