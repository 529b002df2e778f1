package engine

import (
	"math"
	"strconv"
	"strings"
	"time"

	"hot-crypto/internal/models"
)

// volLookback is the number of close-to-close returns feeding the
// realized-volatility estimate.
const volLookback = 30

// realizedVol estimates annualized volatility from the trailing close
// returns. Returns 0 when the series or timeframe cannot support the
// estimate, which skips volatility targeting downstream.
func realizedVol(candles []models.Candle, timeframe string) float64 {
	barsPerYear := barsPerYear(timeframe)
	if barsPerYear <= 0 || len(candles) < 3 {
		return 0
	}

	start := 0
	if len(candles) > volLookback+1 {
		start = len(candles) - volLookback - 1
	}
	window := candles[start:]

	rets := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		prev, cur := window[i-1].Close, window[i].Close
		if prev <= 0 || cur <= 0 {
			continue
		}
		rets = append(rets, math.Log(cur/prev))
	}
	if len(rets) < 2 {
		return 0
	}

	m := 0.0
	for _, r := range rets {
		m += r
	}
	m /= float64(len(rets))

	var ss float64
	for _, r := range rets {
		d := r - m
		ss += d * d
	}
	std := math.Sqrt(ss / float64(len(rets)-1))

	return std * math.Sqrt(barsPerYear)
}

// barsPerYear converts a timeframe like "4h", "15m" or "1d" into the
// number of bars in a 365-day year. Unknown formats return 0.
func barsPerYear(timeframe string) float64 {
	d := timeframeDuration(timeframe)
	if d <= 0 {
		return 0
	}
	return float64(365*24*time.Hour) / float64(d)
}

func timeframeDuration(timeframe string) time.Duration {
	tf := strings.TrimSpace(strings.ToLower(timeframe))
	if len(tf) < 2 {
		return 0
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0
	}
	switch tf[len(tf)-1] {
	case 'm':
		return time.Duration(n) * time.Minute
	case 'h':
		return time.Duration(n) * time.Hour
	case 'd':
		return time.Duration(n) * 24 * time.Hour
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour
	}
	return 0
}
