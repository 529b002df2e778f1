package regime

import "math"

// Hurst estimates the Hurst exponent of a price series with the
// rescaled-range method over the trailing window.
//
// H > 0.5 marks a persistent (trending) series, H < 0.5 an
// anti-persistent (mean-reverting) one, H = 0.5 a random walk.
// Returns 0.5 whenever the series is too short or the log-log
// regression is degenerate.
func Hurst(closes []float64, window int) float64 {
	ts := make([]float64, 0, len(closes))
	for _, v := range closes {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			ts = append(ts, v)
		}
	}
	if len(ts) > window {
		ts = ts[len(ts)-window:]
	}
	if len(ts) < 20 {
		return 0.5
	}

	returns := make([]float64, len(ts)-1)
	for i := 1; i < len(ts); i++ {
		returns[i-1] = math.Log(ts[i]) - math.Log(ts[i-1])
	}
	if len(returns) < 10 {
		return 0.5
	}

	maxK := len(returns) / 2
	if maxK > 50 {
		maxK = 50
	}

	var logSizes, logRS []float64
	for size := 10; size <= maxK; size += 2 {
		nChunks := len(returns) / size
		if nChunks < 1 {
			continue
		}

		var rs []float64
		for c := 0; c < nChunks; c++ {
			chunk := returns[c*size : (c+1)*size]
			r := cumDevRange(chunk)
			s := sampleStdDev(chunk)
			if s > 1e-12 {
				rs = append(rs, r/s)
			}
		}
		if len(rs) > 0 {
			logSizes = append(logSizes, math.Log(float64(size)))
			logRS = append(logRS, math.Log(mean(rs)))
		}
	}
	if len(logSizes) < 3 {
		return 0.5
	}

	slope, ok := linearSlope(logSizes, logRS)
	if !ok {
		return 0.5
	}
	return clamp(slope, 0, 1)
}

// cumDevRange returns max minus min of the cumulative deviations from the
// chunk mean, the R in R/S analysis.
func cumDevRange(chunk []float64) float64 {
	m := mean(chunk)
	var cum, lo, hi float64
	for i, v := range chunk {
		cum += v - m
		if i == 0 || cum < lo {
			lo = cum
		}
		if i == 0 || cum > hi {
			hi = cum
		}
	}
	return hi - lo
}
