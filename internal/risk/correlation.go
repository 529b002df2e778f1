package risk

import "math"

// CorrelationGuard checks pairwise correlation among the given price
// series (open positions plus the candidate symbol) and returns a
// scaling factor for new position sizes: 1.0 when diversified, shrinking
// linearly to 0.5 as the highest pairwise correlation approaches 1.0,
// never below 0.25.
func (m *Manager) CorrelationGuard(priceSeries map[string][]float64) float64 {
	if len(priceSeries) < 2 {
		return 1.0
	}

	returns := make(map[string][]float64, len(priceSeries))
	for sym, prices := range priceSeries {
		if len(prices) < 10 {
			continue
		}
		rets := make([]float64, len(prices)-1)
		for i := 1; i < len(prices); i++ {
			rets[i-1] = math.Log(prices[i]) - math.Log(prices[i-1])
		}
		returns[sym] = rets
	}
	if len(returns) < 2 {
		return 1.0
	}

	syms := make([]string, 0, len(returns))
	for sym := range returns {
		syms = append(syms, sym)
	}

	var maxCorr float64
	for i := 0; i < len(syms); i++ {
		for j := i + 1; j < len(syms); j++ {
			a, b := returns[syms[i]], returns[syms[j]]
			n := len(a)
			if len(b) < n {
				n = len(b)
			}
			if n < 5 {
				continue
			}
			corr := pearson(a[len(a)-n:], b[len(b)-n:])
			if !math.IsNaN(corr) && math.Abs(corr) > maxCorr {
				maxCorr = math.Abs(corr)
			}
		}
	}

	threshold := m.cfg.CorrelationThreshold
	if maxCorr > threshold {
		scale := 1.0 - 0.5*(maxCorr-threshold)/(1.0-threshold)
		return math.Max(0.25, scale)
	}
	return 1.0
}

// pearson computes the correlation coefficient of two equal-length
// series. Returns NaN when either side has zero variance.
func pearson(a, b []float64) float64 {
	n := float64(len(a))
	if n == 0 {
		return math.NaN()
	}
	var meanA, meanB float64
	for i := range a {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= n
	meanB /= n

	var cov, varA, varB float64
	for i := range a {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA <= 0 || varB <= 0 {
		return math.NaN()
	}
	return cov / math.Sqrt(varA*varB)
}
