package indicator

import "math"

// RSI returns the Wilder-smoothed relative strength index of the last bar.
// It needs period+1 prices; otherwise it returns the neutral 50.
func RSI(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period+1 {
		return 50
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		g, l := split(prices[i] - prices[i-1])
		avgGain += g
		avgLoss += l
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	n := float64(period)
	for i := period + 1; i < len(prices); i++ {
		g, l := split(prices[i] - prices[i-1])
		avgGain = (avgGain*(n-1) + g) / n
		avgLoss = (avgLoss*(n-1) + l) / n
	}

	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

func split(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

// ATR returns the Wilder-smoothed average true range of the last bar. The
// three slices must have equal length; period+1 bars are required, otherwise
// it returns 0.
func ATR(highs, lows, closes []float64, period int) float64 {
	n := len(closes)
	if period <= 0 || n < period+1 || len(highs) != n || len(lows) != n {
		return 0
	}

	tr := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		tr = append(tr, math.Max(highs[i]-lows[i],
			math.Max(math.Abs(highs[i]-closes[i-1]), math.Abs(lows[i]-closes[i-1]))))
	}

	var atr float64
	for _, v := range tr[:period] {
		atr += v
	}
	atr /= float64(period)

	p := float64(period)
	for _, v := range tr[period:] {
		atr = (atr*(p-1) + v) / p
	}
	return atr
}

// Bollinger computes bands over the last period closes using the population
// standard deviation.
func Bollinger(prices []float64, period int, k float64) BollingerResult {
	if period <= 0 || len(prices) < period {
		return BollingerResult{Position: BandNeutral}
	}

	window := prices[len(prices)-period:]
	var sum float64
	for _, p := range window {
		sum += p
	}
	middle := sum / float64(period)

	var variance float64
	for _, p := range window {
		d := p - middle
		variance += d * d
	}
	variance /= float64(period)
	band := k * math.Sqrt(variance)

	upper := middle + band
	lower := middle - band

	var width float64
	if middle > 0 {
		width = (upper - lower) / middle * 100
	}

	current := prices[len(prices)-1]
	var pos BandPosition
	switch {
	case current > upper:
		pos = AboveUpper
	case current < lower:
		pos = BelowLower
	case current > middle:
		pos = AboveMiddle
	default:
		pos = BelowMiddle
	}

	return BollingerResult{
		Upper:        upper,
		Middle:       middle,
		Lower:        lower,
		Width:        width,
		Position:     pos,
		CurrentPrice: current,
	}
}
