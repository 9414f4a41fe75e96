package indicator

// EMA returns the exponential moving average series of prices. The first
// value is the simple mean of the first period prices; each later value is
// prev + (price-prev)*2/(period+1). The result has len(prices)-period+1
// entries, or none when there are fewer than period samples.
func EMA(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return nil
	}
	k := 2.0 / float64(period+1)

	out := make([]float64, 0, len(prices)-period+1)
	var sum float64
	for _, p := range prices[:period] {
		sum += p
	}
	prev := sum / float64(period)
	out = append(out, prev)

	for _, p := range prices[period:] {
		prev = prev + (p-prev)*k
		out = append(out, prev)
	}
	return out
}

// MACD computes the MACD line, its signal EMA and the histogram of the last
// bar. The fast EMA is aligned onto the slow EMA's index range. Fewer than
// slow+signal samples yield the all-zero neutral result.
func MACD(prices []float64, fast, slow, signal int) MACDResult {
	neutral := MACDResult{Trend: TrendNeutral}
	if fast <= 0 || slow <= fast || signal <= 0 || len(prices) < slow+signal {
		return neutral
	}

	emaFast := EMA(prices, fast)
	emaSlow := EMA(prices, slow)

	// emaSlow[i] and emaFast[i+offset] both end at price index i+slow-1
	offset := slow - fast
	line := make([]float64, len(emaSlow))
	for i := range emaSlow {
		line[i] = emaFast[i+offset] - emaSlow[i]
	}

	sig := EMA(line, signal)
	if len(sig) == 0 {
		return neutral
	}

	m := line[len(line)-1]
	s := sig[len(sig)-1]
	h := m - s

	trend := TrendNeutral
	switch {
	case h > 0 && m > 0:
		trend = TrendBullish
	case h < 0 && m < 0:
		trend = TrendBearish
	}
	return MACDResult{MACD: m, Signal: s, Histogram: h, Trend: trend}
}
