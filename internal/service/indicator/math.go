package indicator

import "math"

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// sma returns the mean of the last period values.
func sma(vals []float64, period int) (float64, bool) {
	if period < 1 || len(vals) < period {
		return 0, false
	}
	sum := 0.0
	for _, v := range vals[len(vals)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

// emaSeries returns the EMA of vals seeded with the SMA of the first period values.
// out[i] corresponds to vals[period-1+i].
func emaSeries(vals []float64, period int) []float64 {
	if period < 1 || len(vals) < period {
		return nil
	}
	k := 2.0 / float64(period+1)
	out := make([]float64, 0, len(vals)-period+1)
	sum := 0.0
	for _, v := range vals[:period] {
		sum += v
	}
	cur := sum / float64(period)
	out = append(out, cur)
	for _, v := range vals[period:] {
		cur = v*k + cur*(1-k)
		out = append(out, cur)
	}
	return out
}

// rsi computes Wilder's RSI: averages seeded with the simple mean of the first period
// deltas, then smoothed with (prev*(n-1)+x)/n. A flat window has no defined ratio.
func rsi(closes []float64, period int) (value float64, ok bool) {
	if period < 1 || len(closes) < period+1 {
		return 0, false
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			avgGain += d
		} else {
			avgLoss -= d
		}
	}
	p := float64(period)
	avgGain /= p
	avgLoss /= p
	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
	}
	if avgLoss == 0 {
		if avgGain == 0 {
			return 0, false
		}
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// macd returns the MACD line, its signal EMA and the histogram at the last bar.
func macd(closes []float64, fast, slow, signal int) (line, sig, hist float64, ok bool) {
	if fast >= slow || len(closes) < slow+signal-1 {
		return 0, 0, 0, false
	}
	fastE := emaSeries(closes, fast)
	slowE := emaSeries(closes, slow)
	// Align both series on the bars where the slow EMA exists.
	offset := slow - fast
	lines := make([]float64, len(slowE))
	for i := range slowE {
		lines[i] = fastE[i+offset] - slowE[i]
	}
	sigE := emaSeries(lines, signal)
	if len(sigE) == 0 {
		return 0, 0, 0, false
	}
	line = lines[len(lines)-1]
	sig = sigE[len(sigE)-1]
	return line, sig, line - sig, true
}

// bollinger returns the bands over the last period closes using the population deviation.
func bollinger(closes []float64, period int, width float64) (upper, middle, lower float64, ok bool) {
	middle, ok = sma(closes, period)
	if !ok {
		return 0, 0, 0, false
	}
	variance := 0.0
	for _, v := range closes[len(closes)-period:] {
		d := v - middle
		variance += d * d
	}
	sd := math.Sqrt(variance / float64(period))
	return middle + width*sd, middle, middle - width*sd, true
}

// stochastic returns %K of the last bar and %D as the simple mean of the last d %K values.
// ok is false when history is short or any window has no range.
func stochastic(highs, lows, closes []float64, kPeriod, dPeriod int) (k, d float64, ok bool) {
	n := len(closes)
	if kPeriod < 1 || dPeriod < 1 || n < kPeriod+dPeriod-1 {
		return 0, 0, false
	}
	ks := make([]float64, 0, dPeriod)
	for end := n - dPeriod; end < n; end++ {
		hh, ll := highs[end], lows[end]
		for i := end - kPeriod + 1; i <= end; i++ {
			hh = math.Max(hh, highs[i])
			ll = math.Min(ll, lows[i])
		}
		if hh == ll {
			return 0, 0, false
		}
		ks = append(ks, (closes[end]-ll)/(hh-ll)*100)
	}
	d, _ = sma(ks, dPeriod)
	return ks[len(ks)-1], d, true
}

// atr returns Wilder's average true range.
func atr(highs, lows, closes []float64, period int) (float64, bool) {
	n := len(closes)
	if period < 1 || n < period+1 {
		return 0, false
	}
	tr := func(i int) float64 {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		return math.Max(hl, math.Max(hc, lc))
	}
	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += tr(i)
	}
	p := float64(period)
	cur := sum / p
	for i := period + 1; i < n; i++ {
		cur = (cur*(p-1) + tr(i)) / p
	}
	return cur, true
}
