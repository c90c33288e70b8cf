package indicator

import (
	"time"

	"SignalPulse/internal/domain/models"
	"SignalPulse/internal/domain/service"
	"SignalPulse/internal/service/history"
	"SignalPulse/pkg/config"
)

// Reading names.
const (
	RSI                = "rsi"
	MACD               = "macd"
	Bollinger          = "bollinger"
	Stochastic         = "stochastic"
	ATR                = "atr"
	SMACross           = "sma_cross"
	EMA                = "ema"
	VolumeRatio        = "volume_ratio"
	RealizedVolatility = "realized_volatility"
)

// Engine computes the indicator battery. It holds no mutable state and is safe for
// concurrent use; identical inputs give bit-identical output apart from ComputedAt.
type Engine struct {
	now func() time.Time
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func New(opts ...Option) service.IndicatorEngine {
	e := &Engine{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type series struct {
	high, low, close, volume []float64
}

func split(bars []models.Candle, price float64) series {
	s := series{
		high:   make([]float64, 0, len(bars)),
		low:    make([]float64, 0, len(bars)),
		close:  make([]float64, 0, len(bars)),
		volume: make([]float64, 0, len(bars)),
	}
	for _, b := range bars {
		s.high = append(s.high, b.High)
		s.low = append(s.low, b.Low)
		s.close = append(s.close, b.Close)
		s.volume = append(s.volume, b.Volume)
	}
	if len(s.close) == 0 && price > 0 {
		s.high = append(s.high, price)
		s.low = append(s.low, price)
		s.close = append(s.close, price)
		s.volume = append(s.volume, 0)
	}
	return s
}

func (e *Engine) Compute(tf config.TimeframeConfig, snap models.PriceSnapshot, bars []models.Candle) models.IndicatorSet {
	price := snap.Price
	s := split(bars, price)

	set := models.IndicatorSet{
		Symbol:     snap.Symbol,
		Timeframe:  tf.Name,
		Price:      price,
		Bars:       len(bars),
		Readings:   make(map[string]models.IndicatorReading, 9),
		Stale:      snap.Stale,
		SnapshotAt: snap.FetchedAt,
	}

	add := func(r models.IndicatorReading) {
		if r.Fallback {
			set.LowConfidence = true
		}
		set.Readings[r.Name] = r
	}

	add(rsiReading(s.close, tf.RSIPeriod))
	add(macdReading(s.close, tf.MACDFast, tf.MACDSlow, tf.MACDSignal, price))
	add(bollingerReading(s.close, tf.BollingerPeriod, tf.BollingerStdDev, price))
	add(stochasticReading(s.high, s.low, s.close, tf.StochK, tf.StochD))
	add(atrReading(s.high, s.low, s.close, tf.ATRPeriod, price))
	add(smaCrossReading(s.close, tf.SMAFast, tf.SMASlow, price))
	add(emaReading(s.close, tf.MACDFast, price))
	add(volumeReading(s.volume, tf.VolumePeriod, snap.Volume24h, snap.Change24h))
	add(realizedVolReading(bars, tf))

	set.ComputedAt = e.now().UTC()
	return set
}

func rsiReading(closes []float64, period int) models.IndicatorReading {
	r := models.IndicatorReading{Name: RSI, Category: models.CategoryMomentum, Directional: true}
	v, ok := rsi(closes, period)
	if !ok || !finite(v) {
		return neutral(r, 50, nil)
	}
	r.Value = v
	r.Bias, r.Strength = classifyRSI(v)
	return r
}

func macdReading(closes []float64, fast, slow, signal int, price float64) models.IndicatorReading {
	r := models.IndicatorReading{Name: MACD, Category: models.CategoryTrend, Directional: true}
	line, sig, hist, ok := macd(closes, fast, slow, signal)
	if !ok || !finite(line, sig, hist) {
		return neutral(r, 0, map[string]float64{"macd.line": 0, "macd.signal": 0, "macd.histogram": 0})
	}
	r.Value = hist
	r.Components = map[string]float64{"macd.line": line, "macd.signal": sig, "macd.histogram": hist}
	r.Bias, r.Strength = classifyMACD(hist, price)
	return r
}

func bollingerReading(closes []float64, period int, width, price float64) models.IndicatorReading {
	r := models.IndicatorReading{Name: Bollinger, Category: models.CategoryVolatility, Directional: true}
	upper, middle, lower, ok := bollinger(closes, period, width)
	if !ok || upper == lower || !finite(upper, middle, lower) {
		return neutral(r, 0.5, map[string]float64{
			"bollinger.upper": price, "bollinger.middle": price, "bollinger.lower": price,
			"bollinger.percent_b": 0.5, "bollinger.bandwidth": 0,
		})
	}
	pb := (price - lower) / (upper - lower)
	bw := 0.0
	if middle != 0 {
		bw = (upper - lower) / middle
	}
	r.Value = pb
	r.Components = map[string]float64{
		"bollinger.upper": upper, "bollinger.middle": middle, "bollinger.lower": lower,
		"bollinger.percent_b": pb, "bollinger.bandwidth": bw,
	}
	r.Bias, r.Strength = classifyPercentB(pb)
	return r
}

func stochasticReading(highs, lows, closes []float64, kPeriod, dPeriod int) models.IndicatorReading {
	r := models.IndicatorReading{Name: Stochastic, Category: models.CategoryMomentum, Directional: true}
	k, d, ok := stochastic(highs, lows, closes, kPeriod, dPeriod)
	if !ok || !finite(k, d) {
		return neutral(r, 50, map[string]float64{"stochastic.k": 50, "stochastic.d": 50})
	}
	r.Value = k
	r.Components = map[string]float64{"stochastic.k": k, "stochastic.d": d}
	r.Bias, r.Strength = classifyStochastic(k)
	return r
}

func atrReading(highs, lows, closes []float64, period int, price float64) models.IndicatorReading {
	r := models.IndicatorReading{Name: ATR, Category: models.CategoryVolatility}
	v, ok := atr(highs, lows, closes, period)
	if !ok || !finite(v) {
		return neutral(r, 0, map[string]float64{"atr.percent": 0})
	}
	pct := 0.0
	if price > 0 {
		pct = v / price * 100
	}
	r.Value = v
	r.Components = map[string]float64{"atr.percent": pct}
	r.Bias, r.Strength = models.BiasNeutral, models.StrengthWeak
	return r
}

func smaCrossReading(closes []float64, fast, slow int, price float64) models.IndicatorReading {
	r := models.IndicatorReading{Name: SMACross, Category: models.CategoryTrend, Directional: true}
	f, okF := sma(closes, fast)
	sl, okS := sma(closes, slow)
	if !okF || !okS || sl == 0 || !finite(f, sl) {
		return neutral(r, 0, map[string]float64{"sma.fast": price, "sma.slow": price})
	}
	spread := (f - sl) / sl * 100
	r.Value = spread
	r.Components = map[string]float64{"sma.fast": f, "sma.slow": sl}
	r.Bias, r.Strength = classifySMASpread(spread)
	return r
}

func emaReading(closes []float64, period int, price float64) models.IndicatorReading {
	r := models.IndicatorReading{Name: EMA, Category: models.CategoryTrend}
	es := emaSeries(closes, period)
	if len(es) == 0 || !finite(es[len(es)-1]) {
		return neutral(r, price, nil)
	}
	r.Value = es[len(es)-1]
	r.Bias, r.Strength = models.BiasNeutral, models.StrengthWeak
	return r
}

// volumeReading compares the current 24h volume with the mean of the previous period bars.
func volumeReading(volumes []float64, period int, current, change24h float64) models.IndicatorReading {
	r := models.IndicatorReading{Name: VolumeRatio, Category: models.CategoryVolume, Directional: true}
	n := len(volumes)
	if current <= 0 && n > 0 {
		current = volumes[n-1]
	}
	if current <= 0 || n < period+1 {
		return neutral(r, 1, nil)
	}
	avg, _ := sma(volumes[:n-1], period)
	if avg <= 0 || !finite(avg) {
		return neutral(r, 1, nil)
	}
	ratio := current / avg
	if !finite(ratio) {
		return neutral(r, 1, nil)
	}
	r.Value = ratio
	r.Components = map[string]float64{"volume.current": current, "volume.average": avg}
	r.Bias, r.Strength = classifyVolume(ratio, change24h)
	return r
}

// realizedVolReading reports annualized volatility in percent over the Bollinger window.
func realizedVolReading(bars []models.Candle, tf config.TimeframeConfig) models.IndicatorReading {
	r := models.IndicatorReading{Name: RealizedVolatility, Category: models.CategoryVolatility}
	returns := history.ComputeLogReturns(bars)
	window := tf.BollingerPeriod
	if window < 2 || len(returns) < window {
		return neutral(r, 0, nil)
	}
	v := history.RealizedVolatility(returns, window, history.BarsPerYear(tf.Bar)) * 100
	if !finite(v) {
		return neutral(r, 0, nil)
	}
	r.Value = v
	r.Bias, r.Strength = models.BiasNeutral, models.StrengthWeak
	return r
}

func neutral(r models.IndicatorReading, value float64, components map[string]float64) models.IndicatorReading {
	r.Value = value
	r.Components = components
	r.Bias = models.BiasNeutral
	r.Strength = models.StrengthWeak
	r.Fallback = true
	return r
}
