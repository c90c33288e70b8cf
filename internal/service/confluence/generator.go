// Package confluence fuses an indicator set into a directional signal with risk levels.
package confluence

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"SignalPulse/internal/domain/models"
	"SignalPulse/internal/domain/service"
	"SignalPulse/pkg/config"
)

var strengthWeight = map[models.Strength]float64{
	models.StrengthWeak:     0.5,
	models.StrengthModerate: 0.75,
	models.StrengthStrong:   1,
}

type Generator struct {
	cfg config.ConfluenceConfig
	now func() time.Time
}

type Option func(*Generator)

func WithClock(now func() time.Time) Option { return func(g *Generator) { g.now = now } }

func New(cfg config.ConfluenceConfig, opts ...Option) service.SignalGenerator {
	g := &Generator{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Generator) weight(c models.Category) float64 {
	w := g.cfg.Weights
	switch c {
	case models.CategoryTrend:
		return w.Trend
	case models.CategoryMomentum:
		return w.Momentum
	case models.CategoryVolatility:
		return w.Volatility
	case models.CategoryVolume:
		return w.Volume
	}
	return 0
}

// tally is the vote of one indicator set.
type tally struct {
	score     float64
	voting    int
	buys      int
	sells     int
	neutrals  int
	catScores map[models.Category]float64
}

func vote(r models.IndicatorReading) float64 {
	switch r.Bias {
	case models.BiasBuy:
		return strengthWeight[r.Strength]
	case models.BiasSell:
		return -strengthWeight[r.Strength]
	}
	return 0
}

func (g *Generator) tally(set models.IndicatorSet) tally {
	sums := make(map[models.Category]float64, len(models.Categories))
	counts := make(map[models.Category]int, len(models.Categories))
	t := tally{catScores: make(map[models.Category]float64, len(models.Categories))}
	for _, r := range set.Readings {
		if !r.Directional || r.Fallback {
			continue
		}
		t.voting++
		switch r.Bias {
		case models.BiasBuy:
			t.buys++
		case models.BiasSell:
			t.sells++
		default:
			t.neutrals++
		}
		sums[r.Category] += vote(r)
		counts[r.Category]++
	}
	// Categories are walked in a fixed order so the float sum is reproducible.
	var weighted, total float64
	for _, c := range models.Categories {
		n := counts[c]
		if n == 0 {
			continue
		}
		cs := sums[c] / float64(n)
		t.catScores[c] = cs
		w := g.weight(c)
		weighted += w * cs
		total += w
	}
	if total > 0 {
		t.score = weighted / total
	}
	return t
}

func (g *Generator) Generate(set models.IndicatorSet, tf config.TimeframeConfig, cycleID uint64) models.Signal {
	t := g.tally(set)

	var agreement float64
	if t.voting > 0 {
		agree := t.neutrals
		switch {
		case t.score > 0:
			agree = t.buys
		case t.score < 0:
			agree = t.sells
		}
		agreement = float64(agree) / float64(t.voting)
	}

	direction := models.DirectionNeutral
	if t.voting > 0 && agreement >= g.cfg.MinAgreement && math.Abs(t.score) > g.cfg.DirectionThreshold {
		direction = models.DirectionLong
		if t.score < 0 {
			direction = models.DirectionShort
		}
	}

	aligned := 0
	for _, cs := range t.catScores {
		if (direction == models.DirectionLong && cs > 0) || (direction == models.DirectionShort && cs < 0) {
			aligned++
		}
	}

	stalePenalty := 0.0
	if set.Stale {
		stalePenalty = g.cfg.StalePenalty
	}

	var confidence float64
	if direction == models.DirectionNeutral {
		confidence = clamp(g.cfg.NeutralConfidence-stalePenalty, g.cfg.NeutralFloor, g.cfg.NeutralCeiling)
	} else {
		confidence = agreement*g.cfg.AgreementScale +
			g.cfg.ConfluenceBonus*float64(max(aligned-1, 0)) -
			stalePenalty -
			g.cfg.FallbackPenalty*float64(set.FallbackCount())
		confidence = clamp(confidence, 0, 100)
	}

	entry, stop, take := Levels(direction, set.Price, tf.StopLossPct, tf.RiskReward)

	generated := g.now().UTC()
	if set.SnapshotAt.After(generated) {
		generated = set.SnapshotAt
	}

	indicators := set
	return models.Signal{
		CycleID:           cycleID,
		Symbol:            set.Symbol,
		Timeframe:         set.Timeframe,
		Direction:         direction,
		Confidence:        int(math.Round(confidence)),
		Entry:             entry,
		StopLoss:          stop,
		TakeProfit:        take,
		RiskReward:        tf.RiskReward,
		Score:             t.score,
		Agreement:         agreement,
		AlignedCategories: aligned,
		Stale:             set.Stale,
		Indicators:        &indicators,
		SnapshotAt:        set.SnapshotAt,
		GeneratedAt:       generated,
	}
}

// Levels derives entry, stop-loss and take-profit from a stop distance in percent and a
// risk:reward multiple. NEUTRAL has no risk levels so both equal the entry.
func Levels(direction models.Direction, price, stopPct, riskReward float64) (entry, stop, take float64) {
	e := decimal.NewFromFloat(price)
	places := precision(price)
	entry = e.Round(places).InexactFloat64()

	pct := decimal.NewFromFloat(stopPct).Div(decimal.NewFromInt(100))
	reward := pct.Mul(decimal.NewFromFloat(riskReward))

	switch direction {
	case models.DirectionLong:
		stop = e.Mul(decimal.NewFromInt(1).Sub(pct)).Round(places).InexactFloat64()
		take = e.Mul(decimal.NewFromInt(1).Add(reward)).Round(places).InexactFloat64()
	case models.DirectionShort:
		stop = e.Mul(decimal.NewFromInt(1).Add(pct)).Round(places).InexactFloat64()
		take = e.Mul(decimal.NewFromInt(1).Sub(reward)).Round(places).InexactFloat64()
	default:
		stop, take = entry, entry
	}
	return entry, stop, take
}

// precision picks decimal places by magnitude: 2 for >= 1000, 4 for >= 1, 8 below.
func precision(price float64) int32 {
	p := math.Abs(price)
	switch {
	case p >= 1000:
		return 2
	case p >= 1:
		return 4
	}
	return 8
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
