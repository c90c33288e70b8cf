package confluence

import (
	"reflect"
	"testing"
	"time"

	"github.com/creasty/defaults"

	"SignalPulse/internal/domain/models"
	"SignalPulse/pkg/config"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newGenerator(t *testing.T) *Generator {
	t.Helper()
	var cfg config.ConfluenceConfig
	if err := defaults.Set(&cfg); err != nil {
		t.Fatalf("defaults: %v", err)
	}
	return New(cfg, WithClock(func() time.Time { return now })).(*Generator)
}

func hourly() config.TimeframeConfig {
	return config.TimeframeConfig{Name: "1h", Bar: time.Hour, StopLossPct: 1.5, RiskReward: 1.5}
}

func reading(name string, c models.Category, b models.Bias, s models.Strength) models.IndicatorReading {
	return models.IndicatorReading{Name: name, Category: c, Bias: b, Strength: s, Directional: true}
}

func buildSet(price float64, readings ...models.IndicatorReading) models.IndicatorSet {
	set := models.IndicatorSet{
		Symbol:     "BTC/USDT",
		Timeframe:  "1h",
		Price:      price,
		Readings:   make(map[string]models.IndicatorReading),
		SnapshotAt: now.Add(-time.Minute),
	}
	for _, r := range readings {
		set.Readings[r.Name] = r
		if r.Fallback {
			set.LowConfidence = true
		}
	}
	return set
}

// leaning is four BUY votes out of six plus one non-directional fallback.
func leaning(price float64, bias models.Bias) models.IndicatorSet {
	return buildSet(price,
		reading("macd", models.CategoryTrend, bias, models.StrengthStrong),
		reading("sma_cross", models.CategoryTrend, bias, models.StrengthStrong),
		reading("rsi", models.CategoryMomentum, bias, models.StrengthModerate),
		reading("stochastic", models.CategoryMomentum, bias, models.StrengthWeak),
		reading("bollinger", models.CategoryVolatility, models.BiasNeutral, models.StrengthWeak),
		reading("volume_ratio", models.CategoryVolume, models.BiasNeutral, models.StrengthWeak),
		models.IndicatorReading{Name: "realized_volatility", Category: models.CategoryVolatility,
			Bias: models.BiasNeutral, Strength: models.StrengthWeak, Fallback: true},
	)
}

func TestGenerateLong(t *testing.T) {
	g := newGenerator(t)
	sig := g.Generate(leaning(50000, models.BiasBuy), hourly(), 7)

	if sig.Direction != models.DirectionLong {
		t.Fatalf("direction = %s, want LONG", sig.Direction)
	}
	// 4/6 agreement * 80 + 8 * (2 aligned - 1) - 3 * 1 fallback = 58.33
	if sig.Confidence != 58 {
		t.Fatalf("confidence = %d, want 58", sig.Confidence)
	}
	if sig.AlignedCategories != 2 {
		t.Fatalf("aligned = %d, want 2", sig.AlignedCategories)
	}
	if sig.Entry != 50000 || sig.StopLoss != 49250 || sig.TakeProfit != 51125 {
		t.Fatalf("levels = %v/%v/%v", sig.Entry, sig.StopLoss, sig.TakeProfit)
	}
	if sig.CycleID != 7 || sig.Indicators == nil || sig.RiskReward != 1.5 {
		t.Fatalf("unexpected signal: %+v", sig)
	}
	if !sig.GeneratedAt.Equal(now) {
		t.Fatalf("generated at = %v, want %v", sig.GeneratedAt, now)
	}
}

func TestGenerateShortSmallPrice(t *testing.T) {
	g := newGenerator(t)
	sig := g.Generate(leaning(0.5, models.BiasSell), hourly(), 1)

	if sig.Direction != models.DirectionShort {
		t.Fatalf("direction = %s, want SHORT", sig.Direction)
	}
	if sig.StopLoss != 0.5075 || sig.TakeProfit != 0.48875 {
		t.Fatalf("levels = %v/%v", sig.StopLoss, sig.TakeProfit)
	}
}

func TestGenerateStalePenalty(t *testing.T) {
	g := newGenerator(t)
	set := leaning(50000, models.BiasBuy)
	set.Stale = true

	sig := g.Generate(set, hourly(), 1)
	if sig.Confidence != 43 || !sig.Stale {
		t.Fatalf("confidence = %d stale = %v, want 43 true", sig.Confidence, sig.Stale)
	}
}

func TestLowAgreementForcesNeutral(t *testing.T) {
	g := newGenerator(t)
	set := buildSet(100,
		reading("macd", models.CategoryTrend, models.BiasBuy, models.StrengthStrong),
		reading("sma_cross", models.CategoryTrend, models.BiasBuy, models.StrengthStrong),
		reading("rsi", models.CategoryMomentum, models.BiasBuy, models.StrengthModerate),
		reading("stochastic", models.CategoryMomentum, models.BiasNeutral, models.StrengthWeak),
		reading("bollinger", models.CategoryVolatility, models.BiasNeutral, models.StrengthWeak),
		reading("volume_ratio", models.CategoryVolume, models.BiasNeutral, models.StrengthWeak),
	)

	sig := g.Generate(set, hourly(), 1)
	if sig.Direction != models.DirectionNeutral {
		t.Fatalf("direction = %s, want NEUTRAL", sig.Direction)
	}
	if sig.Agreement != 0.5 || sig.Confidence != 50 {
		t.Fatalf("agreement = %v confidence = %d", sig.Agreement, sig.Confidence)
	}
	if sig.StopLoss != sig.Entry || sig.TakeProfit != sig.Entry {
		t.Fatalf("neutral levels should equal entry: %+v", sig)
	}

	set.Stale = true
	if sig := g.Generate(set, hourly(), 1); sig.Confidence != 40 {
		t.Fatalf("stale neutral confidence = %d, want floor 40", sig.Confidence)
	}
}

func TestNoVotesIsNeutral(t *testing.T) {
	g := newGenerator(t)
	fb := reading("rsi", models.CategoryMomentum, models.BiasNeutral, models.StrengthWeak)
	fb.Fallback = true
	sig := g.Generate(buildSet(20, fb), hourly(), 1)

	if sig.Direction != models.DirectionNeutral || sig.Confidence != 50 || sig.Agreement != 0 {
		t.Fatalf("unexpected signal: %+v", sig)
	}
}

func TestGeneratedAtNotBeforeSnapshot(t *testing.T) {
	g := newGenerator(t)
	set := leaning(100, models.BiasBuy)
	set.SnapshotAt = now.Add(time.Minute)

	if sig := g.Generate(set, hourly(), 1); !sig.GeneratedAt.Equal(set.SnapshotAt) {
		t.Fatalf("generated at = %v, want %v", sig.GeneratedAt, set.SnapshotAt)
	}
}

func TestGenerateDeterministic(t *testing.T) {
	g := newGenerator(t)
	set := leaning(2345.678, models.BiasSell)
	first := g.Generate(set, hourly(), 3)
	for i := 0; i < 50; i++ {
		if got := g.Generate(set, hourly(), 3); !reflect.DeepEqual(first, got) {
			t.Fatalf("run %d differs", i)
		}
	}
}

func TestLevelsRounding(t *testing.T) {
	tests := []struct {
		name                string
		dir                 models.Direction
		price, sl, rr       float64
		entry, stop, target float64
	}{
		{"large long", models.DirectionLong, 1234.5678, 2, 2, 1234.57, 1209.88, 1283.95},
		{"mid short", models.DirectionShort, 12.345678, 1, 3, 12.3457, 12.4691, 11.9753},
		{"small neutral", models.DirectionNeutral, 0.000123456789, 5, 2, 0.00012346, 0.00012346, 0.00012346},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, s, tp := Levels(tt.dir, tt.price, tt.sl, tt.rr)
			if e != tt.entry || s != tt.stop || tp != tt.target {
				t.Fatalf("got %v/%v/%v, want %v/%v/%v", e, s, tp, tt.entry, tt.stop, tt.target)
			}
		})
	}
}
