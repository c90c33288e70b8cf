package models

import "time"

type Bias string

const (
	BiasBuy     Bias = "BUY"
	BiasSell    Bias = "SELL"
	BiasNeutral Bias = "NEUTRAL"
)

type Strength string

const (
	StrengthWeak     Strength = "WEAK"
	StrengthModerate Strength = "MODERATE"
	StrengthStrong   Strength = "STRONG"
)

// Category groups indicators for the confluence vote.
type Category string

const (
	CategoryTrend      Category = "trend"
	CategoryMomentum   Category = "momentum"
	CategoryVolatility Category = "volatility"
	CategoryVolume     Category = "volume"
)

// Categories lists every category in a stable order.
var Categories = []Category{CategoryTrend, CategoryMomentum, CategoryVolatility, CategoryVolume}

// IndicatorReading is one indicator's numeric output and its qualitative reading.
type IndicatorReading struct {
	Name       string             `json:"name"`
	Category   Category           `json:"category"`
	Value      float64            `json:"value"`
	Components map[string]float64 `json:"components,omitempty"`
	Bias       Bias               `json:"signal"`
	Strength   Strength           `json:"strength"`
	// Directional readings take part in the vote; ATR and realized volatility do not.
	Directional bool `json:"directional"`
	// Fallback is set when the value is the neutral default because history was short or degenerate.
	Fallback bool `json:"fallback,omitempty"`
}

// IndicatorSet holds every reading computed for a symbol on one timeframe.
type IndicatorSet struct {
	Symbol        string                      `json:"symbol"`
	Timeframe     string                      `json:"timeframe"`
	Price         float64                     `json:"price"`
	Bars          int                         `json:"bars"`
	Readings      map[string]IndicatorReading `json:"readings"`
	LowConfidence bool                        `json:"low_confidence"`
	Stale         bool                        `json:"stale"`
	SnapshotAt    time.Time                   `json:"snapshot_at"`
	ComputedAt    time.Time                   `json:"computed_at"`
}

// FallbackCount returns the number of readings that used their neutral default.
func (s *IndicatorSet) FallbackCount() int {
	n := 0
	for _, r := range s.Readings {
		if r.Fallback {
			n++
		}
	}
	return n
}
