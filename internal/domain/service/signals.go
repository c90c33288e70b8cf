package service

import (
	"SignalPulse/internal/domain/models"
	"SignalPulse/pkg/config"
)

// IndicatorEngine computes the indicator battery for one symbol on one timeframe.
// Implementations must be pure and safe for concurrent use.
type IndicatorEngine interface {
	Compute(tf config.TimeframeConfig, snapshot models.PriceSnapshot, bars []models.Candle) models.IndicatorSet
}

// SignalGenerator fuses an indicator set into a directional signal.
type SignalGenerator interface {
	Generate(set models.IndicatorSet, tf config.TimeframeConfig, cycleID uint64) models.Signal
}
