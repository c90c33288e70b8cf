package indicator

import (
	"math"

	"SignalPulse/internal/domain/models"
)

// Qualitative thresholds. Classification is a pure function of the numeric value.
const (
	RSIOversold         = 30.0
	RSIOverbought       = 70.0
	RSIStrongOversold   = 20.0
	RSIStrongOverbought = 80.0

	StochOversold         = 20.0
	StochOverbought       = 80.0
	StochStrongOversold   = 10.0
	StochStrongOverbought = 90.0

	PercentBLow  = 0.2
	PercentBHigh = 0.8

	// MACD histogram relative to price.
	MACDStrongRatio   = 0.005
	MACDModerateRatio = 0.001

	// SMA fast/slow spread in percent.
	SMAStrongSpread   = 2.0
	SMAModerateSpread = 0.5

	VolumeSurge    = 1.5
	VolumeModerate = 2.0
	VolumeStrong   = 3.0
)

func classifyRSI(v float64) (models.Bias, models.Strength) {
	switch {
	case v <= RSIStrongOversold:
		return models.BiasBuy, models.StrengthStrong
	case v < RSIOversold:
		return models.BiasBuy, models.StrengthModerate
	case v >= RSIStrongOverbought:
		return models.BiasSell, models.StrengthStrong
	case v > RSIOverbought:
		return models.BiasSell, models.StrengthModerate
	}
	return models.BiasNeutral, models.StrengthWeak
}

func classifyStochastic(k float64) (models.Bias, models.Strength) {
	switch {
	case k <= StochStrongOversold:
		return models.BiasBuy, models.StrengthStrong
	case k < StochOversold:
		return models.BiasBuy, models.StrengthModerate
	case k >= StochStrongOverbought:
		return models.BiasSell, models.StrengthStrong
	case k > StochOverbought:
		return models.BiasSell, models.StrengthModerate
	}
	return models.BiasNeutral, models.StrengthWeak
}

// classifyPercentB reads price position inside the bands: below the lower band is STRONG.
func classifyPercentB(b float64) (models.Bias, models.Strength) {
	switch {
	case b <= 0:
		return models.BiasBuy, models.StrengthStrong
	case b <= PercentBLow:
		return models.BiasBuy, models.StrengthModerate
	case b >= 1:
		return models.BiasSell, models.StrengthStrong
	case b >= PercentBHigh:
		return models.BiasSell, models.StrengthModerate
	}
	return models.BiasNeutral, models.StrengthWeak
}

func classifyMACD(hist, price float64) (models.Bias, models.Strength) {
	if hist == 0 || price <= 0 {
		return models.BiasNeutral, models.StrengthWeak
	}
	bias := models.BiasBuy
	if hist < 0 {
		bias = models.BiasSell
	}
	ratio := math.Abs(hist) / price
	switch {
	case ratio > MACDStrongRatio:
		return bias, models.StrengthStrong
	case ratio > MACDModerateRatio:
		return bias, models.StrengthModerate
	}
	return bias, models.StrengthWeak
}

func classifySMASpread(spreadPct float64) (models.Bias, models.Strength) {
	if spreadPct == 0 {
		return models.BiasNeutral, models.StrengthWeak
	}
	bias := models.BiasBuy
	if spreadPct < 0 {
		bias = models.BiasSell
	}
	abs := math.Abs(spreadPct)
	switch {
	case abs > SMAStrongSpread:
		return bias, models.StrengthStrong
	case abs > SMAModerateSpread:
		return bias, models.StrengthModerate
	}
	return bias, models.StrengthWeak
}

// classifyVolume confirms the 24h move when volume surges; quiet volume has no opinion.
func classifyVolume(ratio, change24h float64) (models.Bias, models.Strength) {
	if ratio < VolumeSurge || change24h == 0 {
		return models.BiasNeutral, models.StrengthWeak
	}
	bias := models.BiasBuy
	if change24h < 0 {
		bias = models.BiasSell
	}
	switch {
	case ratio >= VolumeStrong:
		return bias, models.StrengthStrong
	case ratio >= VolumeModerate:
		return bias, models.StrengthModerate
	}
	return bias, models.StrengthWeak
}
