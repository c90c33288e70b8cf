package models

import "time"

type Direction string

const (
	DirectionLong    Direction = "LONG"
	DirectionShort   Direction = "SHORT"
	DirectionNeutral Direction = "NEUTRAL"
)

// SignalKey identifies a cache slot.
type SignalKey struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

func (k SignalKey) String() string {
	return k.Symbol + "@" + k.Timeframe
}

// Signal is the fused output for a (symbol, timeframe). Immutable once created.
type Signal struct {
	CycleID           uint64        `json:"cycle_id"`
	Symbol            string        `json:"symbol"`
	Timeframe         string        `json:"timeframe"`
	Direction         Direction     `json:"direction"`
	Confidence        int           `json:"confidence"`
	Entry             float64       `json:"entry"`
	StopLoss          float64       `json:"stop_loss"`
	TakeProfit        float64       `json:"take_profit"`
	RiskReward        float64       `json:"risk_reward"`
	Score             float64       `json:"score"`
	Agreement         float64       `json:"agreement"`
	AlignedCategories int           `json:"aligned_categories"`
	Stale             bool          `json:"stale"`
	Indicators        *IndicatorSet `json:"indicators,omitempty"`
	SnapshotAt        time.Time     `json:"snapshot_at"`
	GeneratedAt       time.Time     `json:"generated_at"`
}

func (s Signal) Key() SignalKey {
	return SignalKey{Symbol: s.Symbol, Timeframe: s.Timeframe}
}

// CarriedOver returns a copy of s restamped for cycle id and flagged stale.
func (s Signal) CarriedOver(cycleID uint64) Signal {
	s.CycleID = cycleID
	s.Stale = true
	return s
}

// SignalEvent is the message published for each signal after a cycle completes.
type SignalEvent struct {
	CycleID     uint64    `json:"cycle_id"`
	Symbol      string    `json:"symbol"`
	Timeframe   string    `json:"timeframe"`
	Direction   Direction `json:"direction"`
	Confidence  int       `json:"confidence"`
	Entry       float64   `json:"entry"`
	StopLoss    float64   `json:"stop_loss"`
	TakeProfit  float64   `json:"take_profit"`
	Stale       bool      `json:"stale"`
	GeneratedAt time.Time `json:"generated_at"`
}

func NewSignalEvent(s Signal) SignalEvent {
	return SignalEvent{
		CycleID:     s.CycleID,
		Symbol:      s.Symbol,
		Timeframe:   s.Timeframe,
		Direction:   s.Direction,
		Confidence:  s.Confidence,
		Entry:       s.Entry,
		StopLoss:    s.StopLoss,
		TakeProfit:  s.TakeProfit,
		Stale:       s.Stale,
		GeneratedAt: s.GeneratedAt,
	}
}
