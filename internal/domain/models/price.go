package models

import "time"

// PriceSnapshot is the provider's view of one symbol at FetchedAt.
// Snapshots are never mutated; a stale snapshot is a copy of the last fresh one.
type PriceSnapshot struct {
	Symbol     string    `json:"symbol"`
	ProviderID string    `json:"provider_id"`
	Price      float64   `json:"price"`
	Change1h   float64   `json:"change_1h"`
	Change24h  float64   `json:"change_24h"`
	Change7d   float64   `json:"change_7d"`
	Volume24h  float64   `json:"volume_24h"`
	MarketCap  float64   `json:"market_cap"`
	FetchedAt  time.Time `json:"fetched_at"`
	Stale      bool      `json:"stale"`
}

// AsStale returns a copy flagged stale. FetchedAt is kept so consumers can see the age.
func (p PriceSnapshot) AsStale() PriceSnapshot {
	p.Stale = true
	return p
}

// PricePoint is a single observation used to build bars.
type PricePoint struct {
	Time   time.Time
	Price  float64
	Volume float64
}

// Candle represents an OHLCV bar of one timeframe.
type Candle struct {
	Bucket time.Time `json:"bucket"`
	Symbol string    `json:"symbol"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}
