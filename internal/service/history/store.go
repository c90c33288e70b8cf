package history

import (
	"sync"
	"time"

	"SignalPulse/internal/domain/models"
	"SignalPulse/pkg/config"
)

type frame struct {
	name     string
	bar      time.Duration
	lookback int
}

type series struct {
	seeded bool
	bars   map[string][]models.Candle
}

// Store keeps a bounded OHLCV window per symbol and timeframe. It is owned by the price
// fetcher; readers get copies.
//
// The provider only reports a rolling 24h volume, so a bar's Volume is the last 24h volume
// observed inside it. Volume ratios compare those readings with each other.
type Store struct {
	mu     sync.RWMutex
	frames []frame
	data   map[string]*series
}

func NewStore(timeframes []config.TimeframeConfig) *Store {
	frames := make([]frame, 0, len(timeframes))
	for _, tf := range timeframes {
		frames = append(frames, frame{name: tf.Name, bar: tf.Bar, lookback: tf.Lookback})
	}
	return &Store{frames: frames, data: make(map[string]*series)}
}

func (s *Store) get(symbol string) *series {
	sr, ok := s.data[symbol]
	if !ok {
		sr = &series{bars: make(map[string][]models.Candle, len(s.frames))}
		s.data[symbol] = sr
	}
	return sr
}

// Seeded reports whether history for symbol has been loaded once.
func (s *Store) Seeded(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sr, ok := s.data[symbol]
	return ok && sr.seeded
}

// Seed aggregates provider history into bars for every timeframe. Bars already built from
// live snapshots win over seeded bars of the same or later bucket.
func (s *Store) Seed(symbol string, points []models.PricePoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sr := s.get(symbol)
	sr.seeded = true
	for _, f := range s.frames {
		seeded := aggregate(symbol, points, f.bar)
		live := sr.bars[f.name]
		if len(live) > 0 {
			first := live[0].Bucket
			cut := len(seeded)
			for cut > 0 && !seeded[cut-1].Bucket.Before(first) {
				cut--
			}
			seeded = append(seeded[:cut], live...)
		}
		sr.bars[f.name] = trim(seeded, f.lookback)
	}
}

// Append folds a fresh snapshot into the current bar of every timeframe. Stale snapshots and
// snapshots older than the newest bar are ignored.
func (s *Store) Append(snap models.PriceSnapshot) {
	if snap.Stale || snap.Price <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sr := s.get(snap.Symbol)
	for _, f := range s.frames {
		bars := sr.bars[f.name]
		bucket := snap.FetchedAt.UTC().Truncate(f.bar)
		n := len(bars)
		switch {
		case n > 0 && bars[n-1].Bucket.Equal(bucket):
			last := &bars[n-1]
			last.High = max(last.High, snap.Price)
			last.Low = min(last.Low, snap.Price)
			last.Close = snap.Price
			last.Volume = snap.Volume24h
		case n == 0 || bars[n-1].Bucket.Before(bucket):
			bars = append(bars, models.Candle{
				Bucket: bucket,
				Symbol: snap.Symbol,
				Open:   snap.Price,
				High:   snap.Price,
				Low:    snap.Price,
				Close:  snap.Price,
				Volume: snap.Volume24h,
			})
		}
		sr.bars[f.name] = trim(bars, f.lookback)
	}
}

// Bars returns a copy of the window for symbol on timeframe, oldest first.
func (s *Store) Bars(symbol, timeframe string) []models.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sr, ok := s.data[symbol]
	if !ok {
		return nil
	}
	bars := sr.bars[timeframe]
	out := make([]models.Candle, len(bars))
	copy(out, bars)
	return out
}

func aggregate(symbol string, points []models.PricePoint, bar time.Duration) []models.Candle {
	out := make([]models.Candle, 0, 64)
	for _, p := range points {
		if p.Price <= 0 {
			continue
		}
		bucket := p.Time.UTC().Truncate(bar)
		n := len(out)
		if n > 0 && out[n-1].Bucket.Equal(bucket) {
			last := &out[n-1]
			last.High = max(last.High, p.Price)
			last.Low = min(last.Low, p.Price)
			last.Close = p.Price
			if p.Volume > 0 {
				last.Volume = p.Volume
			}
			continue
		}
		if n > 0 && bucket.Before(out[n-1].Bucket) {
			continue
		}
		out = append(out, models.Candle{
			Bucket: bucket,
			Symbol: symbol,
			Open:   p.Price,
			High:   p.Price,
			Low:    p.Price,
			Close:  p.Price,
			Volume: p.Volume,
		})
	}
	return out
}

func trim(bars []models.Candle, lookback int) []models.Candle {
	if lookback > 0 && len(bars) > lookback {
		return append(bars[:0:0], bars[len(bars)-lookback:]...)
	}
	return bars
}
