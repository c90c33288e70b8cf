package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"SignalPulse/internal/domain/models"
	"SignalPulse/internal/service/cache"
	"SignalPulse/internal/usecase"
)

type fakeScheduler struct {
	res usecase.TriggerResult
	err error
}

func (f *fakeScheduler) TriggerImmediateCycle(context.Context) (usecase.TriggerResult, error) {
	return f.res, f.err
}

func (f *fakeScheduler) State() usecase.SchedulerState { return usecase.StateIdle }

type fakeLimiter struct{ stats models.LimiterStats }

func (f fakeLimiter) Stats() models.LimiterStats { return f.stats }

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func seededCache() *cache.SignalCache {
	c := cache.New()
	snap := &cache.Snapshot{
		CycleID:     3,
		CompletedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Summary:     models.CycleSummary{ID: 3},
		Signals:     map[models.SignalKey]models.Signal{},
		Freshness: map[string]models.Freshness{
			"BTC/USDT": {Symbol: "BTC/USDT", Available: true},
		},
	}
	for _, s := range []models.Signal{
		{CycleID: 3, Symbol: "BTC/USDT", Timeframe: "1h", Direction: models.DirectionLong, Confidence: 72},
		{CycleID: 3, Symbol: "BTC/USDT", Timeframe: "4h", Direction: models.DirectionNeutral, Confidence: 50},
		{CycleID: 3, Symbol: "ETH/USDT", Timeframe: "1h", Direction: models.DirectionShort, Confidence: 64},
	} {
		snap.Signals[s.Key()] = s
	}
	c.ReplaceAll(snap)
	return c
}

func newTestServer(c *cache.SignalCache, sched *fakeScheduler) *echo.Echo {
	e := echo.New()
	NewSignalsEchoHandler(nil, c, sched, fakeLimiter{}, nil).RegisterRoutes(e)
	return e
}

func do(t *testing.T, e *echo.Echo, method, target string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, target, rec.Body.String(), err)
	}
	return rec.Code, env
}

func TestListSignalsFilters(t *testing.T) {
	e := newTestServer(seededCache(), &fakeScheduler{})

	code, env := do(t, e, http.MethodGet, "/api/signals?timeframe=1h&min_confidence=65")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var p signalsPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.CycleID != 3 || len(p.Signals) != 1 || p.Signals[0].Symbol != "BTC/USDT" {
		t.Fatalf("payload = %+v", p)
	}

	if code, _ := do(t, e, http.MethodGet, "/api/signals?direction=UP"); code != http.StatusBadRequest {
		t.Fatalf("invalid direction status = %d, want 400", code)
	}
}

func TestSignalsBySymbolNormalizes(t *testing.T) {
	e := newTestServer(seededCache(), &fakeScheduler{})

	code, env := do(t, e, http.MethodGet, "/api/signals/btc-usdt")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var p signalsPayload
	_ = json.Unmarshal(env.Data, &p)
	if len(p.Signals) != 2 || p.Signals[0].Timeframe != "1h" || p.Signals[1].Timeframe != "4h" {
		t.Fatalf("signals = %+v", p.Signals)
	}

	if code, _ := do(t, e, http.MethodGet, "/api/signals/DOGE-USDT"); code != http.StatusNotFound {
		t.Fatalf("unknown symbol status = %d, want 404", code)
	}
}

func TestSingleSignal(t *testing.T) {
	e := newTestServer(seededCache(), &fakeScheduler{})

	code, env := do(t, e, http.MethodGet, "/api/signal?symbol=ETH-USDT")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var sig models.Signal
	_ = json.Unmarshal(env.Data, &sig)
	if sig.Symbol != "ETH/USDT" || sig.Timeframe != "1h" || sig.Direction != models.DirectionShort {
		t.Fatalf("signal = %+v", sig)
	}

	if code, _ := do(t, e, http.MethodGet, "/api/signal?symbol=ETH-USDT&timeframe=4h"); code != http.StatusNotFound {
		t.Fatalf("missing key status = %d, want 404", code)
	}
	if code, _ := do(t, e, http.MethodGet, "/api/signal"); code != http.StatusBadRequest {
		t.Fatalf("missing symbol status = %d, want 400", code)
	}
}

func TestTriggerEndpoint(t *testing.T) {
	sched := &fakeScheduler{res: usecase.TriggerResult{Summary: models.CycleSummary{ID: 9}, Coalesced: true}}
	e := newTestServer(seededCache(), sched)

	code, env := do(t, e, http.MethodPost, "/api/cycles/trigger")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var res usecase.TriggerResult
	_ = json.Unmarshal(env.Data, &res)
	if res.Summary.ID != 9 || !res.Coalesced {
		t.Fatalf("result = %+v", res)
	}

	sched.err = usecase.ErrLeaseHeld
	if code, _ := do(t, e, http.MethodPost, "/api/cycles/trigger"); code != http.StatusConflict {
		t.Fatalf("lease held status = %d, want 409", code)
	}
}

func TestEmptyCacheEndpoints(t *testing.T) {
	e := newTestServer(cache.New(), &fakeScheduler{})

	if code, _ := do(t, e, http.MethodGet, "/api/cycles/last"); code != http.StatusNotFound {
		t.Fatalf("last cycle status = %d, want 404", code)
	}
	code, env := do(t, e, http.MethodGet, "/healthz")
	if code != http.StatusOK {
		t.Fatalf("health status = %d", code)
	}
	var h healthPayload
	_ = json.Unmarshal(env.Data, &h)
	if h.Status != "starting" || h.Scheduler != usecase.StateIdle {
		t.Fatalf("health = %+v", h)
	}
	if code, _ := do(t, e, http.MethodGet, "/api/history?symbol=BTC-USDT"); code != http.StatusServiceUnavailable {
		t.Fatalf("history without journal status = %d, want 503", code)
	}
}

func TestPayloadCycleMatchesSignals(t *testing.T) {
	c := cache.New()
	h := NewSignalsEchoHandler(nil, c, &fakeScheduler{}, fakeLimiter{}, nil)

	swap := func(id uint64) {
		snap := &cache.Snapshot{CycleID: id, Signals: map[models.SignalKey]models.Signal{}}
		for _, sym := range []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"} {
			s := models.Signal{CycleID: id, Symbol: sym, Timeframe: "1h", Direction: models.DirectionNeutral}
			snap.Signals[s.Key()] = s
		}
		c.ReplaceAll(snap)
	}
	swap(1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for id := uint64(2); id < 5000; id++ {
			swap(id)
		}
	}()

	for {
		p := h.payload(nil)
		for _, s := range p.Signals {
			if s.CycleID != p.CycleID {
				t.Fatalf("payload cycle_id=%d lists a signal from cycle %d", p.CycleID, s.CycleID)
			}
		}
		select {
		case <-done:
			return
		default:
		}
	}
}
