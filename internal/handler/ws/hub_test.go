package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"SignalPulse/internal/domain/models"
)

func TestHubPushesCycleResults(t *testing.T) {
	hub := NewHub(nil)
	e := echo.New()
	hub.RegisterRoutes(e)
	srv := httptest.NewServer(e)
	defer srv.Close()

	// A result published before anyone connects is replayed on connect.
	_ = hub.Publish(context.Background(), &models.CycleResult{Summary: models.CycleSummary{ID: 1}})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/signals"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() models.CycleResult {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var r models.CycleResult
		if err := json.Unmarshal(msg, &r); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return r
	}

	if r := read(); r.Summary.ID != 1 {
		t.Fatalf("replayed cycle = %d, want 1", r.Summary.ID)
	}

	err = hub.Publish(context.Background(), &models.CycleResult{
		Summary: models.CycleSummary{ID: 2},
		Signals: []models.Signal{{Symbol: "BTC/USDT", Timeframe: "1h", Direction: models.DirectionLong}},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	r := read()
	if r.Summary.ID != 2 || len(r.Signals) != 1 || r.Signals[0].Direction != models.DirectionLong {
		t.Fatalf("pushed result = %+v", r)
	}
	if hub.Clients() != 1 {
		t.Fatalf("clients = %d, want 1", hub.Clients())
	}
}
