// Package ws pushes every completed cycle to websocket subscribers.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"SignalPulse/internal/domain/models"
	"SignalPulse/internal/service/metrics"
	xlogger "SignalPulse/pkg/logger"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// Hub fans cycle results out to connected clients. A client that cannot keep up misses
// updates rather than slowing the cycle.
type Hub struct {
	log *xlogger.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
	last    []byte
}

func NewHub(l *xlogger.Logger) *Hub {
	if l == nil {
		l = xlogger.Nop()
	}
	metrics.Register()
	return &Hub{log: l.Component("ws-hub"), clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *Hub) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/signals", h.Serve)
}

func (h *Hub) Name() string { return "websocket" }

// Publish implements repository.SignalSink.
func (h *Hub) Publish(_ context.Context, result *models.CycleResult) error {
	msg, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("ws: marshal cycle result: %w", err)
	}
	h.mu.Lock()
	h.last = msg
	h.mu.Unlock()
	h.broadcast(msg)
	return nil
}

func (h *Hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn, ch := range h.clients {
		select {
		case ch <- msg:
		default:
			h.log.Debug("slow subscriber, update dropped", xlogger.String("remote", conn.RemoteAddr().String()))
		}
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, sendBuffer)
	h.mu.Lock()
	h.clients[conn] = ch
	if h.last != nil {
		ch <- h.last
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WSClients.Set(float64(n))
	return ch
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WSClients.Set(float64(n))
}

// Serve upgrades the request and streams cycle results until the client goes away.
func (h *Hub) Serve(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", xlogger.Error(err))
		return nil
	}
	ch := h.register(conn)
	h.log.Debug("subscriber connected", xlogger.String("remote", c.RealIP()))

	go h.readPump(conn)
	h.writePump(conn, ch)
	return nil
}

// readPump discards client frames and unregisters on close or missed pongs.
func (h *Hub) readPump(conn *websocket.Conn) {
	defer h.unregister(conn)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, ch chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case msg, ok := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.unregister(conn)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(conn)
				return
			}
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		close(ch)
		delete(h.clients, conn)
	}
	metrics.WSClients.Set(0)
}
