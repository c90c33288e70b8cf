package api

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/echo/v4"

	"SignalPulse/internal/domain/models"
	"SignalPulse/internal/service/cache"
	"SignalPulse/internal/service/metrics"
	"SignalPulse/internal/usecase"
	xhttp "SignalPulse/pkg/http"
	xlogger "SignalPulse/pkg/logger"
	"SignalPulse/pkg/util"
)

// CycleController is the part of the scheduler the API drives.
type CycleController interface {
	TriggerImmediateCycle(ctx context.Context) (usecase.TriggerResult, error)
	State() usecase.SchedulerState
}

type LimiterStats interface {
	Stats() models.LimiterStats
}

// SignalHistory reads journaled signals; optional.
type SignalHistory interface {
	Recent(ctx context.Context, symbol, timeframe string, n int) ([]models.SignalEvent, error)
}

// SignalsEchoHandler serves the signal cache and cycle controls over Echo.
type SignalsEchoHandler struct {
	logger    *xlogger.Logger
	cache     *cache.SignalCache
	scheduler CycleController
	limiter   LimiterStats
	history   SignalHistory
}

func NewSignalsEchoHandler(logger *xlogger.Logger, signalCache *cache.SignalCache, scheduler CycleController, limiter LimiterStats, history SignalHistory) *SignalsEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	metrics.Register()
	return &SignalsEchoHandler{
		logger:    logger.Component("api"),
		cache:     signalCache,
		scheduler: scheduler,
		limiter:   limiter,
		history:   history,
	}
}

func (h *SignalsEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/signals", h.List)
	g.GET("/signals/:symbol", h.BySymbol)
	g.GET("/signal", h.One)
	g.GET("/history", h.History)
	g.POST("/cycles/trigger", h.Trigger)
	g.GET("/cycles/last", h.LastCycle)
	g.GET("/limiter", h.Limiter)
	g.GET("/freshness", h.Freshness)
}

type signalsPayload struct {
	CycleID     uint64          `json:"cycle_id"`
	CompletedAt time.Time       `json:"completed_at"`
	Signals     []models.Signal `json:"signals"`
}

// payload reads one snapshot so the cycle id always matches the signals it lists.
func (h *SignalsEchoHandler) payload(keep func(models.Signal) bool) signalsPayload {
	s := h.cache.Snapshot()
	p := signalsPayload{Signals: s.List(keep)}
	if s != nil {
		p.CycleID = s.CycleID
		p.CompletedAt = s.CompletedAt
	}
	return p
}

func (h *SignalsEchoHandler) List(c echo.Context) error {
	req := &models.ListSignalsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return xhttp.SuccessResponse(c, h.payload(func(s models.Signal) bool {
		if req.Timeframe != "" && s.Timeframe != req.Timeframe {
			return false
		}
		if req.Direction != "" && string(s.Direction) != req.Direction {
			return false
		}
		return s.Confidence >= req.MinConf
	}))
}

// BySymbol accepts path-safe symbols, so BTC-USDT reads BTC/USDT.
func (h *SignalsEchoHandler) BySymbol(c echo.Context) error {
	req := &models.SymbolSignalsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	symbol := util.NormalizeSymbol(req.Symbol)
	p := h.payload(func(s models.Signal) bool { return s.Symbol == symbol })
	if len(p.Signals) == 0 {
		metrics.NotYetComputed.WithLabelValues("signals_by_symbol").Inc()
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no signals computed for %s yet", symbol).WithError(cache.ErrNotYetComputed))
	}
	return xhttp.SuccessResponse(c, p)
}

func (h *SignalsEchoHandler) One(c echo.Context) error {
	req := &models.SignalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	symbol := util.NormalizeSymbol(req.Symbol)
	sig, err := h.cache.Get(symbol, req.Timeframe)
	if errors.Is(err, cache.ErrNotYetComputed) {
		metrics.NotYetComputed.WithLabelValues("signal").Inc()
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("signal %s@%s not yet computed", symbol, req.Timeframe).WithError(err))
	}
	if err != nil {
		h.logger.Error("signal lookup failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, sig)
}

func (h *SignalsEchoHandler) History(c echo.Context) error {
	if h.history == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("signal journal is disabled"))
	}
	req := &models.SignalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	limit := util.ClampInt(util.ParseIntDefault(c.QueryParam("limit"), 50), 1, 500)
	rows, err := h.history.Recent(c.Request().Context(), util.NormalizeSymbol(req.Symbol), req.Timeframe, limit)
	if err != nil {
		h.logger.Error("history query failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("history query failed").WithError(err))
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// Trigger runs a cycle now, or joins the running one, and returns its summary.
func (h *SignalsEchoHandler) Trigger(c echo.Context) error {
	res, err := h.scheduler.TriggerImmediateCycle(c.Request().Context())
	switch {
	case errors.Is(err, usecase.ErrLeaseHeld):
		metrics.TriggerRequests.WithLabelValues("http", "lease_held").Inc()
		return xhttp.AppErrorResponse(c, xhttp.ConflictError("another instance is running the cycle").WithError(err))
	case errors.Is(err, usecase.ErrSchedulerStopped):
		metrics.TriggerRequests.WithLabelValues("http", "stopped").Inc()
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("shutting down").WithError(err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		metrics.TriggerRequests.WithLabelValues("http", "abandoned").Inc()
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("cycle still running").WithError(err))
	case err != nil:
		metrics.TriggerRequests.WithLabelValues("http", "error").Inc()
		h.logger.Error("manual trigger failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("cycle failed").WithError(err))
	}
	outcome := "started"
	if res.Coalesced {
		outcome = "coalesced"
	}
	metrics.TriggerRequests.WithLabelValues("http", outcome).Inc()
	return xhttp.SuccessResponse(c, res)
}

func (h *SignalsEchoHandler) LastCycle(c echo.Context) error {
	sum, ok := h.cache.LastSummary()
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no cycle completed yet"))
	}
	return xhttp.SuccessResponse(c, sum)
}

func (h *SignalsEchoHandler) Limiter(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.limiter.Stats())
}

func (h *SignalsEchoHandler) Freshness(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.cache.Freshness())
}

type healthPayload struct {
	Status      string                 `json:"status"`
	Scheduler   usecase.SchedulerState `json:"scheduler"`
	LastCycleID uint64                 `json:"last_cycle_id"`
	LastCycleAt time.Time              `json:"last_cycle_at,omitempty"`
	Breaker     models.BreakerState    `json:"breaker"`
}

// Health stays 200 while degraded; staleness is reported, not failed.
func (h *SignalsEchoHandler) Health(c echo.Context) error {
	p := healthPayload{Status: "starting", Scheduler: h.scheduler.State(), Breaker: h.limiter.Stats().State}
	if s := h.cache.Snapshot(); s != nil {
		p.Status = "ok"
		p.LastCycleID = s.CycleID
		p.LastCycleAt = s.CompletedAt
		if s.Summary.Failed || p.Breaker != models.BreakerClosed {
			p.Status = "degraded"
		}
	}
	return xhttp.SuccessResponse(c, p)
}
