package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"SignalPulse/internal/domain/models"
	pkgkafka "SignalPulse/pkg/kafka"
	"SignalPulse/pkg/logger"
)

// CycleTrigger starts or joins a calculation cycle.
type CycleTrigger interface {
	TriggerWith(ctx context.Context, trigger models.Trigger) (TriggerResult, error)
}

// RecomputeHandler consumes recompute requests and runs an immediate cycle for each.
type RecomputeHandler struct {
	topic   string
	trigger CycleTrigger
	log     *logger.Logger
}

func NewRecomputeHandler(topic string, trigger CycleTrigger, l *logger.Logger) *RecomputeHandler {
	if l == nil {
		l = logger.Nop()
	}
	return &RecomputeHandler{topic: topic, trigger: trigger, log: l.Component("recompute")}
}

func (h *RecomputeHandler) Topic() string { return h.topic }

// Handle accepts an empty body or a RecomputeRequest. A lease held by another replica is
// not an error: that replica is computing already.
func (h *RecomputeHandler) Handle(ctx context.Context, b []byte) error {
	var req models.RecomputeRequest
	if len(b) > 0 {
		if err := json.Unmarshal(b, &req); err != nil {
			return fmt.Errorf("decode recompute request: %w", err)
		}
	}
	res, err := h.trigger.TriggerWith(ctx, models.TriggerRemote)
	if errors.Is(err, ErrLeaseHeld) {
		h.log.Debug("recompute skipped, lease held elsewhere", logger.String("trace_id", pkgkafka.TraceID(ctx)))
		return nil
	}
	if errors.Is(err, ErrSchedulerStopped) {
		h.log.Debug("recompute skipped, shutting down", logger.String("trace_id", pkgkafka.TraceID(ctx)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("recompute: %w", err)
	}
	h.log.Info("recompute finished",
		logger.String("trace_id", pkgkafka.TraceID(ctx)),
		logger.String("requested_by", req.RequestedBy),
		logger.String("reason", req.Reason),
		logger.Uint64("cycle_id", res.Summary.ID),
		logger.Bool("coalesced", res.Coalesced),
	)
	return nil
}

var _ pkgkafka.MessageHandler = (*RecomputeHandler)(nil)
