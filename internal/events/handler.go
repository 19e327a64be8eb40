// ABOUTME: Handler turning NATS update requests into scheduler triggers
// ABOUTME: Kept free of NATS types so it can be tested directly

package events

import (
	"context"
	"log/slog"
	"time"
)

// Triggerer queues an update cycle.
type Triggerer interface {
	Trigger(only ...string) bool
}

// Handler processes update requests.
type Handler struct {
	trigger Triggerer
	logger  *slog.Logger
	now     func() time.Time
}

// NewHandler creates a handler that forwards requests to trigger.
func NewHandler(trigger Triggerer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{trigger: trigger, logger: logger, now: time.Now}
}

// ProcessRequest queues the requested cycle and reports whether it was accepted.
func (h *Handler) ProcessRequest(ctx context.Context, req UpdateRequest) UpdateResponse {
	resp := UpdateResponse{
		RequestID:  req.RequestID,
		ReceivedAt: h.now().UTC(),
	}

	resp.Accepted = h.trigger.Trigger(req.Databases...)

	h.logger.InfoContext(ctx, "update requested over nats",
		slog.String("request_id", req.RequestID),
		slog.Any("databases", req.Databases),
		slog.Bool("accepted", resp.Accepted),
	)
	return resp
}
