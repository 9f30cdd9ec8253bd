package audit

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "tradegate_audit_events_dropped_total",
	Help: "Audit events dropped because the publish buffer was full",
})

// Publisher emits audit events for security-relevant operations.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// ChannelPublisher buffers events on a channel drained by a worker.
// Emit never blocks the request path: when the buffer is full the event is
// dropped and counted, which is preferable to stalling a gate decision.
type ChannelPublisher struct {
	inbox  chan Event
	logger *slog.Logger
}

// NewChannelPublisher creates a buffered publisher. A buffer of a few
// thousand events absorbs bursts without measurable memory cost.
func NewChannelPublisher(buffer int, logger *slog.Logger) *ChannelPublisher {
	if buffer <= 0 {
		buffer = 4096
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelPublisher{
		inbox:  make(chan Event, buffer),
		logger: logger,
	}
}

// Emit enqueues the event without blocking.
func (p *ChannelPublisher) Emit(ctx context.Context, event Event) error {
	select {
	case p.inbox <- event:
		return nil
	default:
		droppedTotal.Inc()
		p.logger.WarnContext(ctx, "audit buffer full, dropping event", "action", event.Action)
		return nil
	}
}

// Events exposes the inbox for the draining worker.
func (p *ChannelPublisher) Events() <-chan Event {
	return p.inbox
}
