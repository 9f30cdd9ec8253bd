// Package worker drains published audit events into a store as background
// work, keeping persistence off the request path.
package worker

import (
	"context"
	"log/slog"

	audit "tradegate/pkg/platform/audit"
)

// Worker consumes audit events from a channel and persists them. A store
// failure is logged and the event dropped; auditing must never take the
// service down.
type Worker struct {
	store  audit.Store
	inbox  <-chan audit.Event
	logger *slog.Logger
}

func NewWorker(store audit.Store, inbox <-chan audit.Event, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{store: store, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil {
				w.logger.WarnContext(ctx, "failed to persist audit event",
					"action", event.Action, "error", err)
			}
		}
	}
}
