package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/atmx/settlement-engine/internal/model"
)

// EventLog appends engine events to a Store. It satisfies the engine's
// event sink interface; failures are logged, not returned, since the
// settlement they describe has already happened.
type EventLog struct {
	store   Store
	timeout time.Duration
}

// NewEventLog creates an event sink writing to store.
func NewEventLog(store Store, timeout time.Duration) *EventLog {
	return &EventLog{store: store, timeout: timeout}
}

func (l *EventLog) Emit(ctx context.Context, ev model.Event) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
		defer cancel()
	}
	if err := l.store.AppendEvent(ctx, ev); err != nil {
		slog.Error("append event failed",
			"event_id", ev.ID,
			"type", ev.Type,
			"pair", ev.Pair.String(),
			"error", err,
		)
	}
}
