package engine

import (
	"context"

	"github.com/atmx/settlement-engine/internal/model"
)

// Sink receives engine events. Emit must not block for long: it is
// called while the pair is locked so that events of a pair arrive in
// order.
type Sink interface {
	Emit(ctx context.Context, ev model.Event)
}

// Fanout delivers every event to each of its sinks in turn.
type Fanout []Sink

func (f Fanout) Emit(ctx context.Context, ev model.Event) {
	for _, s := range f {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}

type discard struct{}

func (discard) Emit(context.Context, model.Event) {}
