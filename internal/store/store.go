// Package store defines the persistence interface for the settlement
// engine. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/settlement-engine/internal/model"
)

var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. Pair snapshots are overwritten on
// every mutation; events are append-only.
type Store interface {
	// --- Pair snapshots ---

	// SavePair upserts the snapshot of one pair.
	SavePair(ctx context.Context, snap model.PairSnapshot) error

	// GetPair retrieves the latest snapshot of a pair.
	GetPair(ctx context.Context, key model.PairKey) (*model.PairSnapshot, error)

	// ListPairs returns the latest snapshot of every pair.
	ListPairs(ctx context.Context) ([]model.PairSnapshot, error)

	// --- Event log ---

	// AppendEvent records an engine event.
	AppendEvent(ctx context.Context, ev model.Event) error

	// EventsByAccount returns an account's most recent events, newest
	// first. A limit of zero or less returns all of them.
	EventsByAccount(ctx context.Context, account string, limit int) ([]model.Event, error)

	// EventsByPair returns a pair's most recent events, newest first.
	EventsByPair(ctx context.Context, key model.PairKey, limit int) ([]model.Event, error)
}
