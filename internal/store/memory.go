package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/settlement-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu     sync.RWMutex
	pairs  map[model.PairKey]model.PairSnapshot
	events []model.Event
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pairs: make(map[model.PairKey]model.PairSnapshot),
	}
}

// SavePair keeps the snapshot as given. Callers hand over a deep copy
// (engine.Snapshot), so no further copy is taken.
func (s *MemoryStore) SavePair(_ context.Context, snap model.PairSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[snap.Pair] = snap
	return nil
}

func (s *MemoryStore) GetPair(_ context.Context, key model.PairKey) (*model.PairSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.pairs[key]
	if !ok {
		return nil, fmt.Errorf("%w: pair %s", ErrNotFound, key)
	}
	return &snap, nil
}

func (s *MemoryStore) ListPairs(_ context.Context) ([]model.PairSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := make([]model.PairSnapshot, 0, len(s.pairs))
	for _, snap := range s.pairs {
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].Pair.String() < snaps[j].Pair.String()
	})
	return snaps, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, ev model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *MemoryStore) EventsByAccount(_ context.Context, account string, limit int) ([]model.Event, error) {
	return s.filter(limit, func(ev model.Event) bool { return ev.Account == account }), nil
}

func (s *MemoryStore) EventsByPair(_ context.Context, key model.PairKey, limit int) ([]model.Event, error) {
	return s.filter(limit, func(ev model.Event) bool { return ev.Pair == key }), nil
}

// filter walks the log newest first.
func (s *MemoryStore) filter(limit int, match func(model.Event) bool) []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		if !match(s.events[i]) {
			continue
		}
		result = append(result, s.events[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result
}
