package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/settlement-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and refresh or invalidate the
// cache; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through ---

func (s *CachedStore) SavePair(ctx context.Context, snap model.PairSnapshot) error {
	if err := s.primary.SavePair(ctx, snap); err != nil {
		return err
	}
	s.cachePair(ctx, &snap)
	return nil
}

func (s *CachedStore) AppendEvent(ctx context.Context, ev model.Event) error {
	if err := s.primary.AppendEvent(ctx, ev); err != nil {
		return err
	}
	// Invalidate every cached page for this account and pair.
	s.rdb.Del(ctx, accountEventsKey(ev.Account), pairEventsKey(ev.Pair))
	return nil
}

// --- Read-through ---

func (s *CachedStore) GetPair(ctx context.Context, key model.PairKey) (*model.PairSnapshot, error) {
	data, err := s.rdb.Get(ctx, pairKey(key)).Bytes()
	if err == nil {
		var snap model.PairSnapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil
		}
	}

	snap, err := s.primary.GetPair(ctx, key)
	if err != nil {
		return nil, err
	}
	s.cachePair(ctx, snap)
	return snap, nil
}

func (s *CachedStore) EventsByAccount(ctx context.Context, account string, limit int) ([]model.Event, error) {
	return s.cachedEvents(ctx, accountEventsKey(account), limit, func() ([]model.Event, error) {
		return s.primary.EventsByAccount(ctx, account, limit)
	})
}

func (s *CachedStore) EventsByPair(ctx context.Context, key model.PairKey, limit int) ([]model.Event, error) {
	return s.cachedEvents(ctx, pairEventsKey(key), limit, func() ([]model.Event, error) {
		return s.primary.EventsByPair(ctx, key, limit)
	})
}

// cachedEvents keeps one hash per account or pair with a field per page
// size, so a single DEL invalidates every page.
func (s *CachedStore) cachedEvents(ctx context.Context, key string, limit int, load func() ([]model.Event, error)) ([]model.Event, error) {
	field := strconv.Itoa(limit)
	data, err := s.rdb.HGet(ctx, key, field).Bytes()
	if err == nil {
		var events []model.Event
		if json.Unmarshal(data, &events) == nil {
			return events, nil
		}
	}

	events, err := load()
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(events); err == nil {
		pipe := s.rdb.TxPipeline()
		pipe.HSet(ctx, key, field, data)
		pipe.Expire(ctx, key, s.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			slog.Warn("cache events failed", "key", key, "error", err)
		}
	}
	return events, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPairs(ctx context.Context) ([]model.PairSnapshot, error) {
	return s.primary.ListPairs(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cachePair(ctx context.Context, snap *model.PairSnapshot) {
	if data, err := json.Marshal(snap); err == nil {
		s.rdb.Set(ctx, pairKey(snap.Pair), data, s.ttl)
	}
}

func pairKey(k model.PairKey) string         { return fmt.Sprintf("pair:%s", k) }
func accountEventsKey(account string) string { return fmt.Sprintf("events:account:%s", account) }
func pairEventsKey(k model.PairKey) string   { return fmt.Sprintf("events:pair:%s", k) }
