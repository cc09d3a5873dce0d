package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/settlement-engine/internal/model"
)

// Schema creates the tables PostgresStore needs. Amounts that are queried
// directly are NUMERIC for exact decimal precision; the full records live
// in JSONB.
const Schema = `
CREATE TABLE IF NOT EXISTS pair_snapshots (
    pair        TEXT PRIMARY KEY,
    instrument  TEXT NOT NULL,
    collateral  TEXT NOT NULL,
    config      JSONB NOT NULL,
    state       JSONB NOT NULL,
    long_oi     NUMERIC NOT NULL,
    short_oi    NUMERIC NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS engine_events (
    seq          BIGSERIAL PRIMARY KEY,
    id           UUID UNIQUE NOT NULL,
    type         TEXT NOT NULL,
    pair         TEXT NOT NULL,
    account      TEXT NOT NULL,
    order_id     BIGINT NOT NULL DEFAULT 0,
    position_id  TEXT NOT NULL DEFAULT '',
    price        NUMERIC NOT NULL,
    pnl          NUMERIC NOT NULL,
    payload      JSONB NOT NULL,
    timestamp    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS engine_events_account_idx ON engine_events (account, seq DESC);
CREATE INDEX IF NOT EXISTS engine_events_pair_idx ON engine_events (pair, seq DESC);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) SavePair(ctx context.Context, snap model.PairSnapshot) error {
	cfg, err := json.Marshal(snap.Config)
	if err != nil {
		return fmt.Errorf("encode config %s: %w", snap.Pair, err)
	}
	st, err := json.Marshal(snap.State)
	if err != nil {
		return fmt.Errorf("encode state %s: %w", snap.Pair, err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO pair_snapshots (pair, instrument, collateral, config, state, long_oi, short_oi, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8)
		 ON CONFLICT (pair) DO UPDATE
		 SET config = EXCLUDED.config, state = EXCLUDED.state,
		     long_oi = EXCLUDED.long_oi, short_oi = EXCLUDED.short_oi,
		     updated_at = EXCLUDED.updated_at`,
		snap.Pair.String(), snap.Pair.Instrument, snap.Pair.Collateral,
		cfg, st,
		snap.State.LongOpenInterest.String(), snap.State.ShortOpenInterest.String(),
		snap.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save pair %s: %w", snap.Pair, err)
	}
	return nil
}

func (s *PostgresStore) GetPair(ctx context.Context, key model.PairKey) (*model.PairSnapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT instrument, collateral, config, state, updated_at
		 FROM pair_snapshots WHERE pair = $1`, key.String())

	snap, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: pair %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get pair %s: %w", key, err)
	}
	return snap, nil
}

func (s *PostgresStore) ListPairs(ctx context.Context) ([]model.PairSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT instrument, collateral, config, state, updated_at
		 FROM pair_snapshots ORDER BY pair`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.PairSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, rows.Err()
}

func scanSnapshot(row pgx.Row) (*model.PairSnapshot, error) {
	var snap model.PairSnapshot
	var cfg, st []byte
	if err := row.Scan(&snap.Pair.Instrument, &snap.Pair.Collateral, &cfg, &st, &snap.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(cfg, &snap.Config); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", snap.Pair, err)
	}
	if err := json.Unmarshal(st, &snap.State); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", snap.Pair, err)
	}
	return &snap, nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, ev model.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.ID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO engine_events (id, type, pair, account, order_id, position_id, price, pnl, payload, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9, $10)`,
		ev.ID, string(ev.Type), ev.Pair.String(), ev.Account,
		int64(ev.OrderID), ev.PositionID,
		ev.Price.String(), ev.PnL.String(),
		payload, ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append event %s: %w", ev.ID, err)
	}
	return nil
}

func (s *PostgresStore) EventsByAccount(ctx context.Context, account string, limit int) ([]model.Event, error) {
	return s.queryEvents(ctx,
		`SELECT payload FROM engine_events WHERE account = $1
		 ORDER BY seq DESC LIMIT NULLIF($2, 0)`, account, max(limit, 0))
}

func (s *PostgresStore) EventsByPair(ctx context.Context, key model.PairKey, limit int) ([]model.Event, error) {
	return s.queryEvents(ctx,
		`SELECT payload FROM engine_events WHERE pair = $1
		 ORDER BY seq DESC LIMIT NULLIF($2, 0)`, key.String(), max(limit, 0))
}

func (s *PostgresStore) queryEvents(ctx context.Context, sql string, args ...any) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev model.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
