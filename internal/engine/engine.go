// Package engine settles leveraged perpetual positions against a pooled
// liquidity vault.
//
// Each (instrument, collateral) pair owns its configuration and a mutable
// state holding open interest, fee accumulators, pending orders and
// positions. Calls on the same pair are serialized by a per-pair mutex;
// calls on different pairs run in parallel. Every call validates before it
// mutates and either applies fully or returns an error with the pair state
// untouched. Failures during execution that are the order's fault rather
// than the caller's turn into typed cancellations instead of errors.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/access"
	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/pair"
)

type pairEntry struct {
	mu  sync.Mutex
	key model.PairKey
	cfg model.PairConfig
	st  *model.PairState
}

// Engine is the settlement engine. It is safe for concurrent use.
type Engine struct {
	deps Deps
	opts Options

	mu    sync.RWMutex
	pairs map[model.PairKey]*pairEntry

	index *userIndex

	custodyMu sync.Mutex
	custody   map[string]decimal.Decimal // asset -> collateral held
}

// New creates an engine with no pairs.
func New(deps Deps, opts Options) *Engine {
	if deps.Sink == nil {
		deps.Sink = discard{}
	}
	if opts.MarketOrderTimeout <= 0 {
		opts.MarketOrderTimeout = DefaultMarketOrderTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		deps:    deps,
		opts:    opts,
		pairs:   make(map[model.PairKey]*pairEntry),
		index:   newUserIndex(),
		custody: make(map[string]decimal.Decimal),
	}
}

func (e *Engine) now() time.Time {
	return e.opts.Now().UTC()
}

func (e *Engine) authorize(c access.Capability, kind access.Kind) error {
	if err := e.deps.Access.Verify(c, kind); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return nil
}

func (e *Engine) pair(key model.PairKey) (*pairEntry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.pairs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPairNotFound, key)
	}
	return p, nil
}

// RegisterPair adds a new pair with an empty state.
func (e *Engine) RegisterPair(_ context.Context, admin access.Capability, key model.PairKey, cfg model.PairConfig) error {
	if err := e.authorize(admin, access.KindAdmin); err != nil {
		return err
	}
	if err := pair.ValidateConfig(cfg); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pairs[key]; ok {
		return fmt.Errorf("%w: %s", ErrPairExists, key)
	}
	e.pairs[key] = &pairEntry{key: key, cfg: cfg, st: model.NewPairState(e.now())}

	slog.Info("pair registered", "pair", key.String(), "fee_model", cfg.FeeModel, "funding_model", cfg.FundingModel)
	return nil
}

// UpdatePairConfig replaces the configuration of a pair. Fees accrued
// under the old configuration are settled into the accumulators first.
// Existing positions are not re-checked against the new bounds.
func (e *Engine) UpdatePairConfig(_ context.Context, admin access.Capability, key model.PairKey, cfg model.PairConfig) error {
	if err := e.authorize(admin, access.KindAdmin); err != nil {
		return err
	}
	if err := pair.ValidateConfig(cfg); err != nil {
		return err
	}
	p, err := e.pair(key)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	accrue(p.cfg, p.st, e.now())
	p.cfg = cfg

	slog.Info("pair config updated", "pair", key.String())
	return nil
}

// SetPaused pauses or resumes placement and execution on a pair.
// Cancellation and trigger exits stay available while paused.
func (e *Engine) SetPaused(_ context.Context, admin access.Capability, key model.PairKey, paused bool) error {
	if err := e.authorize(admin, access.KindAdmin); err != nil {
		return err
	}
	p, err := e.pair(key)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.Paused = paused

	slog.Info("pair pause toggled", "pair", key.String(), "paused", paused)
	return nil
}

// Restore registers a pair from a persisted snapshot and rebuilds the
// account index and custody totals from its orders and positions.
func (e *Engine) Restore(_ context.Context, admin access.Capability, snap model.PairSnapshot) error {
	if err := e.authorize(admin, access.KindAdmin); err != nil {
		return err
	}
	if err := pair.ValidateConfig(snap.Config); err != nil {
		return err
	}
	st := cloneState(&snap.State)
	if st.NextOrderID == 0 {
		st.NextOrderID = 1
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pairs[snap.Pair]; ok {
		return fmt.Errorf("%w: %s", ErrPairExists, snap.Pair)
	}
	e.pairs[snap.Pair] = &pairEntry{key: snap.Pair, cfg: snap.Config, st: st}

	held := decimal.Zero
	for _, o := range st.Orders {
		e.index.addOrder(o.Account, model.OrderRef{Pair: snap.Pair, OrderID: o.ID})
		held = held.Add(o.ExecutionFee)
		if o.IsIncrease {
			held = held.Add(o.CollateralDelta)
		}
	}
	for _, side := range []bool{true, false} {
		for _, pos := range st.Positions(side) {
			if pos.IsOpen() {
				e.index.addPosition(pos.Account, model.PositionRef{Pair: snap.Pair, IsLong: side})
			}
			held = held.Add(pos.Collateral)
		}
	}
	e.moveCustody(snap.Pair.Collateral, held)

	slog.Info("pair restored",
		"pair", snap.Pair.String(),
		"orders", len(st.Orders),
		"longs", len(st.Longs),
		"shorts", len(st.Shorts),
	)
	return nil
}

// Pairs lists the registered pairs in key order.
func (e *Engine) Pairs() []model.PairKey {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]model.PairKey, 0, len(e.pairs))
	for k := range e.pairs {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Pair returns the configuration of a pair.
func (e *Engine) Pair(key model.PairKey) (model.PairConfig, error) {
	p, err := e.pair(key)
	if err != nil {
		return model.PairConfig{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg, nil
}

// Snapshot returns a deep copy of a pair's configuration and state.
func (e *Engine) Snapshot(key model.PairKey) (model.PairSnapshot, error) {
	p, err := e.pair(key)
	if err != nil {
		return model.PairSnapshot{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return model.PairSnapshot{
		Pair:      key,
		Config:    p.cfg,
		State:     *cloneState(p.st),
		UpdatedAt: e.now(),
	}, nil
}

// Order returns a pending order.
func (e *Engine) Order(key model.PairKey, orderID uint64) (model.Order, error) {
	p, err := e.pair(key)
	if err != nil {
		return model.Order{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.st.Orders[orderID]
	if !ok {
		return model.Order{}, fmt.Errorf("%w: %s #%d", ErrOrderNotFound, key, orderID)
	}
	return *o, nil
}

// Position returns an account's position on one side of a pair. A
// position that has been closed, or that only backs pending orders, is
// returned with zero size.
func (e *Engine) Position(key model.PairKey, account string, isLong bool) (model.Position, error) {
	p, err := e.pair(key)
	if err != nil {
		return model.Position{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.st.Positions(isLong)[account]
	if !ok {
		return model.Position{}, fmt.Errorf("%w: %s %s", ErrPositionNotFound, key, account)
	}
	return *pos, nil
}

// OrdersOf returns the pending orders of an account.
func (e *Engine) OrdersOf(account string) []model.Order {
	var out []model.Order
	for _, ref := range e.index.ordersOf(account) {
		if o, err := e.Order(ref.Pair, ref.OrderID); err == nil {
			out = append(out, o)
		}
	}
	return out
}

// PositionsOf returns the open positions of an account.
func (e *Engine) PositionsOf(account string) []model.Position {
	var out []model.Position
	for _, ref := range e.index.positionsOf(account) {
		if pos, err := e.Position(ref.Pair, account, ref.IsLong); err == nil && pos.IsOpen() {
			out = append(out, pos)
		}
	}
	return out
}

// Custody returns the collateral of asset currently held by the engine
// for positions and pending orders.
func (e *Engine) Custody(asset string) decimal.Decimal {
	e.custodyMu.Lock()
	defer e.custodyMu.Unlock()
	return e.custody[asset]
}

func (e *Engine) moveCustody(asset string, delta decimal.Decimal) {
	if delta.IsZero() {
		return
	}
	e.custodyMu.Lock()
	defer e.custodyMu.Unlock()
	e.custody[asset] = e.custody[asset].Add(delta)
}

func (e *Engine) emit(ctx context.Context, ev model.Event) {
	e.deps.Sink.Emit(ctx, ev)
}

func newEvent(t model.EventType, key model.PairKey, st *model.PairState, now time.Time) model.Event {
	return model.Event{
		ID:                uuid.NewString(),
		Type:              t,
		Pair:              key,
		LongOpenInterest:  st.LongOpenInterest,
		ShortOpenInterest: st.ShortOpenInterest,
		Timestamp:         now,
	}
}

func cloneState(st *model.PairState) *model.PairState {
	out := *st
	out.Orders = make(map[uint64]*model.Order, len(st.Orders))
	for id, o := range st.Orders {
		c := *o
		out.Orders[id] = &c
	}
	out.Longs = clonePositions(st.Longs)
	out.Shorts = clonePositions(st.Shorts)
	return &out
}

func clonePositions(in map[string]*model.Position) map[string]*model.Position {
	out := make(map[string]*model.Position, len(in))
	for account, pos := range in {
		c := *pos
		out[account] = &c
	}
	return out
}
