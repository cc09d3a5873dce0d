package engine

import (
	"sort"
	"sync"

	"github.com/atmx/settlement-engine/internal/model"
)

// userIndex maps accounts to the orders and open positions they hold, so
// per-account queries do not scan every pair.
type userIndex struct {
	mu        sync.RWMutex
	orders    map[string]map[model.OrderRef]struct{}
	positions map[string]map[model.PositionRef]struct{}
}

func newUserIndex() *userIndex {
	return &userIndex{
		orders:    make(map[string]map[model.OrderRef]struct{}),
		positions: make(map[string]map[model.PositionRef]struct{}),
	}
}

func (x *userIndex) addOrder(account string, ref model.OrderRef) {
	x.mu.Lock()
	defer x.mu.Unlock()
	refs, ok := x.orders[account]
	if !ok {
		refs = make(map[model.OrderRef]struct{})
		x.orders[account] = refs
	}
	refs[ref] = struct{}{}
}

// removeOrder is a no-op for refs that are not indexed.
func (x *userIndex) removeOrder(account string, ref model.OrderRef) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.orders[account], ref)
	if len(x.orders[account]) == 0 {
		delete(x.orders, account)
	}
}

func (x *userIndex) addPosition(account string, ref model.PositionRef) {
	x.mu.Lock()
	defer x.mu.Unlock()
	refs, ok := x.positions[account]
	if !ok {
		refs = make(map[model.PositionRef]struct{})
		x.positions[account] = refs
	}
	refs[ref] = struct{}{}
}

func (x *userIndex) removePosition(account string, ref model.PositionRef) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.positions[account], ref)
	if len(x.positions[account]) == 0 {
		delete(x.positions, account)
	}
}

func (x *userIndex) ordersOf(account string) []model.OrderRef {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]model.OrderRef, 0, len(x.orders[account]))
	for ref := range x.orders[account] {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pair != out[j].Pair {
			return out[i].Pair.String() < out[j].Pair.String()
		}
		return out[i].OrderID < out[j].OrderID
	})
	return out
}

func (x *userIndex) positionsOf(account string) []model.PositionRef {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]model.PositionRef, 0, len(x.positions[account]))
	for ref := range x.positions[account] {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pair != out[j].Pair {
			return out[i].Pair.String() < out[j].Pair.String()
		}
		return out[i].IsLong && !out[j].IsLong
	})
	return out
}
