// Package wallet keeps per-account balances of collateral assets.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientBalance = errors.New("wallet: insufficient balance")
	ErrInvalidAmount       = errors.New("wallet: amount must not be negative")
)

// Ledger is an in-memory account ledger safe for concurrent use.
type Ledger struct {
	mu       sync.RWMutex
	balances map[string]map[string]decimal.Decimal // account -> asset -> balance
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{balances: make(map[string]map[string]decimal.Decimal)}
}

// Fund credits an account from outside the system (deposits, faucets).
func (l *Ledger) Fund(account, asset string, amount decimal.Decimal) error {
	return l.Credit(context.Background(), account, asset, amount)
}

// Credit adds amount to the account's balance of asset.
func (l *Ledger) Credit(_ context.Context, account, asset string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if amount.IsZero() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	assets, ok := l.balances[account]
	if !ok {
		assets = make(map[string]decimal.Decimal)
		l.balances[account] = assets
	}
	assets[asset] = assets[asset].Add(amount)
	return nil
}

// Debit removes amount from the account's balance of asset.
func (l *Ledger) Debit(_ context.Context, account, asset string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if amount.IsZero() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.balances[account][asset]
	if balance.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientBalance, account, balance, asset, amount)
	}
	l.balances[account][asset] = balance.Sub(amount)
	return nil
}

// Balance returns the account's balance of asset.
func (l *Ledger) Balance(account, asset string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[account][asset]
}
