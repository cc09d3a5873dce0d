// Package feed implements the in-memory price feed consulted at execution.
//
// Executors push the price they observed together with a proof; the oracle
// verifies the proof, keeps the current and previous quote per pair, and
// serves reads that may pick the worse of the two while the previous quote
// is still inside the spread window.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
)

var (
	ErrNoPrice      = errors.New("feed: no price for pair")
	ErrStalePrice   = errors.New("feed: price is stale")
	ErrInvalidPrice = errors.New("feed: price must be positive")
	ErrInvalidProof = errors.New("feed: invalid price proof")
)

// Verifier checks that an executor-supplied price is authentic.
type Verifier interface {
	Verify(key model.PairKey, price decimal.Decimal, proof []byte) error
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(key model.PairKey, price decimal.Decimal, proof []byte) error

func (f VerifierFunc) Verify(key model.PairKey, price decimal.Decimal, proof []byte) error {
	return f(key, price, proof)
}

// AcceptAll trusts every price. Used when executors are trusted services.
var AcceptAll = VerifierFunc(func(model.PairKey, decimal.Decimal, []byte) error { return nil })

// Quote is a price observed at a point in time.
type Quote struct {
	Price decimal.Decimal `json:"price"`
	At    time.Time       `json:"at"`
}

type quotes struct {
	current  Quote
	previous Quote
}

// Options configures an Oracle.
type Options struct {
	// MaxAge rejects reads of quotes older than this. Zero disables.
	MaxAge time.Duration
	// SpreadWindow keeps the previous quote eligible for reads while the
	// current one is younger than this. Zero disables.
	SpreadWindow time.Duration
	Now          func() time.Time
}

// Oracle is a price feed safe for concurrent use.
type Oracle struct {
	mu       sync.RWMutex
	verifier Verifier
	opts     Options
	prices   map[model.PairKey]*quotes
}

// NewOracle creates an oracle. A nil verifier accepts every price.
func NewOracle(verifier Verifier, opts Options) *Oracle {
	if verifier == nil {
		verifier = AcceptAll
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Oracle{
		verifier: verifier,
		opts:     opts,
		prices:   make(map[model.PairKey]*quotes),
	}
}

// Update verifies and records a new price for key.
func (o *Oracle) Update(_ context.Context, key model.PairKey, price decimal.Decimal, proof []byte) error {
	if !price.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidPrice, price)
	}
	if err := o.verifier.Verify(key, price, proof); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	q, ok := o.prices[key]
	if !ok {
		q = &quotes{}
		o.prices[key] = q
	}
	q.previous = q.current
	q.current = Quote{Price: price, At: o.opts.Now()}
	return nil
}

// Read returns the price for key. While the previous quote is inside the
// spread window, maximize picks the higher of the two quotes and
// !maximize the lower, so the reader always gets the worse side.
func (o *Oracle) Read(_ context.Context, key model.PairKey, maximize bool) (decimal.Decimal, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	q, ok := o.prices[key]
	if !ok || !q.current.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNoPrice, key)
	}

	age := o.opts.Now().Sub(q.current.At)
	if o.opts.MaxAge > 0 && age > o.opts.MaxAge {
		return decimal.Zero, fmt.Errorf("%w: %s is %s old", ErrStalePrice, key, age)
	}

	price := q.current.Price
	if o.opts.SpreadWindow > 0 && age < o.opts.SpreadWindow && q.previous.Price.IsPositive() {
		if maximize {
			price = decimal.Max(price, q.previous.Price)
		} else {
			price = decimal.Min(price, q.previous.Price)
		}
	}
	return price, nil
}

// Latest returns the current quote for key, if any.
func (o *Oracle) Latest(key model.PairKey) (Quote, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	q, ok := o.prices[key]
	if !ok {
		return Quote{}, false
	}
	return q.current, true
}
