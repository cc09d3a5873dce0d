package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
)

var btc = model.PairKey{Instrument: "BTC_USD", Collateral: "USDC"}

func d(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestOracle_NoPrice(t *testing.T) {
	o := NewOracle(nil, Options{})
	_, err := o.Read(context.Background(), btc, true)
	if !errors.Is(err, ErrNoPrice) {
		t.Errorf("expected ErrNoPrice, got %v", err)
	}
}

func TestOracle_RejectsZeroPrice(t *testing.T) {
	o := NewOracle(nil, Options{})
	err := o.Update(context.Background(), btc, decimal.Zero, nil)
	if !errors.Is(err, ErrInvalidPrice) {
		t.Errorf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestOracle_SpreadWindow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	o := NewOracle(nil, Options{SpreadWindow: 10 * time.Second, Now: clock.Now})
	ctx := context.Background()

	_ = o.Update(ctx, btc, d(100), nil)
	clock.Advance(time.Second)
	_ = o.Update(ctx, btc, d(105), nil)

	hi, _ := o.Read(ctx, btc, true)
	lo, _ := o.Read(ctx, btc, false)
	if !hi.Equal(d(105)) || !lo.Equal(d(100)) {
		t.Errorf("expected 105/100 inside the window, got %s/%s", hi, lo)
	}

	clock.Advance(10 * time.Second)
	lo, _ = o.Read(ctx, btc, false)
	if !lo.Equal(d(105)) {
		t.Errorf("expected current price after the window, got %s", lo)
	}
}

func TestOracle_Stale(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	o := NewOracle(nil, Options{MaxAge: time.Minute, Now: clock.Now})
	ctx := context.Background()

	_ = o.Update(ctx, btc, d(100), nil)
	clock.Advance(2 * time.Minute)

	_, err := o.Read(ctx, btc, true)
	if !errors.Is(err, ErrStalePrice) {
		t.Errorf("expected ErrStalePrice, got %v", err)
	}
}

func TestOracle_SignedProof(t *testing.T) {
	v := NewSignedVerifier("publisher-secret")
	o := NewOracle(v, Options{})
	ctx := context.Background()

	proof, err := v.Sign(btc, d(100), time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := o.Update(ctx, btc, d(100), proof); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Same proof, different price.
	if err := o.Update(ctx, btc, d(101), proof); !errors.Is(err, ErrInvalidProof) {
		t.Errorf("expected ErrInvalidProof, got %v", err)
	}

	// Proof signed with another secret.
	forged, _ := NewSignedVerifier("other").Sign(btc, d(100), time.Minute)
	if err := o.Update(ctx, btc, d(100), forged); !errors.Is(err, ErrInvalidProof) {
		t.Errorf("expected ErrInvalidProof for forged proof, got %v", err)
	}

	if err := o.Update(ctx, btc, d(100), nil); !errors.Is(err, ErrInvalidProof) {
		t.Errorf("expected ErrInvalidProof for missing proof, got %v", err)
	}

	q, ok := o.Latest(btc)
	if !ok || !q.Price.Equal(d(100)) {
		t.Errorf("expected latest 100, got %v %s", ok, q.Price)
	}
}
