package fees

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/vault"
	"github.com/atmx/settlement-engine/internal/wallet"
)

func d(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func newDistributor(t *testing.T) (*Distributor, *vault.Pool, *wallet.Ledger) {
	t.Helper()
	pool := vault.NewPool(nil)
	ledger := wallet.NewLedger()
	dist, err := NewDistributor(pool, ledger, Config{
		Split:           Split{Pool: d(600_000), Stake: d(300_000), Treasury: d(100_000)},
		Rebate:          d(100_000),
		StakeAccount:    "stake",
		TreasuryAccount: "treasury",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return dist, pool, ledger
}

func TestDistributor_NoReferrer(t *testing.T) {
	dist, pool, ledger := newDistributor(t)

	if err := dist.DepositFeeWithRebate(context.Background(), "USDC", d(1000), "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := pool.Balance("USDC"); !got.Equal(d(600)) {
		t.Errorf("expected pool 600, got %s", got)
	}
	if got := ledger.Balance("stake", "USDC"); !got.Equal(d(300)) {
		t.Errorf("expected stake 300, got %s", got)
	}
	if got := ledger.Balance("treasury", "USDC"); !got.Equal(d(100)) {
		t.Errorf("expected treasury 100, got %s", got)
	}
}

func TestDistributor_WithReferrer(t *testing.T) {
	dist, pool, ledger := newDistributor(t)
	if err := dist.SetReferrer("alice", "bob"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := dist.DepositFeeWithRebate(context.Background(), "USDC", d(1000), "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 10% rebate, then 900 split 60/30/10.
	if got := ledger.Balance("bob", "USDC"); !got.Equal(d(100)) {
		t.Errorf("expected rebate 100, got %s", got)
	}
	if got := pool.Balance("USDC"); !got.Equal(d(540)) {
		t.Errorf("expected pool 540, got %s", got)
	}
	if got := ledger.Balance("stake", "USDC"); !got.Equal(d(270)) {
		t.Errorf("expected stake 270, got %s", got)
	}
}

func TestDistributor_DustGoesToPool(t *testing.T) {
	dist, _, _ := newDistributor(t)
	plan := dist.Plan(d(7), "alice")
	total := plan.Pool.Add(plan.Stake).Add(plan.Treasury).Add(plan.Rebate)
	if !total.Equal(d(7)) {
		t.Errorf("expected distribution to sum to 7, got %s", total)
	}
	if !plan.Pool.Equal(d(5)) {
		t.Errorf("expected pool 5, got %s", plan.Pool)
	}
}

func TestDistributor_InvalidConfig(t *testing.T) {
	_, err := NewDistributor(nil, nil, Config{Split: Split{Pool: d(500_000)}})
	if !errors.Is(err, ErrInvalidSplit) {
		t.Errorf("expected ErrInvalidSplit, got %v", err)
	}
	_, err = NewDistributor(nil, nil, Config{
		Split:  Split{Pool: d(1_000_000)},
		Rebate: d(2_000_000),
	})
	if !errors.Is(err, ErrInvalidRebate) {
		t.Errorf("expected ErrInvalidRebate, got %v", err)
	}
}

func TestDistributor_SelfReferral(t *testing.T) {
	dist, _, _ := newDistributor(t)
	if err := dist.SetReferrer("alice", "alice"); !errors.Is(err, ErrSelfReferral) {
		t.Errorf("expected ErrSelfReferral, got %v", err)
	}
}
