package pair

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
)

func d(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func validConfig() model.PairConfig {
	return model.PairConfig{
		MinLeverage:           d(1_000_000),
		MaxLeverage:           d(100_000_000),
		FeeModel:              model.FeeModelMakerTaker,
		MakerFee:              d(100),
		TakerFee:              d(500),
		FundingModel:          model.FundingModelVelocity,
		SkewFactor:            d(10_000_000),
		MaxFundingVelocity:    d(300),
		MaxOpenInterest:       d(1_000_000_000),
		ExecutionCooldown:     3 * time.Second,
		LiquidationThreshold:  d(100_000),
		MaxProfit:             d(9_000_000),
		MinOrderCollateral:    d(1000),
		MinPositionCollateral: d(1000),
		MaxPositionCollateral: d(1_000_000_000),
		MinPositionSize:       d(1000),
	}
}

func TestParseKey_Valid(t *testing.T) {
	k, err := ParseKey("BTC_USD:USDC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k.Instrument != "BTC_USD" {
		t.Errorf("expected instrument=BTC_USD, got %s", k.Instrument)
	}
	if k.Collateral != "USDC" {
		t.Errorf("expected collateral=USDC, got %s", k.Collateral)
	}
	if k.String() != "BTC_USD:USDC" {
		t.Errorf("expected round trip, got %s", k.String())
	}
}

func TestParseKey_InvalidFormat(t *testing.T) {
	tests := []string{
		"",
		"BTC_USD",
		"BTC_USD:",
		":USDC",
		"btc_usd:usdc", // lowercase
		"BTC_USD/USDC", // wrong separator
		"BTC__USD:USDC",
		"BTC_USD:USDC:X",
	}
	for _, key := range tests {
		_, err := ParseKey(key)
		if !errors.Is(err, ErrInvalidKey) {
			t.Errorf("expected ErrInvalidKey for %q, got %v", key, err)
		}
	}
}

func TestValidateConfig_Valid(t *testing.T) {
	if err := ValidateConfig(validConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateConfig_Invalid(t *testing.T) {
	tests := map[string]func(*model.PairConfig){
		"inverted leverage":  func(c *model.PairConfig) { c.MaxLeverage = d(500_000) },
		"zero min leverage":  func(c *model.PairConfig) { c.MinLeverage = d(0) },
		"negative fee":       func(c *model.PairConfig) { c.TakerFee = d(-1) },
		"zero open interest": func(c *model.PairConfig) { c.MaxOpenInterest = d(0) },
		"collateral bounds":  func(c *model.PairConfig) { c.MaxPositionCollateral = d(10) },
		"zero max profit":    func(c *model.PairConfig) { c.MaxProfit = d(0) },
		"full liquidation":   func(c *model.PairConfig) { c.LiquidationThreshold = d(1_000_000) },
		"unknown fee model":  func(c *model.PairConfig) { c.FeeModel = "tiered" },
		"unknown funding":    func(c *model.PairConfig) { c.FundingModel = "" },
		"velocity no skew":   func(c *model.PairConfig) { c.SkewFactor = d(0) },
		"negative cooldown":  func(c *model.PairConfig) { c.ExecutionCooldown = -time.Second },
		"fractional rate":    func(c *model.PairConfig) { c.RolloverRate = decimal.RequireFromString("12.5") },
		"fractional bound":   func(c *model.PairConfig) { c.MinPositionSize = decimal.RequireFromString("0.1") },
	}
	for name, mutate := range tests {
		cfg := validConfig()
		mutate(&cfg)
		if err := ValidateConfig(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}
}

func TestValidateConfig_FlatModels(t *testing.T) {
	cfg := validConfig()
	cfg.FeeModel = model.FeeModelFlat
	cfg.EntryFee = d(500)
	cfg.ExitFee = d(500)
	cfg.FundingModel = model.FundingModelFlat
	cfg.FundingRate = d(100)
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
