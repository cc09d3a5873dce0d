// Package pair handles pair key parsing and validation of pair
// configuration before it reaches the engine.
package pair

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/calc"
	"github.com/atmx/settlement-engine/internal/model"
)

// keyRegex matches: {INSTRUMENT}:{COLLATERAL}
// Example: BTC_USD:USDC
var keyRegex = regexp.MustCompile(`^([A-Z0-9]+(?:_[A-Z0-9]+)*):([A-Z0-9]+)$`)

var (
	ErrInvalidKey    = errors.New("pair: invalid pair key format")
	ErrInvalidConfig = errors.New("pair: invalid configuration")
)

// ParseKey parses and validates a pair key string.
// Format: {INSTRUMENT}:{COLLATERAL}
func ParseKey(s string) (model.PairKey, error) {
	matches := keyRegex.FindStringSubmatch(s)
	if matches == nil {
		return model.PairKey{}, fmt.Errorf("%w: %q (expected INSTRUMENT:COLLATERAL)", ErrInvalidKey, s)
	}
	return model.PairKey{Instrument: matches[1], Collateral: matches[2]}, nil
}

// ValidateConfig checks the internal consistency of a pair configuration.
// Bounds are only enforced on future mutations; existing positions are
// never re-checked against a new configuration.
func ValidateConfig(cfg model.PairConfig) error {
	nonNegative := map[string]decimal.Decimal{
		"maker_fee":               cfg.MakerFee,
		"taker_fee":               cfg.TakerFee,
		"entry_fee":               cfg.EntryFee,
		"exit_fee":                cfg.ExitFee,
		"spread":                  cfg.Spread,
		"rollover_rate":           cfg.RolloverRate,
		"skew_factor":             cfg.SkewFactor,
		"max_funding_velocity":    cfg.MaxFundingVelocity,
		"max_funding_rate":        cfg.MaxFundingRate,
		"market_depth":            cfg.MarketDepth,
		"min_order_collateral":    cfg.MinOrderCollateral,
		"min_position_collateral": cfg.MinPositionCollateral,
		"min_position_size":       cfg.MinPositionSize,
		"execution_fee":           cfg.ExecutionFee,
	}
	for name, v := range nonNegative {
		if v.IsNegative() {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, name)
		}
	}

	integral := map[string]decimal.Decimal{
		"min_leverage":            cfg.MinLeverage,
		"max_leverage":            cfg.MaxLeverage,
		"funding_rate":            cfg.FundingRate,
		"max_open_interest":       cfg.MaxOpenInterest,
		"liquidation_threshold":   cfg.LiquidationThreshold,
		"max_profit":              cfg.MaxProfit,
		"max_position_collateral": cfg.MaxPositionCollateral,
	}
	for name, v := range nonNegative {
		integral[name] = v
	}
	for name, v := range integral {
		if !v.IsInteger() {
			return fmt.Errorf("%w: %s must be a whole number", ErrInvalidConfig, name)
		}
	}

	if !cfg.MinLeverage.IsPositive() || cfg.MaxLeverage.LessThan(cfg.MinLeverage) {
		return fmt.Errorf("%w: leverage bounds [%s, %s]", ErrInvalidConfig, cfg.MinLeverage, cfg.MaxLeverage)
	}
	if !cfg.MaxOpenInterest.IsPositive() {
		return fmt.Errorf("%w: max_open_interest must be positive", ErrInvalidConfig)
	}
	if !cfg.MaxPositionCollateral.IsPositive() || cfg.MaxPositionCollateral.LessThan(cfg.MinPositionCollateral) {
		return fmt.Errorf("%w: position collateral bounds", ErrInvalidConfig)
	}
	if !cfg.MaxProfit.IsPositive() {
		return fmt.Errorf("%w: max_profit must be positive", ErrInvalidConfig)
	}
	if cfg.LiquidationThreshold.IsNegative() || cfg.LiquidationThreshold.GreaterThanOrEqual(calc.Precision) {
		return fmt.Errorf("%w: liquidation_threshold must be in [0, %s)", ErrInvalidConfig, calc.Precision)
	}
	if cfg.Spread.GreaterThanOrEqual(calc.Precision) {
		return fmt.Errorf("%w: spread must be below %s", ErrInvalidConfig, calc.Precision)
	}
	if cfg.ExecutionCooldown < 0 {
		return fmt.Errorf("%w: execution_cooldown must not be negative", ErrInvalidConfig)
	}

	switch cfg.FeeModel {
	case model.FeeModelMakerTaker, model.FeeModelFlat:
	default:
		return fmt.Errorf("%w: unknown fee model %q", ErrInvalidConfig, cfg.FeeModel)
	}

	switch cfg.FundingModel {
	case model.FundingModelFlat:
		if cfg.FundingRate.IsNegative() {
			return fmt.Errorf("%w: funding_rate must not be negative", ErrInvalidConfig)
		}
	case model.FundingModelVelocity:
		if cfg.MaxFundingVelocity.IsPositive() && !cfg.SkewFactor.IsPositive() {
			return fmt.Errorf("%w: skew_factor required with max_funding_velocity", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown funding model %q", ErrInvalidConfig, cfg.FundingModel)
	}
	return nil
}
