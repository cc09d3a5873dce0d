package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/pair"
)

// PairDefinition is one entry of the pairs file:
//
//	[{"pair": "BTC_USD:USDC", "config": {...}, "cooldown": "5s", "liquidity": "10000000"}]
//
// Cooldown, when set, overrides config.execution_cooldown. Liquidity is
// provided to the vault for the pair's collateral asset at startup.
type PairDefinition struct {
	Key       model.PairKey
	Config    model.PairConfig
	Liquidity decimal.Decimal
}

type pairEntry struct {
	Pair      string           `json:"pair"`
	Config    model.PairConfig `json:"config"`
	Cooldown  string           `json:"cooldown"`
	Liquidity decimal.Decimal  `json:"liquidity"`
}

// LoadPairs reads and validates a pairs file.
func LoadPairs(path string) ([]PairDefinition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open pairs file: %w", err)
	}
	defer f.Close()
	return ParsePairs(f)
}

// ParsePairs decodes pair definitions and validates each one.
func ParsePairs(r io.Reader) ([]PairDefinition, error) {
	var entries []pairEntry
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: pairs file: %v", ErrInvalid, err)
	}

	seen := make(map[model.PairKey]bool, len(entries))
	defs := make([]PairDefinition, 0, len(entries))
	for i, e := range entries {
		key, err := pair.ParseKey(e.Pair)
		if err != nil {
			return nil, fmt.Errorf("%w: pairs[%d]: %v", ErrInvalid, i, err)
		}
		if seen[key] {
			return nil, fmt.Errorf("%w: pairs[%d]: duplicate pair %s", ErrInvalid, i, key)
		}
		seen[key] = true

		if e.Cooldown != "" {
			d, err := time.ParseDuration(e.Cooldown)
			if err != nil {
				return nil, fmt.Errorf("%w: pairs[%d]: cooldown: %v", ErrInvalid, i, err)
			}
			e.Config.ExecutionCooldown = d
		}
		if err := pair.ValidateConfig(e.Config); err != nil {
			return nil, fmt.Errorf("%w: pairs[%d] %s: %v", ErrInvalid, i, key, err)
		}
		if e.Liquidity.IsNegative() {
			return nil, fmt.Errorf("%w: pairs[%d] %s: negative liquidity", ErrInvalid, i, key)
		}
		defs = append(defs, PairDefinition{Key: key, Config: e.Config, Liquidity: e.Liquidity})
	}
	return defs, nil
}
