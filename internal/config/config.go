// Package config loads the service configuration from environment
// variables and the pair definitions from a JSON file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/calc"
	"github.com/atmx/settlement-engine/internal/fees"
)

var ErrInvalid = errors.New("config: invalid value")

// Config is the complete runtime configuration of the server.
type Config struct {
	Port     string
	LogLevel slog.Level

	// Storage. An empty DatabaseURL selects the in-memory store.
	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration

	// Event bus. An empty NATSURL disables publishing.
	NATSURL     string
	NATSSubject string

	JWTSecret string

	// PairsFile lists the pairs registered on a fresh start.
	PairsFile string

	MarketOrderTimeout time.Duration

	// Drawdown thresholds over calc.Precision. Zero disables a level.
	VaultSoftDrawdown decimal.Decimal
	VaultHardDrawdown decimal.Decimal

	// Price feed. An empty OracleSecret trusts every executor price.
	OracleSecret       string
	OracleMaxAge       time.Duration
	OracleSpreadWindow time.Duration

	Fees fees.Config

	// AdminAccount holds the admin capability; ExecutorAccount holds the
	// execute capability used by the HTTP executor routes and receives
	// execution fees.
	AdminAccount    string
	ExecutorAccount string
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var errs []error
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		LogLevel:           getEnvAsLevel("LOG_LEVEL", slog.LevelInfo, &errs),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		CacheTTL:           getEnvAsDuration("CACHE_TTL", 30*time.Second, &errs),
		NATSURL:            os.Getenv("NATS_URL"),
		NATSSubject:        getEnv("NATS_SUBJECT", "settlement"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		PairsFile:          os.Getenv("PAIRS_FILE"),
		MarketOrderTimeout: getEnvAsDuration("MARKET_ORDER_TIMEOUT", 30*time.Second, &errs),
		VaultSoftDrawdown:  getEnvAsDecimal("VAULT_SOFT_DRAWDOWN", decimal.NewFromInt(200_000), &errs),
		VaultHardDrawdown:  getEnvAsDecimal("VAULT_HARD_DRAWDOWN", decimal.NewFromInt(500_000), &errs),
		OracleSecret:       os.Getenv("ORACLE_SECRET"),
		OracleMaxAge:       getEnvAsDuration("ORACLE_MAX_AGE", time.Minute, &errs),
		OracleSpreadWindow: getEnvAsDuration("ORACLE_SPREAD_WINDOW", 0, &errs),
		Fees: fees.Config{
			Split: fees.Split{
				Pool:     getEnvAsDecimal("FEE_SHARE_POOL", decimal.NewFromInt(600_000), &errs),
				Stake:    getEnvAsDecimal("FEE_SHARE_STAKE", decimal.NewFromInt(300_000), &errs),
				Treasury: getEnvAsDecimal("FEE_SHARE_TREASURY", decimal.NewFromInt(100_000), &errs),
			},
			Rebate:          getEnvAsDecimal("FEE_REFERRAL_REBATE", decimal.Zero, &errs),
			StakeAccount:    getEnv("FEE_STAKE_ACCOUNT", "stake"),
			TreasuryAccount: getEnv("FEE_TREASURY_ACCOUNT", "treasury"),
		},
		AdminAccount:    getEnv("ADMIN_ACCOUNT", "admin"),
		ExecutorAccount: getEnv("EXECUTOR_ACCOUNT", "keeper"),
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and required values.
func (c *Config) Validate() error {
	if p, err := strconv.Atoi(c.Port); err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("%w: PORT must be between 1 and 65535, got %q", ErrInvalid, c.Port)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("%w: JWT_SECRET is required", ErrInvalid)
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("%w: JWT_SECRET must be at least 32 characters", ErrInvalid)
	}
	if c.RedisURL != "" && c.DatabaseURL == "" {
		return fmt.Errorf("%w: REDIS_URL requires DATABASE_URL", ErrInvalid)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("%w: CACHE_TTL must be positive, got %v", ErrInvalid, c.CacheTTL)
	}
	if c.MarketOrderTimeout <= 0 {
		return fmt.Errorf("%w: MARKET_ORDER_TIMEOUT must be positive, got %v", ErrInvalid, c.MarketOrderTimeout)
	}
	if c.OracleMaxAge < 0 || c.OracleSpreadWindow < 0 {
		return fmt.Errorf("%w: oracle durations cannot be negative", ErrInvalid)
	}
	for name, v := range map[string]decimal.Decimal{
		"VAULT_SOFT_DRAWDOWN": c.VaultSoftDrawdown,
		"VAULT_HARD_DRAWDOWN": c.VaultHardDrawdown,
	} {
		if v.IsNegative() || v.GreaterThan(calc.Precision) {
			return fmt.Errorf("%w: %s must be within [0, %s], got %s", ErrInvalid, name, calc.Precision, v)
		}
	}
	if err := c.Fees.Split.Validate(); err != nil {
		return fmt.Errorf("%w: fee shares: %v", ErrInvalid, err)
	}
	if c.AdminAccount == "" || c.ExecutorAccount == "" {
		return fmt.Errorf("%w: ADMIN_ACCOUNT and EXECUTOR_ACCOUNT are required", ErrInvalid)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%w: %s: %v", ErrInvalid, key, err))
		return defaultValue
	}
	return value
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal, errs *[]error) decimal.Decimal {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil || !value.IsInteger() {
		*errs = append(*errs, fmt.Errorf("%w: %s must be an integer, got %q", ErrInvalid, key, valueStr))
		return defaultValue
	}
	return value
}

func getEnvAsLevel(key string, defaultValue slog.Level, errs *[]error) slog.Level {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(valueStr))); err != nil {
		*errs = append(*errs, fmt.Errorf("%w: %s: %v", ErrInvalid, key, err))
		return defaultValue
	}
	return level
}
