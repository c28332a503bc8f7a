package engine

// Run configuration and reproducibility hash

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

type Config struct {
	InitialBalance decimal.Decimal `json:"initial_balance"`
	RiskPerTrade   decimal.Decimal `json:"risk_per_trade"`
	FeeRate        decimal.Decimal `json:"fee_rate"`
	RewardRisk     decimal.Decimal `json:"reward_risk"`

	// LockDayOnDegenerate keeps the calendar date locked after a signal is
	// discarded for degenerate risk, so no later window that day can trade.
	LockDayOnDegenerate bool `json:"lock_day_on_degenerate"`
}

// DefaultConfig mirrors the reference run: 100k balance, $1000 risk, 0.3% fee, 1:1
func DefaultConfig() Config {
	return Config{
		InitialBalance:      decimal.NewFromInt(100000),
		RiskPerTrade:        decimal.NewFromInt(1000),
		FeeRate:             decimal.RequireFromString("0.003"),
		RewardRisk:          decimal.NewFromInt(1),
		LockDayOnDegenerate: true,
	}
}

func (c Config) Validate() error {
	if !c.InitialBalance.IsPositive() {
		return fmt.Errorf("%w: initial balance must be > 0, got %s", ErrInvalidConfig, c.InitialBalance)
	}
	if !c.RiskPerTrade.IsPositive() {
		return fmt.Errorf("%w: risk per trade must be > 0, got %s", ErrInvalidConfig, c.RiskPerTrade)
	}
	if c.FeeRate.IsNegative() || c.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: fee rate must be in [0,1), got %s", ErrInvalidConfig, c.FeeRate)
	}
	if !c.RewardRisk.IsPositive() {
		return fmt.Errorf("%w: reward/risk multiplier must be > 0, got %s", ErrInvalidConfig, c.RewardRisk)
	}
	return nil
}

// Fee is the per-side fee, charged on the risk amount rather than the position value
func (c Config) Fee() decimal.Decimal {
	return c.RiskPerTrade.Mul(c.FeeRate)
}

// Hash is the sha256 of the canonical JSON encoding, used to tag reproducible runs
func (c Config) Hash() string {
	b, _ := json.Marshal(c)
	return fmt.Sprintf("%x", sha256.Sum256(b))
}
