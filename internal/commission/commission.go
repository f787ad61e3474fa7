// Package commission computes the platform fee from a category's pricing
// configuration. Amounts are integer XAF (the currency has no subunit);
// percentage terms are rounded half-up so both parties see the same figure
// the admin configuration screen displays.
package commission

import (
	"fmt"
	"math"

	"leboy/internal/domain"
)

// Compute returns clamp(basePercent% * price, min, max) + riskPercent% * price.
// A non-positive price yields zero. The config is validated first so a
// misconfigured category can never produce a negative or inverted fee.
func Compute(cfg domain.CommissionConfig, price int64) (int64, error) {
	if err := Validate(cfg); err != nil {
		return 0, err
	}
	if price <= 0 {
		return 0, nil
	}
	base := roundHalfUp(cfg.BasePercent / 100 * float64(price))
	if base < cfg.MinCommission {
		base = cfg.MinCommission
	}
	if base > cfg.MaxCommission {
		base = cfg.MaxCommission
	}
	risk := roundHalfUp(cfg.RiskPercent / 100 * float64(price))
	return base + risk, nil
}

// Validate checks the config invariants: percentages in [0,100] and
// min <= max.
func Validate(cfg domain.CommissionConfig) error {
	if cfg.BasePercent < 0 || cfg.BasePercent > 100 {
		return fmt.Errorf("base_percent %v out of range [0,100]", cfg.BasePercent)
	}
	if cfg.RiskPercent < 0 || cfg.RiskPercent > 100 {
		return fmt.Errorf("risk_percent %v out of range [0,100]", cfg.RiskPercent)
	}
	if cfg.MinCommission < 0 {
		return fmt.Errorf("min_commission %d negative", cfg.MinCommission)
	}
	if cfg.MinCommission > cfg.MaxCommission {
		return fmt.Errorf("min_commission %d exceeds max_commission %d", cfg.MinCommission, cfg.MaxCommission)
	}
	return nil
}

func roundHalfUp(v float64) int64 {
	return int64(math.Floor(v + 0.5))
}
