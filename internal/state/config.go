package state

import (
	fpmath "DSCEngine/internal/math"
	"fmt"

	"github.com/holiman/uint256"
)

// SystemConfig holds the fixed financial constants of the engine.
// Percentages are expressed against LiquidationPrecision.
type SystemConfig struct {
	LiquidationThreshold    uint64       // share of collateral value counted toward solvency (50 = 50%)
	LiquidationBonus        uint64       // discount given to liquidators (10 = 10%)
	LiquidationPrecision    uint64       // 100
	MinHealthFactor         *uint256.Int // 1e18
	Precision               *uint256.Int // 1e18
	// AdditionalFeedPrecision (1e10) is what lifts an 8-decimal feed to
	// Precision. It is reported through the parameters view only; the oracle
	// adapter scales each quote by the decimals the feed itself reports.
	AdditionalFeedPrecision *uint256.Int
}

func DefaultSystemConfig() SystemConfig {
	return SystemConfig{
		LiquidationThreshold:    50,
		LiquidationBonus:        10,
		LiquidationPrecision:    100,
		MinHealthFactor:         fpmath.Precision(),
		Precision:               fpmath.Precision(),
		AdditionalFeedPrecision: uint256.NewInt(10_000_000_000),
	}
}

// ValidateSystemConfig checks that the constants are within valid ranges:
// precision > 0, 0 < threshold <= precision, bonus < precision,
// min health factor > 0.
func ValidateSystemConfig(cfg SystemConfig) error {
	if cfg.LiquidationPrecision == 0 {
		return fmt.Errorf("liquidation_precision must be > 0")
	}
	if cfg.LiquidationThreshold == 0 || cfg.LiquidationThreshold > cfg.LiquidationPrecision {
		return fmt.Errorf("liquidation_threshold must be in (0, %d], got %d",
			cfg.LiquidationPrecision, cfg.LiquidationThreshold)
	}
	if cfg.LiquidationBonus >= cfg.LiquidationPrecision {
		return fmt.Errorf("liquidation_bonus must be < %d, got %d",
			cfg.LiquidationPrecision, cfg.LiquidationBonus)
	}
	if cfg.MinHealthFactor == nil || cfg.MinHealthFactor.IsZero() {
		return fmt.Errorf("min_health_factor must be > 0")
	}
	if cfg.Precision == nil || cfg.Precision.IsZero() {
		return fmt.Errorf("precision must be > 0")
	}
	if cfg.AdditionalFeedPrecision == nil || cfg.AdditionalFeedPrecision.IsZero() {
		return fmt.Errorf("additional_feed_precision must be > 0")
	}
	return nil
}
