package scoring

import (
	"fmt"

	"github.com/opensource-finance/larder/internal/domain"
)

// ValidateTiers checks a tier table: non-empty, unique names, minimums
// strictly decreasing and the last minimum equal to 0 so every score
// in [0,1] lands in exactly one tier.
func ValidateTiers(tiers []domain.TierThreshold) error {
	if len(tiers) == 0 {
		return fmt.Errorf("%w: empty tier table", domain.ErrInvalidConfig)
	}

	names := make(map[string]bool, len(tiers))
	for i, t := range tiers {
		if t.Tier == "" {
			return fmt.Errorf("%w: tier %d has no name", domain.ErrInvalidConfig, i)
		}
		if names[t.Tier] {
			return fmt.Errorf("%w: duplicate tier %q", domain.ErrInvalidConfig, t.Tier)
		}
		names[t.Tier] = true

		if !unitInterval(t.Min) {
			return fmt.Errorf("%w: tier %q minimum %v outside [0,1]", domain.ErrInvalidConfig, t.Tier, t.Min)
		}
		if i > 0 && t.Min >= tiers[i-1].Min {
			return fmt.Errorf("%w: tier minimums must strictly decrease (%q)", domain.ErrInvalidConfig, t.Tier)
		}
	}
	if tiers[len(tiers)-1].Min != 0 {
		return fmt.Errorf("%w: lowest tier must start at 0", domain.ErrInvalidConfig)
	}
	return nil
}

// Classify returns the first tier, scanning from the highest minimum,
// whose minimum the score reaches. The table must be valid.
func Classify(score float64, tiers []domain.TierThreshold) domain.Classification {
	n := len(tiers)
	for i, t := range tiers {
		if score >= t.Min {
			return domain.Classification{
				Tier:     t.Tier,
				Severity: n - 1 - i,
				Highest:  i == 0,
				MinScore: t.Min,
			}
		}
	}
	// Only reachable for NaN or negative scores.
	last := tiers[n-1]
	return domain.Classification{Tier: last.Tier, Severity: 0, Highest: n == 1, MinScore: last.Min}
}
