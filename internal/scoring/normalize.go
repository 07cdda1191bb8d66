// Package scoring normalizes feature vectors, combines them into a
// weighted composite score and classifies the result into tiers.
package scoring

import (
	"fmt"
	"math"

	"github.com/opensource-finance/larder/internal/domain"
)

// Normalizer maps a raw feature value to a [0,1] sub-score using an
// ordered band table.
type Normalizer struct {
	direction string
	bands     []domain.Band
	def       float64
}

// NewNormalizer validates a dimension's band table.
// Bands must be strictly decreasing for "above" tables and strictly
// increasing for "below" tables so the first match is the most severe.
func NewNormalizer(cfg domain.DimensionConfig) (*Normalizer, error) {
	if cfg.Direction != domain.DirectionAbove && cfg.Direction != domain.DirectionBelow {
		return nil, fmt.Errorf("%w: dimension %s: unknown direction %q", domain.ErrInvalidConfig, cfg.Dimension, cfg.Direction)
	}
	if !unitInterval(cfg.Default) {
		return nil, fmt.Errorf("%w: dimension %s: default %v outside [0,1]", domain.ErrInvalidConfig, cfg.Dimension, cfg.Default)
	}

	for i, b := range cfg.Bands {
		if !unitInterval(b.Score) {
			return nil, fmt.Errorf("%w: dimension %s: band %d score %v outside [0,1]", domain.ErrInvalidConfig, cfg.Dimension, i, b.Score)
		}
		if math.IsNaN(b.Limit) || math.IsInf(b.Limit, 0) {
			return nil, fmt.Errorf("%w: dimension %s: band %d limit is not finite", domain.ErrInvalidConfig, cfg.Dimension, i)
		}
		if i == 0 {
			continue
		}
		prev := cfg.Bands[i-1].Limit
		if cfg.Direction == domain.DirectionAbove && b.Limit >= prev {
			return nil, fmt.Errorf("%w: dimension %s: above-limits must strictly decrease", domain.ErrInvalidConfig, cfg.Dimension)
		}
		if cfg.Direction == domain.DirectionBelow && b.Limit <= prev {
			return nil, fmt.Errorf("%w: dimension %s: below-limits must strictly increase", domain.ErrInvalidConfig, cfg.Dimension)
		}
	}

	bands := make([]domain.Band, len(cfg.Bands))
	copy(bands, cfg.Bands)
	return &Normalizer{direction: cfg.Direction, bands: bands, def: cfg.Default}, nil
}

// Normalize returns the score of the first matching band, or the default.
// NaN matches no band.
func (n *Normalizer) Normalize(v float64) float64 {
	for _, b := range n.bands {
		if n.direction == domain.DirectionAbove && v > b.Limit {
			return b.Score
		}
		if n.direction == domain.DirectionBelow && v < b.Limit {
			return b.Score
		}
	}
	return n.def
}

func unitInterval(v float64) bool {
	return v >= 0 && v <= 1
}
