package scoring

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/opensource-finance/larder/internal/domain"
)

// weightTolerance is the allowed drift of a weight sum from 1.0.
const weightTolerance = 1e-6

// DefaultMaterialImpact is used when a domain does not set one.
const DefaultMaterialImpact = 0.5

type dimension struct {
	cfg  domain.DimensionConfig
	norm *Normalizer
}

// Model is the compiled scoring configuration of one domain.
// It is immutable after construction and safe for concurrent use.
type Model struct {
	dims     []dimension
	tiers    []domain.TierThreshold
	material float64
}

// NewModel validates a domain's dimensions and tiers.
// Weights must lie in [0,1] and sum to 1.0 within tolerance.
func NewModel(cfg domain.DomainConfig) (*Model, error) {
	if len(cfg.Dimensions) == 0 {
		return nil, fmt.Errorf("%w: domain %s has no dimensions", domain.ErrInvalidConfig, cfg.Name)
	}

	allowed := make(map[domain.Dimension]bool)
	for _, d := range domain.BaseDimensions() {
		allowed[d] = true
	}
	if cfg.Forecast != nil {
		for _, d := range domain.ForecastDimensions() {
			allowed[d] = true
		}
	}

	m := &Model{material: cfg.MaterialImpact}
	if m.material <= 0 {
		m.material = DefaultMaterialImpact
	}

	seen := make(map[domain.Dimension]bool)
	var sum float64
	for _, dc := range cfg.Dimensions {
		if !allowed[dc.Dimension] {
			return nil, fmt.Errorf("%w: domain %s: unknown dimension %q", domain.ErrInvalidConfig, cfg.Name, dc.Dimension)
		}
		if seen[dc.Dimension] {
			return nil, fmt.Errorf("%w: domain %s: duplicate dimension %q", domain.ErrInvalidConfig, cfg.Name, dc.Dimension)
		}
		seen[dc.Dimension] = true

		if !unitInterval(dc.Weight) {
			return nil, fmt.Errorf("%w: domain %s: weight of %s outside [0,1]", domain.ErrInvalidConfig, cfg.Name, dc.Dimension)
		}
		sum += dc.Weight

		norm, err := NewNormalizer(dc)
		if err != nil {
			return nil, err
		}
		if dc.Factor == "" {
			dc.Factor = string(dc.Dimension)
		}
		m.dims = append(m.dims, dimension{cfg: dc, norm: norm})
	}
	if math.Abs(sum-1) > weightTolerance {
		return nil, fmt.Errorf("%w: domain %s: weights sum to %v, want 1.0", domain.ErrInvalidConfig, cfg.Name, sum)
	}

	if err := ValidateTiers(cfg.Tiers); err != nil {
		return nil, fmt.Errorf("domain %s: %w", cfg.Name, err)
	}
	m.tiers = make([]domain.TierThreshold, len(cfg.Tiers))
	copy(m.tiers, cfg.Tiers)

	return m, nil
}

// Score computes the composite score and its explanation.
//
// Algorithm:
// 1. Normalize each weighted dimension into a [0,1] sub-score
// 2. Sum weight * sub-score and clamp to [0,1]
// 3. Keep dimensions whose sub-score exceeds the material threshold as factors
// 4. Order factors by weight * sub-score, highest first
func (m *Model) Score(fv domain.FeatureVector) domain.ScoreResult {
	result := domain.ScoreResult{
		SubScores: make(map[domain.Dimension]float64, len(m.dims)),
		Factors:   make([]domain.Factor, 0, len(m.dims)),
	}

	var composite float64
	for _, d := range m.dims {
		raw := fv.Get(d.cfg.Dimension)
		sub := d.norm.Normalize(raw)
		result.SubScores[d.cfg.Dimension] = sub
		composite += d.cfg.Weight * sub

		if sub > m.material {
			result.Factors = append(result.Factors, domain.Factor{
				Name:        d.cfg.Factor,
				Dimension:   d.cfg.Dimension,
				Value:       raw,
				Severity:    sub,
				Weight:      d.cfg.Weight,
				Impact:      d.cfg.Weight * sub,
				Description: describe(d.cfg.Description, raw),
			})
		}
	}

	result.Composite = math.Max(0, math.Min(1, composite))

	// Stable sort keeps dimension order for equal impacts.
	sort.SliceStable(result.Factors, func(i, j int) bool {
		return result.Factors[i].Impact > result.Factors[j].Impact
	})

	return result
}

// Classify maps a composite score to the model's tier table.
func (m *Model) Classify(score float64) domain.Classification {
	return Classify(score, m.tiers)
}

// Tiers returns a copy of the tier table, highest first.
func (m *Model) Tiers() []domain.TierThreshold {
	out := make([]domain.TierThreshold, len(m.tiers))
	copy(out, m.tiers)
	return out
}

// describe fills the {value} placeholder of a factor description.
func describe(template string, v float64) string {
	if template == "" {
		return ""
	}
	rounded := math.Round(v*10) / 10
	return strings.ReplaceAll(template, "{value}", strconv.FormatFloat(rounded, 'f', -1, 64))
}
