package domain

import (
	"errors"
)

// ErrInvalidConfig is returned when a domain or automation configuration
// is rejected at configuration time.
var ErrInvalidConfig = errors.New("invalid configuration")

// Normalization directions.
const (
	// DirectionAbove maps larger raw values to larger sub-scores:
	// the first band whose value > limit wins.
	DirectionAbove = "above"

	// DirectionBelow maps smaller raw values to larger sub-scores:
	// the first band whose value < limit wins.
	DirectionBelow = "below"
)

// DomainConfig parameterizes the generic pipeline for one domain.
type DomainConfig struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	Extractor ExtractorConfig `json:"extractor" yaml:"extractor"`

	// Dimensions with weights summing to 1.0.
	Dimensions []DimensionConfig `json:"dimensions" yaml:"dimensions"`

	// MaterialImpact is the sub-score a dimension must exceed to become a factor.
	MaterialImpact float64 `json:"materialImpact" yaml:"materialImpact"`

	// Tiers ordered from the highest minimum score to the lowest.
	Tiers []TierThreshold `json:"tiers" yaml:"tiers"`

	// Catalog is the static action lookup table keyed by action ID.
	Catalog map[string]CatalogEntry `json:"catalog" yaml:"catalog"`

	// FactorActions maps a factor name to the action it recommends.
	FactorActions map[string]string `json:"factorActions" yaml:"factorActions"`

	// Intervention is prepended for the highest-severity tier.
	Intervention string `json:"intervention" yaml:"intervention"`

	MaxRecommendations int `json:"maxRecommendations" yaml:"maxRecommendations"`

	// Forecast enables the inventory forecasting submodule.
	Forecast *ForecastConfig `json:"forecast,omitempty" yaml:"forecast,omitempty"`
}

// ExtractorConfig holds the FeatureExtractor parameters.
type ExtractorConfig struct {
	WindowDays          int     `json:"windowDays" yaml:"windowDays"`
	Periods             int     `json:"periods" yaml:"periods"`
	TrendEvents         int     `json:"trendEvents" yaml:"trendEvents"`
	TrendMinEvents      int     `json:"trendMinEvents" yaml:"trendMinEvents"`
	TrendThreshold      float64 `json:"trendThreshold" yaml:"trendThreshold"`
	RecentActivityDays  int     `json:"recentActivityDays" yaml:"recentActivityDays"`
	ManyEventsThreshold int     `json:"manyEventsThreshold" yaml:"manyEventsThreshold"`
	EngagementBase      float64 `json:"engagementBase" yaml:"engagementBase"`
	RecentActivityBonus float64 `json:"recentActivityBonus" yaml:"recentActivityBonus"`
	HistoryBonus        float64 `json:"historyBonus" yaml:"historyBonus"`
	InteractionBonus    float64 `json:"interactionBonus" yaml:"interactionBonus"`
	DefaultSatisfaction float64 `json:"defaultSatisfaction" yaml:"defaultSatisfaction"`
	RecencySentinel     float64 `json:"recencySentinel" yaml:"recencySentinel"`
}

// DefaultExtractorConfig returns the standard extractor settings.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		WindowDays:          90,
		Periods:             3,
		TrendEvents:         6,
		TrendMinEvents:      4,
		TrendThreshold:      0.15,
		RecentActivityDays:  30,
		ManyEventsThreshold: 10,
		EngagementBase:      0.5,
		RecentActivityBonus: 0.2,
		HistoryBonus:        0.15,
		InteractionBonus:    0.15,
		DefaultSatisfaction: 3.5,
		RecencySentinel:     999,
	}
}

// DimensionConfig weights and normalizes one feature dimension.
type DimensionConfig struct {
	Dimension Dimension `json:"dimension" yaml:"dimension"`
	Weight    float64   `json:"weight" yaml:"weight"`
	Direction string    `json:"direction" yaml:"direction"`
	Bands     []Band    `json:"bands" yaml:"bands"`

	// Default is the sub-score when no band matches.
	Default float64 `json:"default" yaml:"default"`

	// Factor is the human-readable name used in the breakdown.
	Factor      string `json:"factor" yaml:"factor"`
	Description string `json:"description" yaml:"description"`
}

// Band maps values beyond Limit to Score.
type Band struct {
	Limit float64 `json:"limit" yaml:"limit"`
	Score float64 `json:"score" yaml:"score"`
}

// TierThreshold assigns Tier to composite scores >= Min.
type TierThreshold struct {
	Tier string  `json:"tier" yaml:"tier"`
	Min  float64 `json:"min" yaml:"min"`
}

// CatalogEntry is the static description of an action.
type CatalogEntry struct {
	Category       string    `json:"category" yaml:"category"`
	Kind           string    `json:"kind" yaml:"kind"`
	Title          string    `json:"title" yaml:"title"`
	Description    string    `json:"description" yaml:"description"`
	Priority       Priority  `json:"priority" yaml:"priority"`
	ExpectedImpact string    `json:"expectedImpact" yaml:"expectedImpact"`
	Cost           CostRange `json:"cost" yaml:"cost"`
	SuccessRate    string    `json:"successRate" yaml:"successRate"`
}

// ForecastConfig enables forecasting and supplies item defaults.
type ForecastConfig struct {
	HistoryDays             int     `json:"historyDays" yaml:"historyDays"`
	DefaultLeadTimeDays     float64 `json:"defaultLeadTimeDays" yaml:"defaultLeadTimeDays"`
	DefaultSafetyMultiplier float64 `json:"defaultSafetyMultiplier" yaml:"defaultSafetyMultiplier"`
}
