// Package features turns raw entity histories into feature vectors.
package features

import (
	"math"
	"sort"
	"time"

	"github.com/opensource-finance/larder/internal/domain"
	"github.com/opensource-finance/larder/internal/forecast"
)

const day = 24 * time.Hour

// Extractor computes the base feature dimensions of an entity.
// It is a pure function of its inputs and safe for concurrent use.
type Extractor struct {
	cfg domain.ExtractorConfig
}

// NewExtractor creates an extractor. Zero-valued settings take their defaults.
func NewExtractor(cfg domain.ExtractorConfig) *Extractor {
	def := domain.DefaultExtractorConfig()
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = def.WindowDays
	}
	if cfg.Periods <= 0 {
		cfg.Periods = def.Periods
	}
	if cfg.TrendEvents <= 0 {
		cfg.TrendEvents = def.TrendEvents
	}
	if cfg.TrendMinEvents <= 0 {
		cfg.TrendMinEvents = def.TrendMinEvents
	}
	if cfg.TrendThreshold <= 0 {
		cfg.TrendThreshold = def.TrendThreshold
	}
	if cfg.RecentActivityDays <= 0 {
		cfg.RecentActivityDays = def.RecentActivityDays
	}
	if cfg.ManyEventsThreshold <= 0 {
		cfg.ManyEventsThreshold = def.ManyEventsThreshold
	}
	if cfg.EngagementBase <= 0 {
		cfg.EngagementBase = def.EngagementBase
	}
	if cfg.RecentActivityBonus <= 0 {
		cfg.RecentActivityBonus = def.RecentActivityBonus
	}
	if cfg.HistoryBonus <= 0 {
		cfg.HistoryBonus = def.HistoryBonus
	}
	if cfg.InteractionBonus <= 0 {
		cfg.InteractionBonus = def.InteractionBonus
	}
	if cfg.DefaultSatisfaction <= 0 {
		cfg.DefaultSatisfaction = def.DefaultSatisfaction
	}
	if cfg.RecencySentinel <= 0 {
		cfg.RecencySentinel = def.RecencySentinel
	}
	return &Extractor{cfg: cfg}
}

// Config returns the effective settings.
func (e *Extractor) Config() domain.ExtractorConfig {
	return e.cfg
}

// Extract computes every base dimension from the history as seen at now.
// Events after now are ignored. The result never contains NaN or Inf.
func (e *Extractor) Extract(history []domain.Event, profile domain.Profile, now time.Time) domain.FeatureVector {
	events := Usable(history, now)

	fv := domain.FeatureVector{
		domain.DimRecency:      e.recency(events, now),
		domain.DimFrequency:    0,
		domain.DimMonetary:     0,
		domain.DimTrend:        e.trend(events),
		domain.DimVolatility:   forecast.PopStdDev(forecast.DailyTotals(events, forecast.ByAmount)),
		domain.DimEngagement:   e.engagement(events, profile, now),
		domain.DimSatisfaction: e.satisfaction(profile),
	}

	windowStart := now.Add(-time.Duration(e.cfg.WindowDays) * day)
	var count int
	var total float64
	for _, ev := range events {
		if ev.Timestamp.After(windowStart) {
			count++
			total += ev.Amount
		}
	}
	fv[domain.DimFrequency] = float64(count) / float64(e.cfg.Periods)
	fv[domain.DimMonetary] = math.Max(0, total)

	return Sanitize(fv)
}

// Usable returns the events at or before now with finite amounts,
// sorted by timestamp. The input slice is not modified.
func Usable(history []domain.Event, now time.Time) []domain.Event {
	out := make([]domain.Event, 0, len(history))
	for _, ev := range history {
		if ev.Timestamp.After(now) {
			continue
		}
		if math.IsNaN(ev.Amount) || math.IsInf(ev.Amount, 0) {
			ev.Amount = 0
		}
		if math.IsNaN(ev.Quantity) || math.IsInf(ev.Quantity, 0) {
			ev.Quantity = 0
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Sanitize replaces non-finite values with 0 and clamps every dimension
// except the trend at 0.
func Sanitize(fv domain.FeatureVector) domain.FeatureVector {
	for d, v := range fv {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		if d != domain.DimTrend && v < 0 {
			v = 0
		}
		fv[d] = v
	}
	return fv
}

func (e *Extractor) recency(events []domain.Event, now time.Time) float64 {
	if len(events) == 0 {
		return e.cfg.RecencySentinel
	}
	last := events[len(events)-1].Timestamp
	return math.Floor(now.Sub(last).Hours() / 24)
}

// trend compares the first and second half of the most recent events.
func (e *Extractor) trend(events []domain.Event) float64 {
	if len(events) < e.cfg.TrendMinEvents {
		return domain.TrendStable
	}
	recent := events
	if len(recent) > e.cfg.TrendEvents {
		recent = recent[len(recent)-e.cfg.TrendEvents:]
	}
	amounts := make([]float64, len(recent))
	for i, ev := range recent {
		amounts[i] = ev.Amount
	}
	return forecast.RelativeTrend(amounts, e.cfg.TrendMinEvents, e.cfg.TrendThreshold)
}

func (e *Extractor) engagement(events []domain.Event, profile domain.Profile, now time.Time) float64 {
	score := e.cfg.EngagementBase

	recentStart := now.Add(-time.Duration(e.cfg.RecentActivityDays) * day)
	for _, ev := range events {
		if ev.Timestamp.After(recentStart) {
			score += e.cfg.RecentActivityBonus
			break
		}
	}
	if len(events) >= e.cfg.ManyEventsThreshold {
		score += e.cfg.HistoryBonus
	}
	if profile.PlatformInteraction {
		score += e.cfg.InteractionBonus
	}
	return math.Min(1, score)
}

func (e *Extractor) satisfaction(profile domain.Profile) float64 {
	if profile.Satisfaction == nil {
		return e.cfg.DefaultSatisfaction
	}
	s := *profile.Satisfaction
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return e.cfg.DefaultSatisfaction
	}
	return math.Max(0, math.Min(5, s))
}
