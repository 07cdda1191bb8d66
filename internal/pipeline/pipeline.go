// Package pipeline wires feature extraction, scoring, classification,
// recommendation and forecasting into one evaluation pass per domain.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/larder/internal/domain"
	"github.com/opensource-finance/larder/internal/features"
	"github.com/opensource-finance/larder/internal/forecast"
	"github.com/opensource-finance/larder/internal/recommend"
	"github.com/opensource-finance/larder/internal/scoring"
)

// EngineVersion is stamped on every evaluation.
const EngineVersion = "larder-1.0"

var tracer = otel.Tracer("larder-pipeline")

// ErrUnknownDomain is returned for a domain name that is not configured.
var ErrUnknownDomain = errors.New("unknown domain")

// compiledDomain is the validated, immutable form of a DomainConfig.
type compiledDomain struct {
	cfg       domain.DomainConfig
	extractor *features.Extractor
	model     *scoring.Model
	generator *recommend.Generator
}

// Pipeline evaluates entities against configured domains.
// It holds no mutable state and is safe for concurrent use.
type Pipeline struct {
	domains map[string]*compiledDomain
	names   []string
}

// New validates and compiles the domain tables. Any invalid table
// rejects the whole set with an error wrapping domain.ErrInvalidConfig.
func New(configs []domain.DomainConfig) (*Pipeline, error) {
	p := &Pipeline{domains: make(map[string]*compiledDomain, len(configs))}

	for _, cfg := range configs {
		if cfg.Name == "" {
			return nil, fmt.Errorf("%w: domain without a name", domain.ErrInvalidConfig)
		}
		if _, dup := p.domains[cfg.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate domain %q", domain.ErrInvalidConfig, cfg.Name)
		}

		model, err := scoring.NewModel(cfg)
		if err != nil {
			return nil, err
		}
		gen, err := recommend.NewGenerator(cfg)
		if err != nil {
			return nil, err
		}
		if f := cfg.Forecast; f != nil && (f.HistoryDays < 0 || f.DefaultLeadTimeDays < 0 || f.DefaultSafetyMultiplier < 0) {
			return nil, fmt.Errorf("%w: domain %s: negative forecast settings", domain.ErrInvalidConfig, cfg.Name)
		}

		p.domains[cfg.Name] = &compiledDomain{
			cfg:       cfg,
			extractor: features.NewExtractor(cfg.Extractor),
			model:     model,
			generator: gen,
		}
		p.names = append(p.names, cfg.Name)
	}
	sort.Strings(p.names)

	return p, nil
}

// Domains returns the configured domain tables sorted by name.
func (p *Pipeline) Domains() []domain.DomainConfig {
	out := make([]domain.DomainConfig, 0, len(p.names))
	for _, n := range p.names {
		out = append(out, p.domains[n].cfg)
	}
	return out
}

// HasDomain reports whether a domain is configured.
func (p *Pipeline) HasDomain(name string) bool {
	_, ok := p.domains[name]
	return ok
}

// Lookback returns how far back history is needed for a domain.
func (p *Pipeline) Lookback(name string) time.Duration {
	d, ok := p.domains[name]
	if !ok {
		return 0
	}
	days := d.extractor.Config().WindowDays
	if d.cfg.Forecast != nil && d.cfg.Forecast.HistoryDays > days {
		days = d.cfg.Forecast.HistoryDays
	}
	// Recency and volatility look at the full history; a year bounds it.
	if days < 365 {
		days = 365
	}
	return time.Duration(days) * 24 * time.Hour
}

// EvaluateInput holds everything needed for one evaluation pass.
type EvaluateInput struct {
	TenantID string         `json:"tenantId"`
	Domain   string         `json:"domain"`
	EntityID string         `json:"entityId"`
	History  []domain.Event `json:"history"`
	Profile  domain.Profile `json:"profile"`
	Now      time.Time      `json:"now"`
}

// Evaluate runs one pass. The result depends only on the input, so
// repeating a call with the same input yields an identical evaluation.
// The evaluation ID and timing metadata are left for the caller.
func (p *Pipeline) Evaluate(ctx context.Context, in *EvaluateInput) (*domain.Evaluation, error) {
	d, ok := p.domains[in.Domain]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDomain, in.Domain)
	}
	if in.EntityID == "" {
		return nil, errors.New("entity ID is required")
	}

	_, span := tracer.Start(ctx, "pipeline.Evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.String("domain", in.Domain),
		attribute.String("entity.id", in.EntityID),
	)

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	// 1. Extract features
	fv := d.extractor.Extract(in.History, in.Profile, now)

	// 2. Forecast stocked items
	var plan *domain.ReorderPlan
	if d.cfg.Forecast != nil {
		pl := p.plan(d, in, now)
		plan = &pl
		addForecastFeatures(fv, plan)
	}

	// 3. Score and classify
	score := d.model.Score(fv)
	class := d.model.Classify(score.Composite)

	// 4. Recommend
	rc := recommend.Context{EntityID: in.EntityID}
	if plan != nil && forecast.NeedsReorder(plan.Status) {
		rc.Floor = plan.Priority
	}
	recs := d.generator.Recommend(class, score.Factors, rc)

	span.SetAttributes(
		attribute.Float64("score", score.Composite),
		attribute.String("tier", class.Tier),
	)

	return &domain.Evaluation{
		TenantID:        in.TenantID,
		Domain:          in.Domain,
		EntityID:        in.EntityID,
		Timestamp:       now,
		Features:        fv,
		Score:           score,
		Classification:  class,
		Recommendations: recs,
		Plan:            plan,
		Metadata: domain.EvaluationMetadata{
			EventsConsidered: len(features.Usable(in.History, now)),
			EngineVersion:    EngineVersion,
		},
	}, nil
}

// plan builds the daily demand series from the first sale within the
// history window up to now, and derives the reorder plan.
func (p *Pipeline) plan(d *compiledDomain, in *EvaluateInput, now time.Time) domain.ReorderPlan {
	fc := d.cfg.Forecast
	historyDays := fc.HistoryDays
	if historyDays <= 0 {
		historyDays = 90
	}

	events := features.Usable(in.History, now)
	windowStart := now.AddDate(0, 0, -(historyDays - 1))
	start := windowStart
	for _, ev := range events {
		if !ev.Timestamp.Before(windowStart) {
			start = ev.Timestamp
			break
		}
	}
	days := historyDays
	if len(events) > 0 {
		days = int(dayIndex(now)-dayIndex(start)) + 1
	}
	series := forecast.DailySeries(events, start, days, forecast.ByQuantity)

	params := domain.InventoryParams{
		LeadTimeDays:     fc.DefaultLeadTimeDays,
		SafetyMultiplier: fc.DefaultSafetyMultiplier,
	}
	if inv := in.Profile.Inventory; inv != nil {
		params = *inv
		if params.LeadTimeDays <= 0 {
			params.LeadTimeDays = fc.DefaultLeadTimeDays
		}
		if params.SafetyMultiplier <= 0 {
			params.SafetyMultiplier = fc.DefaultSafetyMultiplier
		}
	}

	return forecast.Plan(series, params)
}

func dayIndex(t time.Time) int64 {
	return t.UTC().Unix() / 86400
}

// addForecastFeatures exposes the plan as scoreable dimensions.
func addForecastFeatures(fv domain.FeatureVector, plan *domain.ReorderPlan) {
	f := plan.Forecast

	fv[domain.DimDaysOfCover] = math.Min(plan.DaysOfCover, forecast.NoCover)
	fv[domain.DimForecastConfidence] = f.Confidence

	if f.DailyAvg > 0 {
		fv[domain.DimVariability] = f.Volatility / f.DailyAvg
	} else {
		fv[domain.DimVariability] = 0
	}

	if plan.ReorderPoint > 0 {
		fv[domain.DimStockToReorderPoint] = math.Max(0, plan.CurrentStock) / plan.ReorderPoint
	} else {
		fv[domain.DimStockToReorderPoint] = forecast.NoCover
	}

	// The trend of an item is the trend of its daily demand.
	switch f.Trend {
	case "increasing":
		fv[domain.DimTrend] = domain.TrendIncreasing
	case "decreasing":
		fv[domain.DimTrend] = domain.TrendDecreasing
	default:
		fv[domain.DimTrend] = domain.TrendStable
	}

	features.Sanitize(fv)
}
