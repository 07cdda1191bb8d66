// Package recommend maps scored factors to catalog actions.
package recommend

import (
	"fmt"

	"github.com/opensource-finance/larder/internal/domain"
)

// DefaultMaxRecommendations caps a list when a domain does not set K.
const DefaultMaxRecommendations = 3

// Context carries per-evaluation inputs that shape the recommendation list.
type Context struct {
	EntityID string

	// Floor raises order recommendations to at least this priority.
	// Empty leaves catalog priorities untouched.
	Floor domain.Priority
}

// Generator produces ordered recommendations for one domain.
// It is immutable after construction and safe for concurrent use.
type Generator struct {
	domain        string
	catalog       map[string]domain.CatalogEntry
	factorActions map[string]string
	intervention  string
	max           int
}

// NewGenerator validates the catalog wiring of a domain. Every action
// referenced by a factor or as the intervention must exist in the catalog.
func NewGenerator(cfg domain.DomainConfig) (*Generator, error) {
	g := &Generator{
		domain:        cfg.Name,
		catalog:       make(map[string]domain.CatalogEntry, len(cfg.Catalog)),
		factorActions: make(map[string]string, len(cfg.FactorActions)),
		intervention:  cfg.Intervention,
		max:           cfg.MaxRecommendations,
	}
	if g.max < 0 {
		return nil, fmt.Errorf("%w: domain %s: negative recommendation limit", domain.ErrInvalidConfig, cfg.Name)
	}
	if g.max == 0 {
		g.max = DefaultMaxRecommendations
	}

	for id, entry := range cfg.Catalog {
		if err := validateEntry(id, entry); err != nil {
			return nil, fmt.Errorf("domain %s: %w", cfg.Name, err)
		}
		g.catalog[id] = entry
	}

	if g.intervention == "" {
		return nil, fmt.Errorf("%w: domain %s: no intervention action", domain.ErrInvalidConfig, cfg.Name)
	}
	if _, ok := g.catalog[g.intervention]; !ok {
		return nil, fmt.Errorf("%w: domain %s: intervention %q not in catalog", domain.ErrInvalidConfig, cfg.Name, g.intervention)
	}

	for factor, action := range cfg.FactorActions {
		if _, ok := g.catalog[action]; !ok {
			return nil, fmt.Errorf("%w: domain %s: factor %q maps to unknown action %q", domain.ErrInvalidConfig, cfg.Name, factor, action)
		}
		g.factorActions[factor] = action
	}

	return g, nil
}

func validateEntry(id string, e domain.CatalogEntry) error {
	if e.Category == "" || e.Title == "" {
		return fmt.Errorf("%w: action %q needs a category and title", domain.ErrInvalidConfig, id)
	}
	switch e.Kind {
	case domain.KindOrder, domain.KindOffer, domain.KindTask:
	default:
		return fmt.Errorf("%w: action %q has unknown kind %q", domain.ErrInvalidConfig, id, e.Kind)
	}
	if !e.Priority.Valid() {
		return fmt.Errorf("%w: action %q has unknown priority %q", domain.ErrInvalidConfig, id, e.Priority)
	}
	if e.Cost.Min < 0 || e.Cost.Max < e.Cost.Min {
		return fmt.Errorf("%w: action %q has an invalid cost range", domain.ErrInvalidConfig, id)
	}
	return nil
}

// Max returns the recommendation limit K.
func (g *Generator) Max() int {
	return g.max
}

// Recommend returns at most K recommendations: the urgent intervention
// first for the highest tier, then one action per factor in factor order.
// Each action appears at most once. Factors without a mapped action are
// skipped.
func (g *Generator) Recommend(class domain.Classification, factors []domain.Factor, rc Context) []domain.Recommendation {
	recs := make([]domain.Recommendation, 0, g.max)
	used := make(map[string]bool)

	add := func(actionID, factor string, priority domain.Priority) {
		if len(recs) >= g.max || used[actionID] {
			return
		}
		used[actionID] = true
		entry := g.catalog[actionID]
		if priority == "" {
			priority = entry.Priority
		}
		if entry.Kind == domain.KindOrder && rc.Floor.Valid() && priority.Rank() < rc.Floor.Rank() {
			priority = rc.Floor
		}
		recs = append(recs, domain.Recommendation{
			EntityID:       rc.EntityID,
			Domain:         g.domain,
			Priority:       priority,
			ActionID:       actionID,
			Category:       entry.Category,
			Kind:           entry.Kind,
			Title:          entry.Title,
			Description:    entry.Description,
			ExpectedImpact: entry.ExpectedImpact,
			Cost:           entry.Cost,
			SuccessRate:    entry.SuccessRate,
			Factor:         factor,
		})
	}

	if class.Highest {
		add(g.intervention, "", domain.PriorityUrgent)
	}
	for _, f := range factors {
		if action, ok := g.factorActions[f.Name]; ok {
			add(action, f.Name, "")
		}
	}

	return recs
}
