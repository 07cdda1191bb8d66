package recommend

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/opensource-finance/larder/internal/domain"
)

func testConfig() domain.DomainConfig {
	return domain.DomainConfig{
		Name:               "churn",
		Intervention:       "personal_call",
		MaxRecommendations: 3,
		Catalog: map[string]domain.CatalogEntry{
			"personal_call": {Category: "retention", Kind: domain.KindTask, Title: "Personal call", Priority: domain.PriorityHigh},
			"win_back":      {Category: "retention", Kind: domain.KindOffer, Title: "Win-back offer", Priority: domain.PriorityHigh, Cost: domain.CostRange{Min: 5, Max: 15}},
			"loyalty_bonus": {Category: "retention", Kind: domain.KindOffer, Title: "Loyalty bonus", Priority: domain.PriorityMedium},
			"feedback":      {Category: "operations", Kind: domain.KindTask, Title: "Ask for feedback", Priority: domain.PriorityLow},
		},
		FactorActions: map[string]string{
			"Long Absence":     "win_back",
			"Low Frequency":    "loyalty_bonus",
			"Low Spend":        "loyalty_bonus",
			"Low Satisfaction": "feedback",
		},
	}
}

func factors(names ...string) []domain.Factor {
	out := make([]domain.Factor, len(names))
	for i, n := range names {
		out[i] = domain.Factor{Name: n}
	}
	return out
}

func TestGenerator_Recommend(t *testing.T) {
	g, err := NewGenerator(testConfig())
	if err != nil {
		t.Fatalf("NewGenerator failed: %v", err)
	}

	t.Run("HighestTierPrependsIntervention", func(t *testing.T) {
		recs := g.Recommend(domain.Classification{Tier: "high", Highest: true},
			factors("Long Absence", "Low Frequency"), Context{EntityID: "cust-1"})

		if len(recs) != 3 {
			t.Fatalf("expected 3 recommendations, got %d", len(recs))
		}
		if recs[0].ActionID != "personal_call" || recs[0].Priority != domain.PriorityUrgent {
			t.Errorf("expected urgent intervention first, got %+v", recs[0])
		}
		if recs[1].ActionID != "win_back" || recs[2].ActionID != "loyalty_bonus" {
			t.Errorf("unexpected order: %s, %s", recs[1].ActionID, recs[2].ActionID)
		}
		if recs[1].EntityID != "cust-1" || recs[1].Domain != "churn" {
			t.Errorf("context not propagated: %+v", recs[1])
		}
		if recs[1].Factor != "Long Absence" {
			t.Errorf("expected factor attribution, got %q", recs[1].Factor)
		}
	})

	t.Run("HighestTierNeverEmpty", func(t *testing.T) {
		recs := g.Recommend(domain.Classification{Tier: "high", Highest: true}, nil, Context{})
		if len(recs) != 1 {
			t.Fatalf("expected the intervention alone, got %d", len(recs))
		}
	})

	t.Run("RespectsLimit", func(t *testing.T) {
		recs := g.Recommend(domain.Classification{Tier: "high", Highest: true},
			factors("Long Absence", "Low Frequency", "Low Satisfaction"), Context{})
		if len(recs) > g.Max() {
			t.Errorf("expected at most %d, got %d", g.Max(), len(recs))
		}
	})

	t.Run("DeduplicatesActions", func(t *testing.T) {
		recs := g.Recommend(domain.Classification{Tier: "medium"},
			factors("Low Frequency", "Low Spend", "Low Satisfaction"), Context{})
		if len(recs) != 2 {
			t.Fatalf("expected 2 distinct actions, got %d: %+v", len(recs), recs)
		}
		if recs[0].ActionID != "loyalty_bonus" || recs[1].ActionID != "feedback" {
			t.Errorf("unexpected actions %s, %s", recs[0].ActionID, recs[1].ActionID)
		}
	})

	t.Run("UnmappedFactorsSkipped", func(t *testing.T) {
		recs := g.Recommend(domain.Classification{Tier: "low"}, factors("Declining Orders"), Context{})
		if len(recs) != 0 {
			t.Errorf("expected no recommendations, got %+v", recs)
		}
	})

	t.Run("PriorityFloorRaisesOrdersOnly", func(t *testing.T) {
		cfg := testConfig()
		cfg.Catalog["restock"] = domain.CatalogEntry{Category: "reorder", Kind: domain.KindOrder, Title: "Restock", Priority: domain.PriorityLow}
		cfg.FactorActions["Low Spend"] = "restock"
		og, err := NewGenerator(cfg)
		if err != nil {
			t.Fatalf("NewGenerator failed: %v", err)
		}

		recs := og.Recommend(domain.Classification{Tier: "medium"},
			factors("Low Satisfaction", "Low Spend"), Context{Floor: domain.PriorityCritical})
		if len(recs) != 2 {
			t.Fatalf("expected 2 recommendations, got %d", len(recs))
		}
		if recs[0].ActionID != "feedback" || recs[0].Priority != domain.PriorityLow {
			t.Errorf("expected task priority untouched, got %s %s", recs[0].ActionID, recs[0].Priority)
		}
		if recs[1].ActionID != "restock" || recs[1].Priority != domain.PriorityCritical {
			t.Errorf("expected order raised to critical, got %s %s", recs[1].ActionID, recs[1].Priority)
		}
	})
}

func TestNewGenerator_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.DomainConfig)
	}{
		{"missing intervention", func(c *domain.DomainConfig) { c.Intervention = "" }},
		{"intervention not in catalog", func(c *domain.DomainConfig) { c.Intervention = "nope" }},
		{"factor to unknown action", func(c *domain.DomainConfig) { c.FactorActions["Low Spend"] = "nope" }},
		{"unknown kind", func(c *domain.DomainConfig) {
			e := c.Catalog["feedback"]
			e.Kind = "email"
			c.Catalog["feedback"] = e
		}},
		{"unknown priority", func(c *domain.DomainConfig) {
			e := c.Catalog["feedback"]
			e.Priority = "whenever"
			c.Catalog["feedback"] = e
		}},
		{"inverted cost", func(c *domain.DomainConfig) {
			e := c.Catalog["win_back"]
			e.Cost = domain.CostRange{Min: 20, Max: 10}
			c.Catalog["win_back"] = e
		}},
		{"negative limit", func(c *domain.DomainConfig) { c.MaxRecommendations = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			if _, err := NewGenerator(cfg); !errors.Is(err, domain.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestRecommendation_JSONRoundTrip(t *testing.T) {
	g, err := NewGenerator(testConfig())
	if err != nil {
		t.Fatalf("NewGenerator failed: %v", err)
	}
	recs := g.Recommend(domain.Classification{Highest: true}, factors("Long Absence"), Context{EntityID: "cust-9"})

	data, err := json.Marshal(recs)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded []domain.Recommendation
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(recs, decoded) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", decoded, recs)
	}
}
