package pipeline

import "github.com/opensource-finance/larder/internal/domain"

// Built-in domain names.
const (
	DomainChurn     = "churn"
	DomainInventory = "inventory"
	DomainMarketing = "marketing"
)

// BuiltinDomains returns the shipped domain tables. Callers may modify the
// returned values; each call builds fresh copies.
func BuiltinDomains() []domain.DomainConfig {
	return []domain.DomainConfig{
		churnDomain(),
		inventoryDomain(),
		marketingDomain(),
	}
}

func churnDomain() domain.DomainConfig {
	return domain.DomainConfig{
		Name:           DomainChurn,
		Description:    "Customer churn risk",
		Extractor:      domain.DefaultExtractorConfig(),
		MaterialImpact: 0.5,
		Dimensions: []domain.DimensionConfig{
			{
				Dimension: domain.DimRecency, Weight: 0.30, Direction: domain.DirectionAbove, Default: 0.1,
				Bands:  []domain.Band{{Limit: 60, Score: 1.0}, {Limit: 30, Score: 0.7}, {Limit: 14, Score: 0.4}},
				Factor: "Long Absence", Description: "No order in {value} days",
			},
			{
				Dimension: domain.DimFrequency, Weight: 0.25, Direction: domain.DirectionBelow, Default: 0.1,
				Bands:  []domain.Band{{Limit: 0.5, Score: 1.0}, {Limit: 1, Score: 0.7}, {Limit: 2, Score: 0.4}},
				Factor: "Low Frequency", Description: "{value} orders per month",
			},
			{
				Dimension: domain.DimMonetary, Weight: 0.15, Direction: domain.DirectionBelow, Default: 0.1,
				Bands:  []domain.Band{{Limit: 50, Score: 0.8}, {Limit: 150, Score: 0.5}, {Limit: 300, Score: 0.3}},
				Factor: "Low Spend", Description: "Spent {value} in the last 90 days",
			},
			{
				Dimension: domain.DimEngagement, Weight: 0.15, Direction: domain.DirectionBelow, Default: 0.1,
				Bands:  []domain.Band{{Limit: 0.4, Score: 0.8}, {Limit: 0.6, Score: 0.5}, {Limit: 0.8, Score: 0.3}},
				Factor: "Low Engagement", Description: "Engagement score {value}",
			},
			{
				Dimension: domain.DimTrend, Weight: 0.10, Direction: domain.DirectionBelow, Default: 0.1,
				Bands:  []domain.Band{{Limit: 0, Score: 0.8}, {Limit: 0.5, Score: 0.4}},
				Factor: "Declining Orders", Description: "Order values are falling",
			},
			{
				Dimension: domain.DimSatisfaction, Weight: 0.05, Direction: domain.DirectionBelow, Default: 0.1,
				Bands:  []domain.Band{{Limit: 2.5, Score: 0.9}, {Limit: 3.5, Score: 0.6}, {Limit: 4.2, Score: 0.3}},
				Factor: "Low Satisfaction", Description: "Rated {value} out of 5",
			},
		},
		Tiers: []domain.TierThreshold{
			{Tier: "high", Min: 0.7},
			{Tier: "medium", Min: 0.4},
			{Tier: "low", Min: 0},
		},
		Intervention:       "personal_outreach",
		MaxRecommendations: 3,
		Catalog: map[string]domain.CatalogEntry{
			"personal_outreach": {
				Category: "retention", Kind: domain.KindTask, Priority: domain.PriorityHigh,
				Title:          "Personal outreach",
				Description:    "Manager calls or messages the guest with a personal invitation back",
				ExpectedImpact: "Recovers roughly a third of at-risk regulars",
				Cost:           domain.CostRange{Min: 0, Max: 25}, SuccessRate: "35%",
			},
			"win_back_offer": {
				Category: "retention", Kind: domain.KindOffer, Priority: domain.PriorityHigh,
				Title:          "Win-back offer",
				Description:    "Send a time-limited discount on the guest's next order",
				ExpectedImpact: "Brings back lapsed guests within two weeks",
				Cost:           domain.CostRange{Min: 10, Max: 40}, SuccessRate: "25%",
			},
			"loyalty_bonus": {
				Category: "retention", Kind: domain.KindOffer, Priority: domain.PriorityMedium,
				Title:          "Loyalty bonus points",
				Description:    "Credit bonus points redeemable on the next two visits",
				ExpectedImpact: "Raises visit frequency",
				Cost:           domain.CostRange{Min: 5, Max: 20}, SuccessRate: "30%",
			},
			"bundle_offer": {
				Category: "retention", Kind: domain.KindOffer, Priority: domain.PriorityMedium,
				Title:          "Bundle offer",
				Description:    "Offer a meal bundle built around the guest's usual order",
				ExpectedImpact: "Lifts average order value",
				Cost:           domain.CostRange{Min: 5, Max: 15}, SuccessRate: "20%",
			},
			"app_reengagement": {
				Category: "retention", Kind: domain.KindOffer, Priority: domain.PriorityLow,
				Title:          "App re-engagement push",
				Description:    "Push a personalised menu highlight through the app",
				ExpectedImpact: "Reactivates app users",
				Cost:           domain.CostRange{Min: 0, Max: 5}, SuccessRate: "15%",
			},
			"favorite_item_reminder": {
				Category: "retention", Kind: domain.KindOffer, Priority: domain.PriorityMedium,
				Title:          "Favorite item reminder",
				Description:    "Remind the guest of their most ordered dish with a small incentive",
				ExpectedImpact: "Reverses shrinking order values",
				Cost:           domain.CostRange{Min: 3, Max: 10}, SuccessRate: "22%",
			},
			"service_recovery": {
				Category: "operations", Kind: domain.KindTask, Priority: domain.PriorityHigh,
				Title:          "Service recovery follow-up",
				Description:    "Review the guest's last feedback and follow up on the complaint",
				ExpectedImpact: "Restores satisfaction after a bad visit",
				Cost:           domain.CostRange{Min: 0, Max: 50}, SuccessRate: "40%",
			},
		},
		FactorActions: map[string]string{
			"Long Absence":     "win_back_offer",
			"Low Frequency":    "loyalty_bonus",
			"Low Spend":        "bundle_offer",
			"Low Engagement":   "app_reengagement",
			"Declining Orders": "favorite_item_reminder",
			"Low Satisfaction": "service_recovery",
		},
	}
}

func inventoryDomain() domain.DomainConfig {
	return domain.DomainConfig{
		Name:           DomainInventory,
		Description:    "Stock-out risk of inventory items",
		Extractor:      domain.DefaultExtractorConfig(),
		MaterialImpact: 0.5,
		Dimensions: []domain.DimensionConfig{
			{
				Dimension: domain.DimDaysOfCover, Weight: 0.45, Direction: domain.DirectionBelow, Default: 0.1,
				Bands:  []domain.Band{{Limit: 3, Score: 1.0}, {Limit: 7, Score: 0.7}, {Limit: 14, Score: 0.4}},
				Factor: "Low Stock Cover", Description: "{value} days of stock left",
			},
			{
				Dimension: domain.DimStockToReorderPoint, Weight: 0.25, Direction: domain.DirectionBelow, Default: 0.05,
				Bands:  []domain.Band{{Limit: 0.5, Score: 1.0}, {Limit: 1, Score: 0.7}, {Limit: 1.5, Score: 0.3}},
				Factor: "Below Reorder Point", Description: "Stock at {value}x the reorder point",
			},
			{
				Dimension: domain.DimTrend, Weight: 0.10, Direction: domain.DirectionAbove, Default: 0.1,
				Bands:  []domain.Band{{Limit: 0, Score: 0.8}, {Limit: -0.5, Score: 0.3}},
				Factor: "Rising Demand", Description: "Demand is increasing",
			},
			{
				Dimension: domain.DimVariability, Weight: 0.10, Direction: domain.DirectionAbove, Default: 0.1,
				Bands:  []domain.Band{{Limit: 0.5, Score: 0.8}, {Limit: 0.25, Score: 0.5}},
				Factor: "Volatile Demand", Description: "Demand varies by {value}x its mean",
			},
			{
				Dimension: domain.DimForecastConfidence, Weight: 0.10, Direction: domain.DirectionBelow, Default: 0.1,
				Bands:  []domain.Band{{Limit: 0.5, Score: 0.7}, {Limit: 0.7, Score: 0.4}},
				Factor: "Uncertain Forecast", Description: "Forecast confidence {value}",
			},
		},
		Tiers: []domain.TierThreshold{
			{Tier: "critical", Min: 0.7},
			{Tier: "high", Min: 0.5},
			{Tier: "medium", Min: 0.25},
			{Tier: "low", Min: 0},
		},
		Intervention:       "emergency_reorder",
		MaxRecommendations: 3,
		Catalog: map[string]domain.CatalogEntry{
			"emergency_reorder": {
				Category: "reorder", Kind: domain.KindOrder, Priority: domain.PriorityCritical,
				Title:          "Emergency reorder",
				Description:    "Place an expedited supplier order for delivery within the lead time",
				ExpectedImpact: "Prevents a stock-out during service",
				Cost:           domain.CostRange{Min: 150, Max: 1200}, SuccessRate: "95%",
			},
			"reorder_now": {
				Category: "reorder", Kind: domain.KindOrder, Priority: domain.PriorityHigh,
				Title:          "Reorder now",
				Description:    "Place a standard supplier order for the economic order quantity",
				ExpectedImpact: "Restores stock above the reorder point",
				Cost:           domain.CostRange{Min: 100, Max: 800}, SuccessRate: "98%",
			},
			"increase_par_level": {
				Category: "operations", Kind: domain.KindTask, Priority: domain.PriorityMedium,
				Title:          "Increase par level",
				Description:    "Raise the standing par level to follow rising demand",
				ExpectedImpact: "Fewer emergency orders",
				Cost:           domain.CostRange{Min: 0, Max: 0}, SuccessRate: "80%",
			},
			"raise_safety_stock": {
				Category: "operations", Kind: domain.KindTask, Priority: domain.PriorityMedium,
				Title:          "Raise safety stock",
				Description:    "Increase the safety multiplier for this item",
				ExpectedImpact: "Absorbs demand spikes",
				Cost:           domain.CostRange{Min: 0, Max: 0}, SuccessRate: "75%",
			},
			"review_supplier": {
				Category: "operations", Kind: domain.KindTask, Priority: domain.PriorityLow,
				Title:          "Review sales history",
				Description:    "Check recent sales records for gaps before trusting the forecast",
				ExpectedImpact: "Better forecasts",
				Cost:           domain.CostRange{Min: 0, Max: 0}, SuccessRate: "60%",
			},
		},
		FactorActions: map[string]string{
			"Low Stock Cover":     "reorder_now",
			"Below Reorder Point": "reorder_now",
			"Rising Demand":       "increase_par_level",
			"Volatile Demand":     "raise_safety_stock",
			"Uncertain Forecast":  "review_supplier",
		},
		Forecast: &domain.ForecastConfig{
			HistoryDays:             90,
			DefaultLeadTimeDays:     3,
			DefaultSafetyMultiplier: 1.5,
		},
	}
}

func marketingDomain() domain.DomainConfig {
	return domain.DomainConfig{
		Name:           DomainMarketing,
		Description:    "Marketing opportunity of customers",
		Extractor:      domain.DefaultExtractorConfig(),
		MaterialImpact: 0.5,
		Dimensions: []domain.DimensionConfig{
			{
				Dimension: domain.DimMonetary, Weight: 0.30, Direction: domain.DirectionAbove, Default: 0.1,
				Bands:  []domain.Band{{Limit: 1000, Score: 1.0}, {Limit: 500, Score: 0.7}, {Limit: 200, Score: 0.4}},
				Factor: "High Spend", Description: "Spent {value} in the last 90 days",
			},
			{
				Dimension: domain.DimFrequency, Weight: 0.25, Direction: domain.DirectionAbove, Default: 0.1,
				Bands:  []domain.Band{{Limit: 4, Score: 1.0}, {Limit: 2, Score: 0.7}, {Limit: 1, Score: 0.4}},
				Factor: "Frequent Visits", Description: "{value} orders per month",
			},
			{
				Dimension: domain.DimEngagement, Weight: 0.20, Direction: domain.DirectionAbove, Default: 0.2,
				Bands:  []domain.Band{{Limit: 0.8, Score: 0.9}, {Limit: 0.6, Score: 0.6}},
				Factor: "Highly Engaged", Description: "Engagement score {value}",
			},
			{
				Dimension: domain.DimRecency, Weight: 0.15, Direction: domain.DirectionBelow, Default: 0.05,
				Bands:  []domain.Band{{Limit: 7, Score: 1.0}, {Limit: 30, Score: 0.6}, {Limit: 60, Score: 0.3}},
				Factor: "Recent Visit", Description: "Last order {value} days ago",
			},
			{
				Dimension: domain.DimTrend, Weight: 0.10, Direction: domain.DirectionAbove, Default: 0.1,
				Bands:  []domain.Band{{Limit: 0, Score: 0.9}, {Limit: -0.5, Score: 0.4}},
				Factor: "Growing Spend", Description: "Order values are rising",
			},
		},
		Tiers: []domain.TierThreshold{
			{Tier: "vip", Min: 0.75},
			{Tier: "promising", Min: 0.5},
			{Tier: "nurture", Min: 0.25},
			{Tier: "dormant", Min: 0},
		},
		Intervention:       "vip_campaign",
		MaxRecommendations: 3,
		Catalog: map[string]domain.CatalogEntry{
			"vip_campaign": {
				Category: "marketing", Kind: domain.KindOffer, Priority: domain.PriorityHigh,
				Title:          "VIP campaign",
				Description:    "Invite the guest to an exclusive VIP programme",
				ExpectedImpact: "Locks in the most valuable guests",
				Cost:           domain.CostRange{Min: 50, Max: 300}, SuccessRate: "45%",
			},
			"exclusive_tasting": {
				Category: "marketing", Kind: domain.KindOffer, Priority: domain.PriorityMedium,
				Title:          "Exclusive tasting invitation",
				Description:    "Invite the guest to a chef's tasting evening",
				ExpectedImpact: "Deepens relationships with high spenders",
				Cost:           domain.CostRange{Min: 30, Max: 120}, SuccessRate: "35%",
			},
			"loyalty_upgrade": {
				Category: "retention", Kind: domain.KindOffer, Priority: domain.PriorityMedium,
				Title:          "Loyalty tier upgrade",
				Description:    "Upgrade the guest to the next loyalty tier",
				ExpectedImpact: "Rewards frequent guests",
				Cost:           domain.CostRange{Min: 5, Max: 30}, SuccessRate: "50%",
			},
			"referral_program": {
				Category: "marketing", Kind: domain.KindOffer, Priority: domain.PriorityLow,
				Title:          "Referral programme",
				Description:    "Offer a reward for bringing a friend",
				ExpectedImpact: "Acquires new guests through engaged ones",
				Cost:           domain.CostRange{Min: 10, Max: 40}, SuccessRate: "18%",
			},
			"upsell_bundle": {
				Category: "marketing", Kind: domain.KindOffer, Priority: domain.PriorityMedium,
				Title:          "Upsell bundle",
				Description:    "Promote a premium bundle while spend is growing",
				ExpectedImpact: "Raises average order value",
				Cost:           domain.CostRange{Min: 5, Max: 20}, SuccessRate: "25%",
			},
			"feedback_request": {
				Category: "operations", Kind: domain.KindTask, Priority: domain.PriorityLow,
				Title:          "Request a review",
				Description:    "Ask the recently visiting guest for a public review",
				ExpectedImpact: "More reviews while the visit is fresh",
				Cost:           domain.CostRange{Min: 0, Max: 0}, SuccessRate: "20%",
			},
		},
		FactorActions: map[string]string{
			"High Spend":      "exclusive_tasting",
			"Frequent Visits": "loyalty_upgrade",
			"Highly Engaged":  "referral_program",
			"Recent Visit":    "feedback_request",
			"Growing Spend":   "upsell_bundle",
		},
	}
}
