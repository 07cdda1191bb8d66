// Package forecast implements demand forecasting and reorder planning
// for stocked items.
package forecast

import (
	"math"

	"github.com/opensource-finance/larder/internal/domain"
)

// Trend detection over daily demand uses the same rule as the feature
// extractor: compare halves and flag a relative change beyond 15%.
const (
	TrendThreshold = 0.15
	TrendMinPoints = 4
)

// Confidence bounds.
const (
	minConfidence  = 0.3
	maxConfidence  = 0.95
	fullDataPoints = 30.0
)

// NoCover is reported as days of cover when there is no demand.
const NoCover = 999.0

// Compute summarizes a daily demand series (oldest first).
func Compute(series []float64) domain.Forecast {
	clean := make([]float64, 0, len(series))
	for _, v := range series {
		if isFinite(v) && v >= 0 {
			clean = append(clean, v)
		}
	}

	daily := Mean(clean)
	vol := PopStdDev(clean)

	// Confidence grows with the amount of data and shrinks with
	// relative volatility.
	ratio := 1.0
	if daily > 0 {
		ratio = math.Min(1, vol/daily)
	}
	dataScore := math.Min(1, float64(len(clean))/fullDataPoints)
	confidence := 0.5*dataScore + 0.5*(1-ratio)
	confidence = math.Max(minConfidence, math.Min(maxConfidence, confidence))

	return domain.Forecast{
		DailyAvg:   daily,
		WeeklyAvg:  daily * 7,
		MonthlyAvg: daily * 30,
		Trend:      domain.TrendLabel(RelativeTrend(clean, TrendMinPoints, TrendThreshold)),
		Volatility: vol,
		Confidence: confidence,
		DataPoints: len(clean),
	}
}

// Plan derives the reorder decision for an item from its daily demand
// series and stock parameters.
func Plan(series []float64, params domain.InventoryParams) domain.ReorderPlan {
	f := Compute(series)

	stock := params.CurrentStock
	if !isFinite(stock) {
		stock = 0
	}
	lead := math.Max(0, params.LeadTimeDays)
	safety := math.Max(0, params.SafetyMultiplier)

	rop := math.Ceil(f.DailyAvg*lead + f.Volatility*safety)
	eoq := economicOrderQty(f.DailyAvg, params.OrderingCost, params.HoldingCost)
	status := stockStatus(stock, rop, f.MonthlyAvg)

	plan := domain.ReorderPlan{
		Forecast:         f,
		CurrentStock:     stock,
		ReorderPoint:     rop,
		EconomicOrderQty: eoq,
		Status:           status,
		Priority:         statusPriority(status),
		DaysOfCover:      NoCover,
	}

	if f.DailyAvg > 0 {
		plan.DaysOfCover = math.Max(0, stock) / f.DailyAvg
	}
	plan.StockoutRiskInDays = math.Max(0, plan.DaysOfCover-lead)

	if NeedsReorder(status) {
		// Bring stock back above the reorder point and cover the lead time.
		gap := math.Ceil(rop - math.Max(0, stock) + f.DailyAvg*lead)
		plan.SuggestedOrderQty = math.Max(eoq, gap)
		if plan.SuggestedOrderQty > 0 {
			plan.EstimatedOrderCost = plan.SuggestedOrderQty*math.Max(0, params.UnitCost) + math.Max(0, params.OrderingCost)
		}
	}

	return plan
}

// NeedsReorder reports whether a stock status calls for an order.
func NeedsReorder(status string) bool {
	switch status {
	case domain.StockOut, domain.StockCritical, domain.StockLow:
		return true
	}
	return false
}

// economicOrderQty uses the classic EOQ formula on annualized demand and
// falls back to two weeks of demand when holding cost is unknown.
func economicOrderQty(daily, orderingCost, holdingCost float64) float64 {
	if holdingCost <= 0 {
		return math.Ceil(daily * 14)
	}
	annual := daily * 365
	return math.Ceil(math.Sqrt(2 * annual * math.Max(0, orderingCost) / holdingCost))
}

func stockStatus(stock, rop, monthly float64) string {
	switch {
	case stock <= 0:
		return domain.StockOut
	case stock < rop/2:
		return domain.StockCritical
	case stock < rop:
		return domain.StockLow
	case stock > 2*monthly:
		return domain.StockOverstock
	default:
		return domain.StockHealthy
	}
}

func statusPriority(status string) domain.Priority {
	switch status {
	case domain.StockOut, domain.StockCritical:
		return domain.PriorityCritical
	case domain.StockLow:
		return domain.PriorityHigh
	default:
		return domain.PriorityLow
	}
}
