package domain

// Forecast summarizes a daily demand series.
type Forecast struct {
	DailyAvg   float64 `json:"dailyAvg"`
	WeeklyAvg  float64 `json:"weeklyAvg"`
	MonthlyAvg float64 `json:"monthlyAvg"`
	Trend      string  `json:"trend"` // increasing, stable, decreasing
	Volatility float64 `json:"volatility"`
	Confidence float64 `json:"confidence"`
	DataPoints int     `json:"dataPoints"`
}

// Stock statuses, in evaluation priority order.
const (
	StockOut       = "stockout"
	StockCritical  = "critical"
	StockLow       = "low"
	StockOverstock = "overstock"
	StockHealthy   = "healthy"
)

// ReorderPlan is the replenishment decision derived from a forecast.
type ReorderPlan struct {
	Forecast           Forecast `json:"forecast"`
	CurrentStock       float64  `json:"currentStock"`
	ReorderPoint       float64  `json:"reorderPoint"`
	EconomicOrderQty   float64  `json:"economicOrderQty"`
	Status             string   `json:"status"`
	Priority           Priority `json:"priority"`
	DaysOfCover        float64  `json:"daysOfCover"`
	SuggestedOrderQty  float64  `json:"suggestedOrderQty"`
	EstimatedOrderCost float64  `json:"estimatedOrderCost"`
	StockoutRiskInDays float64  `json:"stockoutRiskInDays"`
}
