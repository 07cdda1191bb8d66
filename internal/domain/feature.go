package domain

// Dimension names a feature in a FeatureVector.
type Dimension string

// Base dimensions produced for every domain.
const (
	DimRecency      Dimension = "recency"      // days since last event
	DimFrequency    Dimension = "frequency"    // events per period in the recent window
	DimMonetary     Dimension = "monetary"     // amount summed over the recent window
	DimTrend        Dimension = "trend"        // -1, 0 or +1
	DimVolatility   Dimension = "volatility"   // population stddev of daily totals
	DimEngagement   Dimension = "engagement"   // 0..1
	DimSatisfaction Dimension = "satisfaction" // 0..5
)

// Inventory dimensions, added when a domain enables forecasting.
const (
	DimDaysOfCover         Dimension = "days_of_cover"
	DimVariability         Dimension = "variability" // volatility / mean daily demand
	DimForecastConfidence  Dimension = "forecast_confidence"
	DimStockToReorderPoint Dimension = "stock_to_reorder_point"
)

// BaseDimensions lists the dimensions every FeatureVector carries.
func BaseDimensions() []Dimension {
	return []Dimension{
		DimRecency,
		DimFrequency,
		DimMonetary,
		DimTrend,
		DimVolatility,
		DimEngagement,
		DimSatisfaction,
	}
}

// ForecastDimensions lists the extra dimensions of forecasting domains.
func ForecastDimensions() []Dimension {
	return []Dimension{
		DimDaysOfCover,
		DimVariability,
		DimForecastConfidence,
		DimStockToReorderPoint,
	}
}

// FeatureVector maps each dimension to its raw value.
// All values are finite and non-negative except DimTrend.
type FeatureVector map[Dimension]float64

// Get returns the value for a dimension, or 0 when absent.
func (fv FeatureVector) Get(d Dimension) float64 {
	return fv[d]
}

// Has reports whether the vector carries the dimension.
func (fv FeatureVector) Has(d Dimension) bool {
	_, ok := fv[d]
	return ok
}

// Trend directions as carried in DimTrend.
const (
	TrendDecreasing = -1.0
	TrendStable     = 0.0
	TrendIncreasing = 1.0
)

// TrendLabel returns the categorical form of a signed trend value.
func TrendLabel(v float64) string {
	switch {
	case v > 0:
		return "increasing"
	case v < 0:
		return "decreasing"
	default:
		return "stable"
	}
}
