package forecast

import (
	"math"
	"sort"
	"time"

	"github.com/opensource-finance/larder/internal/domain"
)

// ValueFunc selects the value of an event that is aggregated per day.
type ValueFunc func(ev domain.Event) float64

// ByAmount aggregates event amounts.
func ByAmount(ev domain.Event) float64 { return ev.Amount }

// ByQuantity aggregates units, falling back to the amount when no
// quantity was recorded.
func ByQuantity(ev domain.Event) float64 {
	if ev.Quantity > 0 {
		return ev.Quantity
	}
	return ev.Amount
}

// DailySeries aggregates events into a dense series of `days` UTC calendar
// days starting at start. Days without events are zero.
func DailySeries(events []domain.Event, start time.Time, days int, value ValueFunc) []float64 {
	if days <= 0 {
		return nil
	}
	first := truncateDay(start)
	series := make([]float64, days)
	for _, ev := range events {
		idx := int(truncateDay(ev.Timestamp).Sub(first).Hours() / 24)
		if idx < 0 || idx >= days {
			continue
		}
		v := value(ev)
		if isFinite(v) {
			series[idx] += v
		}
	}
	return series
}

// DailyTotals aggregates events per UTC calendar day and returns the
// totals of the days that had at least one event, oldest first.
func DailyTotals(events []domain.Event, value ValueFunc) []float64 {
	totals := make(map[int64]float64)
	for _, ev := range events {
		v := value(ev)
		if !isFinite(v) {
			continue
		}
		totals[truncateDay(ev.Timestamp).Unix()] += v
	}

	keys := make([]int64, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]float64, len(keys))
	for i, k := range keys {
		out[i] = totals[k]
	}
	return out
}

// Mean returns the arithmetic mean, or 0 for an empty series.
func Mean(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	var sum float64
	for _, v := range series {
		sum += v
	}
	return sum / float64(len(series))
}

// PopStdDev returns the population standard deviation.
func PopStdDev(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	mean := Mean(series)
	var sq float64
	for _, v := range series {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(series)))
}

// MovingAverage returns the trailing moving average over window points.
// The first window-1 points average over what is available.
func MovingAverage(series []float64, window int) []float64 {
	if window <= 0 || len(series) == 0 {
		return nil
	}
	out := make([]float64, len(series))
	var sum float64
	for i, v := range series {
		sum += v
		if i >= window {
			sum -= series[i-window]
		}
		n := window
		if i+1 < window {
			n = i + 1
		}
		out[i] = sum / float64(n)
	}
	return out
}

// RelativeTrend compares the mean of the first half of values with the mean
// of the second half. It returns +1 when the second half is more than
// threshold higher (relative), -1 when it is more than threshold lower,
// and 0 otherwise or when fewer than minPoints values are given.
func RelativeTrend(values []float64, minPoints int, threshold float64) float64 {
	if len(values) < minPoints || len(values) < 2 {
		return domain.TrendStable
	}
	half := len(values) / 2
	first := Mean(values[:half])
	second := Mean(values[half:])

	if first == 0 {
		if second > 0 {
			return domain.TrendIncreasing
		}
		return domain.TrendStable
	}

	change := (second - first) / first
	switch {
	case change > threshold:
		return domain.TrendIncreasing
	case change < -threshold:
		return domain.TrendDecreasing
	default:
		return domain.TrendStable
	}
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
