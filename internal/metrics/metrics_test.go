package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	m := New()

	m.ObserveEvaluation("churn", "high", 3*time.Millisecond)
	m.ObserveEvaluation("churn", "high", time.Millisecond)
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	m.Automation("reorder", "executed")
	m.FulfillmentFailure("order")
	m.EventIngested()
	m.ObserveRequest("POST", "/evaluate", 200, 4*time.Millisecond)

	t.Run("Counters", func(t *testing.T) {
		if got := testutil.ToFloat64(m.evaluations.WithLabelValues("churn", "high")); got != 2 {
			t.Errorf("expected 2 evaluations, got %f", got)
		}
		if got := testutil.ToFloat64(m.evaluationCache.WithLabelValues("miss")); got != 2 {
			t.Errorf("expected 2 misses, got %f", got)
		}
		if got := testutil.ToFloat64(m.automations.WithLabelValues("reorder", "executed")); got != 1 {
			t.Errorf("expected 1 automation, got %f", got)
		}
		if got := testutil.ToFloat64(m.ingestedEvents); got != 1 {
			t.Errorf("expected 1 ingested event, got %f", got)
		}
	})

	t.Run("Handler", func(t *testing.T) {
		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
		body, _ := io.ReadAll(rec.Body)
		for _, name := range []string{"larder_evaluations_total", "larder_http_request_duration_seconds_count"} {
			if !strings.Contains(string(body), name) {
				t.Errorf("expected %s in exposition output", name)
			}
		}
		if !strings.Contains(string(body), `route="/evaluate"`) {
			t.Error("expected the route label on HTTP metrics")
		}
	})

	t.Run("NilSafe", func(t *testing.T) {
		var nilMetrics *Metrics
		nilMetrics.ObserveEvaluation("churn", "low", time.Millisecond)
		nilMetrics.Automation("x", "y")
		nilMetrics.CacheLookup(true)
		nilMetrics.ObserveRequest("GET", "/health", 200, time.Millisecond)
		if nilMetrics.Registry() != nil {
			t.Error("expected nil registry")
		}
	})
}
