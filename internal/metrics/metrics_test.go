package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHintsEmittedGroupsTopics(t *testing.T) {
	m := New()
	m.HintsEmitted([]string{"user-frustrated", "topic:render", "topic:premiere"})
	m.HintsEmitted(nil)
	m.HintsDropped()

	if got := testutil.ToFloat64(m.HintEmissions.WithLabelValues("topic")); got != 2 {
		t.Fatalf("topic emissions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.HintEmissions.WithLabelValues("user-frustrated")); got != 1 {
		t.Fatalf("frustrated emissions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.HintEmissions.WithLabelValues("none")); got != 1 {
		t.Fatalf("empty emissions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.HintDrops); got != 1 {
		t.Fatalf("drops = %v, want 1", got)
	}
}

func TestCountersAndGauge(t *testing.T) {
	m := New()
	m.PushOutcome("delivered")
	m.PushOutcome("delivered")
	m.InsightOutcome("accepted", 3)
	m.InsightOutcome("rejected", 0)
	m.RateLimitedFunc("insights")()
	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed()

	if got := testutil.ToFloat64(m.PushDeliveries.WithLabelValues("delivered")); got != 2 {
		t.Fatalf("push deliveries = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.InsightSignals.WithLabelValues("accepted")); got != 3 {
		t.Fatalf("accepted signals = %v, want 3", got)
	}
	if got := testutil.CollectAndCount(m.InsightSignals); got != 1 {
		t.Fatalf("expected only the accepted series, got %d", got)
	}
	if got := testutil.ToFloat64(m.RateLimited.WithLabelValues("insights")); got != 1 {
		t.Fatalf("rate limited = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LiveConnections); got != 1 {
		t.Fatalf("live connections = %v, want 1", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.PushOutcome("failed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if !strings.Contains(string(body), `chatdesk_push_deliveries_total{outcome="failed"} 1`) {
		t.Fatalf("expected push counter in exposition, got:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Fatal("expected Go runtime collector in exposition")
	}
}
