package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

func TestRoutingMetricsCountsDecisions(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewRoutingMetrics("api", registry)

	m.ObserveRouting(domain.IntentSummary, domain.DecisionRetrieveThenAnswer, false)
	m.ObserveRouting(domain.IntentFactual, domain.DecisionDirectAnswer, true)
	m.ObserveRouting(domain.IntentFactual, domain.DecisionDirectAnswer, true)

	got := testutil.ToFloat64(m.decisionsTotal.WithLabelValues("api", "factual", "direct_answer", "true"))
	if got != 2 {
		t.Fatalf("expected 2 degraded factual decisions, got %v", got)
	}
	if got := testutil.ToFloat64(m.degradedTotal.WithLabelValues("api")); got != 2 {
		t.Fatalf("expected degraded counter 2, got %v", got)
	}
}

func TestRoutingMetricsObservesStages(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewRoutingMetrics("worker", registry)

	m.ObserveStage("retrieve", "ok", 0.2)
	m.ObserveStage("generate", "", 1.5)

	if count := testutil.CollectAndCount(m.stageDuration); count != 2 {
		t.Fatalf("expected 2 stage series, got %d", count)
	}
}

func TestHTTPMetricsNormalizesJobPath(t *testing.T) {
	if got := normalizePath("/v1/query/jobs/3f1c"); got != "/v1/query/jobs/{job_id}" {
		t.Fatalf("unexpected normalized path %q", got)
	}
	if got := normalizePath("/v1/query"); got != "/v1/query" {
		t.Fatalf("unexpected normalized path %q", got)
	}
}
