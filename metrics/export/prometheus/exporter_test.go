package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	nextstep "github.com/wultra/powerauth-webflow-sub003"
)

type fakeSource struct {
	snapshot nextstep.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() nextstep.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: nextstep.MetricsSnapshot{
			Counters:   map[nextstep.MetricID]uint64{},
			Histograms: map[nextstep.MetricID][]uint64{},
		},
		dropped: 0,
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderDeterministicIncludesCounterAndHistogram(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: nextstep.MetricsSnapshot{
			Counters: map[nextstep.MetricID]uint64{
				nextstep.MetricCredentialAuthSuccess: 7,
			},
			Histograms: map[nextstep.MetricID][]uint64{
				nextstep.MetricAuthenticateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	if !strings.Contains(out, "nextstep_credential_auth_success_total 7") {
		t.Fatalf("expected credential auth counter in output, got:\n%s", out)
	}
	if !strings.Contains(out, "nextstep_authenticate_latency_seconds_bucket{le=\"0.005\"} 1") {
		t.Fatalf("expected first histogram bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "nextstep_authenticate_latency_seconds_bucket{le=\"+Inf\"} 36") {
		t.Fatalf("expected +Inf cumulative bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "nextstep_authenticate_latency_seconds_count 36") {
		t.Fatalf("expected histogram count in output, got:\n%s", out)
	}
	if !strings.Contains(out, "nextstep_audit_dropped_total 2") {
		t.Fatalf("expected audit dropped counter in output, got:\n%s", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: nextstep.MetricsSnapshot{
			Counters:   map[nextstep.MetricID]uint64{nextstep.MetricOperationCreated: 1},
			Histograms: map[nextstep.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
