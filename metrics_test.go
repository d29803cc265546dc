package nextstep

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricCredentialAuthSuccess)

	if got := m.Value(MetricCredentialAuthSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestMetricsEnabledIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricCredentialAuthSuccess)
	m.Inc(MetricCredentialAuthSuccess)
	m.Inc(MetricCredentialAuthSuccess)

	if got := m.Value(MetricCredentialAuthSuccess); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricOtpAuthFailure)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricOtpAuthFailure); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		700 * time.Millisecond,
	}

	for _, d := range observations {
		m.Observe(MetricAuthenticateLatency, d)
	}

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricAuthenticateLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}

	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
}

func TestMetricsSnapshotConsistency(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})
	m.Inc(MetricOperationCreated)
	m.Inc(MetricOperationFailed)
	m.Inc(MetricOperationFailed)
	m.Observe(MetricAuthenticateLatency, 2*time.Millisecond)

	snap := m.Snapshot()

	if snap.Counters[MetricOperationCreated] != 1 {
		t.Fatalf("expected MetricOperationCreated=1 got %d", snap.Counters[MetricOperationCreated])
	}
	if snap.Counters[MetricOperationFailed] != 2 {
		t.Fatalf("expected MetricOperationFailed=2 got %d", snap.Counters[MetricOperationFailed])
	}
	if len(snap.Histograms[MetricAuthenticateLatency]) != 8 {
		t.Fatalf("expected histogram length 8")
	}
	if snap.Histograms[MetricAuthenticateLatency][0] != 1 {
		t.Fatalf("expected first histogram bucket=1 got %d", snap.Histograms[MetricAuthenticateLatency][0])
	}
}

func TestEngineCountsOperationLifecycle(t *testing.T) {
	engine, done := newTestEngine(t)
	defer done()
	seedAuthData(t, engine)

	op := seedLoginOperation(t, engine)
	if _, err := engine.CancelOperation(context.Background(), op.OperationID(), ""); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricOperationCreated] != 1 {
		t.Fatalf("expected 1 created, got %d", snap.Counters[MetricOperationCreated])
	}
	if snap.Counters[MetricOperationCanceled] != 1 {
		t.Fatalf("expected 1 canceled, got %d", snap.Counters[MetricOperationCanceled])
	}
	if snap.Counters[MetricOperationFailed] != 1 {
		t.Fatalf("expected 1 failed, got %d", snap.Counters[MetricOperationFailed])
	}
}
