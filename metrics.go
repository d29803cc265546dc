package nextstep

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one counter or histogram in the in-process metrics system.
type MetricID uint16

const (
	// MetricOperationCreated counts created operations.
	MetricOperationCreated MetricID = iota
	// MetricOperationDone counts operations that reached DONE.
	MetricOperationDone
	// MetricOperationFailed counts operations that reached FAILED.
	MetricOperationFailed
	// MetricOperationCanceled counts caller-canceled operations.
	MetricOperationCanceled
	// MetricCredentialAuthSuccess counts successful credential verifications.
	MetricCredentialAuthSuccess
	// MetricCredentialAuthFailure counts failed credential verifications.
	MetricCredentialAuthFailure
	// MetricOtpAuthSuccess counts successful OTP verifications.
	MetricOtpAuthSuccess
	// MetricOtpAuthFailure counts failed OTP verifications.
	MetricOtpAuthFailure
	// MetricCombinedAuthSuccess counts successful combined verifications.
	MetricCombinedAuthSuccess
	// MetricCombinedAuthFailure counts failed combined verifications.
	MetricCombinedAuthFailure
	// MetricCredentialBlockedTemporary counts soft-limit blocking transitions.
	MetricCredentialBlockedTemporary
	// MetricCredentialBlockedPermanent counts hard-limit blocking transitions.
	MetricCredentialBlockedPermanent
	// MetricOtpBlocked counts OTP attempt-limit blocking transitions.
	MetricOtpBlocked
	// MetricCredentialCreated counts created credentials.
	MetricCredentialCreated
	// MetricCredentialRemoved counts soft-deleted credentials.
	MetricCredentialRemoved
	// MetricOtpCreated counts created one-time passwords.
	MetricOtpCreated
	// MetricOtpSuperseded counts OTPs removed because a newer one was issued for
	// the same operation.
	MetricOtpSuperseded
	// MetricCountersReset counts credentials touched by bulk counter resets.
	MetricCountersReset
	// MetricUserBlocked counts user identity blocking transitions.
	MetricUserBlocked
	// MetricAssertionIssued counts signed operation assertions.
	MetricAssertionIssued
	// MetricAuthenticateLatency is the histogram for the authenticate hot path.
	MetricAuthenticateLatency

	metricIDCount
)

const histBucketCount = 8

type paddedCounter struct {
	value uint64
	_     [56]byte
}

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

// Metrics holds atomic counters and an optional latency histogram for the
// authenticate path. A nil or disabled Metrics is a no-op.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time deep copy of all metrics.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a Metrics instance. When cfg.Enabled is false all
// operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether the metrics system records anything.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the latency histogram is active.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc increments one counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records one latency observation into the authenticate histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id != MetricAuthenticateLatency {
		return
	}
	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value reads one counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot deep-copies all counters and histograms.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricAuthenticateLatency].buckets[i])
		}
		s.Histograms[MetricAuthenticateLatency] = buckets
	}
	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
