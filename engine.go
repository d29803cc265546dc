package nextstep

import (
	"github.com/wultra/powerauth-webflow-sub003/opclaims"
	"github.com/wultra/powerauth-webflow-sub003/secret"
	"github.com/wultra/powerauth-webflow-sub003/steps"
)

// Engine is the authentication orchestration core. It owns the operation
// lifecycle, the credential and OTP stores with their failure counters, and the
// step resolver that decides what a caller must do next.
//
// Engine instances are configured through the Builder and treated as immutable
// afterwards. All methods are safe for concurrent use.
type Engine struct {
	config      Config
	operations  *operationStore
	credentials *credentialStore
	otps        *otpStore
	users       *userStore
	policies    *policyStore
	resolver    *steps.Resolver
	hasher      *secret.Argon2
	assertions  *opclaims.Manager
	audit       *auditDispatcher
	metrics     *Metrics
}

// Close shuts down the audit dispatcher, draining buffered events. The engine
// must not be used after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of all engine metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.operations != nil && e.credentials != nil &&
		e.otps != nil && e.users != nil && e.policies != nil && e.resolver != nil
}
