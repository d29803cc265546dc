package internaldefs

import (
	nextstep "github.com/wultra/powerauth-webflow-sub003"
)

// CounterDef binds one engine counter to its stable exported name.
type CounterDef struct {
	ID   nextstep.MetricID
	Name string
	Help string
}

// HistogramDef binds one engine histogram to its stable exported name.
type HistogramDef struct {
	ID   nextstep.MetricID
	Name string
	Help string
}

// CounterDefs lists every engine counter in export order.
var CounterDefs = []CounterDef{
	{ID: nextstep.MetricOperationCreated, Name: "nextstep_operation_created_total", Help: "Created operations."},
	{ID: nextstep.MetricOperationDone, Name: "nextstep_operation_done_total", Help: "Operations that completed successfully."},
	{ID: nextstep.MetricOperationFailed, Name: "nextstep_operation_failed_total", Help: "Operations that terminated without success."},
	{ID: nextstep.MetricOperationCanceled, Name: "nextstep_operation_canceled_total", Help: "Caller-canceled operations."},
	{ID: nextstep.MetricCredentialAuthSuccess, Name: "nextstep_credential_auth_success_total", Help: "Successful credential verifications."},
	{ID: nextstep.MetricCredentialAuthFailure, Name: "nextstep_credential_auth_failure_total", Help: "Failed credential verifications."},
	{ID: nextstep.MetricOtpAuthSuccess, Name: "nextstep_otp_auth_success_total", Help: "Successful OTP verifications."},
	{ID: nextstep.MetricOtpAuthFailure, Name: "nextstep_otp_auth_failure_total", Help: "Failed OTP verifications."},
	{ID: nextstep.MetricCombinedAuthSuccess, Name: "nextstep_combined_auth_success_total", Help: "Successful combined credential and OTP verifications."},
	{ID: nextstep.MetricCombinedAuthFailure, Name: "nextstep_combined_auth_failure_total", Help: "Failed combined credential and OTP verifications."},
	{ID: nextstep.MetricCredentialBlockedTemporary, Name: "nextstep_credential_blocked_temporary_total", Help: "Credentials blocked by the soft failure limit."},
	{ID: nextstep.MetricCredentialBlockedPermanent, Name: "nextstep_credential_blocked_permanent_total", Help: "Credentials blocked by the hard failure limit or manually."},
	{ID: nextstep.MetricOtpBlocked, Name: "nextstep_otp_blocked_total", Help: "One-time passwords blocked by the attempt limit."},
	{ID: nextstep.MetricCredentialCreated, Name: "nextstep_credential_created_total", Help: "Created credentials."},
	{ID: nextstep.MetricCredentialRemoved, Name: "nextstep_credential_removed_total", Help: "Soft-deleted credentials."},
	{ID: nextstep.MetricOtpCreated, Name: "nextstep_otp_created_total", Help: "Created one-time passwords."},
	{ID: nextstep.MetricOtpSuperseded, Name: "nextstep_otp_superseded_total", Help: "One-time passwords removed because a newer one was issued for the same operation."},
	{ID: nextstep.MetricCountersReset, Name: "nextstep_counters_reset_total", Help: "Credentials touched by bulk counter resets."},
	{ID: nextstep.MetricUserBlocked, Name: "nextstep_user_blocked_total", Help: "User identity blocking transitions."},
	{ID: nextstep.MetricAssertionIssued, Name: "nextstep_assertion_issued_total", Help: "Signed operation assertions issued on completion."},
}

// HistogramDefs lists every engine histogram in export order.
var HistogramDefs = []HistogramDef{
	{ID: nextstep.MetricAuthenticateLatency, Name: "nextstep_authenticate_latency_seconds", Help: "Authenticate hot-path latency histogram."},
}

// HistogramBounds holds the upper bucket bounds in seconds, Prometheus le form.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix holds the bucket bounds in metric-name-safe form for
// exporters that cannot carry labels.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw bucket slice to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into the cumulative form
// Prometheus histograms expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
