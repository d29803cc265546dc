// Package prometheus renders engine metrics for Prometheus scraping.
//
// [NewPrometheusExporter] accepts a [nextstep.Engine] and exposes an
// [net/http.Handler] that renders all engine counters and histograms in
// Prometheus text exposition format. Counter names are prefixed
// nextstep_*_total; the single histogram is nextstep_authenticate_latency_seconds.
//
// The exporter never registers anything in a global Prometheus registry;
// callers mount the Handler wherever they serve metrics.
package prometheus
