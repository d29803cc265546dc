// Package otel provides OpenTelemetry metric exporter bindings for the engine's
// counters and histograms.
//
// [NewOTelExporter] registers an Int64ObservableCounter per engine counter and
// an Int64ObservableGauge per histogram bucket. A single callback reads
// [nextstep.Engine.MetricsSnapshot] on each collection cycle. The exporter never
// owns the MeterProvider; callers supply the Meter.
package otel
