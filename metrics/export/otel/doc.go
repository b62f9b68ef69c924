// Package otel publishes engine metrics as OpenTelemetry observable
// instruments.
//
// One Int64ObservableCounter is registered per counter and one
// Int64ObservableGauge per histogram bucket. A single callback reads
// [authcore.Engine.MetricsSnapshot] on every collection.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
