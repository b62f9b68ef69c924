// Package prometheus exposes engine metrics through
// github.com/prometheus/client_golang.
//
// [Collector] implements prometheus.Collector and turns each scrape into a
// snapshot read: counters become authcore_*_total, latency histograms become
// authcore_*_latency_seconds. [Handler] serves it from a private registry.
//
// # What this package must NOT do
//
//   - Register into the global Prometheus registry.
//   - Mutate engine state.
package prometheus
