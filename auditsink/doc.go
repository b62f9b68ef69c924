// Package auditsink provides authcore audit sinks backed by Kafka and zap.
//
// Both sinks are meant to sit behind the engine's audit dispatcher, which
// already runs them off the request path with a per-event timeout.
package auditsink
