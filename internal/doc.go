// Package internal holds helpers private to authcore, currently the random
// token and chain id generators.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: flow orchestrators for every Engine operation
//   - janitor: periodic pruning of expired session and revocation entries
//   - logging: zap logger construction for the binaries
//   - metrics: lock-free counters and latency histograms
//   - rate: Redis-backed fixed-window rate limiter shared across replicas
//   - serverconfig: viper configuration for authcore-server
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
package internal
