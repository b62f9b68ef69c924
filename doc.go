// Package authcore is the authentication and session-security core of the
// Pantry Chef backend. It exchanges a verified third-party identity assertion
// for a locally issued access/refresh token pair, rotates refresh tokens on
// every use, detects replay of consumed refresh tokens and revokes the
// compromised session chain.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config] and value types
// ([TokenPair], [AuthResult], [SessionInfo], [MetricsSnapshot]). Flow orchestration, audit
// dispatch and metric storage live under internal/ and are never exported. Persistence is
// injected through the [session.Store] and [revocation.Store] contracts.
//
// # What this package must NOT do
//
//   - Expose backend clients or encoding details in its public API.
//   - Perform I/O outside of Engine methods (construction via Builder is allocation-only
//     until Build).
//   - Write to any store on a failure path other than reuse detection.
//   - Treat a store timeout as reuse.
//
// # Performance contract
//
// Check is the hot path: one signature verification and a single revocation lookup for
// both the token id and its chain id. Refresh costs one record read and one atomic rotate.
package authcore
