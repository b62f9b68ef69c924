// Package session defines the refresh-token record model, the [Store] contract
// implemented by every persistence backend, and an in-process [MemoryStore].
//
// # Chains
//
// A chain is the sequence of refresh tokens descending from one sign-in. Each
// [Record] points at its parent; the newest record is the only ACTIVE one.
// Records move ACTIVE to ROTATED on a successful rotation and to REVOKED when
// the chain is terminated. No transition ever leads back to ACTIVE.
//
// # Architecture boundaries
//
// This package owns the record model and store contract. Redis and Postgres
// implementations live under storage/. It does NOT decode tokens or decide
// whether a presentation is a replay; that belongs to the Engine.
//
// # What this package must NOT do
//
//   - Import authcore, jwt or the storage backends (no upward imports).
//   - Store raw token strings; only token ids are persisted.
package session
