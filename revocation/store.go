// Package revocation defines the append-only revocation list consulted on
// every access-token check, together with an in-process implementation.
package revocation

import (
	"context"
	"errors"
	"time"
)

// Reason records why a token id was revoked.
type Reason string

const (
	ReasonLogout         Reason = "LOGOUT"
	ReasonReplayDetected Reason = "REPLAY_DETECTED"
	ReasonAdminAction    Reason = "ADMIN_ACTION"
)

var (
	// ErrNotFound is returned by Get when the id was never revoked.
	ErrNotFound = errors.New("revocation entry not found")
	// ErrUnavailable wraps backend connectivity and timeout failures.
	ErrUnavailable = errors.New("revocation store unavailable")
)

// Entry is one revocation. TokenID may hold an access-token jti or a chain id;
// both share the keyspace. ExpiresAt is the natural expiry of the revoked
// credential, after which the entry may be pruned.
type Entry struct {
	TokenID   string
	RevokedAt time.Time
	Reason    Reason
	ExpiresAt time.Time
}

// Store is the revocation list contract.
//
// Revoke is append-only: revoking an id that is already present keeps the
// original entry and is not an error.
type Store interface {
	Revoke(ctx context.Context, entries ...Entry) error
	// IsRevoked reports whether any of ids is present.
	IsRevoked(ctx context.Context, ids ...string) (bool, error)
	Get(ctx context.Context, id string) (Entry, error)
	// Prune deletes entries whose ExpiresAt is before cutoff.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}
