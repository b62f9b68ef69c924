package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for a token id or chain id.
	ErrNotFound = errors.New("session record not found")
	// ErrNotActive is returned when a rotation targets a record that is no longer
	// ACTIVE or whose chain has been revoked. It is the lost-race outcome of the
	// conditional transition.
	ErrNotActive = errors.New("session record not active")
	// ErrExpired is returned when a rotation targets an ACTIVE record past its expiry.
	ErrExpired = errors.New("session record expired")
	// ErrDuplicate is returned when a record with the same token id already exists.
	ErrDuplicate = errors.New("session record already exists")
	// ErrUnavailable wraps backend connectivity and timeout failures.
	ErrUnavailable = errors.New("session store unavailable")
)

// Store is the persistence contract for refresh-token records.
//
// Rotate and RevokeChain are the only mutations of existing records and each
// must be atomic with respect to the other: a child can never be attached to a
// chain that a concurrent RevokeChain has already terminated.
type Store interface {
	// Create persists the root record of a new chain.
	Create(ctx context.Context, rec Record) error
	// Get returns the record for tokenID or ErrNotFound.
	Get(ctx context.Context, tokenID string) (Record, error)
	// Rotate marks parentTokenID ROTATED and inserts child, in one indivisible
	// step, only if the parent is still ACTIVE, unexpired at now, and its chain is
	// not revoked. It returns the stored parent as it was before the transition.
	Rotate(ctx context.Context, parentTokenID string, child Record, now time.Time) (Record, error)
	// RevokeChain marks every record of chainID REVOKED and returns them.
	// Repeating it is harmless.
	RevokeChain(ctx context.Context, chainID string, now time.Time) ([]Record, error)
	// Chain returns every record of chainID ordered by issuance.
	Chain(ctx context.Context, chainID string) ([]Record, error)
	// ChainsForSubject returns a summary of every chain owned by subjectID.
	ChainsForSubject(ctx context.Context, subjectID string) ([]Chain, error)
	// Prune deletes records whose expiry is before cutoff and reports how many
	// were removed.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}
