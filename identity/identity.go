// Package identity verifies third-party identity assertions and extracts the
// stable subject id they vouch for.
//
// The Engine only depends on [Verifier]. [FirebaseVerifier] is the production
// implementation for Firebase Authentication ID tokens; its signing keys come
// from a [KeySource].
//
// # What this package must NOT do
//
//   - Issue or persist anything. Verification is read-only.
//   - Trust an assertion whose key id it cannot resolve.
package identity

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidIdentity is returned for every assertion that does not verify.
	// The specific reason is wrapped.
	ErrInvalidIdentity = errors.New("invalid identity assertion")
	// ErrUnknownKey is returned by a KeySource when no key matches the id.
	ErrUnknownKey = errors.New("unknown signing key id")
	// ErrKeysUnavailable is returned when the provider key set cannot be fetched.
	// It is transient and does not say anything about the assertion.
	ErrKeysUnavailable = errors.New("identity provider keys unavailable")
)

// Identity is the verified result of an assertion. It is never persisted.
type Identity struct {
	SubjectID string
	Claims    Claims
}

// Claims carries the provider attributes exposed alongside the subject.
type Claims struct {
	Email          string
	EmailVerified  bool
	Name           string
	Picture        string
	SignInProvider string
	AuthTime       time.Time
	IssuedAt       time.Time
	ExpiresAt      time.Time
}

// Verifier validates an identity assertion.
type Verifier interface {
	Verify(ctx context.Context, assertion string) (*Identity, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, assertion string) (*Identity, error)

func (f VerifierFunc) Verify(ctx context.Context, assertion string) (*Identity, error) {
	return f(ctx, assertion)
}
