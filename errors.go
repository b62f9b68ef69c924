package authcore

import (
	"errors"

	"github.com/pantrychef/authcore/identity"
	"github.com/pantrychef/authcore/jwt"
)

var (
	// ErrInvalidIdentity is returned when an identity assertion does not verify,
	// and by Logout when the presented access token cannot be decoded.
	ErrInvalidIdentity = identity.ErrInvalidIdentity
	// ErrMalformedToken is returned for tokens that cannot be parsed, carry an
	// invalid claim set or are of the wrong type.
	ErrMalformedToken = jwt.ErrMalformedToken
	// ErrBadSignature is returned for tokens not signed by this system.
	ErrBadSignature = jwt.ErrBadSignature
	// ErrTokenExpired is returned for tokens at or past their expiry.
	ErrTokenExpired = jwt.ErrExpiredToken
	// ErrTokenNotFound is returned when a refresh token has no backing record.
	ErrTokenNotFound = errors.New("refresh token not found")
	// ErrReuseDetected is returned when a consumed or revoked refresh token is
	// presented again. The token's chain has been revoked before it is returned.
	ErrReuseDetected = errors.New("refresh token reuse detected")
	// ErrStoreUnavailable reports a transient backend failure. It is safe to retry
	// and never implies reuse.
	ErrStoreUnavailable = errors.New("auth store unavailable")
	// ErrUnauthorized is returned by Validate for a revoked access token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrEngineNotReady is returned by methods of an Engine not built by Builder.
	ErrEngineNotReady = errors.New("engine not initialized")
)
