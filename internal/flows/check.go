package flows

import (
	"context"
	"errors"

	"github.com/pantrychef/authcore/jwt"
)

// CheckFailureKind classifies access-token check failures.
type CheckFailureKind int

const (
	CheckFailureNone CheckFailureKind = iota
	CheckFailureDecode
	CheckFailureRevoked
	CheckFailureStore
)

var errRevoked = errors.New("access token revoked")

type CheckResult struct {
	Failure CheckFailureKind
	Err     error
	Claims  *jwt.Claims
}

type RevocationReader interface {
	IsRevoked(ctx context.Context, tokenIDs ...string) (bool, error)
}

// CheckDeps captures access-token check dependencies.
type CheckDeps struct {
	Tokens      TokenCodec
	Revocations RevocationReader
	Timeout     StoreTimeout
}

// RunCheck verifies signature and expiry, then consults the revocation store
// for both the token id and its chain id. A store failure is reported as such
// and must be treated as invalid by the caller.
func RunCheck(ctx context.Context, accessToken string, deps CheckDeps) CheckResult {
	claims, err := deps.Tokens.Decode(accessToken, jwt.TypeAccess)
	if err != nil {
		return CheckResult{Failure: CheckFailureDecode, Err: err}
	}

	storeCtx, cancel := deps.Timeout.bound(ctx)
	revoked, err := deps.Revocations.IsRevoked(storeCtx, claims.TokenID, claims.ChainID)
	cancel()
	if err != nil {
		return CheckResult{Failure: CheckFailureStore, Err: err, Claims: claims}
	}
	if revoked {
		return CheckResult{Failure: CheckFailureRevoked, Err: errRevoked, Claims: claims}
	}
	return CheckResult{Claims: claims}
}
