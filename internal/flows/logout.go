package flows

import (
	"context"

	"github.com/pantrychef/authcore/jwt"
	"github.com/pantrychef/authcore/revocation"
)

// LogoutFailureKind classifies logout flow failures for root-level mapping.
type LogoutFailureKind int

const (
	LogoutFailureNone LogoutFailureKind = iota
	LogoutFailureDecode
	LogoutFailureStore
)

type LogoutResult struct {
	Failure    LogoutFailureKind
	Err        error
	SubjectID  string
	ChainID    string
	TokenID    string
	Revocation RevokeResult
}

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	Tokens TokenCodec
	Revoke RevokeDeps
}

// RunLogout terminates the chain an access token belongs to. The presented
// token id is blacklisted alongside the chain. Repeating it is harmless.
func RunLogout(ctx context.Context, accessToken string, deps LogoutDeps) LogoutResult {
	claims, err := deps.Tokens.Decode(accessToken, jwt.TypeAccess)
	if err != nil {
		return LogoutResult{Failure: LogoutFailureDecode, Err: err}
	}

	out := LogoutResult{
		SubjectID: claims.SubjectID,
		ChainID:   claims.ChainID,
		TokenID:   claims.TokenID,
	}
	out.Revocation = RunRevokeChain(ctx, claims.ChainID, revocation.ReasonLogout, []revocation.Entry{{
		TokenID:   claims.TokenID,
		ExpiresAt: claims.ExpiresAt.Time,
	}}, deps.Revoke)
	if out.Revocation.Err != nil {
		out.Failure = LogoutFailureStore
		out.Err = out.Revocation.Err
	}
	return out
}
