package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pantrychef/authcore/jwt"
	"github.com/pantrychef/authcore/revocation"
	"github.com/pantrychef/authcore/session"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureDecode
	RefreshFailureNotFound
	RefreshFailureExpired
	RefreshFailureReuse
	RefreshFailureIssue
	RefreshFailureStore
)

// RefreshResult carries either the issued token pair or failure metadata.
// On RefreshFailureReuse, Revocation reports the chain revocation triggered by
// the replay; its Err is set when that revocation did not complete.
type RefreshResult struct {
	Failure      RefreshFailureKind
	Err          error
	SubjectID    string
	ChainID      string
	TokenID      string
	Record       session.Record
	Revocation   RevokeResult
	AccessToken  string
	RefreshToken string
}

type RefreshSessionStore interface {
	Get(ctx context.Context, tokenID string) (session.Record, error)
	Rotate(ctx context.Context, parentTokenID string, child session.Record, now time.Time) (session.Record, error)
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Issue        IssueDeps
	Client       ClientFunc
	Now          func() time.Time
	SessionStore RefreshSessionStore
	Revoke       RevokeDeps
	Timeout      StoreTimeout
}

// RunRefresh exchanges a refresh token for a fresh pair on the same chain.
//
// Presenting a token whose record is no longer ACTIVE, or losing the
// conditional transition to a concurrent request, is treated as replay: the
// whole chain is revoked before the failure is returned.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	claims, err := deps.Issue.Tokens.Decode(refreshToken, jwt.TypeRefresh)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureDecode, Err: err}
	}
	base := RefreshResult{
		SubjectID: claims.SubjectID,
		ChainID:   claims.ChainID,
		TokenID:   claims.TokenID,
	}

	storeCtx, cancel := deps.Timeout.bound(ctx)
	rec, err := deps.SessionStore.Get(storeCtx, claims.TokenID)
	cancel()
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return base.fail(RefreshFailureNotFound, err)
		}
		return base.fail(RefreshFailureStore, err)
	}
	if rec.ChainID != claims.ChainID || rec.SubjectID != claims.SubjectID {
		return base.fail(RefreshFailureDecode, fmt.Errorf("%w: claims do not match record", jwt.ErrMalformedToken))
	}
	if rec.State != session.StateActive {
		return base.replay(ctx, rec, deps)
	}

	pair, err := issuePair(rec.SubjectID, rec.ChainID, deps.Issue)
	if err != nil {
		return base.fail(RefreshFailureIssue, err)
	}
	child := pair.record(rec.TokenID, deps.Client(ctx))

	storeCtx, cancel = deps.Timeout.bound(ctx)
	before, err := deps.SessionStore.Rotate(storeCtx, rec.TokenID, child, deps.Now())
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotActive):
			if before.TokenID == "" {
				before = rec
			}
			return base.replay(ctx, before, deps)
		case errors.Is(err, session.ErrExpired):
			return base.fail(RefreshFailureExpired, err)
		case errors.Is(err, session.ErrNotFound):
			return base.fail(RefreshFailureNotFound, err)
		case errors.Is(err, session.ErrDuplicate):
			return base.fail(RefreshFailureIssue, err)
		default:
			return base.fail(RefreshFailureStore, err)
		}
	}

	base.Record = child
	base.AccessToken = pair.AccessToken
	base.RefreshToken = pair.RefreshToken
	return base
}

func (r RefreshResult) fail(kind RefreshFailureKind, err error) RefreshResult {
	r.Failure = kind
	r.Err = err
	return r
}

func (r RefreshResult) replay(ctx context.Context, rec session.Record, deps RefreshDeps) RefreshResult {
	r.Failure = RefreshFailureReuse
	r.Record = rec
	r.Revocation = RunRevokeChain(ctx, rec.ChainID, revocation.ReasonReplayDetected, nil, deps.Revoke)
	r.Err = r.Revocation.Err
	return r
}
