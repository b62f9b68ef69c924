package flows

import (
	"context"
	"errors"

	"github.com/pantrychef/authcore/identity"
	"github.com/pantrychef/authcore/session"
)

// SignInFailureKind classifies sign-in flow failures for root-level mapping.
type SignInFailureKind int

const (
	SignInFailureNone SignInFailureKind = iota
	SignInFailureIdentity
	SignInFailureKeysUnavailable
	SignInFailureIssue
	SignInFailureStore
)

// SignInResult carries either the issued token pair or failure metadata.
type SignInResult struct {
	Failure      SignInFailureKind
	Err          error
	SubjectID    string
	ChainID      string
	Record       session.Record
	AccessToken  string
	RefreshToken string
}

type SignInSessionStore interface {
	Create(ctx context.Context, rec session.Record) error
}

// SignInDeps captures sign-in flow dependencies.
type SignInDeps struct {
	Verifier     identity.Verifier
	Issue        IssueDeps
	NewChainID   func() (string, error)
	Client       ClientFunc
	SessionStore SignInSessionStore
	Timeout      StoreTimeout
}

// RunSignIn verifies an identity assertion and opens a new chain for its
// subject. The root record is persisted before any token is returned.
func RunSignIn(ctx context.Context, assertion string, deps SignInDeps) SignInResult {
	id, err := deps.Verifier.Verify(ctx, assertion)
	if err != nil {
		if errors.Is(err, identity.ErrKeysUnavailable) {
			return SignInResult{Failure: SignInFailureKeysUnavailable, Err: err}
		}
		return SignInResult{Failure: SignInFailureIdentity, Err: err}
	}

	chainID, err := deps.NewChainID()
	if err != nil {
		return SignInResult{Failure: SignInFailureIssue, Err: err, SubjectID: id.SubjectID}
	}
	pair, err := issuePair(id.SubjectID, chainID, deps.Issue)
	if err != nil {
		return SignInResult{
			Failure:   SignInFailureIssue,
			Err:       err,
			SubjectID: id.SubjectID,
			ChainID:   chainID,
		}
	}

	rec := pair.record("", deps.Client(ctx))
	storeCtx, cancel := deps.Timeout.bound(ctx)
	err = deps.SessionStore.Create(storeCtx, rec)
	cancel()
	if err != nil {
		failure := SignInFailureStore
		if errors.Is(err, session.ErrDuplicate) {
			failure = SignInFailureIssue
		}
		return SignInResult{
			Failure:   failure,
			Err:       err,
			SubjectID: id.SubjectID,
			ChainID:   chainID,
		}
	}

	return SignInResult{
		Failure:      SignInFailureNone,
		SubjectID:    id.SubjectID,
		ChainID:      chainID,
		Record:       rec,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}
}
