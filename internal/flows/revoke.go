package flows

import (
	"context"
	"errors"
	"time"

	"github.com/pantrychef/authcore/revocation"
	"github.com/pantrychef/authcore/session"
)

type RevokeSessionStore interface {
	RevokeChain(ctx context.Context, chainID string, now time.Time) ([]session.Record, error)
	ChainsForSubject(ctx context.Context, subjectID string) ([]session.Chain, error)
}

type RevocationWriter interface {
	Revoke(ctx context.Context, entries ...revocation.Entry) error
}

// RevokeDeps captures chain revocation dependencies. The refresh replay path,
// logout and administrative revocation all terminate chains through it.
type RevokeDeps struct {
	SessionStore RevokeSessionStore
	Revocations  RevocationWriter
	Now          func() time.Time
	Timeout      StoreTimeout
	// RefreshTTL bounds the chain entry's expiry when the session store no
	// longer knows the chain.
	RefreshTTL time.Duration
}

// RevokeResult reports what a chain revocation touched.
type RevokeResult struct {
	ChainID   string
	SubjectID string
	Records   []session.Record
	// Revoked lists every token id handed to the revocation store.
	Revoked []string
	Err     error
}

// RunRevokeChain marks every record of chainID REVOKED and then blacklists the
// chain id, every recorded access token id and any extra entries with reason.
// A chain unknown to the session store still gets its ids blacklisted.
func RunRevokeChain(
	ctx context.Context,
	chainID string,
	reason revocation.Reason,
	extra []revocation.Entry,
	deps RevokeDeps,
) RevokeResult {
	now := deps.Now()
	out := RevokeResult{ChainID: chainID}

	storeCtx, cancel := deps.Timeout.bound(ctx)
	recs, err := deps.SessionStore.RevokeChain(storeCtx, chainID, now)
	cancel()
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		out.Err = err
		return out
	}
	out.Records = recs
	if len(recs) > 0 {
		out.SubjectID = recs[0].SubjectID
	}

	entries := revocationEntries(chainID, recs, extra, reason, now, deps.RefreshTTL)
	out.Revoked = make([]string, 0, len(entries))
	for _, e := range entries {
		out.Revoked = append(out.Revoked, e.TokenID)
	}

	storeCtx, cancel = deps.Timeout.bound(ctx)
	err = deps.Revocations.Revoke(storeCtx, entries...)
	cancel()
	if err != nil {
		out.Err = err
	}
	return out
}

func revocationEntries(
	chainID string,
	recs []session.Record,
	extra []revocation.Entry,
	reason revocation.Reason,
	now time.Time,
	refreshTTL time.Duration,
) []revocation.Entry {
	var chainExpiry time.Time
	entries := make([]revocation.Entry, 0, len(recs)+len(extra)+1)
	for _, rec := range recs {
		if rec.ExpiresAt.After(chainExpiry) {
			chainExpiry = rec.ExpiresAt
		}
		if rec.AccessTokenID == "" {
			continue
		}
		entries = append(entries, revocation.Entry{
			TokenID:   rec.AccessTokenID,
			ExpiresAt: rec.AccessExpiresAt,
		})
	}
	for _, e := range extra {
		if e.ExpiresAt.After(chainExpiry) {
			chainExpiry = e.ExpiresAt
		}
		entries = append(entries, e)
	}
	// No token of an unknown chain outlives now+refreshTTL.
	if len(recs) == 0 {
		if bound := now.Add(refreshTTL); bound.After(chainExpiry) {
			chainExpiry = bound
		}
	}
	entries = append(entries, revocation.Entry{TokenID: chainID, ExpiresAt: chainExpiry})

	for i := range entries {
		entries[i].RevokedAt = now
		entries[i].Reason = reason
	}
	return entries
}

// RevokeSubjectResult aggregates one RunRevokeChain per chain of a subject.
type RevokeSubjectResult struct {
	Chains []RevokeResult
	Err    error
}

// RunRevokeSubject revokes every chain owned by subjectID, including chains
// already revoked, so a previously failed blacklist write is repaired.
func RunRevokeSubject(ctx context.Context, subjectID string, reason revocation.Reason, deps RevokeDeps) RevokeSubjectResult {
	storeCtx, cancel := deps.Timeout.bound(ctx)
	chains, err := deps.SessionStore.ChainsForSubject(storeCtx, subjectID)
	cancel()
	if err != nil {
		return RevokeSubjectResult{Err: err}
	}

	out := RevokeSubjectResult{Chains: make([]RevokeResult, 0, len(chains))}
	var errs []error
	for _, ch := range chains {
		res := RunRevokeChain(ctx, ch.ChainID, reason, nil, deps)
		if res.SubjectID == "" {
			res.SubjectID = subjectID
		}
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
		out.Chains = append(out.Chains, res)
	}
	out.Err = errors.Join(errs...)
	return out
}
