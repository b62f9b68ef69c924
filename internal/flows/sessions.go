package flows

import (
	"context"

	"github.com/pantrychef/authcore/session"
)

type SessionsStore interface {
	ChainsForSubject(ctx context.Context, subjectID string) ([]session.Chain, error)
}

// SessionsDeps captures session listing dependencies.
type SessionsDeps struct {
	SessionStore SessionsStore
	Timeout      StoreTimeout
}

// RunSessions lists every chain of subjectID.
func RunSessions(ctx context.Context, subjectID string, deps SessionsDeps) ([]session.Chain, error) {
	storeCtx, cancel := deps.Timeout.bound(ctx)
	defer cancel()
	return deps.SessionStore.ChainsForSubject(storeCtx, subjectID)
}
