package flows

import (
	"context"

	"github.com/pantrychef/authcore/revocation"
	"github.com/pantrychef/authcore/session"
)

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Check.Tokens != nil &&
		s.deps.Check.Revocations != nil &&
		s.deps.Refresh.SessionStore != nil &&
		s.deps.SignIn.Verifier != nil
}

func (s Service) SignIn(ctx context.Context, assertion string) SignInResult {
	return RunSignIn(ctx, assertion, s.deps.SignIn)
}

func (s Service) Refresh(ctx context.Context, refreshToken string) RefreshResult {
	return RunRefresh(ctx, refreshToken, s.deps.Refresh)
}

func (s Service) Logout(ctx context.Context, accessToken string) LogoutResult {
	return RunLogout(ctx, accessToken, s.deps.Logout)
}

func (s Service) Check(ctx context.Context, accessToken string) CheckResult {
	return RunCheck(ctx, accessToken, s.deps.Check)
}

func (s Service) RevokeChain(ctx context.Context, chainID string, reason revocation.Reason) RevokeResult {
	return RunRevokeChain(ctx, chainID, reason, nil, s.deps.Revoke)
}

func (s Service) RevokeSubject(ctx context.Context, subjectID string, reason revocation.Reason) RevokeSubjectResult {
	return RunRevokeSubject(ctx, subjectID, reason, s.deps.Revoke)
}

func (s Service) Sessions(ctx context.Context, subjectID string) ([]session.Chain, error) {
	return RunSessions(ctx, subjectID, SessionsDeps{
		SessionStore: s.deps.Revoke.SessionStore,
		Timeout:      s.deps.Revoke.Timeout,
	})
}
