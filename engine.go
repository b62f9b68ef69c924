package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pantrychef/authcore/identity"
	"github.com/pantrychef/authcore/internal/audit"
	"github.com/pantrychef/authcore/internal/flows"
	"github.com/pantrychef/authcore/jwt"
	"github.com/pantrychef/authcore/revocation"
	"github.com/pantrychef/authcore/session"
)

// Engine issues, rotates, terminates and checks session tokens.
//
// An Engine is built once by [Builder] and is safe for concurrent use.
type Engine struct {
	config      Config
	sessions    session.Store
	revocations revocation.Store
	verifier    identity.Verifier
	jwtManager  *jwt.Manager
	flows       flows.Service
	audit       *audit.Dispatcher
	metrics     *Metrics
	logger      *zap.Logger
	now         func() time.Time
}

func (e *Engine) buildFlows(newTokenID, newChainID func() (string, error)) flows.Service {
	timeout := flows.StoreTimeout(e.config.Store.OperationTimeout)
	issue := flows.IssueDeps{
		Tokens:     e.jwtManager,
		AccessTTL:  e.config.JWT.AccessTTL,
		RefreshTTL: e.config.JWT.RefreshTTL,
		NewTokenID: newTokenID,
	}
	revoke := flows.RevokeDeps{
		SessionStore: e.sessions,
		Revocations:  e.revocations,
		Now:          e.now,
		Timeout:      timeout,
		RefreshTTL:   e.config.JWT.RefreshTTL,
	}

	return flows.New(flows.Deps{
		SignIn: flows.SignInDeps{
			Verifier:     e.verifier,
			Issue:        issue,
			NewChainID:   newChainID,
			Client:       clientFromContext,
			SessionStore: e.sessions,
			Timeout:      timeout,
		},
		Refresh: flows.RefreshDeps{
			Issue:        issue,
			Client:       clientFromContext,
			Now:          e.now,
			SessionStore: e.sessions,
			Revoke:       revoke,
			Timeout:      timeout,
		},
		Logout: flows.LogoutDeps{
			Tokens: e.jwtManager,
			Revoke: revoke,
		},
		Check: flows.CheckDeps{
			Tokens:      e.jwtManager,
			Revocations: e.revocations,
			Timeout:     timeout,
		},
		Revoke: revoke,
	})
}

func (e *Engine) ready() bool {
	return e != nil && e.flows.Initialized()
}

// Close drains pending audit events. The engine must not be used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped returns the number of audit events dropped because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the in-process counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observeSince(id MetricID, start time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}

// storeUnavailable classifies a backend failure, counts it and logs it.
func (e *Engine) storeUnavailable(op string, err error) error {
	e.metricInc(MetricStoreUnavailable)
	e.logger.Warn("store unavailable", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// SignIn verifies an identity assertion and opens a new session chain for its
// subject.
//
// SignIn returns ErrInvalidIdentity when the assertion does not verify and
// ErrStoreUnavailable when the root record cannot be persisted or the identity
// provider keys cannot be fetched. Nothing is persisted on failure.
func (e *Engine) SignIn(ctx context.Context, assertion string) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}

	res := e.flows.SignIn(ctx, assertion)
	var err error
	switch res.Failure {
	case flows.SignInFailureNone:
		e.metricInc(MetricSignInSuccess)
		e.emitAudit(ctx, auditEventSignInSuccess, true, res.SubjectID, res.ChainID, res.Record.TokenID, nil, nil)
		return pairFromRecord(res.Record, res.AccessToken, res.RefreshToken), nil
	case flows.SignInFailureIdentity:
		e.metricInc(MetricSignInInvalidIdentity)
		err = res.Err
		if !errors.Is(err, ErrInvalidIdentity) {
			err = fmt.Errorf("%w: %v", ErrInvalidIdentity, res.Err)
		}
	case flows.SignInFailureKeysUnavailable:
		err = e.storeUnavailable("sign_in.keys", res.Err)
	case flows.SignInFailureStore:
		err = e.storeUnavailable("sign_in.create", res.Err)
	default:
		e.logger.Error("token issuance failed", zap.String("op", "sign_in"), zap.Error(res.Err))
		err = fmt.Errorf("issue tokens: %w", res.Err)
	}

	e.metricInc(MetricSignInFailure)
	e.emitAudit(ctx, auditEventSignInFailure, false, res.SubjectID, res.ChainID, "", err, nil)
	return TokenPair{}, err
}

// Refresh exchanges a refresh token for a new pair on the same chain. The
// presented token is consumed.
//
// Presenting a token that was already rotated or revoked revokes the whole
// chain and returns ErrReuseDetected. When that revocation could not be
// written, the error also matches ErrStoreUnavailable; the token is rejected
// either way. Transient store failures on the normal path return
// ErrStoreUnavailable and leave the token usable.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}
	defer e.observeSince(MetricRefreshLatency, time.Now())

	res := e.flows.Refresh(ctx, refreshToken)
	var err error
	switch res.Failure {
	case flows.RefreshFailureNone:
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, auditEventRefreshSuccess, true, res.SubjectID, res.ChainID, res.Record.TokenID, nil, func() map[string]string {
			return map[string]string{"parent_token_id": res.TokenID}
		})
		return pairFromRecord(res.Record, res.AccessToken, res.RefreshToken), nil
	case flows.RefreshFailureReuse:
		return TokenPair{}, e.reuseDetected(ctx, res)
	case flows.RefreshFailureDecode:
		err = res.Err
	case flows.RefreshFailureNotFound:
		err = ErrTokenNotFound
	case flows.RefreshFailureExpired:
		err = ErrTokenExpired
	case flows.RefreshFailureStore:
		err = e.storeUnavailable("refresh", res.Err)
	default:
		e.logger.Error("token issuance failed", zap.String("op", "refresh"), zap.Error(res.Err))
		err = fmt.Errorf("issue tokens: %w", res.Err)
	}

	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshInvalid, false, res.SubjectID, res.ChainID, res.TokenID, err, nil)
	return TokenPair{}, err
}

func (e *Engine) reuseDetected(ctx context.Context, res flows.RefreshResult) error {
	e.metricInc(MetricRefreshFailure)
	e.metricInc(MetricRefreshReuseDetected)
	e.logger.Warn("refresh token reuse detected",
		zap.String("subject_id", res.SubjectID),
		zap.String("chain_id", res.ChainID),
		zap.String("token_id", res.TokenID),
		zap.String("state", string(res.Record.State)),
	)

	err := ErrReuseDetected
	if res.Revocation.Err != nil {
		e.metricInc(MetricChainRevokeFailed)
		e.logger.Error("chain revocation after reuse failed",
			zap.String("chain_id", res.ChainID),
			zap.Error(res.Revocation.Err),
		)
		err = errors.Join(ErrReuseDetected, e.storeUnavailable("refresh.revoke_chain", res.Revocation.Err))
	} else {
		e.metricInc(MetricChainRevoked)
	}

	e.emitAudit(ctx, auditEventRefreshReuseDetected, false, res.SubjectID, res.ChainID, res.TokenID, err, func() map[string]string {
		return map[string]string{
			"state":          string(res.Record.State),
			"revoked_tokens": fmt.Sprint(len(res.Revocation.Revoked)),
		}
	})
	return err
}

// Logout terminates the chain the access token belongs to. The token itself,
// every access token issued on the chain and every refresh token of the chain
// stop being accepted. Calling Logout again with the same token succeeds.
//
// A token that cannot be decoded returns an error matching
// ErrInvalidIdentity and the underlying token error.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	res := e.flows.Logout(ctx, accessToken)
	var err error
	switch res.Failure {
	case flows.LogoutFailureNone:
		e.metricInc(MetricLogout)
		e.metricInc(MetricChainRevoked)
		e.emitAudit(ctx, auditEventLogout, true, res.SubjectID, res.ChainID, res.TokenID, nil, nil)
		return nil
	case flows.LogoutFailureDecode:
		err = fmt.Errorf("%w: %w", ErrInvalidIdentity, res.Err)
	default:
		e.metricInc(MetricChainRevokeFailed)
		e.logger.Error("chain revocation on logout failed",
			zap.String("chain_id", res.ChainID),
			zap.Error(res.Err),
		)
		err = e.storeUnavailable("logout", res.Err)
	}

	e.emitAudit(ctx, auditEventLogoutFailure, false, res.SubjectID, res.ChainID, res.TokenID, err, nil)
	return err
}

// Check reports whether an access token is currently valid. Any failure,
// including an unreachable revocation store, reports false.
func (e *Engine) Check(ctx context.Context, accessToken string) bool {
	_, err := e.Validate(ctx, accessToken)
	return err == nil
}

// Validate verifies an access token and returns its identity.
//
// Validate returns the token codec errors (ErrMalformedToken, ErrBadSignature,
// ErrTokenExpired), ErrUnauthorized for a revoked token and
// ErrStoreUnavailable when revocation status cannot be determined.
func (e *Engine) Validate(ctx context.Context, accessToken string) (*AuthResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	defer e.observeSince(MetricCheckLatency, time.Now())

	res := e.flows.Check(ctx, accessToken)
	switch res.Failure {
	case flows.CheckFailureNone:
		e.metricInc(MetricCheckValid)
		return &AuthResult{
			SubjectID: res.Claims.SubjectID,
			TokenID:   res.Claims.TokenID,
			ChainID:   res.Claims.ChainID,
			IssuedAt:  res.Claims.IssuedAt.Time,
			ExpiresAt: res.Claims.ExpiresAt.Time,
		}, nil
	case flows.CheckFailureRevoked:
		e.metricInc(MetricCheckInvalid)
		return nil, ErrUnauthorized
	case flows.CheckFailureStore:
		e.metricInc(MetricCheckInvalid)
		return nil, e.storeUnavailable("check", res.Err)
	default:
		e.metricInc(MetricCheckInvalid)
		return nil, res.Err
	}
}

// RevokeChain terminates one session chain with the given reason. Unknown
// chains are still blacklisted so tokens minted for them stop validating.
func (e *Engine) RevokeChain(ctx context.Context, chainID string, reason revocation.Reason) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if chainID == "" {
		return fmt.Errorf("%w: empty chain id", ErrMalformedToken)
	}
	if reason == "" {
		reason = revocation.ReasonAdminAction
	}

	res := e.flows.RevokeChain(ctx, chainID, reason)
	if res.Err != nil {
		e.metricInc(MetricChainRevokeFailed)
		err := e.storeUnavailable("revoke_chain", res.Err)
		e.emitAudit(ctx, auditEventChainRevoked, false, res.SubjectID, chainID, "", err, reasonMetadata(reason))
		return err
	}

	e.metricInc(MetricChainRevoked)
	if reason == revocation.ReasonAdminAction {
		e.metricInc(MetricAdminRevocation)
	}
	e.emitAudit(ctx, auditEventChainRevoked, true, res.SubjectID, chainID, "", nil, reasonMetadata(reason))
	return nil
}

// RevokeSubject terminates every session chain of subjectID with reason
// ADMIN_ACTION and returns how many chains were processed. Chains that were
// already revoked are processed again.
func (e *Engine) RevokeSubject(ctx context.Context, subjectID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}

	res := e.flows.RevokeSubject(ctx, subjectID, revocation.ReasonAdminAction)
	for _, ch := range res.Chains {
		if ch.Err != nil {
			e.metricInc(MetricChainRevokeFailed)
			continue
		}
		e.metricInc(MetricChainRevoked)
		e.metricInc(MetricAdminRevocation)
	}

	var err error
	if res.Err != nil {
		err = e.storeUnavailable("revoke_subject", res.Err)
	}
	e.emitAudit(ctx, auditEventSubjectRevoked, err == nil, subjectID, "", "", err, func() map[string]string {
		return map[string]string{"chains": fmt.Sprint(len(res.Chains))}
	})
	return len(res.Chains), err
}

// Sessions lists every session chain of subjectID, revoked ones included.
func (e *Engine) Sessions(ctx context.Context, subjectID string) ([]SessionInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	chains, err := e.flows.Sessions(ctx, subjectID)
	if err != nil {
		return nil, e.storeUnavailable("sessions", err)
	}
	out := make([]SessionInfo, 0, len(chains))
	for _, c := range chains {
		out = append(out, sessionInfoFromChain(c))
	}
	return out, nil
}

func pairFromRecord(rec session.Record, access, refresh string) TokenPair {
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  rec.AccessExpiresAt,
		RefreshExpiresAt: rec.ExpiresAt,
		SubjectID:        rec.SubjectID,
		ChainID:          rec.ChainID,
	}
}

func reasonMetadata(reason revocation.Reason) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"reason": string(reason)}
	}
}
