package flows

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pantrychef/authcore/identity"
	"github.com/pantrychef/authcore/jwt"
	"github.com/pantrychef/authcore/revocation"
	"github.com/pantrychef/authcore/session"
)

var flowNow = time.Unix(1_700_000_000, 0)

type flowHarness struct {
	tokens      *jwt.Manager
	sessions    *session.MemoryStore
	revocations *revocation.MemoryStore
	ids         atomic.Int64
}

func newFlowHarness(t *testing.T) *flowHarness {
	t.Helper()
	m, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.MethodHS256,
		Secret:        []byte("0123456789abcdef0123456789abcdef"),
		Now:           func() time.Time { return flowNow },
	})
	if err != nil {
		t.Fatalf("jwt manager: %v", err)
	}
	return &flowHarness{
		tokens:      m,
		sessions:    session.NewMemoryStore(),
		revocations: revocation.NewMemoryStore(),
	}
}

func (h *flowHarness) nextID() (string, error) {
	return "t" + strconv.FormatInt(h.ids.Add(1), 10), nil
}

func (h *flowHarness) issue() IssueDeps {
	return IssueDeps{
		Tokens:     h.tokens,
		AccessTTL:  5 * time.Minute,
		RefreshTTL: time.Hour,
		NewTokenID: h.nextID,
	}
}

func (h *flowHarness) revoke() RevokeDeps {
	return RevokeDeps{
		SessionStore: h.sessions,
		Revocations:  h.revocations,
		Now:          func() time.Time { return flowNow },
		Timeout:      StoreTimeout(time.Second),
		RefreshTTL:   time.Hour,
	}
}

func noClient(context.Context) session.ClientContext { return session.ClientContext{} }

func (h *flowHarness) signIn(t *testing.T) SignInResult {
	t.Helper()
	res := RunSignIn(context.Background(), "assertion", SignInDeps{
		Verifier: identity.VerifierFunc(func(context.Context, string) (*identity.Identity, error) {
			return &identity.Identity{SubjectID: "cook-1"}, nil
		}),
		Issue:        h.issue(),
		NewChainID:   func() (string, error) { return "ch_1", nil },
		Client:       noClient,
		SessionStore: h.sessions,
	})
	if res.Failure != SignInFailureNone {
		t.Fatalf("sign in failed: %v", res.Err)
	}
	return res
}

func (h *flowHarness) refreshDeps(store RefreshSessionStore) RefreshDeps {
	return RefreshDeps{
		Issue:        h.issue(),
		Client:       noClient,
		Now:          func() time.Time { return flowNow },
		SessionStore: store,
		Revoke:       h.revoke(),
		Timeout:      StoreTimeout(50 * time.Millisecond),
	}
}

// racingStore lets a competing rotation win just before delegating.
type racingStore struct {
	*session.MemoryStore
	winner session.Record
}

func (s *racingStore) Rotate(ctx context.Context, parent string, child session.Record, now time.Time) (session.Record, error) {
	if _, err := s.MemoryStore.Rotate(ctx, parent, s.winner, now); err != nil {
		return session.Record{}, err
	}
	return s.MemoryStore.Rotate(ctx, parent, child, now)
}

func TestRunRefreshLostRaceIsReplay(t *testing.T) {
	h := newFlowHarness(t)
	signed := h.signIn(t)

	winner := signed.Record
	winner.TokenID = "winner"
	winner.AccessTokenID = "winner-access"
	store := &racingStore{MemoryStore: h.sessions, winner: winner}

	res := RunRefresh(context.Background(), signed.RefreshToken, h.refreshDeps(store))
	if res.Failure != RefreshFailureReuse {
		t.Fatalf("expected reuse, got %v (%v)", res.Failure, res.Err)
	}
	if res.Err != nil {
		t.Fatalf("revocation should have completed: %v", res.Err)
	}

	tip, err := h.sessions.Get(context.Background(), "winner")
	if err != nil {
		t.Fatalf("get winner: %v", err)
	}
	if tip.State != session.StateRevoked {
		t.Fatalf("winner must be revoked with its chain, got %s", tip.State)
	}
	for _, id := range []string{"ch_1", "winner-access", signed.Record.AccessTokenID} {
		entry, err := h.revocations.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("expected %s revoked: %v", id, err)
		}
		if entry.Reason != revocation.ReasonReplayDetected {
			t.Fatalf("unexpected reason %s for %s", entry.Reason, id)
		}
	}
}

type stuckStore struct {
	*session.MemoryStore
}

func (s stuckStore) Get(ctx context.Context, tokenID string) (session.Record, error) {
	<-ctx.Done()
	return session.Record{}, fmt.Errorf("%w: %v", session.ErrUnavailable, ctx.Err())
}

func TestRunRefreshTimeoutIsTransient(t *testing.T) {
	h := newFlowHarness(t)
	signed := h.signIn(t)

	res := RunRefresh(context.Background(), signed.RefreshToken, h.refreshDeps(stuckStore{h.sessions}))
	if res.Failure != RefreshFailureStore {
		t.Fatalf("expected store failure, got %v", res.Failure)
	}
	if !errors.Is(res.Err, session.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", res.Err)
	}
	revoked, err := h.revocations.IsRevoked(context.Background(), "ch_1")
	if err != nil || revoked {
		t.Fatalf("timeout must not revoke anything (revoked=%v err=%v)", revoked, err)
	}
}

type failingWriter struct{}

func (failingWriter) Revoke(context.Context, ...revocation.Entry) error {
	return fmt.Errorf("%w: connection refused", revocation.ErrUnavailable)
}

func TestRunRefreshReplayReportsFailedRevocation(t *testing.T) {
	h := newFlowHarness(t)
	signed := h.signIn(t)

	deps := h.refreshDeps(h.sessions)
	if res := RunRefresh(context.Background(), signed.RefreshToken, deps); res.Failure != RefreshFailureNone {
		t.Fatalf("first refresh failed: %v", res.Err)
	}

	deps.Revoke.Revocations = failingWriter{}
	res := RunRefresh(context.Background(), signed.RefreshToken, deps)
	if res.Failure != RefreshFailureReuse {
		t.Fatalf("expected reuse, got %v", res.Failure)
	}
	if !errors.Is(res.Err, revocation.ErrUnavailable) {
		t.Fatalf("expected revocation error to surface, got %v", res.Err)
	}
	if len(res.Revocation.Records) != 2 {
		t.Fatalf("session records should still be revoked, got %d", len(res.Revocation.Records))
	}
}

func TestRunRefreshClaimsMustMatchRecord(t *testing.T) {
	h := newFlowHarness(t)
	signed := h.signIn(t)

	forged, _, err := h.tokens.Encode(jwt.Claims{
		SubjectID: "someone-else",
		TokenID:   signed.Record.TokenID,
		ChainID:   signed.ChainID,
	}, jwt.TypeRefresh, time.Hour)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	res := RunRefresh(context.Background(), forged, h.refreshDeps(h.sessions))
	if res.Failure != RefreshFailureDecode || !errors.Is(res.Err, jwt.ErrMalformedToken) {
		t.Fatalf("expected malformed, got %v (%v)", res.Failure, res.Err)
	}
	rec, _ := h.sessions.Get(context.Background(), signed.Record.TokenID)
	if rec.State != session.StateActive {
		t.Fatalf("mismatch must not mutate, got %s", rec.State)
	}
}

type erroringReader struct{}

func (erroringReader) IsRevoked(context.Context, ...string) (bool, error) {
	return false, revocation.ErrUnavailable
}

func TestRunCheck(t *testing.T) {
	h := newFlowHarness(t)
	signed := h.signIn(t)

	deps := CheckDeps{Tokens: h.tokens, Revocations: h.revocations}
	if res := RunCheck(context.Background(), signed.AccessToken, deps); res.Failure != CheckFailureNone {
		t.Fatalf("expected valid, got %v", res.Failure)
	}
	if res := RunCheck(context.Background(), signed.RefreshToken, deps); res.Failure != CheckFailureDecode {
		t.Fatalf("refresh token must not pass as access, got %v", res.Failure)
	}

	deps.Revocations = erroringReader{}
	if res := RunCheck(context.Background(), signed.AccessToken, deps); res.Failure != CheckFailureStore {
		t.Fatalf("expected store failure, got %v", res.Failure)
	}
}

func TestRunSignInKeysUnavailable(t *testing.T) {
	h := newFlowHarness(t)
	res := RunSignIn(context.Background(), "assertion", SignInDeps{
		Verifier: identity.VerifierFunc(func(context.Context, string) (*identity.Identity, error) {
			return nil, identity.ErrKeysUnavailable
		}),
		Issue:        h.issue(),
		NewChainID:   func() (string, error) { return "ch_1", nil },
		Client:       noClient,
		SessionStore: h.sessions,
	})
	if res.Failure != SignInFailureKeysUnavailable {
		t.Fatalf("expected keys unavailable, got %v", res.Failure)
	}
	if _, err := h.sessions.Chain(context.Background(), "ch_1"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("no chain may be created, got %v", err)
	}
}

func TestRunRevokeChainUnknownChainStillBlacklists(t *testing.T) {
	h := newFlowHarness(t)
	res := RunRevokeChain(context.Background(), "ch_gone", revocation.ReasonLogout, []revocation.Entry{{
		TokenID:   "access-1",
		ExpiresAt: flowNow.Add(time.Minute),
	}}, h.revoke())
	if res.Err != nil {
		t.Fatalf("revoke: %v", res.Err)
	}
	if len(res.Revoked) != 2 {
		t.Fatalf("expected chain and access ids, got %v", res.Revoked)
	}
	entry, err := h.revocations.Get(context.Background(), "ch_gone")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !entry.ExpiresAt.Equal(flowNow.Add(time.Hour)) {
		t.Fatalf("unknown chain entry should expire with the refresh lifetime, got %v", entry.ExpiresAt)
	}
	access, err := h.revocations.Get(context.Background(), "access-1")
	if err != nil {
		t.Fatalf("get access: %v", err)
	}
	if !access.ExpiresAt.Equal(flowNow.Add(time.Minute)) {
		t.Fatalf("access entry keeps its own expiry, got %v", access.ExpiresAt)
	}
}

func TestRunRevokeChainUnknownChainIsPrunable(t *testing.T) {
	h := newFlowHarness(t)
	res := RunRevokeChain(context.Background(), "ch_pruned", revocation.ReasonAdminAction, nil, h.revoke())
	if res.Err != nil {
		t.Fatalf("revoke: %v", res.Err)
	}
	entry, err := h.revocations.Get(context.Background(), "ch_pruned")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry.ExpiresAt.IsZero() {
		t.Fatal("chain entry without expiry can never be pruned")
	}

	removed, err := h.revocations.Prune(context.Background(), flowNow.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected the chain entry to be pruned, removed %d", removed)
	}
}
