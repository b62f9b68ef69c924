package authcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pantrychef/authcore/jwt"
	"github.com/pantrychef/authcore/revocation"
	"github.com/pantrychef/authcore/session"
)

func refreshTokenID(t *testing.T, e *Engine, token string) string {
	t.Helper()
	claims, err := e.jwtManager.Decode(token, jwt.TypeRefresh)
	if err != nil {
		t.Fatalf("decode refresh: %v", err)
	}
	return claims.TokenID
}

func TestSecurityInvariantTokenIDsAreUnique(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	seen := make(map[string]struct{})
	record := func(token string) {
		id := refreshTokenID(t, h.engine, token)
		if _, dup := seen[id]; dup {
			t.Fatalf("refresh token id %s issued twice", id)
		}
		seen[id] = struct{}{}
	}

	for i := 0; i < 50; i++ {
		pair := h.signIn(t, "cook-1")
		record(pair.RefreshToken)
		next, err := h.engine.Refresh(ctx, pair.RefreshToken)
		if err != nil {
			t.Fatalf("refresh: %v", err)
		}
		record(next.RefreshToken)
	}
}

func TestSecurityInvariantRefreshIsSingleUse(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	pair := h.signIn(t, "cook-1")
	if _, err := h.engine.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if _, err := h.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("expected ErrReuseDetected, got %v", err)
	}
}

func TestSecurityInvariantReplayAfterPruneIsNotFound(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	pair := h.signIn(t, "cook-1")
	if _, err := h.engine.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := h.sessions.Prune(ctx, testEpoch.Add(365*24*time.Hour)); err != nil {
		t.Fatalf("prune: %v", err)
	}
	if _, err := h.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound after cleanup, got %v", err)
	}
}

func TestSecurityInvariantReplayRevokesWholeChain(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	p0 := h.signIn(t, "cook-1")
	p1, err := h.engine.Refresh(ctx, p0.RefreshToken)
	if err != nil {
		t.Fatalf("refresh 1: %v", err)
	}
	p2, err := h.engine.Refresh(ctx, p1.RefreshToken)
	if err != nil {
		t.Fatalf("refresh 2: %v", err)
	}

	if _, err := h.engine.Refresh(ctx, p0.RefreshToken); !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("expected ErrReuseDetected, got %v", err)
	}

	for i, p := range []TokenPair{p0, p1, p2} {
		if h.engine.Check(ctx, p.AccessToken) {
			t.Fatalf("access token %d must be invalid after replay", i)
		}
		if _, err := h.engine.Refresh(ctx, p.RefreshToken); err == nil {
			t.Fatalf("refresh token %d must be unusable after replay", i)
		}
	}

	recs, err := h.sessions.Chain(ctx, p0.ChainID)
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	for _, rec := range recs {
		if rec.State != session.StateRevoked {
			t.Fatalf("expected every record REVOKED, got %s for %s", rec.State, rec.TokenID)
		}
	}
}

type failingRevocations struct {
	*revocation.MemoryStore
}

func (failingRevocations) Revoke(context.Context, ...revocation.Entry) error {
	return revocation.ErrUnavailable
}

func TestSecurityInvariantReplayWithFailedRevocationStillRejects(t *testing.T) {
	h := newEngineHarness(t, func(b *Builder) {
		b.WithRevocationStore(failingRevocations{MemoryStore: revocation.NewMemoryStore()})
	})
	ctx := context.Background()

	pair := h.signIn(t, "cook-1")
	next, err := h.engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	_, err = h.engine.Refresh(ctx, pair.RefreshToken)
	if !errors.Is(err, ErrReuseDetected) || !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrReuseDetected joined with ErrStoreUnavailable, got %v", err)
	}
	if _, err := h.engine.Refresh(ctx, next.RefreshToken); !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("session records must still be revoked, got %v", err)
	}
}

func TestSecurityInvariantLogoutIsComplete(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	p0 := h.signIn(t, "cook-1")
	p1, err := h.engine.Refresh(ctx, p0.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if err := h.engine.Logout(ctx, p0.AccessToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	for i, p := range []TokenPair{p0, p1} {
		if h.engine.Check(ctx, p.AccessToken) {
			t.Fatalf("access token %d must be invalid after logout", i)
		}
	}
	if _, err := h.engine.Refresh(ctx, p1.RefreshToken); err == nil {
		t.Fatal("chain tip must be unusable after logout")
	}
}

func TestSecurityInvariantExpiredAccessIsInvalid(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	pair := h.signIn(t, "cook-1")
	h.clock.Advance(testConfig().JWT.AccessTTL)

	if h.engine.Check(ctx, pair.AccessToken) {
		t.Fatal("access token must be invalid at its expiry instant")
	}
	if _, err := h.engine.Validate(ctx, pair.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestSecurityInvariantExpiredRefreshIsRejected(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	pair := h.signIn(t, "cook-1")
	h.clock.Advance(testConfig().JWT.RefreshTTL)

	if _, err := h.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	recs, err := h.sessions.Chain(ctx, pair.ChainID)
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if len(recs) != 1 || recs[0].State != session.StateActive {
		t.Fatalf("expiry must not consume or revoke the record, got %+v", recs)
	}
}

func TestSecurityInvariantLogoutIsIdempotent(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	p0 := h.signIn(t, "cook-1")
	p1, err := h.engine.Refresh(ctx, p0.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if err := h.engine.Logout(ctx, p1.AccessToken); err != nil {
		t.Fatalf("first logout: %v", err)
	}
	if err := h.engine.Logout(ctx, p1.AccessToken); err != nil {
		t.Fatalf("second logout with same token: %v", err)
	}
	if err := h.engine.Logout(ctx, p0.AccessToken); err != nil {
		t.Fatalf("logout with older token of same session: %v", err)
	}

	entry, err := h.revocations.Get(ctx, p1.ChainID)
	if err != nil {
		t.Fatalf("chain entry: %v", err)
	}
	if !entry.RevokedAt.Equal(testEpoch) {
		t.Fatalf("first revocation must win, got %v", entry.RevokedAt)
	}
}

type unavailableRevocations struct {
	*revocation.MemoryStore
}

func (unavailableRevocations) IsRevoked(context.Context, ...string) (bool, error) {
	return false, revocation.ErrUnavailable
}

func TestSecurityInvariantCheckFailsClosed(t *testing.T) {
	h := newEngineHarness(t, func(b *Builder) {
		b.WithRevocationStore(unavailableRevocations{MemoryStore: revocation.NewMemoryStore()})
	})
	ctx := context.Background()

	pair := h.signIn(t, "cook-1")
	if h.engine.Check(ctx, pair.AccessToken) {
		t.Fatal("check must fail closed when the revocation store is unavailable")
	}
	if _, err := h.engine.Validate(ctx, pair.AccessToken); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestSecurityInvariantForeignSignatureRejected(t *testing.T) {
	h := newEngineHarness(t)
	other := newEngineHarness(t, func(b *Builder) {
		cfg := testConfig()
		cfg.JWT.Secret = []byte("ffffffffffffffffffffffffffffffff")
		b.WithConfig(cfg)
	})

	pair := other.signIn(t, "cook-1")
	if _, err := h.engine.Validate(context.Background(), pair.AccessToken); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
	if _, err := h.engine.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}
