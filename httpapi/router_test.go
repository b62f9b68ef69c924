package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/pantrychef/authcore"
	"github.com/pantrychef/authcore/identity"
	"github.com/pantrychef/authcore/revocation"
	"github.com/pantrychef/authcore/session"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var verifier = identity.VerifierFunc(func(_ context.Context, assertion string) (*identity.Identity, error) {
	sub, ok := strings.CutPrefix(assertion, "firebase:")
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: unrecognised assertion", identity.ErrInvalidIdentity)
	}
	return &identity.Identity{SubjectID: sub}, nil
})

type apiHarness struct {
	handler http.Handler
	engine  *authcore.Engine
	clock   *clock
}

func newAPI(t *testing.T, mutate ...func(*Deps)) *apiHarness {
	t.Helper()

	cfg := authcore.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.Secret = []byte("0123456789abcdef0123456789abcdef")
	cfg.JWT.Issuer = "authcore-test"
	cfg.JWT.Audience = "pantry-chef"

	c := &clock{now: epoch}
	engine, err := authcore.New().
		WithConfig(cfg).
		WithSessionStore(session.NewMemoryStore()).
		WithRevocationStore(revocation.NewMemoryStore()).
		WithIdentityVerifier(verifier).
		WithClock(c.Now).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	deps := Deps{Engine: engine, Now: c.Now}
	for _, fn := range mutate {
		fn(&deps)
	}
	return &apiHarness{handler: NewRouter(deps), engine: engine, clock: c}
}

func (h *apiHarness) do(t *testing.T, method, path, bearer, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *apiHarness) signIn(t *testing.T, subject string, headers ...string) tokenResponse {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/v1/auth/sign-in", "firebase:"+subject, "", headers...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pair tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
	return pair
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error
}

func refreshBody(token string) string {
	return fmt.Sprintf(`{"refresh_token":%q}`, token)
}

func TestSignInReturnsTokenPair(t *testing.T) {
	h := newAPI(t)

	rec := h.do(t, http.MethodPost, "/v1/auth/sign-in", "firebase:cook-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var pair tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(300), pair.ExpiresIn)
	assert.Equal(t, int64(14*24*3600), pair.RefreshExpiresIn)
}

func TestSignInRejectsMissingOrInvalidAssertion(t *testing.T) {
	h := newAPI(t)

	rec := h.do(t, http.MethodPost, "/v1/auth/sign-in", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeInvalidIdentity, errorCode(t, rec))

	rec = h.do(t, http.MethodPost, "/v1/auth/sign-in", "google:cook-1", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeInvalidIdentity, errorCode(t, rec))
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), CodeInvalidIdentity)
}

func TestRefreshRotatesAndDetectsReplay(t *testing.T) {
	h := newAPI(t)
	first := h.signIn(t, "cook-1")

	h.clock.Advance(time.Minute)
	rec := h.do(t, http.MethodPost, "/v1/auth/refresh", "", refreshBody(first.RefreshToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var second tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	rec = h.do(t, http.MethodPost, "/v1/auth/refresh", "", refreshBody(first.RefreshToken))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeReuseDetected, errorCode(t, rec))

	// The replay revoked the whole chain, including the newest token.
	rec = h.do(t, http.MethodPost, "/v1/auth/refresh", "", refreshBody(second.RefreshToken))
	assert.Equal(t, CodeReuseDetected, errorCode(t, rec))

	rec = h.do(t, http.MethodGet, "/v1/auth/check", second.AccessToken, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeUnauthorized, errorCode(t, rec))
}

func TestRefreshRejectsBadBody(t *testing.T) {
	h := newAPI(t)

	for name, body := range map[string]string{
		"not json":      "refresh_token=abc",
		"empty token":   `{"refresh_token":"  "}`,
		"unknown field": `{"refresh_token":"abc","scope":"admin"}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/v1/auth/refresh", "", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, CodeMalformedToken, errorCode(t, rec))
		})
	}

	rec := h.do(t, http.MethodPost, "/v1/auth/refresh", "", refreshBody("a.b.c"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeMalformedToken, errorCode(t, rec))
}

func TestRefreshExpiredToken(t *testing.T) {
	h := newAPI(t)
	pair := h.signIn(t, "cook-1")

	h.clock.Advance(15 * 24 * time.Hour)
	rec := h.do(t, http.MethodPost, "/v1/auth/refresh", "", refreshBody(pair.RefreshToken))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeTokenExpired, errorCode(t, rec))
}

func TestCheckAndLogout(t *testing.T) {
	h := newAPI(t)
	pair := h.signIn(t, "cook-1")

	rec := h.do(t, http.MethodGet, "/v1/auth/check", pair.AccessToken, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/auth/logout", pair.AccessToken, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/auth/check", pair.AccessToken, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/auth/logout", pair.AccessToken, "")
	assert.Equal(t, http.StatusNoContent, rec.Code, "logout must be idempotent")

	rec = h.do(t, http.MethodPost, "/v1/auth/refresh", "", refreshBody(pair.RefreshToken))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckRejectsGarbageWith401(t *testing.T) {
	h := newAPI(t)

	rec := h.do(t, http.MethodGet, "/v1/auth/check", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/auth/check", "not-a-token", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeMalformedToken, errorCode(t, rec))
}

func TestLogoutRejectsUndecodableToken(t *testing.T) {
	h := newAPI(t)

	rec := h.do(t, http.MethodPost, "/v1/auth/logout", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/auth/logout", "not-a-token", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeInvalidIdentity, errorCode(t, rec))
}

func TestSessionsListAndRevokeOwnChain(t *testing.T) {
	h := newAPI(t)
	phone := h.signIn(t, "cook-1", "User-Agent", "pantry-ios/4.2")
	laptop := h.signIn(t, "cook-1", "User-Agent", "pantry-web/1.0")
	stranger := h.signIn(t, "cook-2")

	rec := h.do(t, http.MethodGet, "/v1/auth/sessions", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/auth/sessions", phone.AccessToken, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var list sessionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Sessions, 2)

	var current, other sessionView
	for _, s := range list.Sessions {
		if s.Current {
			current = s
		} else {
			other = s
		}
	}
	assert.Equal(t, "pantry-ios/4.2", current.UserAgent)
	assert.Equal(t, "192.0.2.1", current.ClientIP)
	assert.Equal(t, "pantry-web/1.0", other.UserAgent)
	assert.False(t, other.Revoked)

	strangerSessions := h.do(t, http.MethodGet, "/v1/auth/sessions", stranger.AccessToken, "")
	var strangerList sessionsResponse
	require.NoError(t, json.Unmarshal(strangerSessions.Body.Bytes(), &strangerList))
	require.Len(t, strangerList.Sessions, 1)

	rec = h.do(t, http.MethodDelete, "/v1/auth/sessions/"+strangerList.Sessions[0].ChainID, phone.AccessToken, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeTokenNotFound, errorCode(t, rec))

	rec = h.do(t, http.MethodDelete, "/v1/auth/sessions/"+other.ChainID, phone.AccessToken, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/auth/check", laptop.AccessToken, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = h.do(t, http.MethodGet, "/v1/auth/check", phone.AccessToken, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = h.do(t, http.MethodGet, "/v1/auth/check", stranger.AccessToken, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/auth/sessions", phone.AccessToken, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	for _, s := range list.Sessions {
		if s.ChainID == other.ChainID {
			assert.True(t, s.Revoked)
			assert.NotNil(t, s.RevokedAt)
		}
	}
}

func TestRateLimitOnTokenRoutes(t *testing.T) {
	limiter := NewRateLimiter(RateLimiterConfig{Rate: rate.Every(time.Hour), Burst: 2}, nil)
	t.Cleanup(limiter.Stop)
	h := newAPI(t, func(d *Deps) { d.Limiter = limiter })

	h.signIn(t, "cook-1")
	h.signIn(t, "cook-1")

	rec := h.do(t, http.MethodPost, "/v1/auth/sign-in", "firebase:cook-1", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, CodeRateLimited, errorCode(t, rec))
	assert.Equal(t, "3600", rec.Header().Get("Retry-After"))
	assert.Equal(t, 1, limiter.Len())

	rec = h.do(t, http.MethodGet, "/v1/auth/check", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "check is not rate limited")
}

func TestHealthzAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("authcore_up 1\n"))
	})
	h := newAPI(t, func(d *Deps) { d.Metrics = metrics })

	rec := h.do(t, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, healthResponse{Status: "ok", Sessions: "unchecked", Revocations: "unchecked"}, health)

	rec = h.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "authcore_up 1\n", rec.Body.String())
}

func TestMetricsNotMountedByDefault(t *testing.T) {
	h := newAPI(t)
	rec := h.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestLoggerRecordsRoutePattern(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := newAPI(t, func(d *Deps) { d.Logger = zap.New(core) })
	pair := h.signIn(t, "cook-1")

	h.do(t, http.MethodDelete, "/v1/auth/sessions/unknown-chain", pair.AccessToken, "")

	entries := logs.FilterMessage("http_request").AllUntimed()
	require.Len(t, entries, 2)
	last := entries[1]
	assert.Equal(t, zapcore.WarnLevel, last.Level)
	fields := last.ContextMap()
	assert.Equal(t, "/v1/auth/sessions/{chainID}", fields["route"])
	assert.Equal(t, int64(http.StatusNotFound), fields["status"])
	assert.Equal(t, http.MethodDelete, fields["method"])
	assert.NotEmpty(t, fields["request_id"])
}
