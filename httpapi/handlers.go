package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pantrychef/authcore"
	"github.com/pantrychef/authcore/middleware"
	"github.com/pantrychef/authcore/revocation"
)

const maxRefreshBody = 8 << 10

// Engine is the subset of *authcore.Engine served over HTTP.
type Engine interface {
	SignIn(ctx context.Context, assertion string) (authcore.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (authcore.TokenPair, error)
	Logout(ctx context.Context, accessToken string) error
	Validate(ctx context.Context, accessToken string) (*authcore.AuthResult, error)
	Sessions(ctx context.Context, subjectID string) ([]authcore.SessionInfo, error)
	RevokeChain(ctx context.Context, chainID string, reason revocation.Reason) error
	Health(ctx context.Context) authcore.HealthStatus
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type sessionView struct {
	ChainID       string     `json:"chain_id"`
	CreatedAt     time.Time  `json:"created_at"`
	LastRotatedAt time.Time  `json:"last_rotated_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	Rotations     int        `json:"rotations"`
	ClientIP      string     `json:"client_ip,omitempty"`
	UserAgent     string     `json:"user_agent,omitempty"`
	Revoked       bool       `json:"revoked"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	Current       bool       `json:"current"`
}

type sessionsResponse struct {
	Sessions []sessionView `json:"sessions"`
}

type healthResponse struct {
	Status      string `json:"status"`
	Sessions    string `json:"sessions"`
	Revocations string `json:"revocations"`
}

type handler struct {
	engine Engine
	now    func() time.Time
}

func (h *handler) signIn(w http.ResponseWriter, r *http.Request) {
	assertion, ok := middleware.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeInvalidIdentity)
		return
	}

	pair, err := h.engine.SignIn(r.Context(), assertion)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.tokenResponse(pair))
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRefreshBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, CodeMalformedToken)
		return
	}

	pair, err := h.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.tokenResponse(pair))
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized)
		return
	}

	if err := h.engine.Logout(r.Context(), token); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) check(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized)
		return
	}

	if _, err := h.engine.Validate(r.Context(), token); err != nil {
		status, code := errorStatus(err)
		if status != http.StatusServiceUnavailable {
			status = http.StatusUnauthorized
		}
		writeError(w, status, code)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.AuthResultFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized)
		return
	}

	infos, err := h.engine.Sessions(r.Context(), caller.SubjectID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	resp := sessionsResponse{Sessions: make([]sessionView, 0, len(infos))}
	for _, info := range infos {
		resp.Sessions = append(resp.Sessions, toSessionView(info, caller.ChainID))
	}
	writeJSON(w, http.StatusOK, resp)
}

// revokeSession terminates one chain owned by the caller. Chains of other
// subjects are reported as not found.
func (h *handler) revokeSession(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.AuthResultFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized)
		return
	}
	chainID := chi.URLParam(r, "chainID")

	infos, err := h.engine.Sessions(r.Context(), caller.SubjectID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	owned := false
	for _, info := range infos {
		if info.ChainID == chainID {
			owned = true
			break
		}
	}
	if !owned {
		writeError(w, http.StatusNotFound, CodeTokenNotFound)
		return
	}

	if err := h.engine.RevokeChain(r.Context(), chainID, revocation.ReasonLogout); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	status := h.engine.Health(r.Context())
	resp := healthResponse{
		Status:      "ok",
		Sessions:    backendState(status.Sessions),
		Revocations: backendState(status.Revocations),
	}
	if !status.Healthy() {
		resp.Status = CodeUnavailable
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) tokenResponse(pair authcore.TokenPair) tokenResponse {
	now := h.now()
	return tokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        secondsUntil(pair.AccessExpiresAt, now),
		RefreshExpiresIn: secondsUntil(pair.RefreshExpiresAt, now),
	}
}

func secondsUntil(t, now time.Time) int64 {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64(d.Round(time.Second) / time.Second)
}

func toSessionView(info authcore.SessionInfo, currentChain string) sessionView {
	v := sessionView{
		ChainID:       info.ChainID,
		CreatedAt:     info.CreatedAt.UTC(),
		LastRotatedAt: info.LastRotatedAt.UTC(),
		ExpiresAt:     info.ExpiresAt.UTC(),
		Rotations:     info.Rotations,
		ClientIP:      info.Client.IP,
		UserAgent:     info.Client.UserAgent,
		Revoked:       info.Revoked,
		Current:       info.ChainID == currentChain,
	}
	if !info.RevokedAt.IsZero() {
		at := info.RevokedAt.UTC()
		v.RevokedAt = &at
	}
	return v
}

func backendState(b authcore.BackendHealth) string {
	switch {
	case !b.Checked:
		return "unchecked"
	case b.Available:
		return "ok"
	default:
		return CodeUnavailable
	}
}
