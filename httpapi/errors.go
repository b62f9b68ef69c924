package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pantrychef/authcore"
)

// Error codes written in the "error" field of failed responses.
const (
	CodeInvalidIdentity = "invalid_identity"
	CodeMalformedToken  = "malformed_token"
	CodeBadSignature    = "bad_signature"
	CodeTokenExpired    = "token_expired"
	CodeTokenNotFound   = "token_not_found"
	CodeReuseDetected   = "reuse_detected"
	CodeUnauthorized    = "unauthorized"
	CodeRateLimited     = "rate_limited"
	CodeUnavailable     = "unavailable"
	CodeInternal        = "internal"
)

type errorBody struct {
	Error string `json:"error"`
}

// errorStatus maps an engine error to a status code and error code. A failed
// replay revocation matches both reuse and unavailability; reuse wins.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, authcore.ErrReuseDetected):
		return http.StatusUnauthorized, CodeReuseDetected
	case errors.Is(err, authcore.ErrStoreUnavailable),
		errors.Is(err, authcore.ErrEngineNotReady):
		return http.StatusServiceUnavailable, CodeUnavailable
	case errors.Is(err, authcore.ErrInvalidIdentity):
		return http.StatusUnauthorized, CodeInvalidIdentity
	case errors.Is(err, authcore.ErrTokenExpired):
		return http.StatusUnauthorized, CodeTokenExpired
	case errors.Is(err, authcore.ErrBadSignature):
		return http.StatusUnauthorized, CodeBadSignature
	case errors.Is(err, authcore.ErrMalformedToken):
		return http.StatusBadRequest, CodeMalformedToken
	case errors.Is(err, authcore.ErrTokenNotFound):
		return http.StatusUnauthorized, CodeTokenNotFound
	case errors.Is(err, authcore.ErrUnauthorized):
		return http.StatusUnauthorized, CodeUnauthorized
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func writeEngineError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	writeError(w, status, code)
}

func writeError(w http.ResponseWriter, status int, code string) {
	switch status {
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", `Bearer realm="authcore", error="`+code+`"`)
	}
	writeJSON(w, status, errorBody{Error: code})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
