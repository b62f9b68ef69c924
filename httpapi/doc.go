// Package httpapi exposes an authcore Engine over HTTP with a chi router.
//
// Routes:
//
//	POST   /v1/auth/sign-in              Bearer identity assertion -> token pair
//	POST   /v1/auth/refresh              {"refresh_token": "..."} -> token pair
//	POST   /v1/auth/logout               Bearer access token -> 204
//	GET    /v1/auth/check                Bearer access token -> 204 or 401
//	GET    /v1/auth/sessions             caller's session chains
//	DELETE /v1/auth/sessions/{chainID}   terminate one of the caller's chains
//	GET    /healthz
//	GET    /metrics
//
// Errors are JSON objects of the form {"error": "<code>"}.
package httpapi
