// Package middleware adapts engine access-token validation to net/http.
//
// [Guard] reads the Authorization header, calls Validate and stores the
// resulting [authcore.AuthResult] in the request context, where handlers read
// it back with [AuthResultFromContext].
//
// # What this package must NOT do
//
//   - Parse or sign tokens itself.
//   - Treat an unreachable revocation store as a valid token.
package middleware
