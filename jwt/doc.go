// Package jwt encodes and decodes the locally issued access and refresh tokens.
//
// Both token types share one fixed claim record (sub, jti, cid, typ, iat, exp and
// optional iss/aud). Each type is signed under its own key: HS256 keys are
// derived from a single secret with HKDF, and Ed25519 deployments may configure
// a separate refresh key pair. Decode always checks the typ claim, so a refresh
// token is never accepted where an access token is expected.
package jwt
