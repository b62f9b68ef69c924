// Package redisstore implements session.Store and revocation.Store on Redis.
//
// # Key layout
//
//	<prefix>:rt:<tokenID>    hash, one refresh-token record
//	<prefix>:ch:<chainID>    hash, chain metadata (subject, created, tip, revoked)
//	<prefix>:cht:<chainID>   list, token ids of the chain in issuance order
//	<prefix>:sub:<subjectID> set, chain ids owned by a subject
//	<prefix>:rv:<id>         string, one revocation entry
//
// All keys of a chain share one TTL, reset on every rotation to the tip's
// expiry plus the configured retention, so chains are evicted as a unit.
//
// # What this package must NOT do
//
//   - Decide whether a presentation is a replay; it only reports ErrNotActive.
//   - Store raw token strings.
package redisstore
