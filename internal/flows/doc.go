// Package flows contains pure-function orchestrators for every Engine operation.
//
// Each flow function (RunSignIn, RunRefresh, RunLogout, RunCheck, RunRevokeChain)
// accepts a typed dependency struct and returns a result carrying a failure
// kind instead of a root-package error. The Engine maps kinds to its public
// sentinels, records metrics and emits audit events.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the identity verifier, token codec,
// session store and revocation store. They do NOT own any of these resources;
// ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import authcore (to avoid import cycles).
//   - Treat a store timeout as anything other than a transient failure.
//   - Write to a store on any failure path other than reuse detection.
package flows
