// Package rate provides a Redis-backed fixed-window rate limiter that is
// shared by every authcore-server replica pointing at the same Redis.
//
// # Window semantics
//
// INCR + conditional PEXPIRE on the first hit of a window. Keys are
// "<prefix>:<caller key>", e.g. "acrl:ip:203.0.113.7".
package rate
