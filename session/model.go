package session

import "time"

// State is the lifecycle state of one refresh-token record.
type State string

const (
	// StateActive marks the single usable tip of a chain.
	StateActive State = "ACTIVE"
	// StateRotated marks a token that has been exchanged for its child.
	StateRotated State = "ROTATED"
	// StateRevoked marks a token whose chain was terminated.
	StateRevoked State = "REVOKED"
)

// Valid reports whether s is one of the three known states.
func (s State) Valid() bool {
	switch s {
	case StateActive, StateRotated, StateRevoked:
		return true
	default:
		return false
	}
}

// ClientContext is request metadata captured for audit only. It never
// influences validity decisions.
type ClientContext struct {
	IP        string
	UserAgent string
}

// Record is the persisted form of one refresh token. TokenID equals the jti of
// the refresh token it describes; AccessTokenID is the jti of the access token
// minted in the same issuance.
type Record struct {
	TokenID       string
	ChainID       string
	SubjectID     string
	ParentTokenID string

	IssuedAt  time.Time
	ExpiresAt time.Time
	State     State

	AccessTokenID   string
	AccessExpiresAt time.Time

	Client ClientContext

	ConsumedAt time.Time
	RevokedAt  time.Time
}

// IsRoot reports whether r started its chain.
func (r Record) IsRoot() bool {
	return r.ParentTokenID == ""
}

// Expired reports whether r is expired at now. Expiry is strict: a record is
// expired at its ExpiresAt instant.
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Chain summarizes one session chain for listing and administration.
type Chain struct {
	ChainID      string
	SubjectID    string
	CreatedAt    time.Time
	Revoked      bool
	RevokedAt    time.Time
	Tip          Record
	RecordsCount int
}
