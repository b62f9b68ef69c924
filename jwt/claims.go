package jwt

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType distinguishes access tokens from refresh tokens.
type TokenType string

const (
	// TypeAccess marks short-lived bearer tokens presented on API calls.
	TypeAccess TokenType = "access"
	// TypeRefresh marks single-use tokens exchanged at the refresh endpoint.
	TypeRefresh TokenType = "refresh"
)

var (
	// ErrMalformedToken reports a token that cannot be parsed or carries an invalid claim set.
	ErrMalformedToken = errors.New("malformed token")
	// ErrExpiredToken reports a correctly signed token whose exp is not after now.
	ErrExpiredToken = errors.New("token expired")
	// ErrBadSignature reports a token whose signature does not verify under the expected key.
	ErrBadSignature = errors.New("bad token signature")
	// ErrTokenTypeMismatch reports a validly signed token of the wrong type.
	ErrTokenTypeMismatch = fmt.Errorf("%w: token type mismatch", ErrMalformedToken)
)

// Claims is the fixed claim record carried by both token types. Decoding
// rejects any claim name not listed here.
type Claims struct {
	SubjectID string           `json:"sub"`
	TokenID   string           `json:"jti"`
	ChainID   string           `json:"cid"`
	Type      TokenType        `json:"typ"`
	Issuer    string           `json:"iss,omitempty"`
	Audience  jwt.ClaimStrings `json:"aud,omitempty"`
	IssuedAt  *jwt.NumericDate `json:"iat"`
	ExpiresAt *jwt.NumericDate `json:"exp"`
}

func (c Claims) GetExpirationTime() (*jwt.NumericDate, error) { return c.ExpiresAt, nil }
func (c Claims) GetIssuedAt() (*jwt.NumericDate, error)       { return c.IssuedAt, nil }
func (c Claims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (c Claims) GetIssuer() (string, error)                   { return c.Issuer, nil }
func (c Claims) GetSubject() (string, error)                  { return c.SubjectID, nil }
func (c Claims) GetAudience() (jwt.ClaimStrings, error)       { return c.Audience, nil }

func (c Claims) validateRequired() error {
	switch {
	case c.SubjectID == "":
		return fmt.Errorf("%w: missing sub", ErrMalformedToken)
	case c.TokenID == "":
		return fmt.Errorf("%w: missing jti", ErrMalformedToken)
	case c.ChainID == "":
		return fmt.Errorf("%w: missing cid", ErrMalformedToken)
	case c.Type != TypeAccess && c.Type != TypeRefresh:
		return fmt.Errorf("%w: missing or unknown typ", ErrMalformedToken)
	case c.IssuedAt == nil:
		return fmt.Errorf("%w: missing iat", ErrMalformedToken)
	case c.ExpiresAt == nil:
		return fmt.Errorf("%w: missing exp", ErrMalformedToken)
	}
	return nil
}
