package flows

import (
	"context"
	"time"

	"github.com/pantrychef/authcore/jwt"
	"github.com/pantrychef/authcore/session"
)

// Deps groups flow dependency sets. Root engine builds this once and delegates
// request methods to the matching flow implementation.
type Deps struct {
	SignIn  SignInDeps
	Refresh RefreshDeps
	Logout  LogoutDeps
	Check   CheckDeps
	Revoke  RevokeDeps
}

// TokenCodec is the subset of jwt.Manager the flows need.
type TokenCodec interface {
	Encode(claims jwt.Claims, tokenType jwt.TokenType, ttl time.Duration) (string, jwt.Claims, error)
	Decode(token string, expected jwt.TokenType) (*jwt.Claims, error)
}

// IssueDeps captures what is needed to mint one access/refresh pair.
type IssueDeps struct {
	Tokens     TokenCodec
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	NewTokenID func() (string, error)
}

// StoreTimeout bounds one store call. Zero disables the bound.
type StoreTimeout time.Duration

func (d StoreTimeout) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(d))
}

// ClientFunc extracts audit-only client metadata from a request context.
type ClientFunc func(context.Context) session.ClientContext
