package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const (
	firebaseIssuerPrefix = "https://securetoken.google.com/"
	maxSubjectLength     = 128
)

// FirebaseConfig configures a FirebaseVerifier.
type FirebaseConfig struct {
	// ProjectID is the Firebase project; it is both the expected audience and
	// the suffix of the expected issuer.
	ProjectID string
	Keys      KeySource
	// ClockSkew tolerates iat and auth_time slightly in the future. It does
	// not extend exp.
	ClockSkew time.Duration
	Now       func() time.Time
}

// FirebaseVerifier verifies Firebase Authentication ID tokens.
type FirebaseVerifier struct {
	projectID string
	issuer    string
	keys      KeySource
	skew      time.Duration
	now       func() time.Time
}

type firebaseClaims struct {
	jwtlib.RegisteredClaims
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
	Picture       string `json:"picture,omitempty"`
	AuthTime      int64  `json:"auth_time"`
	Firebase      struct {
		SignInProvider string `json:"sign_in_provider"`
	} `json:"firebase"`
}

// NewFirebaseVerifier validates cfg and returns a verifier.
func NewFirebaseVerifier(cfg FirebaseConfig) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("identity: firebase project id is required")
	}
	if cfg.Keys == nil {
		return nil, errors.New("identity: key source is required")
	}
	if cfg.ClockSkew < 0 {
		return nil, errors.New("identity: clock skew must be >= 0")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &FirebaseVerifier{
		projectID: cfg.ProjectID,
		issuer:    firebaseIssuerPrefix + cfg.ProjectID,
		keys:      cfg.Keys,
		skew:      cfg.ClockSkew,
		now:       now,
	}, nil
}

// Verify checks signature, key id, issuer, audience, expiry and subject.
//
//	Security: only RS256 is accepted; the key is selected by kid and never by
//	anything else in the header.
func (v *FirebaseVerifier) Verify(ctx context.Context, assertion string) (*Identity, error) {
	if assertion == "" {
		return nil, fmt.Errorf("%w: empty assertion", ErrInvalidIdentity)
	}

	parser := jwtlib.NewParser(
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodRS256.Alg()}),
		jwtlib.WithIssuer(v.issuer),
		jwtlib.WithAudience(v.projectID),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(v.now),
	)

	claims := &firebaseClaims{}
	_, err := parser.ParseWithClaims(assertion, claims, func(t *jwtlib.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid header")
		}
		key, err := v.keys.PublicKey(ctx, kid)
		if err != nil {
			return nil, err
		}
		return key, nil
	})
	if err != nil {
		if errors.Is(err, ErrKeysUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}

	if err := v.checkClaims(claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}

	id := &Identity{
		SubjectID: claims.Subject,
		Claims: Claims{
			Email:          claims.Email,
			EmailVerified:  claims.EmailVerified,
			Name:           claims.Name,
			Picture:        claims.Picture,
			SignInProvider: claims.Firebase.SignInProvider,
			AuthTime:       time.Unix(claims.AuthTime, 0),
			IssuedAt:       claims.IssuedAt.Time,
			ExpiresAt:      claims.ExpiresAt.Time,
		},
	}
	return id, nil
}

func (v *FirebaseVerifier) checkClaims(c *firebaseClaims) error {
	if c.Subject == "" {
		return errors.New("missing subject")
	}
	if len(c.Subject) > maxSubjectLength {
		return errors.New("subject too long")
	}
	if c.IssuedAt == nil {
		return errors.New("missing iat")
	}
	limit := v.now().Add(v.skew)
	if c.IssuedAt.Time.After(limit) {
		return errors.New("iat in the future")
	}
	if c.AuthTime <= 0 {
		return errors.New("missing auth_time")
	}
	if time.Unix(c.AuthTime, 0).After(limit) {
		return errors.New("auth_time in the future")
	}
	return nil
}
