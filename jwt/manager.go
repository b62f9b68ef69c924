package jwt

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// SigningMethod selects the signature algorithm used for locally issued tokens.
type SigningMethod string

const (
	// MethodEd25519 signs with an Ed25519 key pair (EdDSA).
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256 keys derived from a shared secret.
	MethodHS256 SigningMethod = "hs256"
)

const (
	hkdfInfoAccess  = "authcore/access-token/v1"
	hkdfInfoRefresh = "authcore/refresh-token/v1"
	derivedKeySize  = 32
	minSecretSize   = 32
)

// Config defines codec construction parameters.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	SigningMethod SigningMethod
	// Secret is the HS256 master secret. Access and refresh keys are derived from it.
	Secret []byte
	// PrivateKey and PublicKey hold Ed25519 keys, raw or PEM encoded.
	PrivateKey []byte
	PublicKey  []byte
	// RefreshPrivateKey and RefreshPublicKey optionally give refresh tokens their
	// own Ed25519 key pair. When empty the access pair is reused and the typ
	// claim alone separates the two token types.
	RefreshPrivateKey []byte
	RefreshPublicKey  []byte
	Issuer            string
	Audience          string
	KeyID             string
	// Now overrides the codec clock. Defaults to time.Now.
	Now func() time.Time
}

type keyPair struct {
	sign   any
	verify any
}

// Manager encodes and decodes locally issued access and refresh tokens.
//
// Manager instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Manager struct {
	config  Config
	method  jwt.SigningMethod
	access  keyPair
	refresh keyPair
	now     func() time.Time
}

// NewManager describes the newmanager operation and its observable behavior.
//
// NewManager may return an error when the signing configuration is incomplete or a key cannot be parsed.
// NewManager does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewManager(cfg Config) (*Manager, error) {
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	m := &Manager{config: cfg, now: cfg.Now}
	if m.now == nil {
		m.now = time.Now
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.Secret) < minSecretSize {
			return nil, fmt.Errorf("hs256 requires a secret of at least %d bytes", minSecretSize)
		}
		accessKey, err := deriveKey(cfg.Secret, hkdfInfoAccess)
		if err != nil {
			return nil, err
		}
		refreshKey, err := deriveKey(cfg.Secret, hkdfInfoRefresh)
		if err != nil {
			return nil, err
		}
		m.method = jwt.SigningMethodHS256
		m.access = keyPair{sign: accessKey, verify: accessKey}
		m.refresh = keyPair{sign: refreshKey, verify: refreshKey}
	case MethodEd25519:
		access, err := edKeyPair(cfg.PrivateKey, cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		refresh := access
		if len(cfg.RefreshPrivateKey) > 0 || len(cfg.RefreshPublicKey) > 0 {
			refresh, err = edKeyPair(cfg.RefreshPrivateKey, cfg.RefreshPublicKey)
			if err != nil {
				return nil, fmt.Errorf("refresh key: %w", err)
			}
		}
		m.method = jwt.SigningMethodEdDSA
		m.access = access
		m.refresh = refresh
	default:
		return nil, errors.New("unsupported signing method")
	}

	return m, nil
}

// Encode describes the encode operation and its observable behavior.
//
// Encode stamps typ, iat and exp (now + ttl) onto claims and signs them with
// the key for tokenType. The finalized claims are returned alongside the token.
// Encode may return an error when claims are incomplete or signing fails.
func (m *Manager) Encode(claims Claims, tokenType TokenType, ttl time.Duration) (string, Claims, error) {
	if ttl <= 0 {
		return "", Claims{}, errors.New("token ttl must be > 0")
	}
	keys, err := m.keysFor(tokenType)
	if err != nil {
		return "", Claims{}, err
	}

	now := m.now().Truncate(time.Second)
	claims.Type = tokenType
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	claims.Issuer = m.config.Issuer
	claims.Audience = nil
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}
	if err := claims.validateRequired(); err != nil {
		return "", Claims{}, err
	}

	token := jwt.NewWithClaims(m.method, claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}

	signed, err := token.SignedString(keys.sign)
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, claims, nil
}

// Decode describes the decode operation and its observable behavior.
//
// Decode verifies signature, expiry and token type. Every failure is reported
// as exactly one of ErrMalformedToken, ErrExpiredToken or ErrBadSignature.
// Expiry is strict: a token whose exp equals the current second is expired.
func (m *Manager) Decode(tokenStr string, expected TokenType) (*Claims, error) {
	keys, err := m.keysFor(expected)
	if err != nil {
		return nil, err
	}
	if strings.Count(tokenStr, ".") != 2 {
		return nil, fmt.Errorf("%w: token must have three segments", ErrMalformedToken)
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != m.method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		if m.config.KeyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid != m.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return keys.verify, nil
	})
	if err != nil {
		return nil, classifyParseError(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid claims", ErrMalformedToken)
	}
	if err := rejectUnknownClaims(tokenStr); err != nil {
		return nil, err
	}
	if err := claims.validateRequired(); err != nil {
		return nil, err
	}
	if claims.Type != expected {
		return nil, ErrTokenTypeMismatch
	}

	return claims, nil
}

func (m *Manager) keysFor(tokenType TokenType) (keyPair, error) {
	switch tokenType {
	case TypeAccess:
		return m.access, nil
	case TypeRefresh:
		return m.refresh, nil
	default:
		return keyPair{}, fmt.Errorf("unknown token type %q", tokenType)
	}
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpiredToken, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
}

// rejectUnknownClaims re-reads the payload segment strictly. The signature has
// already been verified at this point.
func rejectUnknownClaims(tokenStr string) error {
	parts := strings.Split(tokenStr, ".")
	payload, err := jwt.NewParser().DecodeSegment(parts[1])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	var strict Claims
	if err := dec.Decode(&strict); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return nil
}

func deriveKey(secret []byte, info string) ([]byte, error) {
	out := make([]byte, derivedKeySize)
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", info, err)
	}
	return out, nil
}

func edKeyPair(private, public []byte) (keyPair, error) {
	var pair keyPair
	if len(private) > 0 {
		priv, err := parseEdPrivateKey(private)
		if err != nil {
			return pair, err
		}
		pair.sign = priv
		pair.verify = priv.Public()
	}
	if len(public) > 0 {
		pub, err := parseEdPublicKey(public)
		if err != nil {
			return pair, err
		}
		pair.verify = pub
	}
	if pair.sign == nil {
		return pair, errors.New("ed25519 requires private key")
	}
	return pair, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
