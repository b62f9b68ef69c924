package authcore

import (
	"errors"
	"fmt"
	"time"
)

// Config defines the engine configuration.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	JWT      JWTConfig
	Identity IdentityConfig
	Store    StoreConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls locally issued tokens.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	// Secret is the hs256 master secret; per-type keys are derived from it.
	Secret     []byte
	PrivateKey []byte
	PublicKey  []byte
	// RefreshPrivateKey and RefreshPublicKey give refresh tokens their own
	// ed25519 pair. Optional.
	RefreshPrivateKey []byte
	RefreshPublicKey  []byte
	Issuer            string
	Audience          string
	KeyID             string
}

/*
====================================
IDENTITY CONFIG
====================================
*/

// IdentityConfig configures the Firebase verifier built when no verifier is
// injected through [Builder.WithIdentityVerifier].
type IdentityConfig struct {
	ProjectID string
	KeySource string // "x509" (default) or "jwks"
	// KeysURL overrides the provider's published key endpoint.
	KeysURL     string
	KeyCacheTTL time.Duration
	ClockSkew   time.Duration
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig bounds store calls and controls retention.
type StoreConfig struct {
	// OperationTimeout bounds every individual store call. Expiry surfaces as
	// ErrStoreUnavailable.
	OperationTimeout time.Duration
	// Retention is how long records and revocation entries are kept past their
	// natural expiry before the janitor prunes them.
	Retention time.Duration
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled     bool
	BufferSize  int
	DropIfFull  bool
	SinkTimeout time.Duration
}

// MetricsConfig toggles in-process metrics.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline configuration. Signing keys and the
// identity project must still be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     5 * time.Minute,
			RefreshTTL:    14 * 24 * time.Hour,
			SigningMethod: "ed25519",
		},
		Identity: IdentityConfig{
			KeySource:   "x509",
			KeyCacheTTL: time.Hour,
			ClockSkew:   30 * time.Second,
		},
		Store: StoreConfig{
			OperationTimeout: 2 * time.Second,
			Retention:        30 * 24 * time.Hour,
		},
		Audit: AuditConfig{
			Enabled:     false,
			BufferSize:  1024,
			DropIfFull:  true,
			SinkTimeout: 2 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.Secret = cloneBytes(cfg.JWT.Secret)
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.JWT.RefreshPrivateKey = cloneBytes(cfg.JWT.RefreshPrivateKey)
	out.JWT.RefreshPublicKey = cloneBytes(cfg.JWT.RefreshPublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

const maxClockSkew = 5 * time.Minute

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.AccessTTL > c.JWT.RefreshTTL {
		return errors.New("JWT AccessTTL must not exceed RefreshTTL")
	}
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
	case "hs256":
		if len(c.JWT.Secret) < 32 {
			return errors.New("hs256 requires a Secret of at least 32 bytes")
		}
	default:
		return fmt.Errorf("unsupported JWT signing method %q", c.JWT.SigningMethod)
	}

	// Identity
	switch c.Identity.KeySource {
	case "", "x509", "jwks":
	default:
		return fmt.Errorf("unsupported Identity KeySource %q", c.Identity.KeySource)
	}
	if c.Identity.ClockSkew < 0 || c.Identity.ClockSkew > maxClockSkew {
		return fmt.Errorf("Identity ClockSkew must be between 0 and %s", maxClockSkew)
	}
	if c.Identity.KeyCacheTTL < 0 {
		return errors.New("Identity KeyCacheTTL must be >= 0")
	}

	// Store
	if c.Store.OperationTimeout <= 0 {
		return errors.New("Store OperationTimeout must be > 0")
	}
	if c.Store.Retention < 0 {
		return errors.New("Store Retention must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	if c.Audit.SinkTimeout < 0 {
		return errors.New("Audit SinkTimeout must be >= 0")
	}

	return nil
}
