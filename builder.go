package authcore

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/pantrychef/authcore/identity"
	"github.com/pantrychef/authcore/internal"
	"github.com/pantrychef/authcore/internal/audit"
	"github.com/pantrychef/authcore/jwt"
	"github.com/pantrychef/authcore/revocation"
	"github.com/pantrychef/authcore/session"
)

// Builder assembles an [Engine]. A Builder can be used once.
type Builder struct {
	config Config

	sessions    session.Store
	revocations revocation.Store
	verifier    identity.Verifier

	auditSink AuditSink
	logger    *zap.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration. The value is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithSessionStore sets the refresh-token record store. Required.
func (b *Builder) WithSessionStore(store session.Store) *Builder {
	b.sessions = store
	return b
}

// WithRevocationStore sets the access-token blacklist. Required.
func (b *Builder) WithRevocationStore(store revocation.Store) *Builder {
	b.revocations = store
	return b
}

// WithIdentityVerifier injects the identity verifier. When omitted, Build
// constructs a Firebase verifier from Config.Identity.
func (b *Builder) WithIdentityVerifier(v identity.Verifier) *Builder {
	b.verifier = v
	return b
}

// WithAuditSink sets the destination of audit events. Events are only
// dispatched when Config.Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the anomaly logger. Defaults to a no-op logger.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the engine clock used for token stamps and store
// transitions.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles in-process metrics.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles latency histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
//
// Build may return an error when the configuration is invalid, a required
// store is missing or signing keys cannot be parsed.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.sessions == nil {
		return nil, errors.New("session store required")
	}
	if b.revocations == nil {
		return nil, errors.New("revocation store required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	verifier := b.verifier
	if verifier == nil {
		v, err := newFirebaseVerifier(cfg.Identity, now)
		if err != nil {
			return nil, err
		}
		verifier = v
	}

	jm, err := jwt.NewManager(jwt.Config{
		SigningMethod:     jwt.SigningMethod(cfg.JWT.SigningMethod),
		Secret:            cloneBytes(cfg.JWT.Secret),
		PrivateKey:        cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:         cloneBytes(cfg.JWT.PublicKey),
		RefreshPrivateKey: cloneBytes(cfg.JWT.RefreshPrivateKey),
		RefreshPublicKey:  cloneBytes(cfg.JWT.RefreshPublicKey),
		Issuer:            cfg.JWT.Issuer,
		Audience:          cfg.JWT.Audience,
		KeyID:             cfg.JWT.KeyID,
		Now:               now,
	})
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := &Engine{
		config:      cloneConfig(cfg),
		sessions:    b.sessions,
		revocations: b.revocations,
		verifier:    verifier,
		jwtManager:  jm,
		logger:      logger.Named("authcore"),
		now:         now,
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:     cfg.Audit.Enabled,
		BufferSize:  cfg.Audit.BufferSize,
		DropIfFull:  cfg.Audit.DropIfFull,
		SinkTimeout: cfg.Audit.SinkTimeout,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.flows = engine.buildFlows(internal.NewTokenID, internal.NewChainID)

	b.built = true

	return engine, nil
}

func newFirebaseVerifier(cfg IdentityConfig, now func() time.Time) (identity.Verifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("identity verifier required: set Identity.ProjectID or use WithIdentityVerifier")
	}
	opts := identity.RemoteKeyOptions{
		URL: cfg.KeysURL,
		TTL: cfg.KeyCacheTTL,
		Now: now,
	}
	var keys identity.KeySource
	switch cfg.KeySource {
	case "jwks":
		keys = identity.NewJWKSKeySource(opts)
	default:
		keys = identity.NewX509KeySource(opts)
	}
	return identity.NewFirebaseVerifier(identity.FirebaseConfig{
		ProjectID: cfg.ProjectID,
		Keys:      keys,
		ClockSkew: cfg.ClockSkew,
		Now:       now,
	})
}
