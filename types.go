package authcore

import (
	"io"
	"time"

	internalaudit "github.com/pantrychef/authcore/internal/audit"
	internalmetrics "github.com/pantrychef/authcore/internal/metrics"
	"github.com/pantrychef/authcore/session"
)

// TokenPair is returned by [Engine.SignIn] and [Engine.Refresh].
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SubjectID        string
	ChainID          string
}

// AuthResult is returned by [Engine.Validate] for a valid access token.
type AuthResult struct {
	SubjectID string
	TokenID   string
	ChainID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// SessionInfo describes one session chain of a subject.
type SessionInfo struct {
	ChainID       string
	SubjectID     string
	CreatedAt     time.Time
	LastRotatedAt time.Time
	ExpiresAt     time.Time
	Rotations     int
	Client        session.ClientContext
	Revoked       bool
	RevokedAt     time.Time
}

func sessionInfoFromChain(c session.Chain) SessionInfo {
	info := SessionInfo{
		ChainID:   c.ChainID,
		SubjectID: c.SubjectID,
		CreatedAt: c.CreatedAt,
		ExpiresAt: c.Tip.ExpiresAt,
		Client:    c.Tip.Client,
		Revoked:   c.Revoked,
		RevokedAt: c.RevokedAt,
	}
	if c.RecordsCount > 0 {
		info.Rotations = c.RecordsCount - 1
	}
	if !c.Tip.IsRoot() {
		info.LastRotatedAt = c.Tip.IssuedAt
	}
	return info
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine’s audit dispatcher.
type AuditSink = internalaudit.Sink

// AuditSinkFunc adapts a function to [AuditSink].
type AuditSinkFunc = internalaudit.SinkFunc

// MultiSink fans each event out to several sinks.
type MultiSink = internalaudit.MultiSink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// MetricID identifies a specific counter or histogram in the in-process
// metrics system.
type MetricID = internalmetrics.MetricID

const (
	MetricSignInSuccess         = internalmetrics.MetricSignInSuccess
	MetricSignInFailure         = internalmetrics.MetricSignInFailure
	MetricSignInInvalidIdentity = internalmetrics.MetricSignInInvalidIdentity
	MetricRefreshSuccess        = internalmetrics.MetricRefreshSuccess
	MetricRefreshFailure        = internalmetrics.MetricRefreshFailure
	MetricRefreshReuseDetected  = internalmetrics.MetricRefreshReuseDetected
	MetricChainRevoked          = internalmetrics.MetricChainRevoked
	MetricChainRevokeFailed     = internalmetrics.MetricChainRevokeFailed
	MetricLogout                = internalmetrics.MetricLogout
	MetricAdminRevocation       = internalmetrics.MetricAdminRevocation
	MetricCheckValid            = internalmetrics.MetricCheckValid
	MetricCheckInvalid          = internalmetrics.MetricCheckInvalid
	MetricStoreUnavailable      = internalmetrics.MetricStoreUnavailable
	MetricCheckLatency          = internalmetrics.MetricCheckLatency
	MetricRefreshLatency        = internalmetrics.MetricRefreshLatency
)

// Metrics holds atomic counters and optional latency histograms.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time deep copy of all metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a new [Metrics] instance configured by the given
// [MetricsConfig]. When Enabled is false, all operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:       cfg.Enabled,
		EnableLatency: cfg.EnableLatencyHistograms,
	})
}
