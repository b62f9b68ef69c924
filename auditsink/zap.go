package auditsink

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pantrychef/authcore"
)

var _ authcore.AuditSink = (*ZapSink)(nil)

// ZapSink writes audit events to a zap logger, successful events at info
// and failures at warn.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink returns a sink logging under the "audit" logger name.
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.Named("audit")}
}

func (s *ZapSink) Emit(_ context.Context, event authcore.AuditEvent) {
	level := zapcore.InfoLevel
	if !event.Success {
		level = zapcore.WarnLevel
	}
	ce := s.logger.Check(level, event.EventType)
	if ce == nil {
		return
	}

	fields := make([]zap.Field, 0, 10+len(event.Metadata))
	fields = append(fields,
		zap.Time("event_time", event.Timestamp),
		zap.Bool("success", event.Success),
	)
	fields = appendNonEmpty(fields, "subject_id", event.SubjectID)
	fields = appendNonEmpty(fields, "chain_id", event.ChainID)
	fields = appendNonEmpty(fields, "token_id", event.TokenID)
	fields = appendNonEmpty(fields, "request_id", event.RequestID)
	fields = appendNonEmpty(fields, "ip", event.IP)
	fields = appendNonEmpty(fields, "user_agent", event.UserAgent)
	fields = appendNonEmpty(fields, "error", event.Error)
	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", event.Metadata))
	}
	ce.Write(fields...)
}

func appendNonEmpty(fields []zap.Field, key, value string) []zap.Field {
	if value == "" {
		return fields
	}
	return append(fields, zap.String(key, value))
}
