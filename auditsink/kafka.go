package auditsink

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/pantrychef/authcore"
)

const cloudEventsVersion = "1.0"

// KafkaConfig configures a KafkaSink.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	// Source is the CloudEvents source attribute. Defaults to "authcore".
	Source       string
	BatchTimeout time.Duration
}

// CloudEvent is the envelope published for every audit event.
type CloudEvent struct {
	ID          string              `json:"id"`
	Source      string              `json:"source"`
	SpecVersion string              `json:"specversion"`
	Type        string              `json:"type"`
	Time        time.Time           `json:"time"`
	Subject     string              `json:"subject,omitempty"`
	ContentType string              `json:"datacontenttype"`
	Data        authcore.AuditEvent `json:"data"`
}

var _ authcore.AuditSink = (*KafkaSink)(nil)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes audit events as CloudEvents JSON. Messages are keyed
// by chain id (subject id when there is no chain) so events of one session
// stay ordered within a partition.
type KafkaSink struct {
	writer messageWriter
	source string
	logger *zap.Logger
	failed atomic.Uint64
}

// NewKafkaSink returns a sink writing synchronously to cfg.Topic.
func NewKafkaSink(cfg KafkaConfig, logger *zap.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka audit sink: no brokers")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka audit sink: empty topic")
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: batchTimeout,
		Async:        false,
	}
	return newKafkaSink(writer, cfg.Source, logger), nil
}

func newKafkaSink(w messageWriter, source string, logger *zap.Logger) *KafkaSink {
	if source == "" {
		source = "authcore"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{writer: w, source: source, logger: logger}
}

// Emit publishes event. Failures are logged and counted, never returned.
func (s *KafkaSink) Emit(ctx context.Context, event authcore.AuditEvent) {
	msg, err := s.message(event)
	if err != nil {
		s.failed.Add(1)
		s.logger.Error("encode audit event", zap.String("event_type", event.EventType), zap.Error(err))
		return
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.failed.Add(1)
		s.logger.Warn("publish audit event",
			zap.String("event_type", event.EventType),
			zap.String("chain_id", event.ChainID),
			zap.Error(err),
		)
	}
}

// Failed returns the number of events that could not be published.
func (s *KafkaSink) Failed() uint64 {
	return s.failed.Load()
}

// Close flushes and closes the underlying writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func (s *KafkaSink) message(event authcore.AuditEvent) (kafka.Message, error) {
	ts := event.Timestamp.UTC()
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	ce := CloudEvent{
		ID:          uuid.NewString(),
		Source:      s.source,
		SpecVersion: cloudEventsVersion,
		Type:        "authcore." + event.EventType,
		Time:        ts,
		Subject:     event.SubjectID,
		ContentType: "application/json",
		Data:        event,
	}
	value, err := json.Marshal(ce)
	if err != nil {
		return kafka.Message{}, err
	}

	key := event.ChainID
	if key == "" {
		key = event.SubjectID
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  ts,
		Headers: []kafka.Header{
			{Key: "ce_id", Value: []byte(ce.ID)},
			{Key: "ce_source", Value: []byte(ce.Source)},
			{Key: "ce_specversion", Value: []byte(ce.SpecVersion)},
			{Key: "ce_type", Value: []byte(ce.Type)},
			{Key: "ce_time", Value: []byte(ce.Time.Format(time.RFC3339Nano))},
			{Key: "content-type", Value: []byte(ce.ContentType)},
		},
	}, nil
}
