package auditsink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pantrychef/authcore"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func sampleEvent() authcore.AuditEvent {
	return authcore.AuditEvent{
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		EventType: "refresh_reuse_detected",
		SubjectID: "cook-1",
		ChainID:   "chain-1",
		TokenID:   "tok-1",
		RequestID: "req-1",
		Success:   false,
		Error:     "reuse_detected",
		Metadata:  map[string]string{"state": "ROTATED"},
	}
}

func TestKafkaSinkPublishesCloudEvent(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafkaSink(w, "pantry-auth", nil)

	sink.Emit(context.Background(), sampleEvent())

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "chain-1", string(msg.Key))

	var ce CloudEvent
	require.NoError(t, json.Unmarshal(msg.Value, &ce))
	assert.NotEmpty(t, ce.ID)
	assert.Equal(t, "pantry-auth", ce.Source)
	assert.Equal(t, "1.0", ce.SpecVersion)
	assert.Equal(t, "authcore.refresh_reuse_detected", ce.Type)
	assert.Equal(t, "cook-1", ce.Subject)
	assert.Equal(t, sampleEvent(), ce.Data)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, ce.ID, headers["ce_id"])
	assert.Equal(t, ce.Type, headers["ce_type"])
	assert.Equal(t, "application/json", headers["content-type"])
	assert.Zero(t, sink.Failed())
}

func TestKafkaSinkKeysBySubjectWithoutChain(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafkaSink(w, "", nil)

	ev := sampleEvent()
	ev.ChainID = ""
	sink.Emit(context.Background(), ev)

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "cook-1", string(w.msgs[0].Key))

	var ce CloudEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ce))
	assert.Equal(t, "authcore", ce.Source)
}

func TestKafkaSinkCountsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	w := &fakeWriter{err: errors.New("leader not available")}
	sink := newKafkaSink(w, "", zap.New(core))

	sink.Emit(context.Background(), sampleEvent())
	sink.Emit(context.Background(), sampleEvent())

	assert.Equal(t, uint64(2), sink.Failed())
	assert.Equal(t, 2, logs.FilterMessage("publish audit event").Len())

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaSinkValidates(t *testing.T) {
	_, err := NewKafkaSink(KafkaConfig{Topic: "auth.audit"}, nil)
	assert.Error(t, err)

	_, err = NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}}, nil)
	assert.Error(t, err)

	sink, err := NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "auth.audit"}, nil)
	require.NoError(t, err)
	kw, ok := sink.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "auth.audit", kw.Topic)
	assert.Equal(t, kafka.RequireAll, kw.RequiredAcks)
	require.NoError(t, sink.Close())
}
