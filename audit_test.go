package authcore

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func (s *countingSink) Count() int64 {
	return s.count.Load()
}

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{
		gate: make(chan struct{}),
	}
}

func (s *gateSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

func auditConfig(buffer int) func(*Builder) {
	return func(b *Builder) {
		cfg := testConfig()
		cfg.Audit.Enabled = true
		cfg.Audit.BufferSize = buffer
		cfg.Audit.DropIfFull = true
		b.WithConfig(cfg)
	}
}

func nextEvent(t *testing.T, ch <-chan AuditEvent) AuditEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for audit event")
		return AuditEvent{}
	}
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	sink := &countingSink{}
	h := newEngineHarness(t, func(b *Builder) { b.WithAuditSink(sink) })

	h.signIn(t, "cook-1")
	_, _ = h.engine.SignIn(context.Background(), "forged")
	h.engine.Close()

	if sink.Count() != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", sink.Count())
	}
}

func TestAuditSignInEventCarriesRequestContext(t *testing.T) {
	sink := NewChannelSink(8)
	h := newEngineHarness(t, auditConfig(16), func(b *Builder) { b.WithAuditSink(sink) })

	ctx := WithRequestID(WithUserAgent(WithClientIP(context.Background(), "198.51.100.33"), "pantry-web/1.0"), "req-42")
	pair, err := h.engine.SignIn(ctx, "firebase:cook-1")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}

	ev := nextEvent(t, sink.Events())
	if ev.EventType != auditEventSignInSuccess || !ev.Success {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.SubjectID != "cook-1" || ev.ChainID != pair.ChainID || ev.TokenID == "" {
		t.Fatalf("expected identity fields, got %+v", ev)
	}
	if ev.IP != "198.51.100.33" || ev.UserAgent != "pantry-web/1.0" || ev.RequestID != "req-42" {
		t.Fatalf("expected request context fields, got %+v", ev)
	}
	if !ev.Timestamp.Equal(testEpoch.UTC()) {
		t.Fatalf("expected engine clock timestamp, got %v", ev.Timestamp)
	}
}

func TestAuditReuseEventHasErrorCode(t *testing.T) {
	sink := NewChannelSink(16)
	h := newEngineHarness(t, auditConfig(16), func(b *Builder) { b.WithAuditSink(sink) })
	ctx := context.Background()

	pair := h.signIn(t, "cook-1")
	if _, err := h.engine.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	_, _ = h.engine.Refresh(ctx, pair.RefreshToken)

	var reuse *AuditEvent
	for i := 0; i < 3; i++ {
		ev := nextEvent(t, sink.Events())
		if ev.EventType == auditEventRefreshReuseDetected {
			reuse = &ev
		}
	}
	if reuse == nil {
		t.Fatal("expected a refresh_reuse_detected event")
	}
	if reuse.Success || reuse.Error != string(auditErrReuseDetected) || reuse.ChainID != pair.ChainID {
		t.Fatalf("unexpected reuse event: %+v", reuse)
	}
	if reuse.Metadata["state"] != "ROTATED" {
		t.Fatalf("expected state metadata, got %v", reuse.Metadata)
	}
}

func TestAuditEventsNeverContainTokens(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	h := newEngineHarness(t, auditConfig(64), func(b *Builder) { b.WithAuditSink(sink) })
	ctx := context.Background()

	pair := h.signIn(t, "cook-1")
	next, err := h.engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := h.engine.Logout(ctx, next.AccessToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	h.engine.Close()

	out := buf.String()
	if strings.Count(out, "\n") != 3 {
		t.Fatalf("expected 3 audit lines, got:\n%s", out)
	}
	for _, secret := range []string{pair.AccessToken, pair.RefreshToken, next.AccessToken, next.RefreshToken, "firebase:cook-1"} {
		if strings.Contains(out, secret) {
			t.Fatalf("audit output leaked a credential:\n%s", out)
		}
	}
}

func TestAuditDropIfFullDoesNotBlockEngine(t *testing.T) {
	sink := newGateSink()
	h := newEngineHarness(t, auditConfig(1), func(b *Builder) { b.WithAuditSink(sink) })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			_, _ = h.engine.SignIn(context.Background(), "forged")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine blocked on a full audit buffer")
	}
	if h.engine.AuditDropped() == 0 {
		t.Fatal("expected dropped audit events")
	}
	close(sink.gate)
}

func TestAuditErrorCodeMapping(t *testing.T) {
	cases := map[error]AuditErrorCode{
		ErrInvalidIdentity:  auditErrInvalidIdentity,
		ErrMalformedToken:   auditErrMalformedToken,
		ErrBadSignature:     auditErrBadSignature,
		ErrTokenExpired:     auditErrTokenExpired,
		ErrTokenNotFound:    auditErrTokenNotFound,
		ErrReuseDetected:    auditErrReuseDetected,
		ErrUnauthorized:     auditErrUnauthorized,
		ErrStoreUnavailable: auditErrUnavailable,
	}
	for err, want := range cases {
		if got := auditErrorCode(err); got != want {
			t.Fatalf("%v: expected %s, got %s", err, want, got)
		}
	}
	if got := auditErrorCode(nil); got != "" {
		t.Fatalf("expected empty code for nil, got %s", got)
	}
}
