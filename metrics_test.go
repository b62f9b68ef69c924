package authcore

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricSignInSuccess)

	if got := m.Value(MetricSignInSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestMetricsEnabledIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricSignInSuccess)
	m.Inc(MetricSignInSuccess)
	m.Inc(MetricSignInSuccess)

	if got := m.Value(MetricSignInSuccess); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricRefreshSuccess)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricRefreshSuccess); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		700 * time.Millisecond,
	}
	for _, d := range observations {
		m.Observe(MetricCheckLatency, d)
	}

	buckets := m.Snapshot().Histograms[MetricCheckLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}
	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
}

func TestMetricsHistogramIDsAreNotCounters(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricCheckLatency)

	snap := m.Snapshot()
	if _, ok := snap.Counters[MetricCheckLatency]; ok {
		t.Fatal("latency id must not appear among counters")
	}
	if _, ok := snap.Histograms[MetricCheckLatency]; ok {
		t.Fatal("histograms must be absent when latency is disabled")
	}
}

func TestEngineMetricsFollowOutcomes(t *testing.T) {
	h := newEngineHarness(t, func(b *Builder) {
		b.WithLatencyHistograms(true)
	})
	ctx := context.Background()

	pair := h.signIn(t, "cook-1")
	_, _ = h.engine.SignIn(ctx, "forged")
	if _, err := h.engine.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	_, _ = h.engine.Refresh(ctx, pair.RefreshToken)
	_ = h.engine.Check(ctx, pair.AccessToken)
	_ = h.engine.Check(ctx, "garbage")

	snap := h.engine.MetricsSnapshot()
	want := map[MetricID]uint64{
		MetricSignInSuccess:         1,
		MetricSignInFailure:         1,
		MetricSignInInvalidIdentity: 1,
		MetricRefreshSuccess:        1,
		MetricRefreshFailure:        1,
		MetricRefreshReuseDetected:  1,
		MetricChainRevoked:          1,
		MetricCheckValid:            0,
		MetricCheckInvalid:          2,
		MetricStoreUnavailable:      0,
	}
	for id, v := range want {
		if got := snap.Counters[id]; got != v {
			t.Fatalf("metric %d: expected %d, got %d", id, v, got)
		}
	}

	var checks uint64
	for _, v := range snap.Histograms[MetricCheckLatency] {
		checks += v
	}
	if checks != 2 {
		t.Fatalf("expected 2 check latency observations, got %d", checks)
	}
}

func TestEngineMetricsDisabled(t *testing.T) {
	h := newEngineHarness(t, func(b *Builder) {
		b.WithMetricsEnabled(false)
	})
	h.signIn(t, "cook-1")

	snap := h.engine.MetricsSnapshot()
	if len(snap.Counters) != 0 || len(snap.Histograms) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}
