package authcore

import (
	"context"
	"time"
)

// Pinger is implemented by stores that can report backend reachability.
type Pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// BackendHealth is the result of probing one store.
type BackendHealth struct {
	Checked   bool
	Available bool
	Latency   time.Duration
}

// HealthStatus is an on-demand backend health result.
type HealthStatus struct {
	Sessions    BackendHealth
	Revocations BackendHealth
}

// Healthy reports whether every probed backend answered.
func (h HealthStatus) Healthy() bool {
	return (!h.Sessions.Checked || h.Sessions.Available) &&
		(!h.Revocations.Checked || h.Revocations.Available)
}

// Health pings the session and revocation stores when they implement
// [Pinger]. Stores without a probe are reported as unchecked. When both
// stores are the same Pinger it is probed once.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if !e.ready() {
		return HealthStatus{
			Sessions:    BackendHealth{Checked: true},
			Revocations: BackendHealth{Checked: true},
		}
	}

	var status HealthStatus
	sp, sessionsPing := e.sessions.(Pinger)
	if sessionsPing {
		status.Sessions = probe(ctx, sp, e.config.Store.OperationTimeout)
	}
	if rp, ok := e.revocations.(Pinger); ok {
		if sessionsPing && any(rp) == any(sp) {
			status.Revocations = status.Sessions
		} else {
			status.Revocations = probe(ctx, rp, e.config.Store.OperationTimeout)
		}
	}
	return status
}

func probe(ctx context.Context, p Pinger, timeout time.Duration) BackendHealth {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	latency, err := p.Ping(ctx)
	return BackendHealth{Checked: true, Available: err == nil, Latency: latency}
}
