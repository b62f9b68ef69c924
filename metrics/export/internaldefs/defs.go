package internaldefs

import (
	"github.com/pantrychef/authcore"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for export.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const (
	AuditDroppedName = "authcore_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."
)

var CounterDefs = []CounterDef{
	{ID: authcore.MetricSignInSuccess, Name: "authcore_sign_in_success_total", Help: "Successful sign-ins."},
	{ID: authcore.MetricSignInFailure, Name: "authcore_sign_in_failure_total", Help: "Failed sign-ins."},
	{ID: authcore.MetricSignInInvalidIdentity, Name: "authcore_sign_in_invalid_identity_total", Help: "Sign-ins rejected for an invalid identity assertion."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful token rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Failed token rotations."},
	{ID: authcore.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Refresh tokens presented after being consumed or revoked."},
	{ID: authcore.MetricChainRevoked, Name: "authcore_chain_revoked_total", Help: "Session chains revoked."},
	{ID: authcore.MetricChainRevokeFailed, Name: "authcore_chain_revoke_failed_total", Help: "Session chain revocations that did not complete."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Completed logouts."},
	{ID: authcore.MetricAdminRevocation, Name: "authcore_admin_revocation_total", Help: "Chains revoked by administrative action."},
	{ID: authcore.MetricCheckValid, Name: "authcore_check_valid_total", Help: "Access token checks that passed."},
	{ID: authcore.MetricCheckInvalid, Name: "authcore_check_invalid_total", Help: "Access token checks that failed."},
	{ID: authcore.MetricStoreUnavailable, Name: "authcore_store_unavailable_total", Help: "Operations failed by an unavailable backend."},
}

var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricCheckLatency, Name: "authcore_check_latency_seconds", Help: "Access token check latency."},
	{ID: authcore.MetricRefreshLatency, Name: "authcore_refresh_latency_seconds", Help: "Token rotation latency."},
}

// HistogramBounds are the finite upper bounds, in seconds, of the first seven
// buckets. The eighth bucket is unbounded.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names every bucket, the unbounded one last.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to exactly eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
