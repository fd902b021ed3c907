package internaldefs

import (
	goAuthClient "github.com/MrEthical07/goAuthClient"
)

// CounterDef names one counter for every exporter.
type CounterDef struct {
	ID   goAuthClient.MetricID
	Name string
	Help string
}

// HistogramDef names one histogram for every exporter.
type HistogramDef struct {
	ID   goAuthClient.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: goAuthClient.MetricRenewalSuccess, Name: "goauthclient_renewal_success_total", Help: "Renewal attempts that persisted a new access token."},
	{ID: goAuthClient.MetricRenewalFailure, Name: "goauthclient_renewal_failure_total", Help: "Renewal attempts that ended the session."},
	{ID: goAuthClient.MetricRenewalTransient, Name: "goauthclient_renewal_transient_total", Help: "Renewal attempts without a usable answer; credentials kept."},
	{ID: goAuthClient.MetricRenewalSuperseded, Name: "goauthclient_renewal_superseded_total", Help: "Renewal results discarded because the session changed."},
	{ID: goAuthClient.MetricRenewalNetworkCall, Name: "goauthclient_renewal_requests_total", Help: "Renewal requests sent to the authentication server."},
	{ID: goAuthClient.MetricRenewalShared, Name: "goauthclient_renewal_shared_total", Help: "Callers served by a renewal already in flight."},
	{ID: goAuthClient.MetricProactiveCheck, Name: "goauthclient_proactive_checks_total", Help: "Proactive expiry checks."},
	{ID: goAuthClient.MetricProactiveRenewal, Name: "goauthclient_proactive_renewals_total", Help: "Renewals started ahead of expiry."},
	{ID: goAuthClient.MetricRequestRenewBeforeSend, Name: "goauthclient_request_renew_before_send_total", Help: "Requests that renewed before sending."},
	{ID: goAuthClient.MetricRequestReplay, Name: "goauthclient_request_replay_total", Help: "Requests replayed after a 401."},
	{ID: goAuthClient.MetricRequestDenied, Name: "goauthclient_request_denied_total", Help: "Requests denied again after replay."},
	{ID: goAuthClient.MetricRequestRejected, Name: "goauthclient_request_rejected_total", Help: "Requests aborted for lack of a usable token."},
	{ID: goAuthClient.MetricSessionEstablished, Name: "goauthclient_session_established_total", Help: "Sessions installed from a login."},
	{ID: goAuthClient.MetricSessionHydrated, Name: "goauthclient_session_hydrated_total", Help: "Sessions restored at start-up."},
	{ID: goAuthClient.MetricSessionExpired, Name: "goauthclient_session_expired_total", Help: "Sessions ended by the server."},
	{ID: goAuthClient.MetricLogout, Name: "goauthclient_logout_total", Help: "Explicit logouts."},
	{ID: goAuthClient.MetricReconcileChanged, Name: "goauthclient_reconcile_changed_total", Help: "Background verifications that updated the cached user."},
	{ID: goAuthClient.MetricReconcileFailure, Name: "goauthclient_reconcile_failure_total", Help: "Background verifications that failed."},
}

var HistogramDefs = []HistogramDef{
	{ID: goAuthClient.MetricRenewalLatency, Name: "goauthclient_renewal_latency_seconds", Help: "Renewal request latency."},
}

// EventsDroppedName is the counter for events discarded under backpressure.
const EventsDroppedName = "goauthclient_events_dropped_total"

const EventsDroppedHelp = "Session events dropped due to dispatcher backpressure."

// HistogramUpperBounds are the finite bucket bounds in seconds; the last
// bucket is +Inf.
var HistogramUpperBounds = []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// NormalizeBuckets pads or truncates raw to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
