// Package otel reports a client's counters, renewal latency and session phase
// through OpenTelemetry observable instruments.
//
// [NewOTelExporter] registers one Int64ObservableCounter per counter. Each
// histogram becomes a cumulative bucket gauge labelled by "le" plus a count
// gauge. The session record is exposed as goauthclient_session_authenticated
// and a goauthclient_session_phase gauge that reports 1 for the current phase.
// A single callback reads the client on each collection; callers own the
// MeterProvider.
package otel
