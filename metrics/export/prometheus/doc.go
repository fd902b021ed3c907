// Package prometheus exposes a client's counters and renewal latency
// histogram as a prometheus.Collector.
//
// Register [NewCollector] in a registry of your choice, or mount [Handler],
// which uses a private registry. Series are named goauthclient_*_total and
// goauthclient_renewal_latency_seconds. The collector never mutates the client.
package prometheus
