// Package sinks contains progress.Sink implementations: structured logs,
// Prometheus counters, an in-process broadcaster for streaming subscribers,
// and a Pub/Sub forwarder.
package sinks
