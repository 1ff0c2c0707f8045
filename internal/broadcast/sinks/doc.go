// Package sinks contains broadcast.Sink implementations: Prometheus metrics,
// structured logging, and durable archival of terminal outcomes.
package sinks
