// Package metrics exposes dobbyd's container counts, lifecycle
// durations, poll-loop dispatch health, and netfilter apply latency as
// Prometheus metrics under /metrics.
package metrics
