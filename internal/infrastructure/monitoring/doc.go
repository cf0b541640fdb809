// Package monitoring provides Prometheus metrics for the execution engine:
// context lifecycle outcomes, dedup hits, repair attempts, resize clamps,
// and the usual HTTP/WebSocket surface metrics.
package monitoring
