// Package logging provides structured logging using uber/zap.
//
// Two modes: production emits JSON for machine parsing, development emits
// colored console output. Every host-side failure path in the engine logs
// through this package instead of throwing; an uncaught panic in one
// message's pipeline must never break another message's rendering.
package logging
