// Package main is the entry point for the codefence server.
//
// The server executes untrusted JavaScript from chat messages in
// isolated sandboxes and streams the results back to the hosting UI.
//
// Architecture:
//
//	Chat host → HTTP intake → processor → sandboxed contexts
//	                        → message router → WebSocket event feed
//	                        → repair loop → completion service
//
// The server provides:
//   - REST API for message intake and session inspection
//   - WebSocket streaming of frame state
//   - Dependency bundle serving
//   - Automatic repair of failing code units
//   - Rate limiting and metrics
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	./server -port 8600
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
