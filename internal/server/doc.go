// Package server wires the whole service together.
//
// It orchestrates all components:
//   - HTTP routing with Gin (messages, sessions, bundles, heal)
//   - Middleware stack (CORS, rate limiting, recovery, metrics)
//   - The message router and its dispatch goroutine
//   - The sandbox runtime pool
//   - The processor pipeline bound to the conversation bus
//   - The repair engine and its completion client
//   - The WebSocket event feed
//
// Server Lifecycle:
//  1. Load configuration from environment
//  2. Initialize logger (production or development)
//  3. Index the bundle store and apply the manifest
//  4. Build the runtime pool, router, processor, and repair engine
//  5. Setup HTTP routes and middleware
//  6. Start the dispatch goroutine and the HTTP server
//  7. Graceful shutdown on signal
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.New(cfg, logger)
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
