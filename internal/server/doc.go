// Package server wires the injection simulator into an HTTP service.
//
// This package orchestrates all components:
//   - HTTP routing with Gin framework
//   - Middleware stack (recovery, tracing, metrics, CORS, rate limiting)
//   - Script library loading from a directory
//   - Manager initialization (hints, diagnostics, breaker)
//
// Server Lifecycle:
//  1. Load configuration from environment
//  2. Initialize logger (production or development)
//  3. Load scripts from SCRIPTS_DIR when set
//  4. Create the navigation manager
//  5. Setup HTTP routes and middleware
//  6. Start HTTP server
//  7. Graceful shutdown on signal
//
// Example Usage:
//
//	cfg, err := config.Load()
//	srv, err := server.New(context.Background(), cfg)
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
package server
