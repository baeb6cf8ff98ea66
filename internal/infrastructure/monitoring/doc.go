/*
Package monitoring provides Prometheus metrics for the injection core.

# Overview

Metrics live on a private registry so tests and multiple servers in one
process never collide on the default registerer. All recording methods are
no-ops on a nil *Metrics.

# Metrics

- HTTP request count and latency (by route template)
- Navigations, deliveries by realm and run phase
- Vault handshake outcomes and late-policy retriage
- Stall detector outcomes and breaker-dropped reports
- Execution adapter strategy attempts and live one-shot registrations
- Diagnostics recorded and deduplicated
- WebSocket stream connections

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
