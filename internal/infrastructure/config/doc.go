// Package config provides 12-factor configuration for the injection core services.
//
// Configuration is loaded from environment variables with sensible defaults.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Platform: simulated extension platform (generation, browser family)
//   - Tardy: stall detector policy override
//   - Diagnostics: script issue dedupe window and log bounds
//   - Executor: one-shot registration lifetime and health check TTL
//   - Hints: per-origin hint cache size
//   - Logging: Log level and output format
//   - RateLimit: per-IP and process-wide rate limits
//
// Example Usage:
//
//	cfg, err := config.Load()
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST
//   - INJECT_GENERATION, INJECT_FAMILY
//   - TARDY_OVERRIDE, TARDY_INITIAL_DELAY, TARDY_RECHECK_DELAY, TARDY_MAX_WAIT
//   - DIAG_DEDUPE_TTL, DIAG_MAX_ENTRIES, DIAG_MAX_FINGERPRINTS
//   - EXEC_UNREGISTER_DELAY, EXEC_HEALTH_TTL, EXEC_ONE_SHOT_PREFIX
//   - HINT_CACHE_SIZE
//   - LOG_LEVEL, LOG_DEV
//   - CORS_ORIGINS, SCRIPTS_DIR, MAX_NAVIGATIONS
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED, RATE_LIMIT_GLOBAL_RPS
package config
