// Package main is the entry point for the injectcore HTTP service.
//
// The service simulates userscript injection: scripts are installed into a
// library, navigations are replayed against a sandboxed page, and each
// navigation's report shows which realm every script ran in and whether the
// stall detector had to intervene.
//
// Configuration:
//   - Environment variables (12-factor), see internal/infrastructure/config
//   - SCRIPTS_DIR preloads *.user.js files
//
// Usage:
//
//	PORT=8000 INJECT_GENERATION=mv3 SCRIPTS_DIR=./scripts ./server
//
//	# Development mode (colored logs, debug level)
//	LOG_DEV=true ./server
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
