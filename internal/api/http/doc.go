// Package http exposes the injection simulator over a gin router.
//
// Routes:
//
//	GET    /                                   service banner
//	GET    /health                             manager and diagnostics stats
//	POST   /v1/scripts                         install a userscript
//	GET    /v1/scripts                         list installed scripts
//	GET    /v1/hints?url=                      per-origin injection hint
//	POST   /v1/navigations                     simulate a navigation
//	GET    /v1/navigations                     list kept navigations
//	GET    /v1/navigations/:id                 navigation report
//	POST   /v1/navigations/:id/advance         advance virtual time
//	POST   /v1/navigations/:id/reload          load the document again in its tab
//	DELETE /v1/navigations/:id                 close the navigation's tab
//	POST   /v1/navigations/:id/execute         privileged one-shot execution
//	GET    /v1/navigations/:id/executor/health registration API health
//	GET    /v1/diagnostics                     filtered diagnostics log
//	GET    /v1/diagnostics/export              gzip export download
//	POST   /v1/diagnostics/issues              script issue intake
//	DELETE /v1/diagnostics                     clear the log
//
// Failures are returned as {"error": "..."} with a status derived from the
// error kind.
package http
