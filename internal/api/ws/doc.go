// Package ws streams diagnostics to WebSocket clients.
//
// Every connection is subscribed to the diagnostics collector and receives
// each new entry as it is recorded. Clients can narrow the stream and run
// navigations over the same socket.
//
// Message Types (Client → Server):
//   - ping: Keep-alive ping
//   - filter: Set the minimum level and entry type forwarded
//   - navigate: Simulate a navigation; the report is sent back
//
// Message Types (Server → Client):
//   - system: Welcome message
//   - diagnostic: One diagnostics entry
//   - report: Navigation report
//   - pong, error
//
// Example Usage:
//
//	handler := ws.NewHandler(manager, metrics, logger)
//	router.GET("/v1/diagnostics/stream", handler.HandleConnection)
package ws
