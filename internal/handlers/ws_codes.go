// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the versus handlers. These provide
// more specific reasons for closure than the standard codes.
const (
	BadSubprotocolError  = 3000 // Client connected with an unsupported subprotocol.
	InvalidSeriesIDError = 3001 // Target series does not exist or the id is malformed.
	StaleConnectionError = 3002 // Connection evicted by the liveness monitor.
)
