// Package api provides the HTTP API for uploading conversations, managing
// transcript and memory versions, and inspecting the job queue.
package api

import "net/http"

// DefaultBodyLimit bounds uploaded audio.
const DefaultBodyLimit = 256 << 20

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8081")
	ListenAddr string

	// BodyLimit caps request bodies in bytes. Defaults to DefaultBodyLimit.
	BodyLimit int

	// MCPHandler, when set, is mounted at /mcp.
	MCPHandler http.Handler
}
