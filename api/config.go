// Package api provides the HTTP API server for ingesting, querying, and
// maintaining the engram memory store.
package api

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string

	// EnableMCP mounts the MCP handler at /mcp when true.
	EnableMCP bool
}
