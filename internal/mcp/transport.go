package mcp

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrTransportClosed is returned by calls issued after Close.
var ErrTransportClosed = errors.New("mcp: transport closed")

// Transport carries JSON-RPC frames to and from one MCP server.
type Transport interface {
	// Connect establishes the underlying connection (spawns the
	// subprocess for stdio, verifies reachability for HTTP).
	Connect(ctx context.Context) error

	// Call sends a request and waits for the matching response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification; no response is expected.
	Notify(ctx context.Context, method string, params any) error

	// Notifications returns server-initiated notifications. The channel
	// is bounded; slow consumers lose notifications rather than block
	// the read loop.
	Notifications() <-chan *jsonRPCNotification

	// Connected reports whether the transport is usable.
	Connected() bool

	// Close tears the connection down. Idempotent.
	Close() error
}

func newTransport(cfg *ServerConfig) Transport {
	if cfg.Transport == TransportHTTP {
		return newHTTPTransport(cfg)
	}
	return newStdioTransport(cfg)
}
