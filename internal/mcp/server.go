// Package mcp exposes the relay to agents as MCP tools.
package mcp

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/neboloop/pagerelay/internal/capture"
	"github.com/neboloop/pagerelay/internal/protocol"
)

// Relay answers caller messages.
type Relay interface {
	HandleMessage(ctx context.Context, msg protocol.CallerMessage) protocol.RelayResponse
}

// Tokens looks up captured tokens.
type Tokens interface {
	Latest(ctx context.Context, origin string) (capture.Token, error)
}

// NewServer creates an MCP server with the relay tools registered. tokens
// may be nil, in which case token_latest is not offered.
func NewServer(relay Relay, tokens Tokens, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "pagerelay",
		Version: version,
	}, nil)

	registerRelayTools(server, relay)
	if tokens != nil {
		registerTokenTool(server, tokens)
	}
	return server
}

// ServeStdio runs server over stdin/stdout until the client disconnects or
// ctx is done.
func ServeStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

// Handler serves server over streamable HTTP.
func Handler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(
		func(*http.Request) *mcp.Server { return server },
		&mcp.StreamableHTTPOptions{Stateless: true},
	)
}
