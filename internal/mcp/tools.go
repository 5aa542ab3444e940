package mcp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/neboloop/pagerelay/internal/protocol"
	"github.com/neboloop/pagerelay/internal/tokenstore"
)

// PingInput takes no arguments.
type PingInput struct{}

// FetchInput is the input of relay_fetch.
type FetchInput struct {
	URL         string            `json:"url" jsonschema:"URL to fetch, absolute or relative to the trusted origin"`
	Method      string            `json:"method,omitempty" jsonschema:"HTTP method (default GET)"`
	Headers     map[string]string `json:"headers,omitempty" jsonschema:"Request headers"`
	Body        string            `json:"body,omitempty" jsonschema:"Request body as text"`
	Credentials string            `json:"credentials,omitempty" jsonschema:"include (default), same-origin or omit"`
}

// TokenInput is the input of token_latest.
type TokenInput struct {
	Origin string `json:"origin,omitempty" jsonschema:"Page origin; empty for the most recent token of any origin"`
}

func registerRelayTools(server *mcp.Server, relay Relay) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "relay_ping",
		Description: "Check whether the page bridge is attached and answering.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, _ PingInput) (*mcp.CallToolResult, any, error) {
		resp := relay.HandleMessage(ctx, protocol.CallerMessage{Type: protocol.KindPing})
		return jsonResult(resp, !resp.OK)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name: "relay_fetch",
		Description: "Fetch a URL from inside the trusted page, with the page's cookies. " +
			"Returns ok, status, statusText, headers and bodyText.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in FetchInput) (*mcp.CallToolResult, any, error) {
		msg := protocol.CallerMessage{
			Type: protocol.KindFetch,
			Payload: &protocol.FetchPayload{
				URL: in.URL,
				Init: &protocol.RequestInit{
					Method:      in.Method,
					Headers:     in.Headers,
					Body:        in.Body,
					Credentials: protocol.Credentials(in.Credentials),
				},
			},
		}
		resp := relay.HandleMessage(ctx, msg)
		// An HTTP error status is still a relayed response; only relay
		// failures are tool errors.
		return jsonResult(resp, resp.Status == 0 || resp.StatusText == protocol.StatusTextBadRequest)
	})
}

func registerTokenTool(server *mcp.Server, tokens Tokens) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "token_latest",
		Description: "Return the most recent bearer token captured from a page.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in TokenInput) (*mcp.CallToolResult, any, error) {
		tok, err := tokens.Latest(ctx, in.Origin)
		if errors.Is(err, tokenstore.ErrNotFound) {
			return textResult("no token captured", true), nil, nil
		}
		if err != nil {
			return nil, nil, err
		}
		return jsonResult(tok, false)
	})
}

func jsonResult(v any, isError bool) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	return textResult(string(data), isError), nil, nil
}

func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: isError,
	}
}
