// Package client talks to a running pagerelay server over HTTP. It is what
// the CLI and the stdio front ends use when the orchestrator lives in
// another process.
package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/neboloop/pagerelay/internal/capture"
	"github.com/neboloop/pagerelay/internal/protocol"
	"github.com/neboloop/pagerelay/internal/relay"
	"github.com/neboloop/pagerelay/internal/tokenstore"
)

// Client is a thin wrapper over the server's JSON routes.
type Client struct {
	rc *resty.Client
}

// New creates a client for the server at baseURL. timeout bounds each
// request and should exceed the server's fetch timeout.
func New(baseURL string, timeout time.Duration) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{rc: rc}
}

// HandleMessage relays msg. Transport failures come back as a 500
// RelayResponse, the same shape the server uses for its own failures.
func (c *Client) HandleMessage(ctx context.Context, msg protocol.CallerMessage) protocol.RelayResponse {
	var out protocol.RelayResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(msg).
		SetResult(&out).
		Post("/relay/message")
	if err != nil {
		if ctx.Err() != nil {
			return protocol.Canceled()
		}
		return protocol.Failure(err)
	}
	if resp.IsError() {
		return protocol.Failure(fmt.Errorf("server answered %s", resp.Status()))
	}
	return out
}

// Ping checks that the server's bridge answers.
func (c *Client) Ping(ctx context.Context) protocol.RelayResponse {
	return c.HandleMessage(ctx, protocol.CallerMessage{Type: protocol.KindPing})
}

// Fetch relays one request.
func (c *Client) Fetch(ctx context.Context, url string, init *protocol.RequestInit) protocol.RelayResponse {
	return c.HandleMessage(ctx, protocol.CallerMessage{
		Type:    protocol.KindFetch,
		Payload: &protocol.FetchPayload{URL: url, Init: init},
	})
}

// Status returns the orchestrator snapshot.
func (c *Client) Status(ctx context.Context) (relay.Status, error) {
	var out relay.Status
	resp, err := c.rc.R().SetContext(ctx).SetResult(&out).Get("/relay/status")
	if err != nil {
		return out, fmt.Errorf("get status: %w", err)
	}
	if resp.IsError() {
		return out, fmt.Errorf("get status: %s", resp.Status())
	}
	return out, nil
}

// Latest returns the newest token for origin, or the newest overall when
// origin is empty. A server with nothing stored yields tokenstore.ErrNotFound.
func (c *Client) Latest(ctx context.Context, origin string) (capture.Token, error) {
	var out capture.Token
	req := c.rc.R().SetContext(ctx).SetResult(&out)
	if origin != "" {
		req.SetQueryParam("origin", origin)
	}
	resp, err := req.Get("/tokens/latest")
	if err != nil {
		return out, fmt.Errorf("get token: %w", err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return capture.Token{}, tokenstore.ErrNotFound
	case resp.IsError():
		return capture.Token{}, fmt.Errorf("get token: %s", resp.Status())
	}
	return out, nil
}

// Capture forwards a token seen by a bridge to the server's capture route.
// It satisfies capture.Sink through Sink.
func (c *Client) Capture(ctx context.Context, value string, src capture.Source) error {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParam("source", string(src)).
		SetHeader("Content-Type", "application/json").
		SetBody(protocol.CaptureToken{Token: value, Source: string(src)}).
		Post("/capture")
	if err != nil {
		return fmt.Errorf("post capture: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("post capture: %s", resp.Status())
	}
	return nil
}

// Sink adapts Capture for a capture.Listener running in the bridge.
func (c *Client) Sink() capture.Sink {
	return capture.SinkFunc(func(ctx context.Context, tok capture.Token) error {
		return c.Capture(ctx, tok.Value, tok.Source)
	})
}
