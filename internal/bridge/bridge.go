// Package bridge is the page side of the relay. It answers liveness checks
// and runs relayed requests with the page's ambient credentials, replying
// exactly once to every request it accepts.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/neboloop/pagerelay/internal/bus"
	"github.com/neboloop/pagerelay/internal/metrics"
	"github.com/neboloop/pagerelay/internal/protocol"
)

// The identifying header added to every relayed request.
const (
	ClientTypeHeader = "X-Client-Type"
	ClientTypeValue  = "web-extension"
)

// Response is what an Executor observed on the network.
type Response struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       string
}

// Executor performs one HTTP request on behalf of the page.
type Executor interface {
	Execute(ctx context.Context, rawURL string, init protocol.RequestInit) (*Response, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, rawURL string, init protocol.RequestInit) (*Response, error)

func (f ExecutorFunc) Execute(ctx context.Context, rawURL string, init protocol.RequestInit) (*Response, error) {
	return f(ctx, rawURL, init)
}

// Bridge handles messages from the orchestrator.
type Bridge struct {
	trusted string
	exec    Executor
	logger  *slog.Logger
	metrics *metrics.Metrics

	wg sync.WaitGroup
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithMetrics counts executed requests into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// New creates a bridge that only talks to trustedOrigin.
func New(trustedOrigin string, exec Executor, opts ...Option) *Bridge {
	b := &Bridge{trusted: trustedOrigin, exec: exec}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With("component", "bridge")
	return b
}

// Attach listens on w, the window the bridge lives in, until the returned
// function is called. Request execution is bound to ctx.
func (b *Bridge) Attach(ctx context.Context, w *bus.Window) (detach func()) {
	return w.AddListener(func(ev bus.MessageEvent) {
		b.Handle(ctx, ev, w)
	})
}

// Handle processes one message event. self is the target replies are sent
// from. Events from any origin other than the trusted one are ignored, as
// is anything that is not a Ping or a FetchRequest.
func (b *Bridge) Handle(ctx context.Context, ev bus.MessageEvent, self bus.Target) {
	if ev.Origin != b.trusted || ev.Source == nil {
		return
	}
	msg, err := protocol.Decode(ev.Data)
	if err != nil {
		b.logger.Debug("ignoring message", "error", err)
		return
	}

	switch m := msg.(type) {
	case protocol.Ping:
		if err := ev.Source.PostMessage(protocol.PingAck{}, b.trusted, self); err != nil {
			b.logger.Debug("ack not sent", "error", err)
		}
	case protocol.FetchRequest:
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.fetch(ctx, ev.Source, self, m)
		}()
	}
}

// Wait blocks until every accepted request has been answered.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

func (b *Bridge) fetch(ctx context.Context, reply bus.Target, self bus.Target, req protocol.FetchRequest) {
	result := protocol.FetchResult{ReqID: req.ReqID}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("fetch panicked", "req_id", req.ReqID, "panic", r)
			result.RelayResponse = protocol.Recovered(r)
		}
		b.metrics.BridgeRequest(result.Status)
		if err := reply.PostMessage(result, b.trusted, self); err != nil {
			b.logger.Warn("result not sent", "req_id", req.ReqID, "error", err)
		}
	}()

	init := prepare(req.Init)
	resp, err := b.exec.Execute(ctx, req.URL, init)
	if err != nil {
		b.logger.Debug("fetch failed", "req_id", req.ReqID, "url", req.URL, "error", err)
		result.RelayResponse = protocol.Failure(err)
		return
	}
	if resp == nil {
		result.RelayResponse = protocol.Failure(fmt.Errorf("executor returned no response"))
		return
	}
	result.RelayResponse = protocol.RelayResponse{
		OK:         resp.Status >= 200 && resp.Status < 300,
		Status:     resp.Status,
		StatusText: resp.StatusText,
		Headers:    protocol.HeaderMap(resp.Header),
		BodyText:   resp.Body,
	}
}

// prepare fills in the defaults a page fetch uses: GET, credentials
// included, and the identifying header overriding any caller value.
func prepare(in *protocol.RequestInit) protocol.RequestInit {
	init := in.Clone()
	if init.Method == "" {
		init.Method = http.MethodGet
	}
	init.Method = strings.ToUpper(init.Method)
	if init.Credentials == "" {
		init.Credentials = protocol.CredentialsInclude
	}
	if init.Headers == nil {
		init.Headers = make(map[string]string, 1)
	}
	for k := range init.Headers {
		if strings.EqualFold(k, ClientTypeHeader) {
			delete(init.Headers, k)
		}
	}
	init.Headers[ClientTypeHeader] = ClientTypeValue
	return init
}
