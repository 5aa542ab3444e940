// Package relay runs HTTP requests through a page bridge so they carry the
// page's ambient credentials. The Orchestrator posts requests to the bridge
// frame, correlates results by id and bounds every call with a timeout.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/neboloop/pagerelay/internal/bus"
	"github.com/neboloop/pagerelay/internal/metrics"
	"github.com/neboloop/pagerelay/internal/protocol"
)

const (
	DefaultPingTimeout  = time.Second
	DefaultFetchTimeout = 10 * time.Second
)

// Frame is the channel to the page bridge: a post target plus the stream
// of messages coming back from it.
type Frame interface {
	Post(msg any, targetOrigin string) error
	Subscribe(fn func(bus.MessageEvent)) (unsubscribe func())
}

// attacher is implemented by frames that know whether a bridge is connected.
type attacher interface {
	Attached() bool
}

// Timeouts bounds the two relay operations.
type Timeouts struct {
	Ping  time.Duration
	Fetch time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Ping <= 0 {
		t.Ping = DefaultPingTimeout
	}
	if t.Fetch <= 0 {
		t.Fetch = DefaultFetchTimeout
	}
	return t
}

// Status is a snapshot of the orchestrator.
type Status struct {
	TrustedOrigin string    `json:"trustedOrigin"`
	Attached      bool      `json:"attached"`
	InFlight      int       `json:"inFlight"`
	LastPing      time.Time `json:"lastPing,omitzero"`
	PingTimeout   string    `json:"pingTimeout"`
	FetchTimeout  string    `json:"fetchTimeout"`
}

// pending is one in-flight fetch. result has room for exactly one value and
// only the goroutine that removes the entry from the table sends on it.
type pending struct {
	result  chan protocol.RelayResponse
	url     string
	created time.Time
}

// Orchestrator owns the bridge frame and the correlation table.
type Orchestrator struct {
	frame   Frame
	origin  string
	clock   Clock
	retry   RetryPolicy
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	timeouts Timeouts
	pending  map[string]*pending
	lastPing time.Time
	closed   bool

	unsubscribe func()
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimeouts overrides the ping and fetch timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(o *Orchestrator) { o.timeouts = t.withDefaults() }
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithRetry sets the liveness retry policy.
func WithRetry(p RetryPolicy) Option {
	return func(o *Orchestrator) { o.retry = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics records call outcomes into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New attaches an orchestrator to frame. Only messages whose origin equals
// trustedOrigin are accepted, and every post targets that origin.
func New(frame Frame, trustedOrigin string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		frame:    frame,
		origin:   trustedOrigin,
		clock:    realClock{},
		timeouts: Timeouts{}.withDefaults(),
		pending:  make(map[string]*pending),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", "relay")
	o.unsubscribe = frame.Subscribe(o.dispatch)
	return o
}

// SetTimeouts replaces the timeouts used by calls that start afterwards.
func (o *Orchestrator) SetTimeouts(t Timeouts) {
	o.mu.Lock()
	o.timeouts = t.withDefaults()
	o.mu.Unlock()
}

func (o *Orchestrator) currentTimeouts() Timeouts {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.timeouts
}

// Ping reports whether the bridge answers a liveness check from the trusted
// origin within the ping timeout. Failed checks are retried according to
// the retry policy.
func (o *Orchestrator) Ping(ctx context.Context) (alive bool) {
	start := o.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("ping panicked", "panic", r)
			alive = false
		}
		outcome := "ok"
		if !alive {
			outcome = protocol.StatusTextNoFrame
		}
		o.metrics.ObserveCall("ping", outcome, o.clock.Now().Sub(start))
	}()

	for attempt := 0; attempt < o.retry.attempts(); attempt++ {
		if attempt > 0 && !o.sleep(ctx, o.retry.wait(attempt)) {
			return false
		}
		if o.pingOnce(ctx) {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
	}
	return false
}

func (o *Orchestrator) pingOnce(ctx context.Context) bool {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return false
	}

	ack := make(chan struct{}, 1)
	unsubscribe := o.frame.Subscribe(func(ev bus.MessageEvent) {
		if ev.Origin != o.origin {
			return
		}
		msg, err := protocol.Decode(ev.Data)
		if err != nil || msg.Kind() != protocol.KindPingAck {
			return
		}
		select {
		case ack <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	timer := o.clock.NewTimer(o.currentTimeouts().Ping)
	defer timer.Stop()

	if err := o.frame.Post(protocol.Ping{}, o.origin); err != nil {
		o.logger.Debug("ping post failed", "error", err)
		return false
	}

	select {
	case <-ack:
		o.mu.Lock()
		o.lastPing = o.clock.Now()
		o.mu.Unlock()
		return true
	case <-timer.C():
		return false
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := o.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C():
		return true
	case <-ctx.Done():
		return false
	}
}

// Fetch relays an HTTP request through the bridge. It never returns an
// error: an unreachable bridge, a timeout or an internal failure come back
// as a RelayResponse with OK=false.
func (o *Orchestrator) Fetch(ctx context.Context, url string, init *protocol.RequestInit) (resp protocol.RelayResponse) {
	start := o.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("fetch panicked", "url", url, "panic", r)
			resp = protocol.Recovered(r)
		}
		o.metrics.ObserveCall("fetch", outcome(resp), o.clock.Now().Sub(start))
	}()

	if !o.Ping(ctx) {
		return protocol.NoFrame()
	}

	id, p, ok := o.register(url)
	if !ok {
		return protocol.NoFrame()
	}
	defer o.forget(id)

	timer := o.clock.NewTimer(o.currentTimeouts().Fetch)
	defer timer.Stop()

	if err := o.frame.Post(protocol.FetchRequest{ReqID: id, URL: url, Init: init}, o.origin); err != nil {
		o.logger.Warn("fetch post failed", "req_id", id, "error", err)
		return protocol.Failure(err)
	}

	select {
	case r := <-p.result:
		return r
	case <-timer.C():
		o.logger.Debug("fetch timed out", "req_id", id, "url", url)
		return protocol.Timeout()
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return protocol.Timeout()
		}
		return protocol.Canceled()
	}
}

// HandleMessage is the entry point for other extension components.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg protocol.CallerMessage) (resp protocol.RelayResponse) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("caller message panicked", "type", msg.Type, "panic", r)
			resp = protocol.Recovered(r)
		}
	}()

	switch msg.Type {
	case protocol.KindPing:
		if o.Ping(ctx) {
			return protocol.Alive()
		}
		return protocol.NoFrame()
	case protocol.KindFetch:
		if msg.Payload == nil || msg.Payload.URL == "" {
			return protocol.BadRequest()
		}
		return o.Fetch(ctx, msg.Payload.URL, msg.Payload.Init)
	default:
		return protocol.BadRequest()
	}
}

// Status returns a snapshot of the orchestrator.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	attached := !o.closed
	if a, ok := o.frame.(attacher); ok && attached {
		attached = a.Attached()
	}
	return Status{
		TrustedOrigin: o.origin,
		Attached:      attached,
		InFlight:      len(o.pending),
		LastPing:      o.lastPing,
		PingTimeout:   o.timeouts.Ping.String(),
		FetchTimeout:  o.timeouts.Fetch.String(),
	}
}

// InFlight returns the number of fetches waiting for a result.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Close detaches from the frame and settles every in-flight fetch with a
// no-frame response.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	settled := o.pending
	o.pending = make(map[string]*pending)
	o.mu.Unlock()

	o.unsubscribe()
	for _, p := range settled {
		p.result <- protocol.NoFrame()
	}
	o.metrics.SetInFlight(0)
}

// register adds a pending entry under an id that no in-flight call uses.
// It fails once the orchestrator is closed, since nothing would settle the
// entry.
func (o *Orchestrator) register(url string) (string, *pending, bool) {
	p := &pending{
		result:  make(chan protocol.RelayResponse, 1),
		url:     url,
		created: o.clock.Now(),
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return "", nil, false
	}
	id := newCorrelationID()
	for o.pending[id] != nil {
		id = newCorrelationID()
	}
	o.pending[id] = p
	o.metrics.SetInFlight(len(o.pending))
	return id, p, true
}

func (o *Orchestrator) forget(id string) {
	o.mu.Lock()
	delete(o.pending, id)
	n := len(o.pending)
	o.mu.Unlock()
	o.metrics.SetInFlight(n)
}

// dispatch routes a fetch result to its pending call. Results from an
// untrusted origin, for unknown ids or for calls already settled are
// dropped.
func (o *Orchestrator) dispatch(ev bus.MessageEvent) {
	msg, err := protocol.Decode(ev.Data)
	if err != nil {
		o.logger.Debug("dropping malformed message", "error", err)
		o.metrics.Drop("malformed")
		return
	}
	res, ok := msg.(protocol.FetchResult)
	if !ok {
		return
	}
	if ev.Origin != o.origin {
		o.logger.Debug("dropping result from untrusted origin", "origin", ev.Origin, "req_id", res.ReqID)
		o.metrics.Drop("origin")
		return
	}

	o.mu.Lock()
	p := o.pending[res.ReqID]
	delete(o.pending, res.ReqID)
	o.mu.Unlock()

	if p == nil {
		o.logger.Debug("dropping result for unknown request", "req_id", res.ReqID)
		o.metrics.Drop("unknown_id")
		return
	}
	o.logger.Debug("fetch settled", "req_id", res.ReqID, "status", res.Status,
		"elapsed", o.clock.Now().Sub(p.created))
	p.result <- res.RelayResponse
}

func outcome(r protocol.RelayResponse) string {
	switch {
	case r.OK:
		return "ok"
	case r.Status == 0 && r.StatusText != "":
		return r.StatusText
	case r.Status >= 500 && len(r.Headers) == 0:
		return "failure"
	default:
		return "http_error"
	}
}
