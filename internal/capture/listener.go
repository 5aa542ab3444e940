package capture

import (
	"context"
	"log/slog"
	"time"

	"github.com/neboloop/pagerelay/internal/bus"
	"github.com/neboloop/pagerelay/internal/lifecycle"
	"github.com/neboloop/pagerelay/internal/metrics"
	"github.com/neboloop/pagerelay/internal/protocol"
)

// Listener is the content-script side of capture. It accepts tokens posted
// by the in-page hook on the page's own origin and forwards them to a Sink.
type Listener struct {
	origin  string
	sink    Sink
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ListenerOption {
	return func(ln *Listener) { ln.logger = l }
}

// WithMetrics counts captures and swallowed errors into m.
func WithMetrics(m *metrics.Metrics) ListenerOption {
	return func(ln *Listener) { ln.metrics = m }
}

// NewListener creates a listener for a page on origin.
func NewListener(origin string, sink Sink, opts ...ListenerOption) *Listener {
	l := &Listener{origin: origin, sink: sink, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	l.logger = l.logger.With("component", "capture")
	return l
}

// Attach listens on the page window until the returned function is called.
func (l *Listener) Attach(ctx context.Context, w *bus.Window) (detach func()) {
	return w.AddListener(func(ev bus.MessageEvent) {
		l.Handle(ctx, ev)
	})
}

// Handle processes one message event. Anything that is not a JWT-shaped
// CAPTURE_TOKEN from the page's own origin is ignored.
func (l *Listener) Handle(ctx context.Context, ev bus.MessageEvent) {
	if ev.Origin != l.origin {
		return
	}
	msg, err := protocol.Decode(ev.Data)
	if err != nil {
		return
	}
	ct, ok := msg.(protocol.CaptureToken)
	if !ok {
		return
	}
	l.Report(ctx, ct.Token, ParseSource(ct.Source, SourceHeader))
}

// Report forwards value when it is JWT-shaped. Sink failures and panics
// are logged and counted, never returned.
func (l *Listener) Report(ctx context.Context, value string, src Source) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Debug("capture panicked", "panic", r)
			l.metrics.CaptureError()
		}
	}()

	if !IsJWTShape(value) {
		return
	}
	tok := newToken(value, l.origin, src, l.now())
	if err := l.sink.Put(ctx, tok); err != nil {
		l.logger.Debug("token not stored", "source", src, "error", err)
		l.metrics.CaptureError()
		return
	}
	l.metrics.TokenCaptured(string(src))
	lifecycle.Emit(lifecycle.EventTokenCaptured, tok)
}
