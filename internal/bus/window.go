// Package bus models window.postMessage between browsing contexts that live
// in one process: an offscreen document, the iframe it hosts and the page
// world scripts inside that iframe.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/neboloop/pagerelay/internal/events"
	"github.com/neboloop/pagerelay/internal/protocol"
)

// Target is anything a message can be posted to.
type Target interface {
	Origin() string
	PostMessage(data any, targetOrigin string, from Target) error
}

// MessageEvent is what a listener receives. Data is the JSON encoding of
// the posted value; Origin is the sender's origin as stamped by the
// transport, never by the sender's payload.
type MessageEvent struct {
	Data   []byte
	Origin string
	Source Target
}

// Window is an in-process browsing context with a fixed origin.
type Window struct {
	origin  string
	subject *events.Subject
	closed  atomic.Bool
	logger  *slog.Logger
}

// NewWindow creates a window whose listeners run one at a time in post
// order.
func NewWindow(origin string, logger *slog.Logger) *Window {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "window", "origin", origin)
	return &Window{
		origin:  origin,
		subject: events.NewSubject(events.WithSyncDelivery(), events.WithLogger(logger)),
		logger:  logger,
	}
}

// Origin returns the window's origin.
func (w *Window) Origin() string { return w.origin }

// PostMessage delivers data to the window's listeners. As in a browser, a
// message whose targetOrigin does not match is dropped without error, and
// posting to a closed window is a silent no-op. data is cloned through JSON
// so the receiver never shares memory with the sender.
func (w *Window) PostMessage(data any, targetOrigin string, from Target) error {
	if w.closed.Load() {
		return nil
	}
	if !protocol.TargetMatches(targetOrigin, w.origin) {
		w.logger.Debug("dropping message for other origin", "target_origin", targetOrigin)
		return nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("clone message: %w", err)
	}

	ev := MessageEvent{Data: raw, Source: from}
	if from != nil {
		ev.Origin = from.Origin()
	}
	if err := events.Emit(w.subject, events.TopicMessage, ev); err != nil && !w.closed.Load() {
		return err
	}
	return nil
}

// AddListener registers fn for every message the window receives and
// returns the function that removes it.
func (w *Window) AddListener(fn func(MessageEvent)) (remove func()) {
	sub := events.Subscribe(w.subject, events.TopicMessage, func(_ context.Context, ev MessageEvent) error {
		fn(ev)
		return nil
	})
	return sub.Unsubscribe
}

// Listeners returns the number of registered listeners.
func (w *Window) Listeners() int {
	return w.subject.Subscribers(events.TopicMessage)
}

// Close detaches the window. Later posts are dropped.
func (w *Window) Close() {
	if w.closed.CompareAndSwap(false, true) {
		events.Complete(w.subject)
	}
}

// Link joins a local window to a remote one. Posts go to the remote window
// with the local window as their source; subscribers see what arrives at
// the local window.
type Link struct {
	Local  *Window
	Remote *Window
}

// Post sends msg to the remote window.
func (l Link) Post(msg any, targetOrigin string) error {
	return l.Remote.PostMessage(msg, targetOrigin, l.Local)
}

// Subscribe listens on the local window.
func (l Link) Subscribe(fn func(MessageEvent)) func() {
	return l.Local.AddListener(fn)
}
