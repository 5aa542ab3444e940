// Package lifecycle provides event hooks for relay startup, shutdown and
// bridge attachment.
package lifecycle

import (
	"log/slog"
	"sync"
)

// Event types for lifecycle hooks
type Event string

const (
	// Server lifecycle events
	EventServerStarted   Event = "server_started"
	EventShutdownStarted Event = "shutdown_started"

	// Bridge connection events
	EventBridgeAttached Event = "bridge_attached"
	EventBridgeDetached Event = "bridge_detached"

	// Capture events
	EventTokenCaptured Event = "token_captured"
)

// Handler is a function that handles a lifecycle event
type Handler func(event Event, data any)

// Manager manages lifecycle event subscriptions and dispatching
type Manager struct {
	mu       sync.RWMutex
	handlers map[Event][]Handler
	logger   *slog.Logger
}

func newManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default().With("component", "lifecycle")
	}
	return &Manager{handlers: make(map[Event][]Handler), logger: logger}
}

var global = newManager(nil)

// On registers a handler on the global manager
func On(event Event, handler Handler) {
	global.On(event, handler)
}

// Emit dispatches an event on the global manager
func Emit(event Event, data any) {
	global.Emit(event, data)
}

// Reset drops every handler registered on the global manager. A serve run
// calls it on exit so its handlers do not outlive it.
func Reset() {
	global.mu.Lock()
	global.handlers = make(map[Event][]Handler)
	global.mu.Unlock()
}

// On registers a handler for a lifecycle event
func (m *Manager) On(event Event, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], handler)
}

// Emit runs every handler for event synchronously, in registration order.
func (m *Manager) Emit(event Event, data any) {
	m.mu.RLock()
	handlers := append([]Handler(nil), m.handlers[event]...)
	m.mu.RUnlock()

	m.logger.Debug("lifecycle event", "event", event, "handlers", len(handlers))
	for _, h := range handlers {
		h(event, data)
	}
}

// Subscribe registers a typed handler on the global manager. Events whose
// data is not a T are skipped.
func Subscribe[T any](event Event, handler func(T)) {
	On(event, func(_ Event, data any) {
		if v, ok := data.(T); ok {
			handler(v)
		}
	})
}

// OnServerStarted registers a handler receiving the listen address.
func OnServerStarted(handler func(addr string)) {
	Subscribe(EventServerStarted, handler)
}

// OnBridgeAttached registers a handler receiving the bridge's origin.
func OnBridgeAttached(handler func(origin string)) {
	Subscribe(EventBridgeAttached, handler)
}

// OnBridgeDetached registers a handler receiving the bridge's origin.
func OnBridgeDetached(handler func(origin string)) {
	Subscribe(EventBridgeDetached, handler)
}

// OnShutdown is a convenience function to register a shutdown handler
func OnShutdown(handler func()) {
	On(EventShutdownStarted, func(Event, any) {
		handler()
	})
}
