package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neboloop/pagerelay/internal/bus"
	"github.com/neboloop/pagerelay/internal/events"
	"github.com/neboloop/pagerelay/internal/lifecycle"
	"github.com/neboloop/pagerelay/internal/protocol"
)

// ErrNoBridge is returned by FrameServer.Post while no bridge is connected.
var ErrNoBridge = errors.New("relay: no bridge connected")

const (
	writeWait       = 5 * time.Second
	keepalivePeriod = 15 * time.Second
)

// FrameServer accepts a single page bridge over a websocket and exposes it
// to the orchestrator as a Frame. Both ends of the frame speak as the
// trusted origin: envelopes sent to the bridge carry it as their sender
// origin, and messages from the bridge are stamped with the Origin header
// of its handshake, which the upgrader only accepts when it matches.
type FrameServer struct {
	mu      sync.RWMutex
	writeMu sync.Mutex // Protects writes to conn

	trusted     string
	allowRemote bool
	conn        *websocket.Conn
	peerOrigin  string

	upgrader websocket.Upgrader
	inbound  *events.Subject
	logger   *slog.Logger
}

// FrameServerOption configures a FrameServer.
type FrameServerOption func(*FrameServer)

// WithRemoteBridges accepts bridges from non-loopback addresses.
func WithRemoteBridges() FrameServerOption {
	return func(s *FrameServer) { s.allowRemote = true }
}

// WithFrameLogger sets the logger.
func WithFrameLogger(l *slog.Logger) FrameServerOption {
	return func(s *FrameServer) { s.logger = l }
}

// NewFrameServer creates a frame endpoint for bridges presenting
// trustedOrigin.
func NewFrameServer(trustedOrigin string, opts ...FrameServerOption) *FrameServer {
	s := &FrameServer{
		trusted: trustedOrigin,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "frame")
	s.inbound = events.NewSubject(events.WithSyncDelivery(), events.WithLogger(s.logger))
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin, err := protocol.NormalizeOrigin(r.Header.Get("Origin"))
			return err == nil && origin == s.trusted
		},
	}
	return s
}

// Attached reports whether a bridge is connected.
func (s *FrameServer) Attached() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn != nil
}

// Post sends msg to the connected bridge.
func (s *FrameServer) Post(msg any, targetOrigin string) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return ErrNoBridge
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	env := protocol.Envelope{Origin: s.trusted, TargetOrigin: targetOrigin, Data: data}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("write to bridge: %w", err)
	}
	return nil
}

// Subscribe registers fn for every message the bridge sends.
func (s *FrameServer) Subscribe(fn func(bus.MessageEvent)) func() {
	sub := events.Subscribe(s.inbound, events.TopicMessage, func(_ context.Context, ev bus.MessageEvent) error {
		fn(ev)
		return nil
	})
	return sub.Unsubscribe
}

// ServeHTTP upgrades a bridge connection and pumps its messages until it
// disconnects.
func (s *FrameServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.allowRemote && !isLoopbackIP(remoteIP(r)) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		s.logger.Debug("bridge connection rejected: already connected")
		http.Error(w, "Bridge already connected", http.StatusConflict)
		return
	}
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("bridge upgrade failed", "error", err)
		return
	}

	from, _ := protocol.NormalizeOrigin(r.Header.Get("Origin"))
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.peerOrigin = from
	s.mu.Unlock()

	s.logger.Info("bridge attached", "origin", from, "remote", r.RemoteAddr)
	lifecycle.Emit(lifecycle.EventBridgeAttached, from)

	stop := make(chan struct{})
	go s.keepalive(conn, stop)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug("bridge read error (disconnecting)", "error", err)
			break
		}
		s.receive(data)
	}

	close(stop)
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
		s.peerOrigin = ""
	}
	s.mu.Unlock()
	conn.Close()

	s.logger.Info("bridge detached", "origin", from)
	lifecycle.Emit(lifecycle.EventBridgeDetached, from)
}

// Close disconnects the bridge and stops delivery.
func (s *FrameServer) Close() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	events.Complete(s.inbound)
}

func (s *FrameServer) receive(data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Debug("dropping unframed bridge message", "error", err)
		return
	}
	if !protocol.TargetMatches(env.TargetOrigin, s.trusted) {
		s.logger.Debug("dropping bridge message for other origin", "target_origin", env.TargetOrigin)
		return
	}

	s.mu.RLock()
	ev := bus.MessageEvent{Data: env.Data, Origin: s.peerOrigin, Source: peer{s}}
	s.mu.RUnlock()

	if err := events.Emit(s.inbound, events.TopicMessage, ev); err != nil {
		s.logger.Warn("bridge message not delivered", "error", err)
	}
}

func (s *FrameServer) keepalive(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(keepalivePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// peer is the bridge seen as a bus.Target, so listeners can answer through
// the event source.
type peer struct{ s *FrameServer }

func (p peer) Origin() string {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	return p.s.peerOrigin
}

func (p peer) PostMessage(data any, targetOrigin string, _ bus.Target) error {
	return p.s.Post(data, targetOrigin)
}

func remoteIP(r *http.Request) string {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return ip
}

func isLoopbackIP(ip string) bool {
	if ip == "127.0.0.1" || strings.HasPrefix(ip, "127.") {
		return true
	}
	if ip == "::1" || strings.HasPrefix(ip, "::ffff:127.") {
		return true
	}
	return false
}
