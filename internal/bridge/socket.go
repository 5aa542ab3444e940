package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neboloop/pagerelay/internal/bus"
	"github.com/neboloop/pagerelay/internal/protocol"
)

const socketWriteWait = 5 * time.Second

// socketConn serializes writes to the orchestrator connection.
type socketConn struct {
	mu   sync.Mutex // Protects writes to conn
	conn *websocket.Conn
}

func (c *socketConn) send(data any, targetOrigin string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	return c.conn.WriteJSON(protocol.Envelope{TargetOrigin: targetOrigin, Data: raw})
}

// endpoint is one side of the socket seen as a bus.Target.
type endpoint struct {
	c      *socketConn
	origin string
}

func (e endpoint) Origin() string { return e.origin }

func (e endpoint) PostMessage(data any, targetOrigin string, _ bus.Target) error {
	return e.c.send(data, targetOrigin)
}

// Serve dials the orchestrator's frame endpoint at wsURL presenting origin
// as the page's origin, and handles messages until ctx is done or the
// connection drops. In-flight requests are answered before it returns.
func (b *Bridge) Serve(ctx context.Context, wsURL, origin string) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, http.Header{"Origin": {origin}})
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", wsURL, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()
	b.logger.Info("bridge connected", "url", wsURL, "origin", origin)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sc := &socketConn{conn: conn}
	self := endpoint{c: sc, origin: origin}
	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			b.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if !protocol.TargetMatches(env.TargetOrigin, origin) {
			b.logger.Debug("dropping message for other origin", "target_origin", env.TargetOrigin)
			continue
		}
		ev := bus.MessageEvent{Data: env.Data, Origin: env.Origin, Source: endpoint{c: sc, origin: env.Origin}}
		b.Handle(ctx, ev, self)
	}
}
