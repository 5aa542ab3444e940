package relay

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/neboloop/pagerelay/internal/bus"
	"github.com/neboloop/pagerelay/internal/protocol"
)

const trusted = "https://shop.example.com"

// fakeClock only moves when Advance is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *fakeClock
	c        chan time.Time
	deadline time.Time
	done     bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, c: make(chan time.Time, 1), deadline: c.now.Add(d)}
	if d <= 0 {
		t.done = true
		t.c <- c.now
		return t
	}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	for _, t := range c.timers {
		if !t.done && !t.deadline.After(c.now) {
			t.done = true
			t.c <- c.now
		}
	}
}

func (t *fakeTimer) C() <-chan time.Time { return t.c }

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.done
	t.done = true
	return active
}

// stubFrame records posts and lets a test script the bridge's replies.
type stubFrame struct {
	replyOrigin string

	mu        sync.Mutex
	listeners map[int]func(bus.MessageEvent)
	next      int

	posted chan protocol.Message
	onPost func(f *stubFrame, msg protocol.Message)
}

func newStubFrame(onPost func(f *stubFrame, msg protocol.Message)) *stubFrame {
	return &stubFrame{
		replyOrigin: trusted,
		listeners:   make(map[int]func(bus.MessageEvent)),
		posted:      make(chan protocol.Message, 256),
		onPost:      onPost,
	}
}

func (f *stubFrame) Post(msg any, targetOrigin string) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	decoded, err := protocol.Decode(raw)
	if err != nil {
		return err
	}
	f.posted <- decoded
	if f.onPost != nil {
		f.onPost(f, decoded)
	}
	return nil
}

func (f *stubFrame) Subscribe(fn func(bus.MessageEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *stubFrame) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// deliver hands msg to every listener as if the bridge had posted it.
func (f *stubFrame) deliver(msg any, origin string) {
	raw, _ := json.Marshal(msg)
	f.mu.Lock()
	fns := make([]func(bus.MessageEvent), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(bus.MessageEvent{Data: raw, Origin: origin})
	}
}

// ackPings answers every Ping asynchronously from the trusted origin.
func ackPings(f *stubFrame, msg protocol.Message) {
	if msg.Kind() == protocol.KindPing {
		go f.deliver(protocol.PingAck{}, f.replyOrigin)
	}
}

func waitPosted(t *testing.T, f *stubFrame, kind protocol.Kind) protocol.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-f.posted:
			if msg.Kind() == kind {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
			return nil
		}
	}
}

func waitResult(t *testing.T, ch <-chan protocol.RelayResponse) protocol.RelayResponse {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for relay result")
		return protocol.RelayResponse{}
	}
}
