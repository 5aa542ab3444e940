package bus

import (
	"testing"
	"time"

	"github.com/neboloop/pagerelay/internal/protocol"
)

const (
	shop  = "https://shop.example.com"
	other = "https://evil.example.net"
)

func receive(t *testing.T, ch <-chan MessageEvent) MessageEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return MessageEvent{}
	}
}

func TestPostMessageStampsSenderOrigin(t *testing.T) {
	frame := NewWindow(shop, nil)
	defer frame.Close()
	page := NewWindow(other, nil)
	defer page.Close()

	got := make(chan MessageEvent, 1)
	frame.AddListener(func(ev MessageEvent) { got <- ev })

	if err := frame.PostMessage(protocol.Ping{}, shop, page); err != nil {
		t.Fatal(err)
	}
	ev := receive(t, got)
	if ev.Origin != other {
		t.Errorf("origin = %q, want sender origin %q", ev.Origin, other)
	}
	if ev.Source != Target(page) {
		t.Error("source should be the sending window")
	}
	msg, err := protocol.Decode(ev.Data)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := msg.(protocol.Ping); !ok {
		t.Errorf("got %T", msg)
	}
}

func TestPostMessageTargetOriginMismatchDropped(t *testing.T) {
	frame := NewWindow(shop, nil)
	defer frame.Close()

	got := make(chan MessageEvent, 2)
	frame.AddListener(func(ev MessageEvent) { got <- ev })

	if err := frame.PostMessage(protocol.Ping{}, other, frame); err != nil {
		t.Fatal(err)
	}
	if err := frame.PostMessage(protocol.PingAck{}, protocol.Wildcard, frame); err != nil {
		t.Fatal(err)
	}
	ev := receive(t, got)
	msg, _ := protocol.Decode(ev.Data)
	if _, ok := msg.(protocol.PingAck); !ok {
		t.Fatalf("first delivered message should be the wildcard ack, got %T", msg)
	}
}

func TestClosedWindowSwallowsPosts(t *testing.T) {
	frame := NewWindow(shop, nil)
	frame.Close()
	if err := frame.PostMessage(protocol.Ping{}, shop, nil); err != nil {
		t.Fatalf("post to closed window: %v", err)
	}
}

func TestLinkRoundTrip(t *testing.T) {
	offscreen := NewWindow(shop, nil)
	defer offscreen.Close()
	iframe := NewWindow(shop, nil)
	defer iframe.Close()

	// The iframe answers pings through the event source.
	iframe.AddListener(func(ev MessageEvent) {
		if msg, err := protocol.Decode(ev.Data); err == nil && msg.Kind() == protocol.KindPing {
			ev.Source.PostMessage(protocol.PingAck{}, shop, iframe)
		}
	})

	link := Link{Local: offscreen, Remote: iframe}
	got := make(chan MessageEvent, 1)
	remove := link.Subscribe(func(ev MessageEvent) { got <- ev })
	defer remove()

	if err := link.Post(protocol.Ping{}, shop); err != nil {
		t.Fatal(err)
	}
	ev := receive(t, got)
	if ev.Origin != shop {
		t.Errorf("ack origin = %q", ev.Origin)
	}
	if offscreen.Listeners() != 1 {
		t.Errorf("listeners = %d", offscreen.Listeners())
	}
}
