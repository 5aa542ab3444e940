package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSyncDeliveryPreservesOrder(t *testing.T) {
	s := NewSubject(WithSyncDelivery())
	defer Complete(s)

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	Subscribe(s, "n", func(_ context.Context, v int) error {
		mu.Lock()
		got = append(got, v)
		n := len(got)
		mu.Unlock()
		if n == 50 {
			close(done)
		}
		return nil
	})

	for i := 0; i < 50; i++ {
		if err := Emit(s, "n", i); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for events")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("event %d = %d, order not preserved", i, v)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := NewSubject(WithSyncDelivery())
	defer Complete(s)

	calls := make(chan string, 4)
	sub := Subscribe(s, "topic", func(_ context.Context, v string) error {
		calls <- v
		return nil
	})
	if s.Subscribers("topic") != 1 {
		t.Fatalf("subscribers = %d", s.Subscribers("topic"))
	}

	Emit(s, "topic", "first")
	<-calls
	sub.Unsubscribe()
	sub.Unsubscribe()
	if s.Subscribers("topic") != 0 {
		t.Fatalf("subscribers after unsubscribe = %d", s.Subscribers("topic"))
	}

	Emit(s, "topic", "second")
	// A sentinel subscriber on another topic proves the loop moved past "second".
	seen := make(chan struct{})
	Subscribe(s, "sentinel", func(context.Context, bool) error { close(seen); return nil })
	Emit(s, "sentinel", true)
	<-seen

	select {
	case v := <-calls:
		t.Fatalf("unexpected delivery %q", v)
	default:
	}
}

func TestWrongPayloadTypeIsSkipped(t *testing.T) {
	s := NewSubject(WithSyncDelivery())
	defer Complete(s)

	got := make(chan int, 1)
	Subscribe(s, "n", func(_ context.Context, v int) error {
		got <- v
		return nil
	})
	Emit(s, "n", "not an int")
	Emit(s, "n", 7)

	select {
	case v := <-got:
		if v != 7 {
			t.Fatalf("got %d", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestEmitAfterComplete(t *testing.T) {
	s := NewSubject()
	Complete(s)
	Complete(s)
	if err := Emit(s, "x", 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}
