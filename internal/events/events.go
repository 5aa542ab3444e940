// Package events is a small typed pub/sub used as the delivery loop behind
// in-process message windows.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Emit after Complete.
var ErrClosed = errors.New("events: subject completed")

// HandlerFunc is the function called when an event is emitted.
type HandlerFunc func(context.Context, any) error

// SubjectOption configures a Subject
type SubjectOption func(*subjectConfig)

type subjectConfig struct {
	bufferSize     int
	syncDelivery   bool
	emitTimeout    time.Duration
	handlerTimeout time.Duration
	logger         *slog.Logger
}

// WithBufferSize sets the event channel buffer size
func WithBufferSize(size int) SubjectOption {
	return func(cfg *subjectConfig) {
		cfg.bufferSize = size
	}
}

// WithLogger sets a structured logger for handler errors
func WithLogger(logger *slog.Logger) SubjectOption {
	return func(cfg *subjectConfig) {
		cfg.logger = logger
	}
}

// WithSyncDelivery delivers events inline on the loop goroutine, so
// handlers see events in emit order and never run concurrently.
func WithSyncDelivery() SubjectOption {
	return func(cfg *subjectConfig) {
		cfg.syncDelivery = true
	}
}

// WithEmitTimeout bounds how long Emit waits for buffer space.
func WithEmitTimeout(d time.Duration) SubjectOption {
	return func(cfg *subjectConfig) {
		cfg.emitTimeout = d
	}
}

// Subscription represents a handler subscribed to a specific topic.
type Subscription struct {
	Topic       string
	ID          string
	Handler     HandlerFunc
	Unsubscribe func()
}

type event struct {
	topic   string
	message any
}

// Subject fans events out to the handlers subscribed to their topic.
type Subject struct {
	mu   sync.RWMutex
	subs map[string]map[string]Subscription

	nextSubID int64
	delivered int64

	events   chan event
	shutdown chan struct{}
	closed   int32
	wg       sync.WaitGroup

	config subjectConfig
}

// NewSubject creates a Subject and starts its delivery loop.
func NewSubject(opts ...SubjectOption) *Subject {
	cfg := subjectConfig{
		bufferSize:     512,
		emitTimeout:    5 * time.Second,
		handlerTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Subject{
		subs:     make(map[string]map[string]Subscription),
		events:   make(chan event, cfg.bufferSize),
		shutdown: make(chan struct{}),
		config:   cfg,
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

// Emit queues value for delivery to the subscribers of topic.
func Emit[T any](s *Subject, topic string, value T) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrClosed
	}
	timer := time.NewTimer(s.config.emitTimeout)
	defer timer.Stop()

	select {
	case s.events <- event{topic: topic, message: value}:
		return nil
	case <-s.shutdown:
		return ErrClosed
	case <-timer.C:
		return fmt.Errorf("emit %s: buffer full after %s", topic, s.config.emitTimeout)
	}
}

// Subscribe registers a typed handler for topic. Events whose payload is not
// a T are reported to the logger and skipped.
func Subscribe[T any](s *Subject, topic string, handler func(context.Context, T) error) Subscription {
	wrapped := HandlerFunc(func(ctx context.Context, data any) error {
		typed, ok := data.(T)
		if !ok {
			return fmt.Errorf("type assertion failed for %T, expected %T", data, *new(T))
		}
		return handler(ctx, typed)
	})

	id := fmt.Sprintf("%s-%d", topic, atomic.AddInt64(&s.nextSubID, 1))
	sub := Subscription{Topic: topic, ID: id, Handler: wrapped}

	s.mu.Lock()
	if s.subs[topic] == nil {
		s.subs[topic] = make(map[string]Subscription)
	}
	s.subs[topic][id] = sub
	s.mu.Unlock()

	var once sync.Once
	sub.Unsubscribe = func() {
		once.Do(func() { s.remove(topic, id) })
	}
	return sub
}

// Subscribers returns the number of handlers currently subscribed to topic.
func (s *Subject) Subscribers(topic string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs[topic])
}

// Delivered returns how many events the loop has dispatched.
func (s *Subject) Delivered() int64 {
	return atomic.LoadInt64(&s.delivered)
}

// Complete stops the delivery loop. Queued events that were not yet
// dispatched are dropped. Safe to call more than once.
func Complete(s *Subject) {
	if s == nil || !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return
	}
	close(s.shutdown)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
}

func (s *Subject) remove(topic, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs[topic], id)
	if len(s.subs[topic]) == 0 {
		delete(s.subs, topic)
	}
}

func (s *Subject) snapshot(topic string) []Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Subscription, 0, len(s.subs[topic]))
	for _, sub := range s.subs[topic] {
		out = append(out, sub)
	}
	return out
}

func (s *Subject) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.shutdown:
			return
		case evt := <-s.events:
			atomic.AddInt64(&s.delivered, 1)
			for _, sub := range s.snapshot(evt.topic) {
				if s.config.syncDelivery {
					s.deliver(sub, evt)
				} else {
					go s.deliver(sub, evt)
				}
			}
		}
	}
}

func (s *Subject) deliver(sub Subscription, evt event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.handlerTimeout)
	defer cancel()

	if err := sub.Handler(ctx, evt.message); err != nil && s.config.logger != nil {
		s.config.logger.Debug("event handler error",
			"topic", evt.topic,
			"subscription_id", sub.ID,
			"error", err)
	}
}
