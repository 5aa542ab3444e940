package tokenstore

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/neboloop/pagerelay/internal/capture"
)

// Memory is a process-local Store.
type Memory struct {
	mu     sync.RWMutex
	tokens map[string]capture.Token
}

func NewMemory() *Memory {
	return &Memory{tokens: make(map[string]capture.Token)}
}

func (m *Memory) Put(_ context.Context, tok capture.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[tok.Origin] = tok
	return nil
}

func (m *Memory) Latest(_ context.Context, origin string) (capture.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if origin == "" {
		return newest(slices.Collect(maps.Values(m.tokens)))
	}
	tok, ok := m.tokens[origin]
	if !ok {
		return capture.Token{}, ErrNotFound
	}
	return tok, nil
}

func (m *Memory) List(_ context.Context) ([]capture.Token, error) {
	m.mu.RLock()
	out := slices.Collect(maps.Values(m.tokens))
	m.mu.RUnlock()
	sortByOrigin(out)
	return out, nil
}

func (m *Memory) Delete(_ context.Context, origin string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, origin)
	return nil
}

func (m *Memory) Prune(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for origin, tok := range m.tokens {
		if expired(tok, now) {
			delete(m.tokens, origin)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Close() error { return nil }
