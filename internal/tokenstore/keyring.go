package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/neboloop/pagerelay/internal/capture"
	"github.com/neboloop/pagerelay/internal/keyring"
)

const keyringIndex = "token-index"

// Keyring keeps tokens in the OS keychain, one entry per origin. The
// keychain cannot enumerate entries, so the set of origins is kept in an
// index entry.
type Keyring struct {
	mu sync.Mutex
	kr *keyring.Keyring
}

func NewKeyring(kr *keyring.Keyring) *Keyring {
	return &Keyring{kr: kr}
}

func tokenAccount(origin string) string { return "token:" + origin }

func (k *Keyring) index() ([]string, error) {
	raw, err := k.kr.Get(keyringIndex)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var origins []string
	if err := json.Unmarshal([]byte(raw), &origins); err != nil {
		return nil, fmt.Errorf("decode token index: %w", err)
	}
	return origins, nil
}

func (k *Keyring) setIndex(origins []string) error {
	slices.Sort(origins)
	raw, err := json.Marshal(slices.Compact(origins))
	if err != nil {
		return err
	}
	return k.kr.Set(keyringIndex, string(raw))
}

func (k *Keyring) Put(_ context.Context, tok capture.Token) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := k.kr.Set(tokenAccount(tok.Origin), string(raw)); err != nil {
		return err
	}
	origins, err := k.index()
	if err != nil {
		return err
	}
	if slices.Contains(origins, tok.Origin) {
		return nil
	}
	return k.setIndex(append(origins, tok.Origin))
}

func (k *Keyring) get(origin string) (capture.Token, error) {
	raw, err := k.kr.Get(tokenAccount(origin))
	if errors.Is(err, keyring.ErrNotFound) {
		return capture.Token{}, ErrNotFound
	}
	if err != nil {
		return capture.Token{}, err
	}
	var tok capture.Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return capture.Token{}, fmt.Errorf("decode token: %w", err)
	}
	return tok, nil
}

func (k *Keyring) Latest(ctx context.Context, origin string) (capture.Token, error) {
	if origin != "" {
		k.mu.Lock()
		defer k.mu.Unlock()
		return k.get(origin)
	}
	toks, err := k.List(ctx)
	if err != nil {
		return capture.Token{}, err
	}
	return newest(toks)
}

func (k *Keyring) List(_ context.Context) ([]capture.Token, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	origins, err := k.index()
	if err != nil {
		return nil, err
	}
	out := make([]capture.Token, 0, len(origins))
	for _, origin := range origins {
		tok, err := k.get(origin)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	return out, nil
}

func (k *Keyring) Delete(_ context.Context, origin string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.delete(origin)
}

func (k *Keyring) delete(origin string) error {
	if err := k.kr.Delete(tokenAccount(origin)); err != nil {
		return err
	}
	origins, err := k.index()
	if err != nil {
		return err
	}
	return k.setIndex(slices.DeleteFunc(origins, func(o string) bool { return o == origin }))
}

func (k *Keyring) Prune(ctx context.Context, now time.Time) (int, error) {
	toks, err := k.List(ctx)
	if err != nil {
		return 0, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	n := 0
	for _, tok := range toks {
		if expired(tok, now) {
			if err := k.delete(tok.Origin); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func (k *Keyring) Close() error { return nil }
