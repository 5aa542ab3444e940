// Package capture discovers bearer tokens a logged-in page already holds.
//
// Every path in this package is best effort: capture never returns an error
// to the code it observes, never changes a request, and always delegates to
// the original implementation.
package capture

import (
	"context"
	"time"
)

// Source records where a token was seen.
type Source string

const (
	SourceHeader    Source = "header"    // Authorization header seen by the in-page hook
	SourceStorage   Source = "storage"   // found by a storage scan
	SourceTransport Source = "transport" // outgoing request through Transport
	SourceCDP       Source = "cdp"       // request observed in Chrome
)

// ParseSource returns the Source named s, or def for anything unknown.
func ParseSource(s string, def Source) Source {
	switch src := Source(s); src {
	case SourceHeader, SourceStorage, SourceTransport, SourceCDP:
		return src
	}
	return def
}

// Token is a captured bearer token.
type Token struct {
	Value      string         `json:"token"`
	Origin     string         `json:"origin"`
	Source     Source         `json:"source"`
	CapturedAt time.Time      `json:"capturedAt"`
	Claims     map[string]any `json:"claims,omitempty"`
}

// ExpiresAt returns the token's exp claim, or the zero time when it has
// none.
func (t Token) ExpiresAt() time.Time {
	return expiry(t.Claims)
}

// Sink receives captured tokens.
type Sink interface {
	Put(ctx context.Context, tok Token) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, tok Token) error

func (f SinkFunc) Put(ctx context.Context, tok Token) error { return f(ctx, tok) }

// newToken builds a Token, decoding claims when the payload is readable.
func newToken(value, origin string, src Source, now time.Time) Token {
	tok := Token{Value: value, Origin: origin, Source: src, CapturedAt: now.UTC()}
	if claims, err := DecodeClaims(value); err == nil {
		tok.Claims = claims
	}
	return tok
}
