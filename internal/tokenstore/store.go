// Package tokenstore keeps the most recent captured token per page origin.
// A newer token for an origin overwrites the previous one.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/neboloop/pagerelay/internal/capture"
	"github.com/neboloop/pagerelay/internal/credential"
	"github.com/neboloop/pagerelay/internal/db"
	"github.com/neboloop/pagerelay/internal/keyring"
)

// ErrNotFound is returned when no token is stored for an origin.
var ErrNotFound = errors.New("tokenstore: not found")

// Store persists captured tokens. Every Store is a capture.Sink.
type Store interface {
	Put(ctx context.Context, tok capture.Token) error
	// Latest returns the token for origin, or the most recently captured
	// token of any origin when origin is empty.
	Latest(ctx context.Context, origin string) (capture.Token, error)
	List(ctx context.Context) ([]capture.Token, error)
	Delete(ctx context.Context, origin string) error
	// Prune removes tokens whose exp claim is at or before now and returns
	// how many were removed.
	Prune(ctx context.Context, now time.Time) (int, error)
	Close() error
}

// Drivers accepted by Open.
const (
	DriverMemory  = "memory"
	DriverSQLite  = "sqlite"
	DriverRedis   = "redis"
	DriverKeyring = "keyring"
)

// Config selects and configures a backend.
type Config struct {
	Driver         string
	SQLitePath     string
	RedisURL       string
	KeyringService string
	Encrypt        bool
	KeyFile        string
}

// Open builds the configured store, wrapped for encryption at rest when
// cfg.Encrypt is set.
func Open(cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "", DriverMemory:
		s = NewMemory()
	case DriverSQLite:
		conn, oerr := db.Open(cfg.SQLitePath)
		if oerr != nil {
			return nil, oerr
		}
		s = NewSQLite(conn)
	case DriverRedis:
		s, err = DialRedis(cfg.RedisURL)
	case DriverKeyring:
		s = NewKeyring(keyring.New(cfg.KeyringService))
	default:
		return nil, fmt.Errorf("tokenstore: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Encrypt {
		key, err := credential.LoadOrCreateKey(keyring.New(cfg.KeyringService), cfg.KeyFile)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("load encryption key: %w", err)
		}
		credential.Init(key)
		s = Encrypted(s)
	}
	return s, nil
}

func expired(tok capture.Token, now time.Time) bool {
	exp := tok.ExpiresAt()
	return !exp.IsZero() && !exp.After(now)
}

func newest(toks []capture.Token) (capture.Token, error) {
	if len(toks) == 0 {
		return capture.Token{}, ErrNotFound
	}
	best := toks[0]
	for _, t := range toks[1:] {
		if t.CapturedAt.After(best.CapturedAt) {
			best = t
		}
	}
	return best, nil
}

func sortByOrigin(toks []capture.Token) {
	sort.Slice(toks, func(i, j int) bool { return toks[i].Origin < toks[j].Origin })
}
