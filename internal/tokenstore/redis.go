package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/neboloop/pagerelay/internal/capture"
)

const (
	redisKeyPrefix = "pagerelay:token:"
	redisOrigins   = "pagerelay:origins"
)

type redisRecord struct {
	Origin     string         `msgpack:"origin"`
	Token      string         `msgpack:"token"`
	Source     string         `msgpack:"source"`
	CapturedAt time.Time      `msgpack:"captured_at"`
	Claims     map[string]any `msgpack:"claims,omitempty"`
}

// Redis stores each origin's token as a msgpack value, so several
// pagerelay processes can share captured tokens. Tokens with an exp claim
// expire in Redis on their own.
type Redis struct {
	rdb *redis.Client
}

// DialRedis connects to a redis:// URL.
func DialRedis(url string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedis(redis.NewClient(opt)), nil
}

// NewRedis uses an existing client. Close closes it.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (r *Redis) Put(ctx context.Context, tok capture.Token) error {
	data, err := msgpack.Marshal(&redisRecord{
		Origin:     tok.Origin,
		Token:      tok.Value,
		Source:     string(tok.Source),
		CapturedAt: tok.CapturedAt,
		Claims:     tok.Claims,
	})
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}

	var ttl time.Duration
	if exp := tok.ExpiresAt(); !exp.IsZero() {
		ttl = time.Until(exp)
		if ttl <= 0 {
			return nil
		}
	}

	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, redisKeyPrefix+tok.Origin, data, ttl)
		p.SAdd(ctx, redisOrigins, tok.Origin)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put token: %w", err)
	}
	return nil
}

func (r *Redis) get(ctx context.Context, origin string) (capture.Token, error) {
	data, err := r.rdb.Get(ctx, redisKeyPrefix+origin).Bytes()
	if errors.Is(err, redis.Nil) {
		return capture.Token{}, ErrNotFound
	}
	if err != nil {
		return capture.Token{}, fmt.Errorf("get token: %w", err)
	}
	var rec redisRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return capture.Token{}, fmt.Errorf("decode token: %w", err)
	}
	return capture.Token{
		Value:      rec.Token,
		Origin:     rec.Origin,
		Source:     capture.Source(rec.Source),
		CapturedAt: rec.CapturedAt.UTC(),
		Claims:     rec.Claims,
	}, nil
}

func (r *Redis) Latest(ctx context.Context, origin string) (capture.Token, error) {
	if origin != "" {
		return r.get(ctx, origin)
	}
	toks, err := r.List(ctx)
	if err != nil {
		return capture.Token{}, err
	}
	return newest(toks)
}

// List returns every live token, forgetting origins whose key has expired.
func (r *Redis) List(ctx context.Context) ([]capture.Token, error) {
	origins, err := r.rdb.SMembers(ctx, redisOrigins).Result()
	if err != nil {
		return nil, fmt.Errorf("list origins: %w", err)
	}
	out := make([]capture.Token, 0, len(origins))
	for _, origin := range origins {
		tok, err := r.get(ctx, origin)
		if errors.Is(err, ErrNotFound) {
			r.rdb.SRem(ctx, redisOrigins, origin)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	sortByOrigin(out)
	return out, nil
}

func (r *Redis) Delete(ctx context.Context, origin string) error {
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, redisKeyPrefix+origin)
		p.SRem(ctx, redisOrigins, origin)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

func (r *Redis) Prune(ctx context.Context, now time.Time) (int, error) {
	toks, err := r.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, tok := range toks {
		if expired(tok, now) {
			if err := r.Delete(ctx, tok.Origin); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
