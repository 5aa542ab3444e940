package tokenstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/neboloop/pagerelay/internal/capture"
)

// SQLite stores tokens in the tokens table of a migrated database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite wraps a database opened with db.Open.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) Put(ctx context.Context, tok capture.Token) error {
	claims, err := json.Marshal(tok.Claims)
	if err != nil {
		return fmt.Errorf("encode claims: %w", err)
	}
	var exp int64
	if e := tok.ExpiresAt(); !e.IsZero() {
		exp = e.Unix()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tokens (origin, token, source, captured_at, expires_at, claims)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(origin) DO UPDATE SET
			token = excluded.token,
			source = excluded.source,
			captured_at = excluded.captured_at,
			expires_at = excluded.expires_at,
			claims = excluded.claims`,
		tok.Origin, tok.Value, string(tok.Source), tok.CapturedAt.UnixNano(), exp, string(claims))
	if err != nil {
		return fmt.Errorf("put token: %w", err)
	}
	return nil
}

const selectTokens = `SELECT origin, token, source, captured_at, claims FROM tokens`

func (s *SQLite) Latest(ctx context.Context, origin string) (capture.Token, error) {
	var row *sql.Row
	if origin == "" {
		row = s.db.QueryRowContext(ctx, selectTokens+` ORDER BY captured_at DESC LIMIT 1`)
	} else {
		row = s.db.QueryRowContext(ctx, selectTokens+` WHERE origin = ?`, origin)
	}
	tok, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return capture.Token{}, ErrNotFound
	}
	return tok, err
}

func (s *SQLite) List(ctx context.Context) ([]capture.Token, error) {
	rows, err := s.db.QueryContext(ctx, selectTokens+` ORDER BY origin`)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var out []capture.Token
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	return out, rows.Err()
}

func (s *SQLite) Delete(ctx context.Context, origin string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE origin = ?`, origin); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

func (s *SQLite) Prune(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE expires_at > 0 AND expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune tokens: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanToken(r scanner) (capture.Token, error) {
	var (
		tok        capture.Token
		source     string
		capturedAt int64
		claims     string
	)
	if err := r.Scan(&tok.Origin, &tok.Value, &source, &capturedAt, &claims); err != nil {
		return capture.Token{}, err
	}
	tok.Source = capture.Source(source)
	tok.CapturedAt = time.Unix(0, capturedAt).UTC()
	if claims != "" && claims != "null" {
		if err := json.Unmarshal([]byte(claims), &tok.Claims); err != nil {
			return capture.Token{}, fmt.Errorf("decode claims: %w", err)
		}
	}
	return tok, nil
}
