package tokenstore

import (
	"context"

	"github.com/neboloop/pagerelay/internal/capture"
	"github.com/neboloop/pagerelay/internal/credential"
)

type encrypted struct {
	Store
}

// Encrypted wraps s so token values are stored sealed with the key set by
// credential.Init. Claims stay readable so expiry can be pruned without
// the key.
func Encrypted(s Store) Store {
	return encrypted{Store: s}
}

func (e encrypted) Put(ctx context.Context, tok capture.Token) error {
	sealed, err := credential.Encrypt(tok.Value)
	if err != nil {
		return err
	}
	tok.Value = sealed
	return e.Store.Put(ctx, tok)
}

func (e encrypted) Latest(ctx context.Context, origin string) (capture.Token, error) {
	tok, err := e.Store.Latest(ctx, origin)
	if err != nil {
		return tok, err
	}
	return open(tok)
}

func (e encrypted) List(ctx context.Context) ([]capture.Token, error) {
	toks, err := e.Store.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range toks {
		if toks[i], err = open(toks[i]); err != nil {
			return nil, err
		}
	}
	return toks, nil
}

func open(tok capture.Token) (capture.Token, error) {
	plain, err := credential.Decrypt(tok.Value)
	if err != nil {
		return capture.Token{}, err
	}
	tok.Value = plain
	return tok, nil
}
