package store

import (
	"context"
	"fmt"
)

// Options selects and configures a backend for Open.
type Options struct {
	Backend     string // memory, sqlite or postgres
	SQLitePath  string
	DatabaseURL string
}

// Open builds the Store for opts.
func Open(ctx context.Context, opts Options, extra ...Option) (*Store, error) {
	var (
		b   Backend
		err error
	)
	switch opts.Backend {
	case "", "memory":
		b = NewMemory()
	case "sqlite":
		b, err = OpenSQLite(ctx, opts.SQLitePath)
	case "postgres":
		b, err = OpenPostgres(ctx, opts.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", opts.Backend, ErrStorageUnavailable, err)
	}
	return New(b, extra...), nil
}
