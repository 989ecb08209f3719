// Package postgres implements the engine stores over database/sql.
// All statements go through execer so that calls made inside
// Store.RunInTx share one transaction.
package postgres

import (
	"context"
	"database/sql"

	txcontext "converge/pkg/platform/tx"
)

// Store implements store.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// RunInTx runs fn inside a single transaction carried in the context.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return txcontext.RunInTx(ctx, s.db, fn)
}
