// Package tx carries a *sql.Tx in the request context so that every
// store call made inside a cascade joins the same transaction without
// the stores needing to know who opened it.
package tx

import (
	"context"
	"database/sql"
)

type txKeyType struct{}

var txKey txKeyType

// WithTx returns a context carrying the transaction. A nil transaction
// leaves the context unchanged.
func WithTx(ctx context.Context, sqlTx *sql.Tx) context.Context {
	if sqlTx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, sqlTx)
}

// From reports the transaction carried in ctx, if any. Stores use it to
// pick their executor: the shared transaction when inside a cascade, the
// pool otherwise.
func From(ctx context.Context) (*sql.Tx, bool) {
	sqlTx, ok := ctx.Value(txKey).(*sql.Tx)
	return sqlTx, ok
}
