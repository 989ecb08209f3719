package tx

import (
	"context"
	"database/sql"
	"fmt"
)

// RunInTx begins a transaction, stores it in the context, and runs fn.
// Commit happens only when fn returns nil; any error rolls back. Cascading
// operations use this so every store call inside fn shares one transaction.
//
// If the context already carries a transaction, fn joins it and commit is
// left to the outer caller.
func RunInTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context) error) error {
	if _, ok := From(ctx); ok {
		return fn(ctx)
	}

	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(WithTx(ctx, sqlTx)); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
