package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

// DBTxKey carries an open transaction through context so repositories can
// participate in a caller-managed transaction.
const DBTxKey contextKey = "db_tx"

// TxFromContext retrieves the transaction from context, or nil when the
// caller did not open one.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTx begins a transaction on the pool and returns a derived context that
// carries it. The returned finish function commits on nil error and rolls
// back otherwise; it is safe to call exactly once.
func WithTx(ctx context.Context, pool *pgxpool.Pool) (context.Context, func(error) error, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}

	txCtx := context.WithValue(ctx, DBTxKey, tx)
	finish := func(opErr error) error {
		if opErr != nil {
			_ = tx.Rollback(ctx)
			return opErr
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	}
	return txCtx, finish, nil
}

// RunInTx executes fn inside a single transaction. The transaction is made
// available to repositories through the context (see TxFromContext).
func RunInTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	txCtx, finish, err := WithTx(ctx, pool)
	if err != nil {
		return err
	}
	return finish(fn(txCtx))
}
