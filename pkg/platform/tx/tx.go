package tx

import (
	"context"
	"database/sql"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// Querier is the subset of *sql.DB and *sql.Tx that stores issue queries
// through, so the same store code runs inside and outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Runner returns the transaction carried by ctx when one is active,
// otherwise db.
func Runner(ctx context.Context, db *sql.DB) Querier {
	if t, ok := From(ctx); ok {
		return t
	}
	return db
}

// Execute begins a transaction on db, runs fn with the transaction stored in
// context, and commits on success. Any error from fn rolls the whole
// transaction back, so callers observe mutating requests all-or-nothing.
func Execute(ctx context.Context, db *sql.DB, fn func(ctx context.Context) error) error {
	t, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = t.Rollback()
	}()

	if err := fn(WithTx(ctx, t)); err != nil {
		return err
	}
	return t.Commit()
}
