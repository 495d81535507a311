package main

import (
	"context"
	"database/sql"
	"time"

	dErrors "civreg/pkg/domain-errors"
	"civreg/pkg/platform/tx"
)

const defaultTxTimeout = 5 * time.Second

// postgresTransactor brackets a mutating request in a database transaction.
// The transaction travels in context, so every store call inside fn joins it.
type postgresTransactor struct {
	db      *sql.DB
	timeout time.Duration
}

func newPostgresTransactor(db *sql.DB) *postgresTransactor {
	return &postgresTransactor{db: db}
}

func (t *postgresTransactor) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return tx.Execute(ctx, t.db, fn)
}
