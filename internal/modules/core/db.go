package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type TransactionOption func(*sql.TxOptions)

func WithIsolationLevel(isolationLevel sql.IsolationLevel) TransactionOption {
	return func(opts *sql.TxOptions) {
		opts.Isolation = isolationLevel
	}
}

// Tx runs transaction inside a database transaction, committing when it
// returns nil and rolling back otherwise. A panic rolls back and is returned
// as an error.
func Tx(
	ctx context.Context,
	db *sql.DB,
	transaction func(context.Context, *sql.Tx) error,
	opts ...TransactionOption,
) (err error) {
	options := sql.TxOptions{}

	for _, opt := range opts {
		opt(&options)
	}

	tx, err := db.BeginTx(ctx, &options)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			panicErr := fmt.Errorf("transaction panicked with: %v", r)
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				panicErr = errors.Join(panicErr, rollbackErr)
			}
			err = panicErr
		}
	}()

	err = transaction(ctx, tx)
	if err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			return fmt.Errorf("%s: %w", rollbackErr.Error(), err)
		}

		return err
	}

	return tx.Commit()
}
