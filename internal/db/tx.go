package db

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// Querier is the subset of *sql.DB and *sql.Tx used by repositories.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// Conn returns the transaction bound to ctx, or fallback when there is none.
func Conn(ctx context.Context, fallback *sql.DB) Querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return fallback
}

// TxManager runs units of work inside a single database transaction.
type TxManager struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTxManager constructs a TxManager that opens transactions on db.
func NewTxManager(db *sql.DB, logger *zap.Logger) *TxManager {
	return &TxManager{db: db, logger: logger}
}

// WithinTx runs fn with a transaction bound to its context. The transaction
// commits when fn returns nil and rolls back otherwise, including on panic.
// Nested calls join the outer transaction.
func (m *TxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committing := false
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil && !committing {
			if rbErr := tx.Rollback(); rbErr != nil {
				m.logger.Error("Error rolling back transaction", zap.String("error_class", fmt.Sprintf("%T", rbErr)))
			}
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	committing = true
	if err = tx.Commit(); err != nil {
		// Not logging the error itself as it may carry row data.
		stats := m.db.Stats()
		m.logger.Error("Error committing to database",
			zap.String("error_class", fmt.Sprintf("%T", err)),
			zap.Int("open_connections", stats.OpenConnections),
			zap.Int("in_use", stats.InUse),
			zap.Int("idle", stats.Idle),
		)
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
