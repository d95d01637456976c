package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	dErrors "issuant/pkg/domain-errors"
)

// Querier is the subset of *sql.DB / *sql.Tx the stores use. Store methods
// resolve their querier through QuerierFrom so a business operation spanning
// several stores commits as one transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// QuerierFrom returns the transaction carried in ctx, or fallback.
func QuerierFrom(ctx context.Context, fallback Querier) Querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return fallback
}

// Tx provides a transactional boundary for multi-store mutations.
// Implementations may wrap a database transaction or an in-memory lock.
type Tx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SQLTx runs fn inside a single database transaction; every store call made
// with the derived context joins it.
type SQLTx struct {
	db *sql.DB
}

// NewSQLTx creates a database-backed transaction boundary.
func NewSQLTx(db *sql.DB) *SQLTx {
	return &SQLTx{db: db}
}

// RunInTx begins a transaction, runs fn with it attached to the context, and
// commits on success or rolls back on failure.
func (t *SQLTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after %w: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const defaultTxTimeout = 5 * time.Second

// InMemoryTx serializes mutations for in-memory stores.
type InMemoryTx struct {
	mu      sync.Mutex
	timeout time.Duration
}

// NewInMemoryTx creates a mutex-based transaction boundary for tests and the
// demo wiring. It serializes, it does not roll back.
func NewInMemoryTx() *InMemoryTx {
	return &InMemoryTx{}
}

func (t *InMemoryTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
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

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	return fn(ctx)
}
