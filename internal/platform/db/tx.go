package db

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx operations shared by pools and transactions.
// Repositories resolve it through From so that several repositories can
// participate in one unit of work without knowing about each other.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

type afterKey struct{}

type afterList struct {
	mu  sync.Mutex
	fns []func()
}

// WithTx runs fn inside a RepeatableRead transaction and stores the
// transaction in the context so nested repository calls join it. A nested
// WithTx call reuses the outer transaction instead of opening a new one.
// Hooks registered through AfterTx run once the outermost transaction has
// committed or rolled back.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	if tx := txFrom(ctx); tx != nil {
		return fn(ctx)
	}
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	ctx, done := TxScope(context.WithValue(ctx, txKey{}, tx))
	defer done()
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// TxScope attaches a completion-hook list to ctx if none is present. The
// returned done func fires the hooks in reverse registration order; WithTx
// calls it after the transaction has committed or rolled back. Test
// runners use it to reproduce the hook lifecycle without a database.
func TxScope(ctx context.Context) (context.Context, func()) {
	if _, ok := ctx.Value(afterKey{}).(*afterList); ok {
		return ctx, func() {}
	}
	list := &afterList{}
	return context.WithValue(ctx, afterKey{}, list), func() {
		list.mu.Lock()
		fns := list.fns
		list.fns = nil
		list.mu.Unlock()
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}

// AfterTx defers fn until the outermost transaction finishes, commit or
// rollback. Without a transaction scope in ctx fn runs immediately.
func AfterTx(ctx context.Context, fn func()) {
	list, ok := ctx.Value(afterKey{}).(*afterList)
	if !ok {
		fn()
		return
	}
	list.mu.Lock()
	list.fns = append(list.fns, fn)
	list.mu.Unlock()
}

// From returns the transaction bound to ctx, or the pool when none is active.
func From(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx := txFrom(ctx); tx != nil {
		return tx
	}
	return pool
}

// InTx reports whether ctx carries an open transaction.
func InTx(ctx context.Context) bool {
	return txFrom(ctx) != nil
}

func txFrom(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// Runner hides the pool from services that only need transactional scope.
type Runner struct {
	pool *pgxpool.Pool
}

// NewRunner wraps a pool.
func NewRunner(pool *pgxpool.Pool) *Runner {
	return &Runner{pool: pool}
}

// WithTx delegates to the package-level WithTx.
func (r *Runner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.pool == nil {
		return errors.New("platform/db: runner not initialised")
	}
	return WithTx(ctx, r.pool, fn)
}
