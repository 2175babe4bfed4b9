package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Queryable is the subset of pgx shared by pools and transactions.
type Queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Beginner starts transactions; *pgxpool.Pool satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Transactor runs a function inside a single database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

const defaultTxAttempts = 3

// TxFromContext returns the transaction stored by RunInTx, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// ContextWithTx stores tx in ctx so repositories join it.
func ContextWithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, DBTxKey, tx)
}

type commitHooks struct {
	fns []func(ctx context.Context)
}

// AfterCommit defers fn until the outermost transaction in ctx commits. It
// is dropped on rollback. Outside a transaction fn runs at once.
func AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	if h, ok := ctx.Value(commitKey).(*commitHooks); ok {
		h.fns = append(h.fns, fn)
		return
	}
	fn(ctx)
}

// Conn picks the transaction from ctx, falling back to q.
func Conn(ctx context.Context, q Queryable) Queryable {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return q
}

// RunInTx executes fn in a transaction. When ctx already carries one, fn
// joins it and commit is left to the outermost caller. Serialization
// failures and deadlocks are retried from the beginning.
func RunInTx(ctx context.Context, b Beginner, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	var err error
	for attempt := 0; attempt < defaultTxAttempts; attempt++ {
		err = runOnce(ctx, b, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("transaction retries exhausted: %w", err)
}

func runOnce(ctx context.Context, b Beginner, fn func(ctx context.Context) error) error {
	tx, err := b.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	hooks := &commitHooks{}
	txCtx := context.WithValue(ContextWithTx(ctx, tx), commitKey, hooks)
	if err := fn(txCtx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	for _, h := range hooks.fns {
		h(ctx)
	}
	return nil
}

// IsRetryable reports serialization_failure and deadlock_detected.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// IsUniqueViolation reports SQLSTATE 23505.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsCheckViolation reports SQLSTATE 23514.
func IsCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23514"
}

// PoolTransactor adapts a Beginner to Transactor.
type PoolTransactor struct {
	b Beginner
}

func NewTransactor(b Beginner) *PoolTransactor {
	return &PoolTransactor{b: b}
}

func (t *PoolTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return RunInTx(ctx, t.b, fn)
}
