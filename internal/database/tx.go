package database

import (
	"context"
	"database/sql"

	"github.com/uptrace/bun"
)

type txKey struct{}

// TxManager runs units of work inside a writer transaction carried by the context.
type TxManager struct {
	db *bun.DB
}

// NewTxManager binds a TxManager to the writer connection.
func NewTxManager(conns *Connections) *TxManager {
	return &TxManager{db: conns.Writer}
}

// RunInTx executes fn in a read-committed transaction. Repositories called with the
// context passed to fn join that transaction through Executor. Nested calls reuse the
// outer transaction.
func (m *TxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		return fn(ctx)
	}
	return m.db.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(ctx context.Context, tx bun.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// Executor returns the transaction stored in ctx, or db when none is active.
func Executor(ctx context.Context, db bun.IDB) bun.IDB {
	if tx, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		return tx
	}
	return db
}

// InTx reports whether ctx carries an active transaction.
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(bun.Tx)
	return ok
}

// WithSession runs fn against a single connection: the transaction in ctx when one is
// active, otherwise a short transaction of its own. MySQL statements that read back
// session state (LAST_INSERT_ID) or re-select a row they just updated rely on it.
func WithSession(ctx context.Context, db *bun.DB, fn func(ctx context.Context, db bun.IDB) error) error {
	if tx, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		return fn(ctx, tx)
	}
	return db.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(ctx context.Context, tx bun.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx), tx)
	})
}
