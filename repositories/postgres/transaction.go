package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/botmesh/model-gateway/repositories"
)

// Executor is the query surface shared by *sql.DB and *sql.Tx. Repositories
// run every statement through one of these, so the same method body serves
// pooled and transactional calls.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// GetExecutor resolves the executor for a context: the open transaction when
// one was placed there by InTransaction, the connection pool otherwise.
func GetExecutor(ctx context.Context, db *DB) Executor {
	if tr, ok := transactionFrom(ctx); ok {
		return tr.tx
	}
	return db.DB
}

type txContextKey struct{}

func transactionFrom(ctx context.Context) (*Transaction, bool) {
	tr, ok := ctx.Value(txContextKey{}).(*Transaction)
	return tr, ok
}

// GetTransactionFromContext retrieves the transaction carried by a context,
// if any
func GetTransactionFromContext(ctx context.Context) (repositories.Transaction, bool) {
	return transactionFrom(ctx)
}

// txManager hands out transactions over the shared pool. Routine
// single-statement writes (health marks, margin inserts) skip it entirely;
// it exists for multi-row cost-sheet edits that must land together.
type txManager struct {
	db     *DB
	logger *zap.Logger
}

// NewTransactionManager creates a transaction manager over the pool
func NewTransactionManager(db *DB, logger *zap.Logger) repositories.TransactionManager {
	return &txManager{db: db, logger: logger}
}

// Begin opens a transaction
func (m *txManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	return m.begin(ctx)
}

func (m *txManager) begin(ctx context.Context) (*Transaction, error) {
	sqlTx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Transaction{tx: sqlTx, ctx: ctx, logger: m.logger}, nil
}

// InTransaction runs fn inside a transaction, committing when it returns nil
// and rolling back otherwise. The context passed to fn carries the
// transaction, so repositories resolve it through GetExecutor without being
// rebound explicitly.
func (m *txManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	tr, err := m.begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(context.WithValue(ctx, txContextKey{}, tr), tr); err != nil {
		if rbErr := tr.Rollback(); rbErr != nil {
			m.logger.Error("rollback failed",
				zap.Error(rbErr),
				zap.NamedError("cause", err),
			)
		}
		return err
	}
	return tr.Commit()
}

// Transaction wraps one open *sql.Tx together with the context it was
// started under
type Transaction struct {
	tx     *sql.Tx
	ctx    context.Context
	logger *zap.Logger
}

// Commit commits the transaction
func (tr *Transaction) Commit() error {
	if err := tr.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tr.logger.Debug("transaction committed")
	return nil
}

// Rollback rolls back the transaction. Rolling back an already-finished
// transaction is a no-op, so deferred rollbacks after commit are safe.
func (tr *Transaction) Rollback() error {
	switch err := tr.tx.Rollback(); err {
	case nil:
		tr.logger.Debug("transaction rolled back")
		return nil
	case sql.ErrTxDone:
		return nil
	default:
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
}

// Context returns the context the transaction was started under
func (tr *Transaction) Context() context.Context {
	return tr.ctx
}
