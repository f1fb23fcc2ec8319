package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	apperrors "github.com/kimhsiao/stashsync/internal/errors"
)

// Repository provides CRUD operations for all models.
type Repository struct {
	db *sql.DB
	q  querier

	// tx and parent are set on the view InTx hands out.
	tx     *sql.Tx
	parent *Repository

	// Prepared statement cache for the lookups the sync engine runs per record.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, q: db}
}

// InTx runs fn with a Repository whose every statement goes through one
// transaction. The transaction commits when fn returns nil. Calling InTx on
// such a view joins its transaction.
func (r *Repository) InTx(ctx context.Context, fn func(tx *Repository) error) error {
	if r.tx != nil {
		return fn(r)
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		return fn(&Repository{db: r.db, q: tx, tx: tx, parent: r})
	})
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if r.tx != nil {
		// The pool's only connection belongs to the transaction.
		if stmt, ok := r.parent.stmtCache.Load(query); ok {
			return r.tx.StmtContext(ctx, stmt.(*sql.Stmt)), nil
		}
		stmt, err := r.tx.PrepareContext(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare statement: %w", err)
		}
		return stmt, nil
	}
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	// Another goroutine may have prepared the same query; keep theirs.
	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.stmtCache.Delete(key)
		return true
	})
	return firstErr
}

// withTx runs fn inside a transaction. Every statement in fn must go through tx:
// the pool holds a single connection.
func (r *Repository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "commit transaction", err)
	}
	return nil
}

// nullString stores "" as NULL, which keeps UNIQUE columns like remote_id
// free for rows that have no value yet.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// notFound maps sql.ErrNoRows to an application error with the given code.
func notFound(err error, code apperrors.ErrorCode, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.New(code, fmt.Sprintf("%s not found: %s", what, id))
	}
	return apperrors.Wrap(apperrors.ErrDatabase, "query "+what, err)
}

// requireRow turns a zero-row update into a not-found error.
func requireRow(res sql.Result, code apperrors.ErrorCode, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "rows affected", err)
	}
	if n == 0 {
		return apperrors.New(code, fmt.Sprintf("%s not found: %s", what, id))
	}
	return nil
}
