package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/lo"
)

// maxRowsPerInsert keeps a multi-row insert under the 65535 bind parameter
// limit of a Postgres statement for every table written in bulk.
const maxRowsPerInsert = 1000

// DBTX is satisfied by both *sql.DB and *sql.Tx so repositories can run inside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repositories groups the repositories bound to one transaction.
type Repositories struct {
	Catalog  CatalogRepository
	Products ProductRepository
}

// TxRunner runs a callback inside a single transaction.
type TxRunner interface {
	Run(ctx context.Context, fn func(repos Repositories) error) error
}

type txRunner struct {
	db *sql.DB
}

// NewTxRunner creates a TxRunner over the connection pool
func NewTxRunner(db *sql.DB) TxRunner {
	return &txRunner{db: db}
}

// Run begins a transaction, calls fn with repositories bound to it and commits
// when fn returns nil. Any error rolls the whole transaction back.
func (r *txRunner) Run(ctx context.Context, fn func(repos Repositories) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	repos := Repositories{
		Catalog:  NewCatalogRepository(tx),
		Products: NewProductRepository(tx),
	}

	if err := fn(repos); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// statementBuilder renders postgres placeholders.
var statementBuilder = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func exec(ctx context.Context, db DBTX, b sq.Sqlizer, action string) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query to %s: %w", action, err)
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", action, err)
	}
	return result, nil
}

// insertRows writes rows through base in statements of at most maxRowsPerInsert rows.
func insertRows(ctx context.Context, db DBTX, base sq.InsertBuilder, rows [][]any, action string) error {
	for _, batch := range lo.Chunk(rows, maxRowsPerInsert) {
		b := base
		for _, row := range batch {
			b = b.Values(row...)
		}
		if _, err := exec(ctx, db, b, action); err != nil {
			return err
		}
	}
	return nil
}

func query(ctx context.Context, db DBTX, b sq.Sqlizer, action string) (*sql.Rows, error) {
	q, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query to %s: %w", action, err)
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", action, err)
	}
	return rows, nil
}

func queryRow(ctx context.Context, db DBTX, b sq.Sqlizer) (*sql.Row, error) {
	q, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return db.QueryRowContext(ctx, q, args...), nil
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func hasPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
