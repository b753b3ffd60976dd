// Package store wraps the SQLite staging database. Every staging and
// ledger table is dynamically shaped, so all columns are TEXT and all
// DDL is generated from column lists at run time.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/auditkit/invoice-ledger/internal/table"
)

// sqlite caps bound variables per statement; chunked inserts stay
// under this regardless of the configured row chunk.
const maxBindVars = 900

// Store owns the database connection.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path. Use ":memory:"
// for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	// Concurrent writers funnel through one connection; SQLite locks
	// the whole database on write anyway.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Execer is satisfied by both *sql.DB and *sql.Tx so DDL and inserts
// can run inside or outside a transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// DB exposes the raw handle for queries the helpers do not cover.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside a transaction, committing on nil error and
// rolling back otherwise. fn must not open nested transactions.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// CreateTable creates name with the given columns, all TEXT, if it
// does not already exist.
func CreateTable(ctx context.Context, ex Execer, name string, columns []string) error {
	if len(columns) == 0 {
		return fmt.Errorf("creating table %s: no columns", name)
	}
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = quoteIdent(c) + " TEXT"
	}
	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(name), strings.Join(defs, ", "))
	if _, err := ex.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("creating table %s: %w", name, err)
	}
	return nil
}

// InsertRows inserts rows into name in chunks of at most chunkRows,
// further limited by the bind-variable cap. Rows must match the
// column order; invalid cells become NULL.
func InsertRows(ctx context.Context, ex Execer, name string, columns []string, rows []table.Row, chunkRows int) error {
	if len(rows) == 0 {
		return nil
	}
	if chunkRows < 1 {
		chunkRows = 1
	}
	if cap := maxBindVars / len(columns); cap >= 1 && chunkRows > cap {
		chunkRows = cap
	}

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
	}
	rowPlaceholder := "(" + strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",") + ")"
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", quoteIdent(name), strings.Join(quoted, ", "))

	for start := 0; start < len(rows); start += chunkRows {
		end := start + chunkRows
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		placeholders := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*len(columns))
		for i, row := range chunk {
			placeholders[i] = rowPlaceholder
			for j := range columns {
				var cell table.Cell
				if j < len(row) {
					cell = row[j]
				}
				if cell.Valid {
					args = append(args, cell.Value)
				} else {
					args = append(args, nil)
				}
			}
		}

		if _, err := ex.ExecContext(ctx, prefix+strings.Join(placeholders, ", "), args...); err != nil {
			return fmt.Errorf("inserting %d rows into %s: %w", len(chunk), name, err)
		}
	}
	return nil
}

// TableExists reports whether name exists in the database.
func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking table %s: %w", name, err)
	}
	return n > 0, nil
}

// ListTables returns the names of all tables starting with prefix.
func (s *Store) ListTables(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE ? ORDER BY name", prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("listing tables with prefix %s: %w", prefix, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Columns returns the column names of name in declaration order.
func (s *Store) Columns(ctx context.Context, name string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(name)))
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", name, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid        int
			colName    string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, colName)
	}
	return cols, rows.Err()
}

// Count returns the row count of name.
func (s *Store) Count(ctx context.Context, name string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(name))).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting rows of %s: %w", name, err)
	}
	return n, nil
}

// DistinctValues returns the distinct non-null values of column in
// name.
func (s *Store) DistinctValues(ctx context.Context, name, column string) ([]string, error) {
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL",
		quoteIdent(column), quoteIdent(name), quoteIdent(column))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reading distinct %s from %s: %w", column, name, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// SelectWhereIn fetches columns from name where whereColumn matches
// one of values, in original insertion (rowid) order. Insertion order
// is the tie-break the dedup pass relies on.
func (s *Store) SelectWhereIn(ctx context.Context, name string, columns []string, whereColumn string, values []string) ([]table.Row, error) {
	if len(values) == 0 {
		return nil, nil
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s) ORDER BY rowid",
		strings.Join(quoted, ", "), quoteIdent(name), quoteIdent(whereColumn), placeholders)

	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting from %s: %w", name, err)
	}
	defer rows.Close()

	var out []table.Row
	scan := make([]sql.NullString, len(columns))
	ptrs := make([]any, len(columns))
	for i := range scan {
		ptrs[i] = &scan[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(table.Row, len(columns))
		for i, ns := range scan {
			if ns.Valid {
				row[i] = table.String(ns.String)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// DropTable drops name if it exists.
func DropTable(ctx context.Context, ex Execer, name string) error {
	if _, err := ex.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(name))); err != nil {
		return fmt.Errorf("dropping table %s: %w", name, err)
	}
	return nil
}

// CreateIndex creates def on tableName if it does not already exist.
func CreateIndex(ctx context.Context, ex Execer, tableName string, def table.IndexDef) error {
	cols := make([]string, len(def.Columns))
	for i, c := range def.Columns {
		cols[i] = quoteIdent(c)
	}
	query := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		quoteIdent(def.Name), quoteIdent(tableName), strings.Join(cols, ", "))
	if _, err := ex.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("creating index %s: %w", def.Name, err)
	}
	return nil
}

// quoteIdent quotes an identifier. Column names come from spreadsheet
// headers and can contain anything.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
