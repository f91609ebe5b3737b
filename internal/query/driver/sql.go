package driver

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	// Relational backends selectable by database.driver
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DB is the subset of *sql.DB used by SQLExecutor
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// SQLExecutor runs rendered scripts through database/sql. Scripts use '?'
// placeholders; they are rewritten to the placeholder format of the driver.
type SQLExecutor struct {
	db      DB
	builder sq.StatementBuilderType
	format  sq.PlaceholderFormat
}

// NewSQLExecutor creates an executor for db opened with driverName
func NewSQLExecutor(db DB, driverName string) *SQLExecutor {
	format := PlaceholderFormat(driverName)
	return &SQLExecutor{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(format),
		format:  format,
	}
}

// PlaceholderFormat returns the placeholder style of a database/sql driver
func PlaceholderFormat(driverName string) sq.PlaceholderFormat {
	switch driverName {
	case "pgx", "postgres":
		return sq.Dollar
	default:
		return sq.Question
	}
}

// Open opens a database for one of the registered drivers
func Open(driverName, dsn string) (*sql.DB, error) {
	switch driverName {
	case "pgx", "postgres", "mysql", "sqlite3":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driverName)
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driverName, err)
	}
	return db, nil
}

// Query executes req. Paged requests wrap the script in a derived table
// with LIMIT/OFFSET; counted requests run an extra COUNT(*) over it.
func (e *SQLExecutor) Query(ctx context.Context, req Request) (*Result, error) {
	result := &Result{Total: -1}

	if req.Count {
		query, _, err := e.builder.Select("COUNT(*)").From("(" + req.Script + ") AS nq_count").ToSql()
		if err != nil {
			return nil, fmt.Errorf("building count query: %w", err)
		}
		if err := e.db.QueryRowContext(ctx, query, req.Args...).Scan(&result.Total); err != nil {
			return nil, fmt.Errorf("counting rows: %w", err)
		}
		if result.Total == 0 || int64(req.Offset) >= result.Total {
			result.Rows = []map[string]interface{}{}
			return result, nil
		}
	}

	query, err := e.selectQuery(req)
	if err != nil {
		return nil, err
	}

	rows, err := e.db.QueryContext(ctx, query, req.Args...)
	if err != nil {
		return nil, fmt.Errorf("querying rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result.Rows, err = scanRows(rows)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *SQLExecutor) selectQuery(req Request) (string, error) {
	if req.Limit <= 0 && req.Offset <= 0 {
		query, err := e.format.ReplacePlaceholders(req.Script)
		if err != nil {
			return "", fmt.Errorf("rewriting placeholders: %w", err)
		}
		return query, nil
	}

	qb := e.builder.Select("*").From("(" + req.Script + ") AS nq")
	if req.Limit > 0 {
		qb = qb.Limit(uint64(req.Limit))
	}
	if req.Offset > 0 {
		qb = qb.Offset(uint64(req.Offset))
	}
	query, _, err := qb.ToSql()
	if err != nil {
		return "", fmt.Errorf("building paged query: %w", err)
	}
	return query, nil
}

// scanRows scans all rows into maps keyed by column name
func scanRows(rows *sql.Rows) ([]map[string]interface{}, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	results := []map[string]interface{}{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		record := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			// text columns come back as []byte from some drivers
			if b, ok := values[i].([]byte); ok {
				record[col] = string(b)
			} else {
				record[col] = values[i]
			}
		}
		results = append(results, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return results, nil
}
