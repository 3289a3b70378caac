package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/adapters/datasource"
)

// QueryExecutor provides MySQL query execution.
type QueryExecutor struct {
	db *sql.DB
}

// NewQueryExecutor opens a MySQL connection pool and verifies it.
func NewQueryExecutor(ctx context.Context, cfg *datasource.ConnectionConfig) (*QueryExecutor, error) {
	dsn, err := BuildDSN(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	e := &QueryExecutor{db: db}
	if err := e.TestConnection(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

// NewQueryExecutorFromDB wraps an existing pool.
func NewQueryExecutorFromDB(db *sql.DB) *QueryExecutor {
	return &QueryExecutor{db: db}
}

// Query runs a SELECT statement and returns bounded results.
// MySQL rejects derived tables with duplicate column names, so the statement is run
// as written and reading stops at the limit. The row cap in the statement itself is
// applied before it gets here.
func (e *QueryExecutor) Query(ctx context.Context, sqlQuery string, limit int) (*datasource.QueryExecutionResult, error) {
	rows, err := e.db.QueryContext(ctx, sqlQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	return datasource.ScanRows(rows, datasource.EffectiveLimit(limit), strings.ToUpper)
}

// TestConnection pings the server.
func (e *QueryExecutor) TestConnection(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mysql: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (e *QueryExecutor) Close() error {
	return e.db.Close()
}

var _ datasource.QueryExecutor = (*QueryExecutor)(nil)
