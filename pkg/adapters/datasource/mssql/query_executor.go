package mssql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver

	"github.com/ekaya-inc/ekaya-text2sql/pkg/adapters/datasource"
)

// QueryExecutor provides SQL Server query execution.
type QueryExecutor struct {
	db *sql.DB
}

// NewQueryExecutor opens a SQL Server connection pool and verifies it.
func NewQueryExecutor(ctx context.Context, cfg *datasource.ConnectionConfig) (*QueryExecutor, error) {
	connStr, err := BuildConnectionString(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	db, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return nil, fmt.Errorf("open SQL auth connection: %w", err)
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

// Query runs a SELECT statement and returns bounded results.
// SQL Server rejects ORDER BY and unnamed columns inside derived tables, so the
// statement runs as written and reading stops at the limit.
func (e *QueryExecutor) Query(ctx context.Context, sqlQuery string, limit int) (*datasource.QueryExecutionResult, error) {
	rows, err := e.db.QueryContext(ctx, sqlQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	return datasource.ScanRows(rows, datasource.EffectiveLimit(limit), mapSQLServerType)
}

// TestConnection pings the server.
func (e *QueryExecutor) TestConnection(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlserver: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (e *QueryExecutor) Close() error {
	return e.db.Close()
}

var _ datasource.QueryExecutor = (*QueryExecutor)(nil)
