package mssql

import (
	"fmt"
	"net/url"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/adapters/datasource"
)

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// DefaultConnectionTimeout returns the default connection timeout in seconds.
func DefaultConnectionTimeout() int {
	return 30
}

// BuildConnectionString returns the sqlserver:// URL for SQL authentication. An explicit
// DSN is returned unchanged. SSLMode "disable" turns encryption off; anything else
// keeps it on.
func BuildConnectionString(cfg *datasource.ConnectionConfig) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.Host == "" {
		return "", fmt.Errorf("host is required")
	}
	if cfg.Database == "" {
		return "", fmt.Errorf("database is required")
	}

	port := cfg.Port
	if port == 0 {
		port = DefaultPort()
	}

	query := url.Values{}
	query.Add("database", cfg.Database)
	if cfg.SSLMode == "disable" {
		query.Add("encrypt", "false")
	} else {
		query.Add("encrypt", "true")
	}
	query.Add("connection timeout", fmt.Sprintf("%d", DefaultConnectionTimeout()))

	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		cfg.Host,
		port,
		query.Encode(),
	), nil
}
