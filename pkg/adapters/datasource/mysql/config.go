package mysql

import (
	"fmt"
	"net"
	"strconv"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/adapters/datasource"
)

// DefaultPort returns the default MySQL port.
func DefaultPort() int {
	return 3306
}

// BuildDSN returns the go-sql-driver DSN for cfg. An explicit DSN is returned unchanged.
func BuildDSN(cfg *datasource.ConnectionConfig) (string, error) {
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

	driverCfg := gomysql.NewConfig()
	driverCfg.User = cfg.User
	driverCfg.Passwd = cfg.Password
	driverCfg.Net = "tcp"
	driverCfg.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	driverCfg.DBName = cfg.Database
	driverCfg.ParseTime = true
	if cfg.SSLMode != "" && cfg.SSLMode != "disable" {
		driverCfg.TLSConfig = "true"
	}
	return driverCfg.FormatDSN(), nil
}
