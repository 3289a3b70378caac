package config

import (
	"net"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/go-sql-driver/mysql"
)

// containerHost is how a container reaches services published on its host.
const containerHost = "host.docker.internal"

// dockerEnvFile exists in every Docker container.
const dockerEnvFile = "/.dockerenv"

var inContainer = sync.OnceValue(func() bool {
	_, err := os.Stat(dockerEnvFile)
	return err == nil
})

func isLoopback(host string) bool {
	switch strings.ToLower(strings.Trim(host, "[]")) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// ResolvedHost returns the datasource host as reachable from this process. Inside a
// container a loopback host means the machine running the container.
func (d *DatasourceConfig) ResolvedHost() string {
	return resolveHost(d.Host, inContainer())
}

// ResolvedDSN returns DSN with a loopback host rewritten the same way as ResolvedHost.
// A DSN that cannot be parsed is returned unchanged; the driver reports it.
func (d *DatasourceConfig) ResolvedDSN() string {
	return resolveDSN(d.Type, d.DSN, inContainer())
}

func resolveHost(host string, container bool) string {
	if container && isLoopback(host) {
		return containerHost
	}
	return host
}

func resolveDSN(datasourceType, dsn string, container bool) string {
	if !container || dsn == "" {
		return dsn
	}

	switch {
	case datasourceType == "mysql":
		return resolveMySQLDSN(dsn)
	case strings.Contains(dsn, "://"):
		return resolveURLDSN(dsn)
	default:
		return resolveKeywordDSN(dsn)
	}
}

// resolveMySQLDSN handles user:pass@tcp(localhost:3306)/db.
func resolveMySQLDSN(dsn string) string {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil || cfg.Net != "tcp" {
		return dsn
	}
	host, port, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		host, port = cfg.Addr, ""
	}
	if !isLoopback(host) {
		return dsn
	}
	cfg.Addr = containerHost
	if port != "" {
		cfg.Addr = net.JoinHostPort(containerHost, port)
	}
	return cfg.FormatDSN()
}

// resolveURLDSN handles postgres://... and sqlserver://... URLs.
func resolveURLDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || !isLoopback(u.Hostname()) {
		return dsn
	}
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(containerHost, port)
	} else {
		u.Host = containerHost
	}
	return u.String()
}

// resolveKeywordDSN handles "host=localhost port=5432 ..." and
// "server=localhost;database=hr" connection strings.
func resolveKeywordDSN(dsn string) string {
	sep := " "
	if strings.Contains(dsn, ";") {
		sep = ";"
	}
	parts := strings.Split(dsn, sep)
	changed := false
	for i, part := range parts {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "host", "server", "data source", "address", "addr":
		default:
			continue
		}
		host, rest, _ := strings.Cut(strings.TrimSpace(value), ",")
		if !isLoopback(host) {
			continue
		}
		resolved := containerHost
		if rest != "" {
			resolved += "," + rest
		}
		parts[i] = key + "=" + resolved
		changed = true
	}
	if !changed {
		return dsn
	}
	return strings.Join(parts, sep)
}
