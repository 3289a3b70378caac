package datasource

// ConnectionConfig holds the connection settings shared by every dialect.
// Adapters fill in their own defaults for zero values.
type ConnectionConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	// DSN, when set, is used as-is instead of the fields above.
	DSN string
	// MaxOpenConns bounds the connection pool; zero means the driver default.
	MaxOpenConns int
}
