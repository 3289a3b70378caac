package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultPath is read when CONFIG_PATH is unset.
const DefaultPath = "config.yaml"

// Config holds all configuration for the text-to-SQL server.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	LLM        LLMConfig        `yaml:"llm"`
	Datasource DatasourceConfig `yaml:"datasource"`
	Schema     SchemaConfig     `yaml:"schema"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	MCP        MCPConfig        `yaml:"mcp"`
}

// LLMConfig selects and tunes the model that drafts and corrects SQL.
type LLMConfig struct {
	Provider    string        `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"` // openai or anthropic
	BaseURL     string        `yaml:"base_url" env:"LLM_BASE_URL" env-default:"https://api.openai.com/v1"`
	Model       string        `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o"`
	APIKey      string        `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	Timeout     time.Duration `yaml:"timeout" env:"LLM_TIMEOUT" env-default:"60s"`
	Temperature float64       `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0"`
	MaxTokens   int           `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"2000"`

	// Circuit breaker shared by all calls to the provider.
	BreakerThreshold  int           `yaml:"breaker_threshold" env:"LLM_BREAKER_THRESHOLD" env-default:"5"`
	BreakerResetAfter time.Duration `yaml:"breaker_reset_after" env:"LLM_BREAKER_RESET_AFTER" env-default:"30s"`
}

// DatasourceConfig describes the database questions are answered against.
type DatasourceConfig struct {
	Type         string        `yaml:"type" env:"DATASOURCE_TYPE" env-default:"mysql"` // mysql, postgres or sqlserver
	Host         string        `yaml:"host" env:"DATASOURCE_HOST" env-default:"localhost"`
	Port         int           `yaml:"port" env:"DATASOURCE_PORT" env-default:"0"` // 0 means the type's default port
	User         string        `yaml:"user" env:"DATASOURCE_USER" env-default:""`
	Password     string        `yaml:"-" env:"DATASOURCE_PASSWORD"` // Secret - not in YAML
	DSN          string        `yaml:"-" env:"DATASOURCE_DSN"`      // Overrides the fields above when set
	Database     string        `yaml:"database" env:"DATASOURCE_DATABASE" env-default:""`
	SSLMode      string        `yaml:"ssl_mode" env:"DATASOURCE_SSL_MODE" env-default:"disable"`
	QueryTimeout time.Duration `yaml:"query_timeout" env:"DATASOURCE_QUERY_TIMEOUT" env-default:"30s"`
	MaxOpenConns int           `yaml:"max_open_conns" env:"DATASOURCE_MAX_OPEN_CONNS" env-default:"10"`
}

// SchemaConfig points at the schema and security documents loaded at startup.
type SchemaConfig struct {
	RelationshipsPath string `yaml:"relationships_path" env:"SCHEMA_RELATIONSHIPS_PATH" env-default:"schema.yaml"`
	SecureViewsPath   string `yaml:"secure_views_path" env:"SCHEMA_SECURE_VIEWS_PATH" env-default:""`
}

// PipelineConfig holds the per-question budgets and graph parameters.
type PipelineConfig struct {
	SQLCorrectionMaxAttempts int     `yaml:"sql_correction_max_attempts" env:"SQL_CORRECTION_MAX_ATTEMPTS" env-default:"3"`
	RowLimit                 int     `yaml:"row_limit" env:"PIPELINE_ROW_LIMIT" env-default:"100"`
	ConfidenceThreshold      float64 `yaml:"confidence_threshold" env:"PIPELINE_CONFIDENCE_THRESHOLD" env-default:"0.70"`
	MaxHops                  int     `yaml:"max_hops" env:"PIPELINE_MAX_HOPS" env-default:"4"`
	CaseSensitiveTables      bool    `yaml:"case_sensitive_tables" env:"PIPELINE_CASE_SENSITIVE_TABLES" env-default:"false"`
	// Schema or database prefixes generated SQL may put on table names, besides
	// datasource.database.
	AllowedQualifiers []string `yaml:"allowed_qualifiers" env:"PIPELINE_ALLOWED_QUALIFIERS" env-separator:","`
}

// MCPConfig controls the MCP endpoint.
type MCPConfig struct {
	Enabled bool `yaml:"enabled" env:"MCP_ENABLED" env-default:"true"`
}

var (
	supportedProviders   = []string{"openai", "anthropic"}
	supportedDatasources = []string{"mysql", "postgres", "sqlserver"}
)

// Load reads configuration from CONFIG_PATH (default config.yaml) with environment
// variable overrides. The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = DefaultPath
	}
	return LoadFile(path, version)
}

// LoadFile reads configuration from path with environment variable overrides.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	cfg.Datasource.Type = strings.ToLower(strings.TrimSpace(cfg.Datasource.Type))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks value ranges and supported choices.
func (c *Config) Validate() error {
	if !contains(supportedProviders, c.LLM.Provider) {
		return fmt.Errorf("llm.provider %q is not one of %s", c.LLM.Provider, strings.Join(supportedProviders, ", "))
	}
	if !contains(supportedDatasources, c.Datasource.Type) {
		return fmt.Errorf("datasource.type %q is not one of %s", c.Datasource.Type, strings.Join(supportedDatasources, ", "))
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive")
	}

	p := c.Pipeline
	if p.SQLCorrectionMaxAttempts < 0 {
		return fmt.Errorf("pipeline.sql_correction_max_attempts must be >= 0, got %d", p.SQLCorrectionMaxAttempts)
	}
	if p.RowLimit < 0 {
		return fmt.Errorf("pipeline.row_limit must be >= 0, got %d", p.RowLimit)
	}
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		return fmt.Errorf("pipeline.confidence_threshold must be within [0, 1], got %v", p.ConfidenceThreshold)
	}
	if p.MaxHops < 1 {
		return fmt.Errorf("pipeline.max_hops must be >= 1, got %d", p.MaxHops)
	}
	if c.Schema.RelationshipsPath == "" {
		return fmt.Errorf("schema.relationships_path is required")
	}
	return nil
}

// IsProduction reports whether the server runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// ListenAddr returns host:port for the HTTP server.
func (c *Config) ListenAddr() string {
	return c.BindAddr + ":" + c.Port
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
