package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/ekaya-text2sql/pkg/adapters/datasource/mssql"
	_ "github.com/ekaya-inc/ekaya-text2sql/pkg/adapters/datasource/mysql"
	_ "github.com/ekaya-inc/ekaya-text2sql/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/config"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/correction"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/drafting"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/graph"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/handlers"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/llm"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/logging"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/mcp"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/pipeline"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/secureview"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.IsProduction())
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("datasource_type", cfg.Datasource.Type),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.LLM.Model),
		zap.String("schema", cfg.Schema.RelationshipsPath))

	schemaGraph, err := graph.Load(cfg.Schema.RelationshipsPath, cfg.Pipeline.ConfidenceThreshold)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	graph.LogConnectivity(schemaGraph, logger)

	views, err := secureview.Load(cfg.Schema.SecureViewsPath)
	if err != nil {
		return fmt.Errorf("load secure views: %w", err)
	}
	if err := views.CheckAgainst(schemaGraph); err != nil {
		return fmt.Errorf("check secure views: %w", err)
	}
	logger.Info("Secure views loaded", zap.Int("views", views.Len()))

	breaker := llm.NewCircuitBreaker(llm.CircuitBreakerConfig{
		Threshold:  cfg.LLM.BreakerThreshold,
		ResetAfter: cfg.LLM.BreakerResetAfter,
	})
	llmClient, err := llm.NewClientFromConfig(&llm.Config{
		Provider:  cfg.LLM.Provider,
		Endpoint:  cfg.LLM.BaseURL,
		Model:     cfg.LLM.Model,
		APIKey:    cfg.LLM.APIKey,
		MaxTokens: cfg.LLM.MaxTokens,
		Breaker:   breaker,
	}, logger)
	if err != nil {
		return fmt.Errorf("create llm client: %w", err)
	}

	executor, err := datasource.NewQueryExecutor(ctx, cfg.Datasource.Type, &datasource.ConnectionConfig{
		Host:         cfg.Datasource.ResolvedHost(),
		Port:         cfg.Datasource.Port,
		User:         cfg.Datasource.User,
		Password:     cfg.Datasource.Password,
		Database:     cfg.Datasource.Database,
		SSLMode:      cfg.Datasource.SSLMode,
		DSN:          cfg.Datasource.ResolvedDSN(),
		MaxOpenConns: cfg.Datasource.MaxOpenConns,
	})
	if err != nil {
		return fmt.Errorf("create %s executor: %w", cfg.Datasource.Type, err)
	}
	defer func() {
		if err := executor.Close(); err != nil {
			logger.Warn("Failed to close datasource", zap.Error(err))
		}
	}()
	if err := executor.TestConnection(ctx); err != nil {
		// Questions fail until the database is reachable; /health reports it.
		logger.Warn("Datasource not reachable at startup", zap.String("error", logging.SanitizeError(err)))
	}

	registry := handlers.NewRegistry()
	orchestrator, err := pipeline.NewOrchestrator(pipeline.Config{
		Graph: schemaGraph,
		Views: views,
		Collaborator: drafting.NewLLMCollaborator(llmClient, drafting.Config{
			Dialect:     cfg.Datasource.Type,
			Temperature: cfg.LLM.Temperature,
		}, logger),
		Executor:              executor,
		Metrics:               correction.NewMetrics(registry),
		Dialect:               cfg.Datasource.Type,
		MaxCorrectionAttempts: cfg.Pipeline.SQLCorrectionMaxAttempts,
		RowLimit:              cfg.Pipeline.RowLimit,
		MaxHops:               cfg.Pipeline.MaxHops,
		CaseSensitiveTables:   cfg.Pipeline.CaseSensitiveTables,
		AllowedQualifiers:     append(cfg.Pipeline.AllowedQualifiers, cfg.Datasource.Database),
		CollaboratorTimeout:   cfg.LLM.Timeout,
		QueryTimeout:          cfg.Datasource.QueryTimeout,
		Logger:                logger,
	})
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, executor, logger).RegisterRoutes(mux)
	handlers.NewQuestionsHandler(orchestrator, registry, logger).RegisterRoutes(mux)
	handlers.RegisterMetricsRoute(mux, registry)

	if cfg.MCP.Enabled {
		mcpServer := mcp.NewServer("ekaya-text2sql", cfg.Version, logger)
		tools.RegisterAskDatabaseTool(mcpServer.MCP(), orchestrator, logger)
		tools.RegisterHealthTool(mcpServer.MCP(), cfg.Version, executor)
		mcpServer.RegisterRoutes(mux)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-text2sql", zap.String("addr", srv.Addr), zap.String("version", cfg.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
