// Package drafting implements the pipeline's language-model collaborator: table
// selection, join planning, SQL drafting and SQL correction.
package drafting

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/correction"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/llm"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/models"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/pipeline"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/prompts"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/retry"
)

// DefaultTemperature keeps SQL output close to deterministic.
const DefaultTemperature = 0.1

// Config configures an LLMCollaborator.
type Config struct {
	Dialect     string
	Temperature float64
	// Retry applies to each model call; nil uses retry.LLMConfig().
	Retry *retry.Config
}

// LLMCollaborator answers the pipeline's collaborator calls with a language model.
type LLMCollaborator struct {
	client      llm.LLMClient
	dialect     string
	temperature float64
	retry       *retry.Config
	logger      *zap.Logger
}

var _ pipeline.Collaborator = (*LLMCollaborator)(nil)

// NewLLMCollaborator creates a collaborator backed by client.
func NewLLMCollaborator(client llm.LLMClient, cfg Config, logger *zap.Logger) *LLMCollaborator {
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.LLMConfig()
	}
	return &LLMCollaborator{
		client:      client,
		dialect:     cfg.Dialect,
		temperature: cfg.Temperature,
		retry:       cfg.Retry,
		logger:      logger.Named("drafting"),
	}
}

// SelectTables asks which tables answer question. Unknown names in the reply are
// returned as-is; the pipeline drops them.
func (c *LLMCollaborator) SelectTables(ctx context.Context, question string, tables []models.Table) ([]string, error) {
	prompt := prompts.BuildTableSelectionPrompt(question, tables)
	response, err := c.generate(ctx, "select_tables", prompt, prompts.TableSelectionSystemMessage)
	if err != nil {
		return nil, err
	}

	selection, err := llm.ParseJSONResponse[prompts.TableSelection](response)
	if err != nil {
		c.logger.Warn("Failed to parse table selection",
			zap.String("model", c.client.GetModel()),
			zap.Error(err))
		return nil, fmt.Errorf("parse table selection: %w", err)
	}

	c.logger.Debug("Tables selected",
		zap.Strings("tables", selection.Tables),
		zap.String("reasoning", selection.Reasoning))
	return selection.Tables, nil
}

// PlanJoins asks for a prose join plan over the allowed relationships.
func (c *LLMCollaborator) PlanJoins(ctx context.Context, req *pipeline.PlanRequest) (string, error) {
	prompt := prompts.BuildJoinPlanPrompt(prompts.JoinPlanContext{
		Question:      req.Question,
		Tables:        req.Tables,
		Relationships: req.Relationships,
		Paths:         req.Paths,
		BridgeTables:  req.BridgeTables,
	})
	plan, err := c.generate(ctx, "plan_joins", prompt, prompts.PlanningSystemMessage)
	if err != nil {
		return "", err
	}
	plan = strings.TrimSpace(plan)
	if plan == "" {
		return "", errors.New("empty join plan")
	}
	return plan, nil
}

// GenerateSQL drafts the statement that answers the question.
func (c *LLMCollaborator) GenerateSQL(ctx context.Context, req *pipeline.DraftRequest) (string, error) {
	prompt := prompts.BuildSQLGenerationPrompt(prompts.GenerationContext{
		Question:      req.Question,
		Dialect:       c.dialect,
		Tables:        req.Tables,
		Relationships: req.Relationships,
		JoinPlan:      req.JoinPlan,
		RowLimit:      req.RowLimit,
	})
	return c.generateSQL(ctx, "generate_sql", prompt)
}

// CorrectSQL rewrites a failing statement.
func (c *LLMCollaborator) CorrectSQL(ctx context.Context, req *correction.Request) (string, error) {
	attempts := make([]prompts.AttemptContext, len(req.Attempts))
	for i, a := range req.Attempts {
		attempts[i] = prompts.AttemptContext{SQL: a.SQL, Error: a.Error}
	}

	prompt := prompts.BuildCorrectionPrompt(prompts.CorrectionContext{
		Question:   req.Question,
		Dialect:    c.dialect,
		SQL:        req.SQL,
		ErrorKind:  string(req.Error.Kind),
		Error:      req.Error.RawMessage,
		Tables:     req.Tables,
		Candidates: req.Candidates,
		Hints:      req.Hints,
		Attempts:   attempts,
	})
	return c.generateSQL(ctx, "correct_sql", prompt)
}

func (c *LLMCollaborator) generateSQL(ctx context.Context, operation, prompt string) (string, error) {
	response, err := c.generate(ctx, operation, prompt, prompts.SQLSystemMessage)
	if err != nil {
		return "", err
	}
	sql, err := llm.ExtractSQL(response)
	if err != nil {
		return "", fmt.Errorf("%s: %w", operation, err)
	}
	return sql, nil
}

// generate calls the model, retrying transient failures.
func (c *LLMCollaborator) generate(ctx context.Context, operation, prompt, systemMessage string) (string, error) {
	response, err := retry.DoWithResultIfRetryable(ctx, c.retry, func() (string, error) {
		return c.client.GenerateResponse(ctx, prompt, systemMessage, c.temperature)
	})
	if err != nil {
		c.logger.Warn("Model call failed",
			zap.String("operation", operation),
			zap.String("model", c.client.GetModel()),
			zap.String("error_type", string(llm.GetErrorType(err))),
			zap.Error(err))
		return "", fmt.Errorf("%s: %w", operation, err)
	}
	return response, nil
}
