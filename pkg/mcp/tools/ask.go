// Package tools holds the MCP tools served by the text-to-SQL server.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/pipeline"
)

// AskDatabaseToolName is the name clients call the pipeline by.
const AskDatabaseToolName = "ask_database"

// Answerer runs a question through the pipeline.
type Answerer interface {
	Run(ctx context.Context, question string) (*pipeline.Result, error)
}

// askResult is what ask_database returns. Unresolved questions are reported here, not as
// tool errors, so the client sees the explanation.
type askResult struct {
	QuestionID         string           `json:"question_id"`
	Resolved           bool             `json:"resolved"`
	Reason             pipeline.Reason  `json:"reason"`
	Explanation        string           `json:"explanation"`
	SQL                string           `json:"sql,omitempty"`
	Columns            []string         `json:"columns"`
	Rows               []map[string]any `json:"rows"`
	RowCount           int              `json:"row_count"`
	TablesUsed         []string         `json:"tables_used"`
	CorrectionAttempts int              `json:"correction_attempts"`
}

// RegisterAskDatabaseTool adds the ask_database tool to the MCP server.
func RegisterAskDatabaseTool(s *server.MCPServer, answerer Answerer, logger *zap.Logger) {
	tool := mcp.NewTool(
		AskDatabaseToolName,
		mcp.WithDescription(
			"Answers a natural-language question about the connected database. "+
				"Chooses the tables, writes a read-only SQL query, fixes it if the database rejects it, "+
				"and returns the rows along with the SQL that produced them.",
		),
		mcp.WithString(
			"question",
			mcp.Required(),
			mcp.Description("The question to answer, in plain language"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return NewErrorResult("invalid_parameters", "question is required"), nil
		}
		question = trimString(question)
		if question == "" {
			return NewErrorResult("invalid_parameters", "question must not be empty"), nil
		}

		result, err := answerer.Run(ctx, question)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return NewErrorResult("cancelled", "the request was cancelled before the question was answered"), nil
			}
			return nil, fmt.Errorf("answer question: %w", err)
		}

		logger.Debug("ask_database answered",
			zap.String("question_id", result.QuestionID),
			zap.Bool("resolved", result.QueryResolved),
			zap.String("reason", string(result.Reason)))

		payload, err := json.Marshal(askResult{
			QuestionID:         result.QuestionID,
			Resolved:           result.QueryResolved,
			Reason:             result.Reason,
			Explanation:        result.Explanation,
			SQL:                result.SQL,
			Columns:            result.Columns,
			Rows:               result.Rows,
			RowCount:           result.RowCount,
			TablesUsed:         result.TablesUsed,
			CorrectionAttempts: result.CorrectionAttempts,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal ask_database result: %w", err)
		}
		return mcp.NewToolResultText(string(payload)), nil
	})
}

func trimString(s string) string {
	return strings.TrimSpace(s)
}
