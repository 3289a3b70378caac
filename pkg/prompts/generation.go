package prompts

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/models"
)

// SQLSystemMessage is the system message for SQL drafting and correction.
const SQLSystemMessage = "You are an expert SQL developer. You write a single read-only SELECT statement and return it in one ```sql code block with no commentary."

// GenerationContext is everything shown to the model when drafting SQL.
type GenerationContext struct {
	Question      string
	Dialect       string
	Tables        []models.Table
	Relationships []models.Relationship
	JoinPlan      string
	RowLimit      int
}

// BuildSQLGenerationPrompt asks for the statement that answers the question.
func BuildSQLGenerationPrompt(ctx GenerationContext) string {
	var prompt strings.Builder

	prompt.WriteString(fmt.Sprintf("# %s Query\n\n", DialectName(ctx.Dialect)))
	prompt.WriteString(fmt.Sprintf("Question: %s\n\n", ctx.Question))
	writeTables(&prompt, ctx.Tables)
	writeRelationships(&prompt, ctx.Relationships)

	if plan := strings.TrimSpace(ctx.JoinPlan); plan != "" {
		prompt.WriteString("## Join Plan\n\n")
		prompt.WriteString(plan)
		prompt.WriteString("\n\n")
	}

	prompt.WriteString("## Rules\n\n")
	prompt.WriteString("- Only SELECT. Exactly one statement.\n")
	prompt.WriteString("- Use only the tables and columns listed above.\n")
	prompt.WriteString("- Qualify every column with its table alias when more than one table is joined.\n")
	prompt.WriteString("- Every non-aggregated select expression must appear in GROUP BY.\n")
	if ctx.RowLimit > 0 {
		prompt.WriteString(fmt.Sprintf("- Return at most %d rows.\n", ctx.RowLimit))
	}

	return prompt.String()
}

// AttemptContext is one earlier failed statement.
type AttemptContext struct {
	SQL   string
	Error string
}

// CorrectionContext is everything shown to the model when correcting SQL.
type CorrectionContext struct {
	Question  string
	Dialect   string
	SQL       string
	ErrorKind string
	Error     string
	// Tables are only the tables the failing statement references, plus candidates.
	Tables []models.Table
	// Candidates are the tables that hold the unknown column, when more than one does.
	Candidates []string
	Hints      []string
	Attempts   []AttemptContext
}

// BuildCorrectionPrompt asks for a corrected version of a failing statement.
func BuildCorrectionPrompt(ctx CorrectionContext) string {
	var prompt strings.Builder

	prompt.WriteString(fmt.Sprintf("# Fix %s Query\n\n", DialectName(ctx.Dialect)))
	prompt.WriteString(fmt.Sprintf("Question: %s\n\n", ctx.Question))

	prompt.WriteString("## Failing Query\n\n")
	prompt.WriteString("```sql\n")
	prompt.WriteString(ctx.SQL)
	prompt.WriteString("\n```\n\n")

	prompt.WriteString("## Error\n\n")
	if ctx.ErrorKind != "" {
		prompt.WriteString(fmt.Sprintf("Kind: %s\n", ctx.ErrorKind))
	}
	prompt.WriteString(ctx.Error)
	prompt.WriteString("\n\n")

	for _, h := range ctx.Hints {
		prompt.WriteString(fmt.Sprintf("Hint: %s\n", h))
	}
	if len(ctx.Hints) > 0 {
		prompt.WriteString("\n")
	}

	if len(ctx.Candidates) > 1 {
		prompt.WriteString(fmt.Sprintf("The column exists in more than one table: %s. Pick the one the question means.\n\n",
			strings.Join(ctx.Candidates, ", ")))
	}

	writeTables(&prompt, ctx.Tables)

	if len(ctx.Attempts) > 0 {
		prompt.WriteString("## Earlier Attempts\n\n")
		for i, a := range ctx.Attempts {
			prompt.WriteString(fmt.Sprintf("%d. `%s`\n   failed with: %s\n", i+1, a.SQL, a.Error))
		}
		prompt.WriteString("\nDo not repeat these.\n\n")
	}

	prompt.WriteString("## Instructions\n\n")
	prompt.WriteString("Return the corrected statement. Keep table names exactly as written in the failing query, including secure_ view names. Change as little as possible.\n")

	return prompt.String()
}
