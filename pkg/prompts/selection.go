package prompts

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/models"
)

// TableSelectionSystemMessage is the system message for table selection.
const TableSelectionSystemMessage = "You are a database expert. You choose the smallest set of tables needed to answer a question. Respond with JSON only."

// PlanningSystemMessage is the system message for join planning.
const PlanningSystemMessage = "You are a database expert. You describe how tables should be joined, step by step, using only the relationships you are given."

// TableSelection is the JSON shape the model answers table selection with.
type TableSelection struct {
	Tables    []string `json:"tables"`
	Reasoning string   `json:"reasoning,omitempty"`
}

// BuildTableSelectionPrompt asks which of tables are needed to answer question.
func BuildTableSelectionPrompt(question string, tables []models.Table) string {
	var prompt strings.Builder

	prompt.WriteString("# Table Selection\n\n")
	prompt.WriteString(fmt.Sprintf("Question: %s\n\n", question))
	writeTables(&prompt, tables)

	prompt.WriteString("## Instructions\n\n")
	prompt.WriteString("Select every table whose columns are needed to answer the question, and no others.\n")
	prompt.WriteString("Use table names exactly as listed. Do not include tables that only connect other tables; joins are planned separately.\n\n")

	prompt.WriteString("## Response Format\n\n")
	prompt.WriteString("```json\n")
	prompt.WriteString("{\"tables\": [\"table_a\", \"table_b\"], \"reasoning\": \"one sentence\"}\n")
	prompt.WriteString("```\n")

	return prompt.String()
}

// JoinPlanContext is everything shown to the model when planning joins.
type JoinPlanContext struct {
	Question      string
	Tables        []models.Table
	Relationships []models.Relationship
	// Paths are the shortest join paths between the selected tables, one line each.
	Paths []models.JoinPath
	// BridgeTables were added because they connect selected tables.
	BridgeTables []string
}

// BuildJoinPlanPrompt asks for a join plan over the allowed relationships.
func BuildJoinPlanPrompt(ctx JoinPlanContext) string {
	var prompt strings.Builder

	prompt.WriteString("# Join Planning\n\n")
	prompt.WriteString(fmt.Sprintf("Question: %s\n\n", ctx.Question))
	writeTables(&prompt, ctx.Tables)
	writeRelationships(&prompt, ctx.Relationships)

	if len(ctx.Paths) > 0 {
		prompt.WriteString("## Shortest Join Paths\n\n")
		for _, path := range ctx.Paths {
			prompt.WriteString(fmt.Sprintf("- %s\n", path.String()))
		}
		prompt.WriteString("\n")
	}

	if len(ctx.BridgeTables) > 0 {
		prompt.WriteString(fmt.Sprintf("Bridge tables %s connect the selected tables and must be joined through, not selected from.\n\n",
			strings.Join(ctx.BridgeTables, ", ")))
	}

	prompt.WriteString("## Instructions\n\n")
	prompt.WriteString("Write a short numbered join plan: which table to start from and, for each join, the exact column equality.\n")
	prompt.WriteString("Use only the relationships above. Join each table at most once. Do not write SQL.\n")

	return prompt.String()
}
