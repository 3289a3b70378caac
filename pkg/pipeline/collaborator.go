package pipeline

import (
	"context"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/correction"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/models"
)

// PlanRequest is what the collaborator sees when planning joins.
type PlanRequest struct {
	Question      string
	Tables        []models.Table
	Relationships []models.Relationship
	// Paths are the shortest join paths between the selected tables, one per pair.
	Paths        []models.JoinPath
	BridgeTables []string
}

// DraftRequest is what the collaborator sees when drafting SQL.
type DraftRequest struct {
	Question      string
	Tables        []models.Table
	Relationships []models.Relationship
	JoinPlan      string
	RowLimit      int
}

// Collaborator makes the judgment calls the pipeline cannot: which tables a question
// needs, how to join them, the SQL itself and corrections the fixers cannot make.
// Implementations must honor ctx cancellation.
type Collaborator interface {
	// SelectTables returns the names of the tables needed to answer question.
	SelectTables(ctx context.Context, question string, tables []models.Table) ([]string, error)

	// PlanJoins returns a join plan in free text.
	PlanJoins(ctx context.Context, req *PlanRequest) (string, error)

	// GenerateSQL returns a single SELECT statement.
	GenerateSQL(ctx context.Context, req *DraftRequest) (string, error)

	correction.Corrector
}
