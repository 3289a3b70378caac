package pipeline

import (
	"github.com/ekaya-inc/ekaya-text2sql/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/correction"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/graph"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/models"
)

// Step is a state of the question workflow.
type Step string

const (
	StepSelectTables        Step = "select_tables"
	StepFilterRelationships Step = "filter_relationships"
	StepPlanJoins           Step = "plan_joins"
	StepGenerateSQL         Step = "generate_sql"
	StepValidateSQL         Step = "validate_sql"
	StepCorrectSQL          Step = "correct_sql"
	StepExecute             Step = "execute"
	StepFinalize            Step = "finalize"
)

// Reason is why a question finished.
type Reason string

const (
	ReasonAnswered            Reason = "answered"
	ReasonNoRows              Reason = "no_rows"
	ReasonQuestionRejected    Reason = "question_rejected"
	ReasonNoTables            Reason = "no_tables"
	ReasonNoJoinPath          Reason = "no_join_path"
	ReasonDraftFailed         Reason = "draft_failed"
	ReasonSecurity            Reason = "security_violation"
	ReasonCorrectionExhausted Reason = "correction_exhausted"
	ReasonStepLimit           Reason = "step_limit"
)

// explanations are the only text about a failure that reaches the caller.
var explanations = map[Reason]string{
	ReasonAnswered:            "The query ran successfully.",
	ReasonNoRows:              "The query ran successfully but returned no rows.",
	ReasonQuestionRejected:    "The question was rejected because it contains SQL injection patterns.",
	ReasonNoTables:            "No tables in the schema match the question.",
	ReasonNoJoinPath:          "The tables needed for this question cannot be joined through known relationships.",
	ReasonDraftFailed:         "A query could not be drafted for this question.",
	ReasonSecurity:            "The generated query referenced tables or statements that are not permitted.",
	ReasonCorrectionExhausted: "The query could not be corrected within the allowed number of attempts.",
	ReasonStepLimit:           "Query processing stopped unexpectedly.",
}

// Explanation returns the caller-facing text for reason.
func Explanation(reason Reason) string {
	return explanations[reason]
}

// State is the working memory of one question. It is never shared between questions.
type State struct {
	QuestionID string
	Question   string

	SelectedTables []string
	BridgeTables   []graph.BridgeTable
	// Tables are the selected tables plus every table the allowed relationships touch.
	Tables        []string
	Relationships []models.Relationship
	Paths         map[graph.PathKey]models.JoinPath
	JoinPlan      string

	SQL       string
	LastError string

	CorrectionAttempts int
	EmptyRetryUsed     bool
	History            []correction.Attempt

	Rows     *datasource.QueryExecutionResult
	Resolved bool
	Reason   Reason
	Trace    []Step
}

func (s *State) finish(resolved bool, reason Reason) Step {
	s.Resolved = resolved
	s.Reason = reason
	return StepFinalize
}

// Result is what a question produces.
type Result struct {
	QuestionID         string           `json:"question_id"`
	SQL                string           `json:"sql,omitempty"`
	Columns            []string         `json:"columns"`
	Rows               []map[string]any `json:"rows"`
	RowCount           int              `json:"row_count"`
	QueryResolved      bool             `json:"query_resolved"`
	Reason             Reason           `json:"reason"`
	Explanation        string           `json:"explanation"`
	TablesUsed         []string         `json:"tables_used"`
	BridgeTables       []string         `json:"bridge_tables,omitempty"`
	CorrectionAttempts int              `json:"correction_attempts"`
	Trace              []Step           `json:"trace"`
}
