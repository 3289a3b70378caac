package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/correction"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/graph"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/models"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/secureview"
)

type mockCollaborator struct {
	SelectTablesFunc func(ctx context.Context, question string, tables []models.Table) ([]string, error)
	PlanJoinsFunc    func(ctx context.Context, req *PlanRequest) (string, error)
	GenerateSQLFunc  func(ctx context.Context, req *DraftRequest) (string, error)
	CorrectSQLFunc   func(ctx context.Context, req *correction.Request) (string, error)

	mu          sync.Mutex
	selectCalls int
	plans       []*PlanRequest
	drafts      []*DraftRequest
	corrections []*correction.Request
}

func (m *mockCollaborator) SelectTables(ctx context.Context, question string, tables []models.Table) ([]string, error) {
	m.mu.Lock()
	m.selectCalls++
	m.mu.Unlock()
	if m.SelectTablesFunc != nil {
		return m.SelectTablesFunc(ctx, question, tables)
	}
	return []string{"employee"}, nil
}

func (m *mockCollaborator) PlanJoins(ctx context.Context, req *PlanRequest) (string, error) {
	m.mu.Lock()
	m.plans = append(m.plans, req)
	m.mu.Unlock()
	if m.PlanJoinsFunc != nil {
		return m.PlanJoinsFunc(ctx, req)
	}
	return "join along the listed relationships", nil
}

func (m *mockCollaborator) GenerateSQL(ctx context.Context, req *DraftRequest) (string, error) {
	m.mu.Lock()
	m.drafts = append(m.drafts, req)
	m.mu.Unlock()
	if m.GenerateSQLFunc != nil {
		return m.GenerateSQLFunc(ctx, req)
	}
	return "SELECT name FROM employee", nil
}

func (m *mockCollaborator) CorrectSQL(ctx context.Context, req *correction.Request) (string, error) {
	m.mu.Lock()
	m.corrections = append(m.corrections, req)
	n := len(m.corrections)
	m.mu.Unlock()
	if m.CorrectSQLFunc != nil {
		return m.CorrectSQLFunc(ctx, req)
	}
	return fmt.Sprintf("SELECT name FROM employee WHERE id > %d", n), nil
}

type mockExecutor struct {
	QueryFunc func(ctx context.Context, sql string, limit int) (*datasource.QueryExecutionResult, error)

	mu      sync.Mutex
	queries []string
}

func (m *mockExecutor) Query(ctx context.Context, sql string, limit int) (*datasource.QueryExecutionResult, error) {
	m.mu.Lock()
	m.queries = append(m.queries, sql)
	m.mu.Unlock()
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, sql, limit)
	}
	return oneRow(), nil
}

func (m *mockExecutor) TestConnection(ctx context.Context) error { return nil }

func (m *mockExecutor) Close() error { return nil }

func oneRow() *datasource.QueryExecutionResult {
	return &datasource.QueryExecutionResult{
		Columns:  []datasource.ColumnInfo{{Name: "name", Type: "VARCHAR"}},
		Rows:     []map[string]any{{"name": []byte("Ada")}},
		RowCount: 1,
	}
}

func noRows() *datasource.QueryExecutionResult {
	return &datasource.QueryExecutionResult{
		Columns: []datasource.ColumnInfo{{Name: "name", Type: "VARCHAR"}},
		Rows:    []map[string]any{},
	}
}

func testGraph(t *testing.T) *graph.SchemaGraph {
	t.Helper()
	g, err := graph.Build(&graph.Document{
		Tables: []models.Table{
			{Name: "employee", Columns: []string{"id", "name", "dept"}},
			{Name: "crew", Columns: []string{"id", "title"}},
			{Name: "employee_crew", Columns: []string{"employee_id", "crew_id"}},
			{Name: "payroll", Columns: []string{"id", "employee_id", "amount"}},
			{Name: "audit_log", Columns: []string{"id", "note"}},
		},
		Relationships: []models.Relationship{
			{FromTable: "employee_crew", FromColumn: "employee_id", ToTable: "employee", ToColumn: "id", Cardinality: models.CardinalityNTo1, Confidence: 0.95},
			{FromTable: "employee_crew", FromColumn: "crew_id", ToTable: "crew", ToColumn: "id", Cardinality: models.CardinalityNTo1, Confidence: 0.95},
			{FromTable: "payroll", FromColumn: "employee_id", ToTable: "employee", ToColumn: "id", Cardinality: models.CardinalityNTo1, Confidence: 0.9},
		},
	}, graph.DefaultConfidenceThreshold)
	require.NoError(t, err)
	return g
}

func newTestOrchestrator(t *testing.T, collab *mockCollaborator, exec *mockExecutor, mutate func(*Config)) *Orchestrator {
	t.Helper()
	views, err := secureview.NewMap(map[string]string{"employee": "secure_employee"})
	require.NoError(t, err)

	cfg := Config{
		Graph:                 testGraph(t),
		Views:                 views,
		Collaborator:          collab,
		Executor:              exec,
		Metrics:               correction.NewMetrics(nil),
		Dialect:               DialectMySQL,
		MaxCorrectionAttempts: 3,
		RowLimit:              100,
		Logger:                zap.NewNop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	o, err := NewOrchestrator(cfg)
	require.NoError(t, err)
	return o
}

func TestNewOrchestrator_RequiresCollaborators(t *testing.T) {
	g := testGraph(t)

	_, err := NewOrchestrator(Config{Collaborator: &mockCollaborator{}, Executor: &mockExecutor{}})
	assert.Error(t, err)

	_, err = NewOrchestrator(Config{Graph: g, Executor: &mockExecutor{}})
	assert.Error(t, err)

	_, err = NewOrchestrator(Config{Graph: g, Collaborator: &mockCollaborator{}})
	assert.Error(t, err)

	o, err := NewOrchestrator(Config{Graph: g, Collaborator: &mockCollaborator{}, Executor: &mockExecutor{}, MaxCorrectionAttempts: -1})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxCorrectionAttempts, o.maxAttempts)
	assert.Equal(t, DefaultRowLimit, o.rowLimit)
	assert.Equal(t, DialectMySQL, o.dialect)
}

func TestRun_HappyPath(t *testing.T) {
	collab := &mockCollaborator{}
	exec := &mockExecutor{}
	o := newTestOrchestrator(t, collab, exec, nil)

	result, err := o.Run(context.Background(), "List employee names")
	require.NoError(t, err)

	assert.True(t, result.QueryResolved)
	assert.Equal(t, ReasonAnswered, result.Reason)
	assert.Equal(t, Explanation(ReasonAnswered), result.Explanation)
	assert.Equal(t, 0, result.CorrectionAttempts)
	assert.Equal(t, []string{"employee"}, result.TablesUsed)
	assert.Equal(t, []string{"name"}, result.Columns)
	require.Equal(t, 1, result.RowCount)
	assert.Equal(t, "Ada", result.Rows[0]["name"])

	_, err = uuid.Parse(result.QuestionID)
	assert.NoError(t, err)

	assert.Equal(t, []Step{
		StepSelectTables, StepFilterRelationships, StepPlanJoins, StepGenerateSQL,
		StepValidateSQL, StepExecute, StepFinalize,
	}, result.Trace)

	// A single table needs no join plan
	assert.Empty(t, collab.plans)

	require.Len(t, exec.queries, 1)
	executed := strings.ToLower(exec.queries[0])
	assert.Contains(t, executed, "secure_employee")
	assert.Contains(t, executed, "limit 100")
	assert.Equal(t, exec.queries[0], result.SQL)
}

func TestRun_BridgeTablesJoinSelectedTables(t *testing.T) {
	collab := &mockCollaborator{
		SelectTablesFunc: func(ctx context.Context, question string, tables []models.Table) ([]string, error) {
			return []string{"Employee", "crew"}, nil
		},
		GenerateSQLFunc: func(ctx context.Context, req *DraftRequest) (string, error) {
			return "SELECT e.name, c.title FROM employee e JOIN employee_crew ec ON ec.employee_id = e.id JOIN crew c ON c.id = ec.crew_id", nil
		},
	}
	exec := &mockExecutor{}
	o := newTestOrchestrator(t, collab, exec, nil)

	result, err := o.Run(context.Background(), "Which crews does each employee belong to")
	require.NoError(t, err)

	assert.True(t, result.QueryResolved)
	assert.Equal(t, []string{"employee_crew"}, result.BridgeTables)
	assert.Equal(t, []string{"employee", "crew", "employee_crew"}, result.TablesUsed)

	require.Len(t, collab.plans, 1)
	plan := collab.plans[0]
	assert.Equal(t, []string{"employee_crew"}, plan.BridgeTables)
	assert.Len(t, plan.Tables, 3)
	assert.Len(t, plan.Relationships, 2)
	assert.NotEmpty(t, plan.Paths)

	require.Len(t, collab.drafts, 1)
	assert.Equal(t, "join along the listed relationships", collab.drafts[0].JoinPlan)
	assert.Equal(t, 100, collab.drafts[0].RowLimit)
}

func TestRun_JoinPlanFailureIsNotFatal(t *testing.T) {
	collab := &mockCollaborator{
		SelectTablesFunc: func(ctx context.Context, question string, tables []models.Table) ([]string, error) {
			return []string{"employee", "payroll"}, nil
		},
		PlanJoinsFunc: func(ctx context.Context, req *PlanRequest) (string, error) {
			return "", errors.New("planner unavailable")
		},
		GenerateSQLFunc: func(ctx context.Context, req *DraftRequest) (string, error) {
			return "SELECT e.name, p.amount FROM employee e JOIN payroll p ON p.employee_id = e.id", nil
		},
	}
	o := newTestOrchestrator(t, collab, &mockExecutor{}, nil)

	result, err := o.Run(context.Background(), "Payroll amounts per employee")
	require.NoError(t, err)

	assert.True(t, result.QueryResolved)
	require.Len(t, collab.drafts, 1)
	assert.Empty(t, collab.drafts[0].JoinPlan)
	assert.Len(t, collab.drafts[0].Relationships, 1)
}

func TestRun_EarlyExits(t *testing.T) {
	tests := []struct {
		name       string
		question   string
		selected   []string
		selectErr  error
		wantReason Reason
	}{
		{name: "blank question", question: "   ", wantReason: ReasonQuestionRejected},
		{name: "injection payload", question: "' OR '1'='1", wantReason: ReasonQuestionRejected},
		{name: "no matching tables", question: "How many ships", selected: []string{"ships"}, wantReason: ReasonNoTables},
		{name: "no selection", question: "How many ships", selected: []string{}, wantReason: ReasonNoTables},
		{name: "disconnected tables", question: "Employee audit notes", selected: []string{"employee", "audit_log"}, wantReason: ReasonNoJoinPath},
		{name: "one table unreachable", question: "Crew members and audit notes", selected: []string{"employee", "crew", "audit_log"}, wantReason: ReasonNoJoinPath},
		{name: "selection fails", question: "List employees", selectErr: errors.New("llm down"), wantReason: ReasonDraftFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collab := &mockCollaborator{
				SelectTablesFunc: func(ctx context.Context, question string, tables []models.Table) ([]string, error) {
					return tt.selected, tt.selectErr
				},
			}
			exec := &mockExecutor{}
			o := newTestOrchestrator(t, collab, exec, nil)

			result, err := o.Run(context.Background(), tt.question)
			require.NoError(t, err)

			assert.False(t, result.QueryResolved)
			assert.Equal(t, tt.wantReason, result.Reason)
			assert.Equal(t, Explanation(tt.wantReason), result.Explanation)
			assert.Empty(t, result.SQL)
			assert.Empty(t, collab.drafts)
			assert.Empty(t, exec.queries)
			assert.Equal(t, StepFinalize, result.Trace[len(result.Trace)-1])
		})
	}
}

func TestRun_InjectionSkipsCollaborator(t *testing.T) {
	collab := &mockCollaborator{}
	o := newTestOrchestrator(t, collab, &mockExecutor{}, nil)

	result, err := o.Run(context.Background(), "'; DROP TABLE users--")
	require.NoError(t, err)

	assert.Equal(t, ReasonQuestionRejected, result.Reason)
	assert.Equal(t, 0, collab.selectCalls)
	assert.Equal(t, []Step{StepSelectTables, StepFinalize}, result.Trace)
}

func TestRun_SecurityViolationIsFatal(t *testing.T) {
	drafts := map[string]string{
		"write statement":              "DELETE FROM employee",
		"unknown table":                "SELECT * FROM salaries_raw",
		"stacked statement":            "SELECT name FROM employee; DROP TABLE employee",
		"executable comment join":      "SELECT c.title FROM crew c /*! JOIN employee e ON 1=1 */ LIMIT 5",
		"executable comment statement": "SELECT 1 /*!50000 ; DELETE FROM employee */",
		"foreign database":             "SELECT * FROM mysql.user",
	}

	for name, draft := range drafts {
		t.Run(name, func(t *testing.T) {
			collab := &mockCollaborator{
				GenerateSQLFunc: func(ctx context.Context, req *DraftRequest) (string, error) {
					return draft, nil
				},
			}
			exec := &mockExecutor{}
			o := newTestOrchestrator(t, collab, exec, nil)

			result, err := o.Run(context.Background(), "List employees")
			require.NoError(t, err)

			assert.False(t, result.QueryResolved)
			assert.Equal(t, ReasonSecurity, result.Reason)
			assert.Equal(t, 0, result.CorrectionAttempts)
			assert.Empty(t, result.SQL)
			assert.Empty(t, collab.corrections)
			assert.Empty(t, exec.queries)
		})
	}
}

func TestRun_AllowedQualifier(t *testing.T) {
	collab := &mockCollaborator{
		GenerateSQLFunc: func(ctx context.Context, req *DraftRequest) (string, error) {
			return "SELECT name FROM hr.employee", nil
		},
	}
	exec := &mockExecutor{}
	o := newTestOrchestrator(t, collab, exec, func(cfg *Config) {
		cfg.AllowedQualifiers = []string{"hr"}
	})

	result, err := o.Run(context.Background(), "List employees")
	require.NoError(t, err)

	assert.True(t, result.QueryResolved)
	require.Len(t, exec.queries, 1)
	assert.Contains(t, strings.ToLower(exec.queries[0]), "hr.secure_employee")
}

func TestCorrectSQL_LastError(t *testing.T) {
	tests := []struct {
		name          string
		correct       func(ctx context.Context, req *correction.Request) (string, error)
		wantLastError bool
	}{
		{name: "applied correction clears the error"},
		{
			name: "failed correction keeps the error",
			correct: func(ctx context.Context, req *correction.Request) (string, error) {
				return "", errors.New("llm down")
			},
			wantLastError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOrchestrator(t, &mockCollaborator{CorrectSQLFunc: tt.correct}, &mockExecutor{}, nil)
			state := &State{
				Question:  "List employees",
				SQL:       "SELECT name FROM secure_employee LIMIT 100",
				LastError: "Error 1305 (42000): FUNCTION hr.fiscal_year does not exist",
				Tables:    []string{"employee"},
			}

			next := o.correctSQL(context.Background(), state, zap.NewNop())

			assert.Equal(t, StepValidateSQL, next)
			assert.Equal(t, 1, state.CorrectionAttempts)
			require.Len(t, state.History, 1)
			if tt.wantLastError {
				assert.NotEmpty(t, state.LastError)
			} else {
				assert.Empty(t, state.LastError)
				assert.Contains(t, strings.ToLower(state.SQL), "secure_employee")
			}
		})
	}
}

func TestUnjoinable(t *testing.T) {
	rel := func(from, to string) models.Relationship {
		return models.Relationship{FromTable: from, FromColumn: "id", ToTable: to, ToColumn: "id"}
	}

	tests := []struct {
		name          string
		tables        []string
		relationships []models.Relationship
		want          []string
	}{
		{name: "single table", tables: []string{"employee"}},
		{name: "connected through a bridge", tables: []string{"employee", "crew", "employee_crew"},
			relationships: []models.Relationship{rel("employee_crew", "employee"), rel("employee_crew", "crew")}},
		{name: "isolated table", tables: []string{"employee", "crew", "audit_log"},
			relationships: []models.Relationship{rel("employee_crew", "employee"), rel("employee_crew", "crew")},
			want:          []string{"audit_log"}},
		{name: "two separate pairs", tables: []string{"employee", "payroll", "crew", "vessel"},
			relationships: []models.Relationship{rel("payroll", "employee"), rel("crew", "vessel")},
			want:          []string{"crew", "vessel"}},
		{name: "no relationships", tables: []string{"employee", "audit_log"}, want: []string{"audit_log"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, unjoinable(tt.tables, tt.relationships))
		})
	}
}

func TestRun_CorrectionAttemptsAreBounded(t *testing.T) {
	for _, maxAttempts := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("max %d", maxAttempts), func(t *testing.T) {
			collab := &mockCollaborator{}
			exec := &mockExecutor{
				QueryFunc: func(ctx context.Context, sql string, limit int) (*datasource.QueryExecutionResult, error) {
					return nil, errors.New("Error 1305 (42000): FUNCTION hr.fiscal_year does not exist")
				},
			}
			o := newTestOrchestrator(t, collab, exec, func(cfg *Config) {
				cfg.MaxCorrectionAttempts = maxAttempts
			})

			result, err := o.Run(context.Background(), "List employees")
			require.NoError(t, err)

			assert.False(t, result.QueryResolved)
			assert.Equal(t, ReasonCorrectionExhausted, result.Reason)
			assert.Equal(t, maxAttempts, result.CorrectionAttempts)
			assert.Len(t, collab.corrections, maxAttempts)
			assert.Len(t, exec.queries, maxAttempts+1)
			// The last statement tried is kept for the caller
			assert.NotEmpty(t, result.SQL)

			summary := o.Metrics().Summary()
			assert.Equal(t, maxAttempts, summary.TotalAttempts)
		})
	}
}

func TestRun_CorrectionSeesHistory(t *testing.T) {
	collab := &mockCollaborator{}
	exec := &mockExecutor{
		QueryFunc: func(ctx context.Context, sql string, limit int) (*datasource.QueryExecutionResult, error) {
			return nil, errors.New("Error 1305 (42000): FUNCTION hr.fiscal_year does not exist")
		},
	}
	o := newTestOrchestrator(t, collab, exec, nil)

	_, err := o.Run(context.Background(), "List employees")
	require.NoError(t, err)

	require.Len(t, collab.corrections, 3)
	assert.Empty(t, collab.corrections[0].Attempts)
	assert.Len(t, collab.corrections[2].Attempts, 2)
	assert.Equal(t, "List employees", collab.corrections[2].Question)
	assert.Contains(t, collab.corrections[0].Error.RawMessage, "fiscal_year")
}

func TestRun_GroupByFixedWithoutCollaborator(t *testing.T) {
	collab := &mockCollaborator{
		GenerateSQLFunc: func(ctx context.Context, req *DraftRequest) (string, error) {
			return "SELECT dept, COUNT(*) FROM employee", nil
		},
	}
	exec := &mockExecutor{
		QueryFunc: func(ctx context.Context, sql string, limit int) (*datasource.QueryExecutionResult, error) {
			if !strings.Contains(strings.ToLower(sql), "group by") {
				return nil, errors.New("Error 1055 (42000): Expression #1 of SELECT list is not in GROUP BY clause and contains nonaggregated column 'hr.secure_employee.dept' which is not functionally dependent on columns in GROUP BY clause")
			}
			return oneRow(), nil
		},
	}
	o := newTestOrchestrator(t, collab, exec, nil)

	result, err := o.Run(context.Background(), "Headcount per department")
	require.NoError(t, err)

	assert.True(t, result.QueryResolved)
	assert.Equal(t, 1, result.CorrectionAttempts)
	assert.Empty(t, collab.corrections)
	assert.Len(t, exec.queries, 2)
	assert.Contains(t, strings.ToLower(result.SQL), "group by")

	summary := o.Metrics().Summary()
	assert.Equal(t, 1, summary.ByKind[models.ErrorKindGroupByViolation].DeterministicSuccess)
}

func TestRun_StaticCheckRoutesToCorrection(t *testing.T) {
	collab := &mockCollaborator{
		GenerateSQLFunc: func(ctx context.Context, req *DraftRequest) (string, error) {
			return "SELECT e.nmae FROM employee e", nil
		},
		CorrectSQLFunc: func(ctx context.Context, req *correction.Request) (string, error) {
			return "SELECT e.name FROM employee e", nil
		},
	}
	exec := &mockExecutor{}
	o := newTestOrchestrator(t, collab, exec, nil)

	result, err := o.Run(context.Background(), "List employee names")
	require.NoError(t, err)

	assert.True(t, result.QueryResolved)
	assert.Equal(t, 1, result.CorrectionAttempts)
	// The misspelled column never reaches the database
	require.Len(t, exec.queries, 1)
	assert.Contains(t, strings.ToLower(exec.queries[0]), "e.name")

	require.Len(t, collab.corrections, 1)
	req := collab.corrections[0]
	assert.Equal(t, models.ErrorKindUnknownColumn, req.Error.Kind)
	require.NotEmpty(t, req.Hints)
	assert.Contains(t, req.Hints[0], "'name'")
}

func TestRun_EmptyResultRetriesOnce(t *testing.T) {
	collab := &mockCollaborator{}
	exec := &mockExecutor{
		QueryFunc: func(ctx context.Context, sql string, limit int) (*datasource.QueryExecutionResult, error) {
			return noRows(), nil
		},
	}
	o := newTestOrchestrator(t, collab, exec, nil)

	result, err := o.Run(context.Background(), "Employees named Zed")
	require.NoError(t, err)

	assert.True(t, result.QueryResolved)
	assert.Equal(t, ReasonNoRows, result.Reason)
	assert.Equal(t, 0, result.RowCount)
	assert.NotNil(t, result.Rows)
	assert.Len(t, exec.queries, 2)

	require.Len(t, collab.drafts, 2)
	assert.Empty(t, collab.drafts[0].JoinPlan)
	assert.Contains(t, collab.drafts[1].JoinPlan, "returned no rows")
}

func TestRun_EmptyThenRowsIsAnswered(t *testing.T) {
	calls := 0
	exec := &mockExecutor{
		QueryFunc: func(ctx context.Context, sql string, limit int) (*datasource.QueryExecutionResult, error) {
			calls++
			if calls == 1 {
				return noRows(), nil
			}
			return oneRow(), nil
		},
	}
	o := newTestOrchestrator(t, &mockCollaborator{}, exec, nil)

	result, err := o.Run(context.Background(), "Employees named Ada")
	require.NoError(t, err)

	assert.Equal(t, ReasonAnswered, result.Reason)
	assert.Equal(t, 1, result.RowCount)
}

func TestRun_CollaboratorTimeout(t *testing.T) {
	collab := &mockCollaborator{
		GenerateSQLFunc: func(ctx context.Context, req *DraftRequest) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	o := newTestOrchestrator(t, collab, &mockExecutor{}, func(cfg *Config) {
		cfg.CollaboratorTimeout = 20 * time.Millisecond
	})

	result, err := o.Run(context.Background(), "List employees")
	require.NoError(t, err)

	assert.False(t, result.QueryResolved)
	assert.Equal(t, ReasonDraftFailed, result.Reason)
}

func TestRun_CorrectionTimeoutCountsAsAttempt(t *testing.T) {
	collab := &mockCollaborator{
		CorrectSQLFunc: func(ctx context.Context, req *correction.Request) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	exec := &mockExecutor{
		QueryFunc: func(ctx context.Context, sql string, limit int) (*datasource.QueryExecutionResult, error) {
			return nil, errors.New("Error 1305 (42000): FUNCTION hr.fiscal_year does not exist")
		},
	}
	o := newTestOrchestrator(t, collab, exec, func(cfg *Config) {
		cfg.MaxCorrectionAttempts = 2
		cfg.CollaboratorTimeout = 10 * time.Millisecond
	})

	result, err := o.Run(context.Background(), "List employees")
	require.NoError(t, err)

	assert.Equal(t, ReasonCorrectionExhausted, result.Reason)
	assert.Equal(t, 2, result.CorrectionAttempts)
	assert.Equal(t, 2, o.Metrics().Summary().ByKind[models.ErrorKindOther].Failure)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	collab := &mockCollaborator{
		GenerateSQLFunc: func(ctx context.Context, req *DraftRequest) (string, error) {
			cancel()
			return "SELECT name FROM employee", nil
		},
	}
	exec := &mockExecutor{}
	o := newTestOrchestrator(t, collab, exec, nil)

	result, err := o.Run(ctx, "List employees")
	assert.Nil(t, result)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, exec.queries)
}

func TestRun_NonMySQLDialectSkipsASTSteps(t *testing.T) {
	collab := &mockCollaborator{
		GenerateSQLFunc: func(ctx context.Context, req *DraftRequest) (string, error) {
			return `SELECT "nmae" FROM employee`, nil
		},
	}
	exec := &mockExecutor{}
	o := newTestOrchestrator(t, collab, exec, func(cfg *Config) {
		cfg.Dialect = "postgres"
	})

	result, err := o.Run(context.Background(), "List employee names")
	require.NoError(t, err)

	assert.True(t, result.QueryResolved)
	// No static reference check, so the statement runs as drafted
	assert.Empty(t, collab.corrections)
	require.Len(t, exec.queries, 1)
	executed := strings.ToLower(exec.queries[0])
	assert.Contains(t, executed, "secure_employee")
	assert.NotContains(t, executed, "limit")
}

func TestRun_ConcurrentQuestions(t *testing.T) {
	o := newTestOrchestrator(t, &mockCollaborator{}, &mockExecutor{}, nil)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := o.Run(context.Background(), "List employees")
			if assert.NoError(t, err) {
				ids[i] = result.QuestionID
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestTablesUsed(t *testing.T) {
	rels := []models.Relationship{
		{FromTable: "payroll", FromColumn: "employee_id", ToTable: "employee", ToColumn: "id"},
		{FromTable: "employee_crew", FromColumn: "crew_id", ToTable: "crew", ToColumn: "id"},
	}
	got := tablesUsed([]string{"payroll", "crew"}, []string{"payroll", "crew"}, rels)
	assert.Equal(t, []string{"payroll", "crew", "employee", "employee_crew"}, got)
}
