package correction

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/graph"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/models"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/secureview"
	sqlfix "github.com/ekaya-inc/ekaya-text2sql/pkg/sql"
)

type mockCorrector struct {
	CorrectFunc func(ctx context.Context, req *Request) (string, error)
	Requests    []*Request
}

func (m *mockCorrector) CorrectSQL(ctx context.Context, req *Request) (string, error) {
	m.Requests = append(m.Requests, req)
	if m.CorrectFunc != nil {
		return m.CorrectFunc(ctx, req)
	}
	return "SELECT 1", nil
}

func testGraph(t *testing.T) *graph.SchemaGraph {
	t.Helper()
	g, err := graph.Build(&graph.Document{
		Tables: []models.Table{
			{Name: "employee", Columns: []string{"id", "name", "dept", "created"}},
			{Name: "payroll", Columns: []string{"id", "employee_id", "amount"}},
			{Name: "bonus", Columns: []string{"id", "employee_id", "amount"}},
			{Name: "crew", Columns: []string{"id", "title"}},
		},
		Relationships: []models.Relationship{
			{FromTable: "payroll", FromColumn: "employee_id", ToTable: "employee", ToColumn: "id", Cardinality: models.CardinalityNTo1, Confidence: 0.9},
			{FromTable: "bonus", FromColumn: "employee_id", ToTable: "employee", ToColumn: "id", Cardinality: models.CardinalityNTo1, Confidence: 0.9},
		},
	}, graph.DefaultConfidenceThreshold)
	require.NoError(t, err)
	return g
}

func newTestEngine(t *testing.T, corrector Corrector, astFixes bool) *Engine {
	t.Helper()
	views, err := secureview.NewMap(map[string]string{"employee": "secure_employee"})
	require.NoError(t, err)
	return NewEngine(EngineConfig{
		Graph:     testGraph(t),
		Views:     views,
		Corrector: corrector,
		Metrics:   NewMetrics(nil),
		ASTFixes:  astFixes,
		Logger:    zap.NewNop(),
	})
}

func TestEngine_GroupByIsDeterministic(t *testing.T) {
	corrector := &mockCorrector{}
	engine := newTestEngine(t, corrector, true)

	result, err := engine.Correct(context.Background(), Input{
		SQL:      "SELECT dept, YEAR(created) AS y, COUNT(*) FROM secure_employee GROUP BY dept",
		RawError: "Expression #2 of SELECT list is not in GROUP BY clause and contains nonaggregated column 'hr.secure_employee.created'",
	})
	require.NoError(t, err)

	assert.Equal(t, StrategyDeterministic, result.Decision.Strategy)
	assert.Equal(t, OutcomeDeterministicSuccess, result.Outcome)
	assert.Empty(t, corrector.Requests)

	sel, err := sqlfix.ParseSelect(result.SQL)
	require.NoError(t, err)
	require.NotNil(t, sel.GroupBy)
	assert.Len(t, sel.GroupBy.Exprs, 2)

	s := engine.Metrics().Summary()
	assert.Equal(t, 1, s.ByKind[models.ErrorKindGroupByViolation].DeterministicSuccess)
}

func TestEngine_QualifiesColumnWithSingleMatch(t *testing.T) {
	corrector := &mockCorrector{}
	engine := newTestEngine(t, corrector, true)

	result, err := engine.Correct(context.Background(), Input{
		SQL:      "SELECT e.name, e.amount FROM secure_employee e JOIN payroll p ON p.employee_id = e.id",
		RawError: "Unknown column 'e.amount' in 'field list'",
	})
	require.NoError(t, err)

	assert.Equal(t, StrategyDeterministic, result.Decision.Strategy)
	assert.Equal(t, []string{"payroll"}, result.Decision.Candidates)
	assert.Contains(t, result.SQL, "p.amount")
	assert.Empty(t, corrector.Requests)
}

func TestEngine_DeterministicDisabledFallsBack(t *testing.T) {
	corrector := &mockCorrector{}
	engine := newTestEngine(t, corrector, false)

	result, err := engine.Correct(context.Background(), Input{
		Question: "headcount by year",
		SQL:      "SELECT dept, YEAR(created) AS y, COUNT(*) FROM secure_employee GROUP BY dept",
		RawError: "Expression #2 of SELECT list is not in GROUP BY clause",
	})
	require.NoError(t, err)

	assert.Equal(t, StrategyFallback, result.Decision.Strategy)
	assert.Equal(t, OutcomeCollaboratorSuccess, result.Outcome)
	require.Len(t, corrector.Requests, 1)
	assert.Equal(t, "headcount by year", corrector.Requests[0].Question)
	assert.Equal(t, models.ErrorKindGroupByViolation, corrector.Requests[0].Error.Kind)
}

func TestEngine_Disambiguate(t *testing.T) {
	corrector := &mockCorrector{}
	engine := newTestEngine(t, corrector, true)

	result, err := engine.Correct(context.Background(), Input{
		SQL: "SELECT e.amount FROM secure_employee e JOIN payroll p ON p.employee_id = e.id " +
			"JOIN bonus b ON b.employee_id = e.id",
		RawError: "Unknown column 'e.amount' in 'field list'",
	})
	require.NoError(t, err)

	assert.Equal(t, StrategyDisambiguate, result.Decision.Strategy)
	require.Len(t, corrector.Requests, 1)
	req := corrector.Requests[0]
	assert.Equal(t, []string{"payroll", "bonus"}, req.Candidates)
	assert.Equal(t, StrategyDisambiguate, req.Strategy)
}

func TestEngine_NarrowsSchemaContext(t *testing.T) {
	corrector := &mockCorrector{}
	engine := newTestEngine(t, corrector, true)

	_, err := engine.Correct(context.Background(), Input{
		SQL:      "SELECT e.nmae FROM secure_employee e",
		RawError: "Unknown column 'e.nmae' in 'field list'",
		Tables:   []string{"employee", "crew", "payroll"},
	})
	require.NoError(t, err)

	require.Len(t, corrector.Requests, 1)
	req := corrector.Requests[0]
	assert.Equal(t, StrategyFallback, req.Strategy)
	require.Len(t, req.Tables, 1)
	assert.Equal(t, "employee", req.Tables[0].Name)
	require.Len(t, req.Hints, 1)
	assert.Contains(t, req.Hints[0], "'name'")
}

func TestEngine_UnknownTableHint(t *testing.T) {
	corrector := &mockCorrector{}
	engine := newTestEngine(t, corrector, true)

	_, err := engine.Correct(context.Background(), Input{
		SQL:      "SELECT * FROM payrolls",
		RawError: "Table 'hr.payrolls' doesn't exist",
		Tables:   []string{"payroll"},
	})
	require.NoError(t, err)

	require.Len(t, corrector.Requests, 1)
	req := corrector.Requests[0]
	require.Len(t, req.Hints, 1)
	assert.Contains(t, req.Hints[0], "'payroll'")
	// Unresolvable references fall back to the selected tables
	require.Len(t, req.Tables, 1)
	assert.Equal(t, "payroll", req.Tables[0].Name)
}

func TestEngine_KeepsLastThreeAttempts(t *testing.T) {
	corrector := &mockCorrector{}
	engine := newTestEngine(t, corrector, true)

	history := []Attempt{
		{SQL: "SELECT 1", Error: "first"},
		{SQL: "SELECT 2", Error: "second"},
		{SQL: "SELECT 3", Error: "third"},
		{SQL: "SELECT 4", Error: "fourth"},
	}
	_, err := engine.Correct(context.Background(), Input{
		SQL:      "SELEC name FROM crew",
		RawError: "You have an error in your SQL syntax",
		History:  history,
	})
	require.NoError(t, err)

	require.Len(t, corrector.Requests, 1)
	assert.Equal(t, history[1:], corrector.Requests[0].Attempts)
}

func TestEngine_Failures(t *testing.T) {
	tests := []struct {
		name    string
		correct func(ctx context.Context, req *Request) (string, error)
		sql     string
		raw     string
		wantErr error
	}{
		{
			name: "collaborator error",
			correct: func(ctx context.Context, req *Request) (string, error) {
				return "", errors.New("provider unavailable")
			},
			sql: "SELEC 1",
			raw: "You have an error in your SQL syntax",
		},
		{
			name: "collaborator returns same statement",
			correct: func(ctx context.Context, req *Request) (string, error) {
				return req.SQL + "\n", nil
			},
			sql:     "SELEC 1",
			raw:     "You have an error in your SQL syntax",
			wantErr: ErrNoChange,
		},
		{
			name: "fixer cannot apply",
			sql:  "SELECT e.amount FROM secure_employee e",
			raw:  "Not unique table/alias: 'crew'",
			// crew is referenced fewer than twice, so the fixer is a no-op
			wantErr: ErrNoChange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine(t, &mockCorrector{CorrectFunc: tt.correct}, true)

			result, err := engine.Correct(context.Background(), Input{SQL: tt.sql, RawError: tt.raw})
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, OutcomeFailure, result.Outcome)
			assert.Equal(t, tt.sql, result.SQL)

			s := engine.Metrics().Summary()
			assert.Equal(t, 1, s.TotalAttempts)
			assert.Zero(t, s.SuccessRatio)
		})
	}
}

func TestEngine_CollaboratorTimeout(t *testing.T) {
	corrector := &mockCorrector{CorrectFunc: func(ctx context.Context, req *Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	views, err := secureview.NewMap(nil)
	require.NoError(t, err)
	engine := NewEngine(EngineConfig{
		Graph:     testGraph(t),
		Views:     views,
		Corrector: corrector,
		Timeout:   10 * time.Millisecond,
		Logger:    zap.NewNop(),
	})

	_, err = engine.Correct(context.Background(), Input{SQL: "SELEC 1", RawError: "syntax error at position 6"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, engine.Metrics().Summary().ByKind[models.ErrorKindSyntaxError].Failure)
}

func TestEngine_NoCorrector(t *testing.T) {
	engine := NewEngine(EngineConfig{Graph: testGraph(t)})

	_, err := engine.Correct(context.Background(), Input{SQL: "SELEC 1", RawError: "boom"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no corrector"))
}
