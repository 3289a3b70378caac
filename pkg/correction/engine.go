package correction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/graph"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/logging"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/models"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/secureview"
	sqlfix "github.com/ekaya-inc/ekaya-text2sql/pkg/sql"
)

// maxRecentAttempts bounds the history handed to the collaborator.
const maxRecentAttempts = 3

// maxSuggestions bounds the "did you mean" candidates per hint.
const maxSuggestions = 3

// ErrNoChange is returned when a correction produced the statement it was given.
var ErrNoChange = errors.New("correction produced no change")

// Attempt is one earlier statement and the error it failed with.
type Attempt struct {
	SQL   string `json:"sql"`
	Error string `json:"error"`
}

// Request is everything the collaborator is shown when asked to correct a statement.
type Request struct {
	Question   string
	SQL        string
	Error      models.NormalizedError
	Strategy   Strategy
	Tables     []models.Table
	Candidates []string
	Hints      []string
	Attempts   []Attempt
}

// Corrector rewrites a failing statement. Implementations return the corrected SQL text.
type Corrector interface {
	CorrectSQL(ctx context.Context, req *Request) (string, error)
}

// Input describes one failing statement.
type Input struct {
	Question string
	SQL      string
	RawError string
	// Tables are the tables selected for the question.
	Tables []string
	// History holds earlier failed attempts, oldest first.
	History []Attempt
}

// Result reports what one correction attempt did.
type Result struct {
	SQL      string
	Error    models.NormalizedError
	Decision Decision
	Outcome  string
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Graph     *graph.SchemaGraph
	Views     *secureview.Map
	Corrector Corrector
	Metrics   *Metrics
	// ASTFixes enables the deterministic fixers. They parse MySQL syntax only.
	ASTFixes bool
	// Timeout bounds each collaborator call; zero means no extra bound.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Engine normalizes an error, selects a strategy and runs a fixer or the collaborator.
type Engine struct {
	graph     *graph.SchemaGraph
	views     *secureview.Map
	corrector Corrector
	metrics   *Metrics
	astFixes  bool
	timeout   time.Duration
	logger    *zap.Logger
}

// NewEngine creates a correction engine.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Engine{
		graph:     cfg.Graph,
		views:     cfg.Views,
		corrector: cfg.Corrector,
		metrics:   metrics,
		astFixes:  cfg.ASTFixes,
		timeout:   cfg.Timeout,
		logger:    logger.Named("correction"),
	}
}

// Metrics returns the engine's counters.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Correct makes one correction attempt. A non-nil error means the attempt failed; the
// failure has already been counted and Result still describes the attempt.
func (e *Engine) Correct(ctx context.Context, in Input) (*Result, error) {
	nerr := NormalizeError(in.RawError)
	scope := e.schemaContext(in.SQL, in.Tables)
	var locator ColumnLocator
	if e.graph != nil {
		locator = e.graph
	}
	decision := SelectStrategy(nerr, scope, locator)
	if decision.Strategy == StrategyDeterministic && !e.astFixes {
		decision.Strategy = StrategyFallback
	}

	result := &Result{SQL: in.SQL, Error: nerr, Decision: decision, Outcome: OutcomeFailure}

	e.logger.Debug("Correcting SQL",
		zap.String("kind", string(nerr.Kind)),
		zap.String("strategy", string(decision.Strategy)),
		zap.Strings("candidates", decision.Candidates),
		zap.String("sql", logging.SanitizeQuery(in.SQL)))

	var (
		fixed string
		err   error
	)
	if decision.Strategy == StrategyDeterministic {
		fixed, err = e.applyFixer(in.SQL, nerr, decision)
	} else {
		fixed, err = e.askCorrector(ctx, in, nerr, decision, scope)
	}
	if err == nil && strings.TrimSpace(fixed) == strings.TrimSpace(in.SQL) {
		err = ErrNoChange
	}
	if err != nil {
		e.metrics.Record(nerr.Kind, OutcomeFailure)
		e.logger.Info("Correction attempt failed",
			zap.String("kind", string(nerr.Kind)),
			zap.String("strategy", string(decision.Strategy)),
			zap.String("error", logging.SanitizeError(err)))
		return result, err
	}

	result.SQL = fixed
	if decision.Strategy == StrategyDeterministic {
		result.Outcome = OutcomeDeterministicSuccess
	} else {
		result.Outcome = OutcomeCollaboratorSuccess
	}
	e.metrics.Record(nerr.Kind, result.Outcome)
	return result, nil
}

func (e *Engine) applyFixer(sql string, nerr models.NormalizedError, decision Decision) (string, error) {
	switch nerr.Kind {
	case models.ErrorKindGroupByViolation:
		idx, _ := nerr.ExpressionIndex()
		return sqlfix.FixGroupByViolation(sql, idx)
	case models.ErrorKindDuplicateAlias:
		return sqlfix.FixDuplicateJoin(sql, nerr.Detail(models.DetailTable))
	case models.ErrorKindUnknownColumn:
		if len(decision.Candidates) != 1 {
			return "", fmt.Errorf("expected one candidate table, got %d", len(decision.Candidates))
		}
		return sqlfix.QualifyColumn(sql, nerr.Detail(models.DetailColumn), e.views.ToSecureName(decision.Candidates[0]))
	default:
		return "", fmt.Errorf("no deterministic fixer for %s", nerr.Kind)
	}
}

func (e *Engine) askCorrector(ctx context.Context, in Input, nerr models.NormalizedError, decision Decision, scope []string) (string, error) {
	if e.corrector == nil {
		return "", errors.New("no corrector configured")
	}

	req := &Request{
		Question:   in.Question,
		SQL:        in.SQL,
		Error:      nerr,
		Strategy:   decision.Strategy,
		Tables:     e.tables(append(append([]string{}, scope...), decision.Candidates...)),
		Candidates: decision.Candidates,
		Hints:      e.hints(nerr, scope),
		Attempts:   recentAttempts(in.History),
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	corrected, err := e.corrector.CorrectSQL(ctx, req)
	if err != nil {
		return "", fmt.Errorf("collaborator correction: %w", err)
	}
	return corrected, nil
}

// schemaContext returns the graph tables referenced by sql, falling back to the selected
// tables when none of the references resolve.
func (e *Engine) schemaContext(sql string, selected []string) []string {
	if e.graph == nil {
		return nil
	}
	var names []string
	for _, name := range secureview.TableNames(secureview.ExtractTableReferences(sql)) {
		names = append(names, e.views.FromSecureName(name))
	}
	tables := e.graph.CanonicalTables(names)
	if len(tables) == 0 {
		tables = e.graph.CanonicalTables(selected)
	}
	return tables
}

func (e *Engine) tables(names []string) []models.Table {
	if e.graph == nil {
		return nil
	}
	var tables []models.Table
	for _, name := range e.graph.CanonicalTables(names) {
		if t, ok := e.graph.Table(name); ok {
			tables = append(tables, t)
		}
	}
	return tables
}

func (e *Engine) hints(nerr models.NormalizedError, scope []string) []string {
	if e.graph == nil {
		return nil
	}
	var hints []string
	switch nerr.Kind {
	case models.ErrorKindUnknownColumn, models.ErrorKindInvalidJoinColumn:
		column := nerr.Detail(models.DetailColumn)
		var columns []string
		for _, t := range e.tables(scope) {
			columns = append(columns, t.Columns...)
		}
		if h := hint("Column", column, Suggest(column, columns, maxSuggestions)); h != "" {
			hints = append(hints, h)
		}
	case models.ErrorKindUnknownTable:
		table := e.views.FromSecureName(nerr.Detail(models.DetailTable))
		if h := hint("Table", table, Suggest(table, e.graph.TableNames(), maxSuggestions)); h != "" {
			hints = append(hints, h)
		}
	}
	return hints
}

func recentAttempts(history []Attempt) []Attempt {
	if len(history) <= maxRecentAttempts {
		return history
	}
	return history[len(history)-maxRecentAttempts:]
}
