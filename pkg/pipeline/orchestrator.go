// Package pipeline runs one question through table selection, join planning, SQL
// drafting, validation, bounded correction and execution.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/correction"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/graph"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/logging"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/models"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/secureview"
	sqlcheck "github.com/ekaya-inc/ekaya-text2sql/pkg/sql"
)

// DialectMySQL is the dialect the AST-based checks and fixers understand.
const DialectMySQL = "mysql"

// Defaults applied by NewOrchestrator to zero values.
const (
	DefaultMaxCorrectionAttempts = 3
	DefaultRowLimit              = 100
	DefaultMaxHops               = 4
)

var errExecutableComment = errors.New("executable comments are not allowed")

// baseSteps covers the fixed states of a run plus one empty-result retry.
const baseSteps = 12

// Config configures an Orchestrator.
type Config struct {
	Graph        *graph.SchemaGraph
	Views        *secureview.Map
	Collaborator Collaborator
	Executor     datasource.QueryExecutor
	Metrics      *correction.Metrics

	// Dialect is the datasource type: mysql, postgres or sqlserver.
	Dialect string

	// MaxCorrectionAttempts is shared by validation and runtime failures.
	// Zero means no corrections; negative values use the default.
	MaxCorrectionAttempts int
	RowLimit              int
	MaxHops               int
	CaseSensitiveTables   bool
	// AllowedQualifiers are the schema or database prefixes table references may carry.
	AllowedQualifiers []string

	// CollaboratorTimeout bounds each collaborator call; zero means no extra bound.
	CollaboratorTimeout time.Duration
	// QueryTimeout bounds each execution; zero means no extra bound.
	QueryTimeout time.Duration

	Logger *zap.Logger
}

// Orchestrator answers questions. It is safe for concurrent use; every Run gets its
// own State and PathFinder.
type Orchestrator struct {
	graph        *graph.SchemaGraph
	views        *secureview.Map
	collaborator Collaborator
	executor     datasource.QueryExecutor
	engine       *correction.Engine

	dialect             string
	maxAttempts         int
	rowLimit            int
	maxHops             int
	caseSensitive       bool
	qualifiers          []string
	collaboratorTimeout time.Duration
	queryTimeout        time.Duration

	// knownNames are the table names generated SQL may use once rewritten.
	knownNames []string

	logger *zap.Logger
}

// NewOrchestrator validates cfg and builds an Orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Graph == nil {
		return nil, errors.New("schema graph is required")
	}
	if cfg.Collaborator == nil {
		return nil, errors.New("collaborator is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("executor is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxCorrectionAttempts < 0 {
		cfg.MaxCorrectionAttempts = DefaultMaxCorrectionAttempts
	}
	if cfg.RowLimit <= 0 {
		cfg.RowLimit = DefaultRowLimit
	}
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = DefaultMaxHops
	}
	if cfg.Dialect == "" {
		cfg.Dialect = DialectMySQL
	}
	if cfg.Metrics == nil {
		cfg.Metrics = correction.NewMetrics(nil)
	}

	engine := correction.NewEngine(correction.EngineConfig{
		Graph:     cfg.Graph,
		Views:     cfg.Views,
		Corrector: cfg.Collaborator,
		Metrics:   cfg.Metrics,
		ASTFixes:  cfg.Dialect == DialectMySQL,
		Timeout:   cfg.CollaboratorTimeout,
		Logger:    logger,
	})

	return &Orchestrator{
		graph:               cfg.Graph,
		views:               cfg.Views,
		collaborator:        cfg.Collaborator,
		executor:            cfg.Executor,
		engine:              engine,
		dialect:             cfg.Dialect,
		maxAttempts:         cfg.MaxCorrectionAttempts,
		rowLimit:            cfg.RowLimit,
		maxHops:             cfg.MaxHops,
		caseSensitive:       cfg.CaseSensitiveTables,
		qualifiers:          append([]string(nil), cfg.AllowedQualifiers...),
		collaboratorTimeout: cfg.CollaboratorTimeout,
		queryTimeout:        cfg.QueryTimeout,
		knownNames:          cfg.Views.KnownNames(cfg.Graph.TableNames()),
		logger:              logger.Named("pipeline"),
	}, nil
}

// Metrics returns the correction counters.
func (o *Orchestrator) Metrics() *correction.Metrics {
	return o.engine.Metrics()
}

// Run answers one question. Every failure inside the workflow ends in an unresolved
// Result; the returned error is non-nil only when ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context, question string) (*Result, error) {
	state := &State{
		QuestionID: uuid.New().String(),
		Question:   strings.TrimSpace(question),
	}
	finder := graph.NewPathFinder(o.graph)
	logger := o.logger.With(zap.String("question_id", state.QuestionID))
	ceiling := baseSteps + 3*o.maxAttempts

	logger.Info("Answering question", zap.String("question", logging.TruncateString(state.Question, logging.MaxQueryLogLength)))

	step := StepSelectTables
	for {
		if err := ctx.Err(); err != nil {
			logger.Info("Question cancelled", zap.String("step", string(step)), zap.Error(err))
			return nil, fmt.Errorf("question %s: %w", state.QuestionID, err)
		}
		if len(state.Trace) >= ceiling && step != StepFinalize {
			logger.Error("Step ceiling reached", zap.Int("ceiling", ceiling), zap.Any("trace", state.Trace))
			step = state.finish(false, ReasonStepLimit)
		}
		state.Trace = append(state.Trace, step)

		switch step {
		case StepSelectTables:
			step = o.selectTables(ctx, state, logger)
		case StepFilterRelationships:
			step = o.filterRelationships(state, finder, logger)
		case StepPlanJoins:
			step = o.planJoins(ctx, state, finder, logger)
		case StepGenerateSQL:
			step = o.generateSQL(ctx, state, logger)
		case StepValidateSQL:
			step = o.validateSQL(state, logger)
		case StepCorrectSQL:
			step = o.correctSQL(ctx, state, logger)
		case StepExecute:
			step = o.execute(ctx, state, logger)
		case StepFinalize:
			result := o.finalize(state)
			logger.Info("Question finished",
				zap.Bool("resolved", result.QueryResolved),
				zap.String("reason", string(result.Reason)),
				zap.Int("correction_attempts", result.CorrectionAttempts),
				zap.Int("rows", result.RowCount))
			return result, nil
		default:
			step = state.finish(false, ReasonStepLimit)
		}
	}
}

func (o *Orchestrator) selectTables(ctx context.Context, state *State, logger *zap.Logger) Step {
	if state.Question == "" {
		return state.finish(false, ReasonQuestionRejected)
	}
	if err := sqlcheck.ScreenQuestion(state.Question); err != nil {
		logger.Warn("Question rejected", zap.Error(err))
		return state.finish(false, ReasonQuestionRejected)
	}

	callCtx, cancel := o.collaboratorContext(ctx)
	names, err := o.collaborator.SelectTables(callCtx, state.Question, o.graph.Tables())
	cancel()
	if err != nil {
		logger.Warn("Table selection failed", zap.String("error", logging.SanitizeError(err)))
		return state.finish(false, ReasonDraftFailed)
	}

	state.SelectedTables = o.graph.CanonicalTables(names)
	if dropped := len(names) - len(state.SelectedTables); dropped > 0 {
		logger.Debug("Dropped unknown or duplicate tables", zap.Strings("requested", names), zap.Int("dropped", dropped))
	}
	if len(state.SelectedTables) == 0 {
		return state.finish(false, ReasonNoTables)
	}
	return StepFilterRelationships
}

func (o *Orchestrator) filterRelationships(state *State, finder *graph.PathFinder, logger *zap.Logger) Step {
	state.BridgeTables = graph.DiscoverBridgeTables(state.SelectedTables, o.graph.Relationships(), finder, o.maxHops)

	tables := append(append([]string{}, state.SelectedTables...), graph.BridgeNames(state.BridgeTables)...)
	direct := o.graph.DirectRelationships(tables)
	state.Relationships = finder.ExpandRelationships(tables, direct, o.maxHops)

	if unreachable := unjoinable(tables, state.Relationships); len(unreachable) > 0 {
		logger.Info("Selected tables are not connected",
			zap.Strings("tables", tables),
			zap.Strings("unreachable", unreachable))
		return state.finish(false, ReasonNoJoinPath)
	}

	state.Tables = tablesUsed(state.SelectedTables, tables, state.Relationships)
	logger.Debug("Relationships filtered",
		zap.Strings("tables", state.Tables),
		zap.Strings("bridges", graph.BridgeNames(state.BridgeTables)),
		zap.Int("relationships", len(state.Relationships)))
	return StepPlanJoins
}

func (o *Orchestrator) planJoins(ctx context.Context, state *State, finder *graph.PathFinder, logger *zap.Logger) Step {
	state.Paths = finder.FindPathsBetweenTables(state.Tables, o.maxHops)
	if len(state.Tables) < 2 {
		return StepGenerateSQL
	}

	callCtx, cancel := o.collaboratorContext(ctx)
	plan, err := o.collaborator.PlanJoins(callCtx, &PlanRequest{
		Question:      state.Question,
		Tables:        o.schemas(state.Tables),
		Relationships: state.Relationships,
		Paths:         orderedPaths(state.Paths),
		BridgeTables:  graph.BridgeNames(state.BridgeTables),
	})
	cancel()
	if err != nil {
		// The relationships still go to the drafting step; a missing plan is not fatal.
		logger.Warn("Join planning failed", zap.String("error", logging.SanitizeError(err)))
		return StepGenerateSQL
	}
	state.JoinPlan = strings.TrimSpace(plan)
	return StepGenerateSQL
}

func (o *Orchestrator) generateSQL(ctx context.Context, state *State, logger *zap.Logger) Step {
	callCtx, cancel := o.collaboratorContext(ctx)
	draft, err := o.collaborator.GenerateSQL(callCtx, &DraftRequest{
		Question:      state.Question,
		Tables:        o.schemas(state.Tables),
		Relationships: state.Relationships,
		JoinPlan:      state.JoinPlan,
		RowLimit:      o.rowLimit,
	})
	cancel()
	if err != nil {
		logger.Warn("SQL drafting failed", zap.String("error", logging.SanitizeError(err)))
		return state.finish(false, ReasonDraftFailed)
	}

	state.SQL = o.prepare(draft)
	state.LastError = ""
	logger.Debug("SQL drafted", zap.String("sql", logging.SanitizeQuery(state.SQL)))
	return StepValidateSQL
}

// prepare normalizes a drafted or corrected statement, routes secured tables through
// their views and caps the rows it may return. Steps that fail leave the text as it
// was; validation reports the problem.
func (o *Orchestrator) prepare(sql string) string {
	sql = strings.TrimSpace(sql)
	if normalized, err := sqlcheck.Normalize(sql); err == nil {
		sql = normalized
	}
	sql = o.views.RewriteSQL(sql)
	if o.dialect == DialectMySQL {
		if capped, err := sqlcheck.ApplyRowLimit(sql, o.rowLimit); err == nil {
			sql = capped
		}
	}
	return sql
}

func (o *Orchestrator) validateSQL(state *State, logger *zap.Logger) Step {
	if err := o.securityCheck(state.SQL); err != nil {
		logger.Warn("Security check failed",
			zap.String("error", logging.SanitizeError(err)),
			zap.String("sql", logging.SanitizeQuery(state.SQL)))
		return state.finish(false, ReasonSecurity)
	}

	problem := o.staticCheck(state.SQL)
	if problem == "" {
		return StepExecute
	}

	logger.Debug("Static validation failed", zap.String("error", problem))
	state.LastError = problem
	return o.correctOrGiveUp(state)
}

// securityCheck rejects anything but a single read-only statement over known tables.
// Executable comments are rejected outright: MySQL runs their bodies.
func (o *Orchestrator) securityCheck(sql string) error {
	if sqlcheck.HasExecutableComment(sql) {
		return errExecutableComment
	}
	normalized, err := sqlcheck.Normalize(sql)
	if errors.Is(err, sqlcheck.ErrMultipleStatements) {
		return err
	}
	if err == nil {
		if err := sqlcheck.RequireReadOnly(normalized); err != nil {
			return err
		}
	}
	return secureview.ValidateTablesExist(sql, o.knownNames,
		secureview.WithCaseSensitive(o.caseSensitive),
		secureview.WithQualifiers(o.qualifiers...))
}

// staticCheck returns the first problem found without running the statement, phrased
// like the database would, or "" when there is none.
func (o *Orchestrator) staticCheck(sql string) string {
	if _, err := sqlcheck.Normalize(sql); err != nil {
		return err.Error()
	}
	if o.dialect != DialectMySQL {
		return ""
	}

	issues, err := sqlcheck.CheckReferences(sql, o.graph, o.views.FromSecureName)
	if err != nil {
		return err.Error()
	}
	if len(issues) > 0 {
		return issues[0].Message
	}
	return ""
}

func (o *Orchestrator) correctOrGiveUp(state *State) Step {
	if state.CorrectionAttempts < o.maxAttempts {
		return StepCorrectSQL
	}
	return state.finish(false, ReasonCorrectionExhausted)
}

func (o *Orchestrator) correctSQL(ctx context.Context, state *State, logger *zap.Logger) Step {
	state.CorrectionAttempts++

	result, err := o.engine.Correct(ctx, correction.Input{
		Question: state.Question,
		SQL:      state.SQL,
		RawError: state.LastError,
		Tables:   state.Tables,
		History:  state.History,
	})
	state.History = append(state.History, correction.Attempt{SQL: state.SQL, Error: state.LastError})

	if err != nil {
		logger.Info("Correction attempt failed",
			zap.Int("attempt", state.CorrectionAttempts),
			zap.String("error", logging.SanitizeError(err)))
		return StepValidateSQL
	}

	state.SQL = o.prepare(result.SQL)
	state.LastError = ""
	logger.Debug("Correction applied",
		zap.Int("attempt", state.CorrectionAttempts),
		zap.String("kind", string(result.Error.Kind)),
		zap.String("outcome", result.Outcome),
		zap.String("sql", logging.SanitizeQuery(state.SQL)))
	return StepValidateSQL
}

func (o *Orchestrator) execute(ctx context.Context, state *State, logger *zap.Logger) Step {
	execCtx, cancel := ctx, context.CancelFunc(func() {})
	if o.queryTimeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, o.queryTimeout)
	}
	rows, err := o.executor.Query(execCtx, state.SQL, o.rowLimit)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return StepFinalize
		}
		logger.Info("Execution failed",
			zap.String("error", logging.SanitizeError(err)),
			zap.String("sql", logging.SanitizeQuery(state.SQL)))
		state.LastError = err.Error()
		return o.correctOrGiveUp(state)
	}

	state.Rows = rows
	if rows.RowCount > 0 {
		return state.finish(true, ReasonAnswered)
	}

	if !state.EmptyRetryUsed {
		state.EmptyRetryUsed = true
		state.JoinPlan = strings.TrimSpace(state.JoinPlan + "\n\n" + emptyResultFeedback(state.SQL))
		logger.Debug("Empty result, redrafting once")
		return StepGenerateSQL
	}
	return state.finish(true, ReasonNoRows)
}

func emptyResultFeedback(sql string) string {
	return "Note: this query ran but returned no rows:\n" + sql + "\n" +
		"Check that filter values match the stored data (case, spelling, date format), " +
		"that inner joins are not dropping rows that should be kept, and that joins follow the relationships listed."
}

func (o *Orchestrator) finalize(state *State) *Result {
	if state.Reason == "" {
		state.Reason = ReasonStepLimit
	}

	result := &Result{
		QuestionID:         state.QuestionID,
		SQL:                state.SQL,
		Columns:            []string{},
		Rows:               []map[string]any{},
		QueryResolved:      state.Resolved,
		Reason:             state.Reason,
		Explanation:        Explanation(state.Reason),
		TablesUsed:         state.Tables,
		BridgeTables:       graph.BridgeNames(state.BridgeTables),
		CorrectionAttempts: state.CorrectionAttempts,
		Trace:              state.Trace,
	}
	if result.TablesUsed == nil {
		result.TablesUsed = state.SelectedTables
	}
	if !state.Resolved && state.Reason != ReasonCorrectionExhausted {
		result.SQL = ""
	}

	if state.Resolved && state.Rows != nil {
		result.Columns = state.Rows.ColumnNames()
		for _, row := range state.Rows.Rows {
			result.Rows = append(result.Rows, datasource.NormalizeRow(row))
		}
		result.RowCount = len(result.Rows)
	}
	return result
}

func (o *Orchestrator) collaboratorContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.collaboratorTimeout > 0 {
		return context.WithTimeout(ctx, o.collaboratorTimeout)
	}
	return context.WithCancel(ctx)
}

func (o *Orchestrator) schemas(names []string) []models.Table {
	tables := make([]models.Table, 0, len(names))
	for _, name := range names {
		if t, ok := o.graph.Table(name); ok {
			tables = append(tables, t)
		}
	}
	return tables
}

// tablesUsed lists selected first, then the other tables in order or touched by
// relationships, sorted.
func tablesUsed(selected, tables []string, relationships []models.Relationship) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(tables))
	for _, name := range selected {
		if !seen[name] {
			seen[name] = true
			result = append(result, name)
		}
	}

	var extra []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			extra = append(extra, name)
		}
	}
	for _, name := range tables {
		add(name)
	}
	for _, rel := range relationships {
		add(rel.FromTable)
		add(rel.ToTable)
	}
	sort.Strings(extra)
	return append(result, extra...)
}

// orderedPaths returns one path per unordered pair, sorted by endpoints.
// unjoinable returns the tables that relationships do not connect to the first table.
// A single table is always joinable.
func unjoinable(tables []string, relationships []models.Relationship) []string {
	if len(tables) < 2 {
		return nil
	}
	adjacent := make(map[string][]string)
	for _, rel := range relationships {
		from, to := strings.ToLower(rel.FromTable), strings.ToLower(rel.ToTable)
		adjacent[from] = append(adjacent[from], to)
		adjacent[to] = append(adjacent[to], from)
	}

	start := strings.ToLower(tables[0])
	reached := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range adjacent[current] {
			if !reached[next] {
				reached[next] = true
				queue = append(queue, next)
			}
		}
	}

	var unreachable []string
	for _, table := range tables[1:] {
		if !reached[strings.ToLower(table)] {
			unreachable = append(unreachable, table)
		}
	}
	return unreachable
}

func orderedPaths(paths map[graph.PathKey]models.JoinPath) []models.JoinPath {
	keys := make([]graph.PathKey, 0, len(paths))
	for key := range paths {
		if key.From < key.To {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].From != keys[j].From {
			return keys[i].From < keys[j].From
		}
		return keys[i].To < keys[j].To
	})

	result := make([]models.JoinPath, 0, len(keys))
	for _, key := range keys {
		result = append(result, paths[key])
	}
	return result
}
