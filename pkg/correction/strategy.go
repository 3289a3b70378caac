package correction

import "github.com/ekaya-inc/ekaya-text2sql/pkg/models"

// Strategy is how a failed statement will be corrected.
type Strategy string

const (
	// StrategyDeterministic applies an AST fixer without calling the collaborator.
	StrategyDeterministic Strategy = "deterministic"
	// StrategyDisambiguate asks the collaborator to choose between candidate tables.
	StrategyDisambiguate Strategy = "disambiguate"
	// StrategyFallback hands the error to the collaborator with narrowed context.
	StrategyFallback Strategy = "fallback"
)

// ColumnLocator finds which of a set of tables define a column.
// *graph.SchemaGraph satisfies it.
type ColumnLocator interface {
	TablesWithColumn(tables []string, column string) []string
}

// Decision is the selector's verdict for one normalized error.
type Decision struct {
	Strategy Strategy
	// Candidates are the tables defining the unknown column, for UnknownColumn errors.
	Candidates []string
}

// SelectStrategy picks the correction strategy for err. schemaContext is the set of tables
// the failing statement may draw columns from.
func SelectStrategy(err models.NormalizedError, schemaContext []string, locator ColumnLocator) Decision {
	switch err.Kind {
	case models.ErrorKindGroupByViolation:
		if _, ok := err.ExpressionIndex(); ok {
			return Decision{Strategy: StrategyDeterministic}
		}
	case models.ErrorKindDuplicateAlias:
		if err.Detail(models.DetailTable) != "" {
			return Decision{Strategy: StrategyDeterministic}
		}
	case models.ErrorKindUnknownColumn:
		column := err.Detail(models.DetailColumn)
		if column == "" || locator == nil {
			break
		}
		matches := locator.TablesWithColumn(schemaContext, column)
		switch len(matches) {
		case 0:
		case 1:
			return Decision{Strategy: StrategyDeterministic, Candidates: matches}
		default:
			return Decision{Strategy: StrategyDisambiguate, Candidates: matches}
		}
	}
	return Decision{Strategy: StrategyFallback}
}
