package sql

import (
	"fmt"
	"strings"

	"vitess.io/vitess/go/vt/sqlparser"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/models"
)

// SchemaLookup resolves a table name to its schema definition.
type SchemaLookup interface {
	Table(name string) (models.Table, bool)
}

// ReferenceIssue is a statically detected bad column reference.
// Message is phrased the way MySQL reports the same problem.
type ReferenceIssue struct {
	Message string
}

// CheckReferences verifies that every column reference in sql resolves to a column of a
// table in the statement. resolveTable maps names as they appear in the SQL (e.g. secure
// view names) back to schema names; nil means identity. Parse failures are returned as
// errors.
//
// Table existence is not judged here: tables the schema does not know (CTEs, views) are
// treated like derived tables, whose columns are unknown. Unqualified columns are only
// checked when every table in the SELECT is a known base table, and select-list aliases
// are never reported.
func CheckReferences(sql string, schema SchemaLookup, resolveTable func(string) string) ([]ReferenceIssue, error) {
	stmt, err := Parse(sql)
	if err != nil {
		return nil, err
	}
	if resolveTable == nil {
		resolveTable = func(name string) string { return name }
	}

	var issues []ReferenceIssue
	reported := make(map[string]bool)
	report := func(msg string) {
		if reported[msg] {
			return
		}
		reported[msg] = true
		issues = append(issues, ReferenceIssue{Message: msg})
	}

	// Every alias anywhere in the statement; a qualifier outside its own SELECT may be
	// a correlated reference to an enclosing one.
	statementAliases := make(map[string]bool)
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		if t, ok := node.(*sqlparser.AliasedTableExpr); ok {
			if !t.As.IsEmpty() {
				statementAliases[strings.ToLower(t.As.String())] = true
			} else if name, ok := baseTableName(t); ok {
				statementAliases[strings.ToLower(name)] = true
			}
		}
		return true, nil
	}, stmt)

	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		if sel, ok := node.(*sqlparser.Select); ok {
			checkSelect(sel, schema, resolveTable, statementAliases, report)
		}
		return true, nil
	}, stmt)

	return issues, nil
}

func checkSelect(sel *sqlparser.Select, schema SchemaLookup, resolveTable func(string) string, statementAliases map[string]bool, report func(string)) {
	sources, derived := collectTables(sel.From)

	// alias -> table definition; nil marks a table whose columns are unknown
	byAlias := make(map[string]*models.Table, len(sources))
	var known []models.Table
	allKnown := !derived
	for _, src := range sources {
		t, ok := schema.Table(resolveTable(src.name))
		if !ok {
			byAlias[strings.ToLower(src.alias)] = nil
			allKnown = false
			continue
		}
		known = append(known, t)
		byAlias[strings.ToLower(src.alias)] = &t
	}

	outputAliases := selectAliases(sel)

	check := func(col *sqlparser.ColName) {
		column := col.Name.String()
		qualifier := qualifierName(col)

		if qualifier == "" {
			if !allKnown || outputAliases[strings.ToLower(column)] {
				return
			}
			for _, t := range known {
				if t.HasColumn(column) {
					return
				}
			}
			report(fmt.Sprintf("Unknown column '%s' in 'field list'", column))
			return
		}

		t, inScope := byAlias[strings.ToLower(qualifier)]
		if !inScope {
			if !statementAliases[strings.ToLower(qualifier)] {
				report(fmt.Sprintf("Unknown column '%s.%s' in 'field list'", qualifier, column))
			}
			return
		}
		if t == nil || t.HasColumn(column) {
			return
		}
		report(fmt.Sprintf("Unknown column '%s.%s' in 'field list'", qualifier, column))
	}

	// Only this SELECT's own expressions; nested selects are visited on their own.
	visitOwn := func(node sqlparser.SQLNode) {
		if node == nil {
			return
		}
		_ = sqlparser.Walk(func(n sqlparser.SQLNode) (bool, error) {
			switch c := n.(type) {
			case *sqlparser.Subquery, *sqlparser.DerivedTable:
				return false, nil
			case *sqlparser.ColName:
				check(c)
			}
			return true, nil
		}, node)
	}

	for _, col := range sel.GetColumns() {
		visitOwn(col)
	}
	for _, expr := range sel.From {
		visitOwn(expr)
	}
	if sel.Where != nil {
		visitOwn(sel.Where)
	}
	if sel.GroupBy != nil {
		for _, expr := range sel.GroupBy.Exprs {
			visitOwn(expr)
		}
	}
	if sel.Having != nil {
		visitOwn(sel.Having)
	}
	for _, order := range sel.OrderBy {
		visitOwn(order)
	}
}
