package sql

import (
	"fmt"
	"strings"

	"vitess.io/vitess/go/vt/sqlparser"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/apperrors"
)

// The AST layer speaks the MySQL grammar.
var parser = sqlparser.NewTestParser()

// Parse parses a single SQL statement.
func Parse(sql string) (sqlparser.Statement, error) {
	stmt, err := parser.Parse(sql)
	if err != nil {
		return nil, err
	}
	return stmt, nil
}

// ParseSelect parses sql and requires a plain SELECT (not a UNION).
func ParseSelect(sql string) (*sqlparser.Select, error) {
	stmt, err := Parse(sql)
	if err != nil {
		return nil, err
	}
	sel, ok := stmt.(*sqlparser.Select)
	if !ok {
		return nil, fmt.Errorf("%w: expected SELECT, got %T", apperrors.ErrUnsupportedStatement, stmt)
	}
	return sel, nil
}

// Render prints an AST node back to SQL text.
func Render(node sqlparser.SQLNode) string {
	return sqlparser.String(node)
}

// sameExpr compares two expressions by normalized rendered text.
func sameExpr(a, b sqlparser.Expr) bool {
	return strings.EqualFold(sqlparser.String(a), sqlparser.String(b))
}

// tableSource is one base table in a FROM clause.
type tableSource struct {
	name  string // table name without schema
	alias string // alias, or name when unaliased
	node  *sqlparser.AliasedTableExpr
}

// collectTables lists base tables in FROM order, left to right through joins.
// derived reports whether any derived table (subquery in FROM) was seen.
func collectTables(exprs []sqlparser.TableExpr) (sources []tableSource, derived bool) {
	var visit func(expr sqlparser.TableExpr)
	visit = func(expr sqlparser.TableExpr) {
		switch e := expr.(type) {
		case *sqlparser.AliasedTableExpr:
			name, ok := baseTableName(e)
			if !ok {
				derived = true
				return
			}
			alias := name
			if !e.As.IsEmpty() {
				alias = e.As.String()
			}
			sources = append(sources, tableSource{name: name, alias: alias, node: e})
		case *sqlparser.JoinTableExpr:
			visit(e.LeftExpr)
			visit(e.RightExpr)
		case *sqlparser.ParenTableExpr:
			for _, inner := range e.Exprs {
				visit(inner)
			}
		default:
			derived = true
		}
	}
	for _, expr := range exprs {
		visit(expr)
	}
	return sources, derived
}

func baseTableName(e *sqlparser.AliasedTableExpr) (string, bool) {
	switch t := e.Expr.(type) {
	case sqlparser.TableName:
		return t.Name.String(), true
	case *sqlparser.TableName:
		return t.Name.String(), true
	default:
		return "", false
	}
}

// selectAliases returns the lower-cased AS names of the select list.
func selectAliases(sel *sqlparser.Select) map[string]bool {
	aliases := make(map[string]bool)
	for _, col := range sel.GetColumns() {
		if aliased, ok := col.(*sqlparser.AliasedExpr); ok && !aliased.As.IsEmpty() {
			aliases[strings.ToLower(aliased.As.String())] = true
		}
	}
	return aliases
}

func qualifierName(col *sqlparser.ColName) string {
	return col.Qualifier.Name.String()
}

func qualifyWith(alias string) sqlparser.TableName {
	return sqlparser.TableName{Name: sqlparser.NewIdentifierCS(alias)}
}
