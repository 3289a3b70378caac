package sql

import (
	"fmt"
	"strings"

	"vitess.io/vitess/go/vt/sqlparser"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/apperrors"
)

// FixGroupByViolation copies SELECT expression #expressionIndex (1-based) into the GROUP BY
// clause, creating the clause if needed. The statement is returned unchanged when the
// expression, or its alias, is already grouped.
func FixGroupByViolation(sql string, expressionIndex int) (string, error) {
	sel, err := ParseSelect(sql)
	if err != nil {
		return "", err
	}

	columns := sel.GetColumns()
	if expressionIndex < 1 || expressionIndex > len(columns) {
		return "", fmt.Errorf("%w: expression #%d, select list has %d", apperrors.ErrExpressionIndex, expressionIndex, len(columns))
	}

	aliased, ok := columns[expressionIndex-1].(*sqlparser.AliasedExpr)
	if !ok {
		return "", fmt.Errorf("expression #%d (%s) cannot be grouped", expressionIndex, sqlparser.String(columns[expressionIndex-1]))
	}

	if sel.GroupBy != nil {
		for _, existing := range sel.GroupBy.Exprs {
			if sameExpr(existing, aliased.Expr) {
				return sql, nil
			}
			if col, ok := existing.(*sqlparser.ColName); ok && !aliased.As.IsEmpty() &&
				col.Qualifier.IsEmpty() && col.Name.EqualString(aliased.As.String()) {
				return sql, nil
			}
		}
	} else {
		sel.GroupBy = &sqlparser.GroupBy{}
	}

	sel.GroupBy.Exprs = append(sel.GroupBy.Exprs, sqlparser.CloneExpr(aliased.Expr))
	return Render(sel), nil
}

// FixDuplicateJoin keeps the first reference to table and removes every later join to it,
// along with the removed joins' ON conditions. Columns qualified by a removed alias are
// re-pointed at the kept one. table may be a table name or an alias of one.
// The statement is returned unchanged when table is referenced fewer than twice.
func FixDuplicateJoin(sql string, table string) (string, error) {
	sel, err := ParseSelect(sql)
	if err != nil {
		return "", err
	}

	sources, _ := collectTables(sel.From)
	name := table
	for _, src := range sources {
		if strings.EqualFold(src.alias, table) {
			name = src.name
			break
		}
	}

	var matches []tableSource
	for _, src := range sources {
		if strings.EqualFold(src.name, name) {
			matches = append(matches, src)
		}
	}
	if len(matches) < 2 {
		return sql, nil
	}

	kept := matches[0]
	removed := make(map[*sqlparser.AliasedTableExpr]bool, len(matches)-1)
	repoint := make(map[string]string)
	for _, m := range matches[1:] {
		removed[m.node] = true
		if !strings.EqualFold(m.alias, kept.alias) {
			repoint[strings.ToLower(m.alias)] = kept.alias
		}
	}

	from := make([]sqlparser.TableExpr, 0, len(sel.From))
	for _, expr := range sel.From {
		if pruned, keep := pruneTables(expr, removed); keep {
			from = append(from, pruned)
		}
	}
	sel.From = from

	if len(repoint) > 0 {
		_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
			switch n := node.(type) {
			case *sqlparser.ColName:
				if alias, ok := repoint[strings.ToLower(qualifierName(n))]; ok && n.Qualifier.Qualifier.IsEmpty() {
					n.Qualifier = qualifyWith(alias)
				}
			case *sqlparser.StarExpr:
				if alias, ok := repoint[strings.ToLower(n.TableName.Name.String())]; ok {
					n.TableName = qualifyWith(alias)
				}
			}
			return true, nil
		}, sel)
	}

	return Render(sel), nil
}

// pruneTables drops removed tables from a join tree. A join losing one side collapses to
// the other side; the join condition goes with it.
func pruneTables(expr sqlparser.TableExpr, removed map[*sqlparser.AliasedTableExpr]bool) (sqlparser.TableExpr, bool) {
	switch e := expr.(type) {
	case *sqlparser.AliasedTableExpr:
		return e, !removed[e]
	case *sqlparser.JoinTableExpr:
		left, keepLeft := pruneTables(e.LeftExpr, removed)
		right, keepRight := pruneTables(e.RightExpr, removed)
		switch {
		case keepLeft && keepRight:
			e.LeftExpr, e.RightExpr = left, right
			return e, true
		case keepLeft:
			return left, true
		case keepRight:
			return right, true
		default:
			return nil, false
		}
	case *sqlparser.ParenTableExpr:
		var exprs []sqlparser.TableExpr
		for _, inner := range e.Exprs {
			if pruned, keep := pruneTables(inner, removed); keep {
				exprs = append(exprs, pruned)
			}
		}
		if len(exprs) == 0 {
			return nil, false
		}
		e.Exprs = exprs
		return e, true
	default:
		return expr, true
	}
}

// QualifyColumn points every reference to column at table, using the alias the statement
// gives table. Subqueries are left untouched. Outside the select list, unqualified references that name a select-list
// alias are left alone.
// Fails with apperrors.ErrUnknownTable when table is not in the FROM clause.
func QualifyColumn(sql, column, table string) (string, error) {
	sel, err := ParseSelect(sql)
	if err != nil {
		return "", err
	}

	sources, _ := collectTables(sel.From)
	alias := ""
	for _, src := range sources {
		if strings.EqualFold(src.name, table) {
			alias = src.alias
			break
		}
	}
	if alias == "" {
		return "", fmt.Errorf("%w: %s is not referenced by the statement", apperrors.ErrUnknownTable, table)
	}

	outputAliases := selectAliases(sel)
	changed := false
	qualify := func(node sqlparser.SQLNode, aliasesVisible bool) {
		if node == nil {
			return
		}
		_ = sqlparser.Walk(func(n sqlparser.SQLNode) (bool, error) {
			var col *sqlparser.ColName
			switch c := n.(type) {
			case *sqlparser.Subquery, *sqlparser.DerivedTable:
				// Nested selects have their own FROM; their columns are not this table's.
				return false, nil
			case *sqlparser.ColName:
				col = c
			default:
				return true, nil
			}
			if !col.Name.EqualString(column) {
				return true, nil
			}
			qualifier := qualifierName(col)
			if qualifier == "" && aliasesVisible && outputAliases[strings.ToLower(column)] {
				return true, nil
			}
			if strings.EqualFold(qualifier, alias) && col.Qualifier.Qualifier.IsEmpty() {
				return true, nil
			}
			col.Qualifier = qualifyWith(alias)
			changed = true
			return true, nil
		}, node)
	}

	// Output aliases are not visible inside the select list itself
	for _, expr := range sel.GetColumns() {
		qualify(expr, false)
	}
	for _, expr := range sel.From {
		qualify(expr, true)
	}
	if sel.Where != nil {
		qualify(sel.Where, true)
	}
	if sel.GroupBy != nil {
		for _, expr := range sel.GroupBy.Exprs {
			qualify(expr, true)
		}
	}
	if sel.Having != nil {
		qualify(sel.Having, true)
	}
	for _, order := range sel.OrderBy {
		qualify(order, true)
	}

	if !changed {
		return sql, nil
	}
	return Render(sel), nil
}
