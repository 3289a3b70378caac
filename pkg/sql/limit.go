package sql

import (
	"fmt"
	"strconv"

	"vitess.io/vitess/go/vt/sqlparser"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/apperrors"
)

// ApplyRowLimit caps the rows a SELECT or UNION may return. A missing LIMIT is added and a
// literal LIMIT above maxRows is lowered; smaller limits are kept. maxRows <= 0 disables the cap.
func ApplyRowLimit(sql string, maxRows int) (string, error) {
	if maxRows <= 0 {
		return sql, nil
	}

	stmt, err := Parse(sql)
	if err != nil {
		return "", err
	}

	var limit **sqlparser.Limit
	switch s := stmt.(type) {
	case *sqlparser.Select:
		limit = &s.Limit
	case *sqlparser.Union:
		limit = &s.Limit
	default:
		return "", fmt.Errorf("%w: %T", apperrors.ErrUnsupportedStatement, stmt)
	}

	capRows := sqlparser.NewIntLiteral(strconv.Itoa(maxRows))
	switch {
	case *limit == nil:
		*limit = &sqlparser.Limit{Rowcount: capRows}
	case (*limit).Rowcount == nil:
		(*limit).Rowcount = capRows
	default:
		lit, ok := (*limit).Rowcount.(*sqlparser.Literal)
		if !ok || lit.Type != sqlparser.IntVal {
			return sql, nil
		}
		n, err := strconv.Atoi(lit.Val)
		if err != nil || n <= maxRows {
			return sql, nil
		}
		(*limit).Rowcount = capRows
	}

	return Render(stmt), nil
}
