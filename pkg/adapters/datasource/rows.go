package datasource

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ScanRows reads at most limit rows from a database/sql result set. typeName maps the
// driver's column type name to the name reported in ColumnInfo; nil keeps it unchanged.
// Values are passed through NormalizeValue.
func ScanRows(rows *sql.Rows, limit int, typeName func(string) string) (*QueryExecutionResult, error) {
	columnNames, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}

	columns := make([]ColumnInfo, len(columnNames))
	for i, colName := range columnNames {
		dbType := columnTypes[i].DatabaseTypeName()
		if typeName != nil {
			dbType = typeName(dbType)
		}
		columns[i] = ColumnInfo{Name: colName, Type: dbType}
	}

	resultRows := make([]map[string]any, 0)
	for len(resultRows) < limit && rows.Next() {
		values := make([]any, len(columnNames))
		valuePtrs := make([]any, len(columnNames))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rowMap := make(map[string]any, len(columnNames))
		for i, col := range columnNames {
			rowMap[col] = NormalizeValue(values[i])
		}
		resultRows = append(resultRows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &QueryExecutionResult{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

// NormalizeValue converts a driver value into a JSON-friendly one: byte slices become
// strings, times become RFC 3339 strings, UUID byte arrays become canonical UUID text
// and driver.Valuer types are unwrapped.
func NormalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case [16]byte:
		return uuid.UUID(val).String()
	case uuid.UUID:
		return val.String()
	case driver.Valuer:
		inner, err := val.Value()
		if err != nil {
			return fmt.Sprint(v)
		}
		if _, again := inner.(driver.Valuer); again {
			return inner
		}
		return NormalizeValue(inner)
	default:
		return v
	}
}

// NormalizeRow applies NormalizeValue to every value of row in place.
func NormalizeRow(row map[string]any) map[string]any {
	for k, v := range row {
		row[k] = NormalizeValue(v)
	}
	return row
}
