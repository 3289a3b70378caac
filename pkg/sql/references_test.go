package sql

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/models"
)

type schemaMap map[string]models.Table

func (s schemaMap) Table(name string) (models.Table, bool) {
	t, ok := s[strings.ToLower(name)]
	return t, ok
}

func testSchema() schemaMap {
	return schemaMap{
		"employee": {Name: "employee", Columns: []string{"id", "name", "dept", "crew_id"}},
		"crew":     {Name: "crew", Columns: []string{"id", "title", "active"}},
		"payroll":  {Name: "payroll", Columns: []string{"id", "employee_id", "amount"}},
	}
}

func issueMessages(issues []ReferenceIssue) []string {
	var out []string
	for _, i := range issues {
		out = append(out, i.Message)
	}
	return out
}

func TestCheckReferences(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		expected []string
	}{
		{
			name: "all columns resolve",
			sql:  "SELECT e.name, c.title FROM employee e JOIN crew c ON c.id = e.crew_id WHERE c.active = 1",
		},
		{
			name:     "unknown qualified column",
			sql:      "SELECT e.salary FROM employee e",
			expected: []string{"Unknown column 'e.salary' in 'field list'"},
		},
		{
			name:     "unknown unqualified column",
			sql:      "SELECT salary FROM employee",
			expected: []string{"Unknown column 'salary' in 'field list'"},
		},
		{
			name:     "column on the wrong table",
			sql:      "SELECT e.amount FROM employee e JOIN payroll p ON p.employee_id = e.id",
			expected: []string{"Unknown column 'e.amount' in 'field list'"},
		},
		{
			name:     "qualifier not in scope",
			sql:      "SELECT x.name FROM employee e",
			expected: []string{"Unknown column 'x.name' in 'field list'"},
		},
		{
			name: "output alias in order by",
			sql:  "SELECT COUNT(*) AS headcount FROM employee ORDER BY headcount",
		},
		{
			name: "unknown table is opaque",
			sql:  "SELECT v.whatever, anything FROM mystery v",
		},
		{
			name: "derived table skips unqualified checks",
			sql:  "SELECT total FROM (SELECT SUM(amount) AS total FROM payroll) AS t",
		},
		{
			name: "correlated subquery",
			sql:  "SELECT e.name FROM employee e WHERE EXISTS (SELECT 1 FROM payroll p WHERE p.employee_id = e.id)",
		},
		{
			name:     "bad column inside subquery",
			sql:      "SELECT e.name FROM employee e WHERE e.id IN (SELECT p.bonus FROM payroll p)",
			expected: []string{"Unknown column 'p.bonus' in 'field list'"},
		},
		{
			name:     "reported once",
			sql:      "SELECT e.salary FROM employee e WHERE e.salary > 10 ORDER BY e.salary",
			expected: []string{"Unknown column 'e.salary' in 'field list'"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues, err := CheckReferences(tt.sql, testSchema(), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, issueMessages(issues))
		})
	}
}

func TestCheckReferences_ResolvesSecureNames(t *testing.T) {
	resolve := func(name string) string {
		return strings.TrimPrefix(name, "secure_")
	}

	issues, err := CheckReferences("SELECT e.name, e.salary FROM secure_employee e", testSchema(), resolve)
	require.NoError(t, err)
	assert.Equal(t, []string{"Unknown column 'e.salary' in 'field list'"}, issueMessages(issues))

	// Without resolution the secure view is an unknown, opaque table
	issues, err = CheckReferences("SELECT e.name, e.salary FROM secure_employee e", testSchema(), nil)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestCheckReferences_ParseError(t *testing.T) {
	_, err := CheckReferences("SELECT FROM WHERE", testSchema(), nil)
	assert.Error(t, err)
}
