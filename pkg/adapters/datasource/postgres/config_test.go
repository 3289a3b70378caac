package postgres

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/adapters/datasource"
)

func TestBuildConnectionString(t *testing.T) {
	connStr, err := BuildConnectionString(&datasource.ConnectionConfig{
		Host:     "db",
		User:     "app user",
		Password: "p@ss",
		Database: "hr",
	})
	require.NoError(t, err)
	assert.Equal(t, "postgresql://app+user:p%40ss@db:5432/hr?sslmode=require", connStr)

	connStr, err = BuildConnectionString(&datasource.ConnectionConfig{
		Host: "db", Port: 6543, User: "app", Database: "hr", SSLMode: "disable",
	})
	require.NoError(t, err)
	assert.Equal(t, "postgresql://app:@db:6543/hr?sslmode=disable", connStr)

	connStr, err = BuildConnectionString(&datasource.ConnectionConfig{DSN: "postgres://x"})
	require.NoError(t, err)
	assert.Equal(t, "postgres://x", connStr)
}

func TestBuildConnectionString_Invalid(t *testing.T) {
	_, err := BuildConnectionString(&datasource.ConnectionConfig{Database: "hr"})
	assert.ErrorContains(t, err, "host is required")
}

func TestPgTypeNameFromOID(t *testing.T) {
	assert.Equal(t, "INT4", pgTypeNameFromOID(23))
	assert.Equal(t, "UUID", pgTypeNameFromOID(2950))
	assert.Equal(t, "OID_9999", pgTypeNameFromOID(9999))
}

func TestLimitedQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		limit int
		want  string
	}{
		{
			name:  "plain",
			query: "SELECT id FROM employee",
			limit: 10,
			want:  "SELECT * FROM (SELECT id FROM employee\n) AS _limited LIMIT 10",
		},
		{
			name:  "trailing line comment",
			query: "SELECT id FROM employee -- all of them",
			limit: 10,
			want:  "SELECT * FROM (SELECT id FROM employee -- all of them\n) AS _limited LIMIT 10",
		},
		{
			name:  "trailing semicolon",
			query: "SELECT id FROM employee;\n",
			limit: 0,
			want:  fmt.Sprintf("SELECT * FROM (SELECT id FROM employee\n) AS _limited LIMIT %d", datasource.MaxQueryLimit),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, limitedQuery(tt.query, tt.limit))
		})
	}
}
