// Package prompts builds the prompt text sent to the drafting model.
package prompts

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/models"
)

// Dialect names as they appear in prompts.
var dialectNames = map[string]string{
	"mysql":     "MySQL",
	"postgres":  "PostgreSQL",
	"sqlserver": "SQL Server",
}

// DialectName returns the display name of a datasource type.
func DialectName(dialect string) string {
	if name, ok := dialectNames[dialect]; ok {
		return name
	}
	return "SQL"
}

func writeTables(prompt *strings.Builder, tables []models.Table) {
	prompt.WriteString("## Tables\n\n")
	if len(tables) == 0 {
		prompt.WriteString("(none)\n\n")
		return
	}
	for _, table := range tables {
		prompt.WriteString(fmt.Sprintf("- %s(%s)\n", table.Name, strings.Join(table.Columns, ", ")))
	}
	prompt.WriteString("\n")
}

func writeRelationships(prompt *strings.Builder, relationships []models.Relationship) {
	if len(relationships) == 0 {
		return
	}
	prompt.WriteString("## Relationships\n\n")
	for _, rel := range relationships {
		prompt.WriteString(fmt.Sprintf("- %s.%s = %s.%s (%s, confidence %.2f)\n",
			rel.FromTable, rel.FromColumn, rel.ToTable, rel.ToColumn, rel.Cardinality, rel.Confidence))
	}
	prompt.WriteString("\n")
}
