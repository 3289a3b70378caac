package secureview

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/graph"
)

// Document is the on-disk secure view configuration.
type Document struct {
	SecureViews map[string]string `yaml:"secure_views"`
}

// Parse decodes a secure view document and builds the Map.
func Parse(data []byte) (*Map, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidSecureViewMap, err)
	}
	return NewMap(doc.SecureViews)
}

// Load reads a secure view document from disk. An empty path yields an empty Map.
func Load(path string) (*Map, error) {
	if path == "" {
		return NewMap(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secure view document: %w", err)
	}
	return Parse(data)
}

// CheckAgainst verifies every secured table exists in the schema graph.
// A secure view for a table the graph does not know is a configuration gap.
func (m *Map) CheckAgainst(g *graph.SchemaGraph) error {
	for _, table := range m.Tables() {
		if !g.HasTable(table) {
			return fmt.Errorf("%w: secured table %q is not in the schema", apperrors.ErrInvalidSecureViewMap, table)
		}
	}
	return nil
}
