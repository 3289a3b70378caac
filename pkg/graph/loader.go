package graph

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/models"
)

// Document is the schema-relationship description loaded at startup.
// JSON documents parse as well, since JSON is valid YAML.
type Document struct {
	Tables        []models.Table        `yaml:"tables"`
	Relationships []models.Relationship `yaml:"relationships"`
}

// ParseDocument decodes a schema document.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidSchema, err)
	}
	if len(doc.Tables) == 0 {
		return nil, fmt.Errorf("%w: no tables defined", apperrors.ErrInvalidSchema)
	}
	return &doc, nil
}

// LoadDocument reads and decodes a schema document from disk.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema document: %w", err)
	}
	return ParseDocument(data)
}

// Load reads a schema document and builds the graph in one step.
func Load(path string, threshold float64) (*SchemaGraph, error) {
	doc, err := LoadDocument(path)
	if err != nil {
		return nil, err
	}
	return Build(doc, threshold)
}
