// Package graph holds the immutable schema graph and the join-path algorithms over it.
package graph

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/models"
)

// DefaultConfidenceThreshold is the minimum confidence for a relationship to be traversable.
const DefaultConfidenceThreshold = 0.70

// edge is one traversal direction of a relationship.
// rel is oriented away from the node owning the adjacency entry.
type edge struct {
	rel models.Relationship
}

// SchemaGraph is an immutable graph of tables connected by weighted relationships.
// It is safe for concurrent reads; nothing mutates it after Build returns.
type SchemaGraph struct {
	// lower-cased name -> declared spelling
	names  map[string]string
	tables map[string]models.Table
	order  []string

	// relationships at or above the threshold, in document order, canonical names
	accepted []models.Relationship
	// originals keyed by their own direction
	originals map[models.RelationshipKey]models.Relationship
	// relationships dropped for low confidence
	dropped int

	// Adjacency list: table -> edges leaving it (both directions of every accepted relationship)
	adjacency map[string][]edge
	threshold float64
}

// Build creates a schema graph from a schema document.
// Relationships below threshold are kept out of the adjacency list.
// Returns apperrors.ErrInvalidSchema (wrapped) for inconsistent input.
func Build(doc *Document, threshold float64) (*SchemaGraph, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: empty document", apperrors.ErrInvalidSchema)
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: confidence threshold %.2f outside [0,1]", apperrors.ErrInvalidSchema, threshold)
	}

	g := &SchemaGraph{
		names:     make(map[string]string, len(doc.Tables)),
		tables:    make(map[string]models.Table, len(doc.Tables)),
		originals: make(map[models.RelationshipKey]models.Relationship),
		adjacency: make(map[string][]edge),
		threshold: threshold,
	}

	for _, t := range doc.Tables {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: table with empty name", apperrors.ErrInvalidSchema)
		}
		key := strings.ToLower(name)
		if _, exists := g.names[key]; exists {
			return nil, fmt.Errorf("%w: duplicate table %q", apperrors.ErrInvalidSchema, name)
		}
		columns := make([]string, len(t.Columns))
		copy(columns, t.Columns)

		g.names[key] = name
		g.tables[name] = models.Table{Name: name, Columns: columns}
		g.order = append(g.order, name)
	}

	for i, r := range doc.Relationships {
		from, ok := g.Canonical(r.FromTable)
		if !ok {
			return nil, fmt.Errorf("%w: relationship %d references unknown table %q", apperrors.ErrInvalidSchema, i, r.FromTable)
		}
		to, ok := g.Canonical(r.ToTable)
		if !ok {
			return nil, fmt.Errorf("%w: relationship %d references unknown table %q", apperrors.ErrInvalidSchema, i, r.ToTable)
		}
		if r.FromColumn == "" || r.ToColumn == "" {
			return nil, fmt.Errorf("%w: relationship %d between %s and %s is missing a column", apperrors.ErrInvalidSchema, i, from, to)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			return nil, fmt.Errorf("%w: relationship %d has confidence %.2f outside [0,1]", apperrors.ErrInvalidSchema, i, r.Confidence)
		}
		cardinality := r.Cardinality
		if cardinality == "" {
			cardinality = models.CardinalityUnknown
		}
		if !models.IsValidCardinality(cardinality) {
			return nil, fmt.Errorf("%w: relationship %d has invalid cardinality %q", apperrors.ErrInvalidSchema, i, r.Cardinality)
		}

		rel := models.Relationship{
			FromTable:   from,
			FromColumn:  r.FromColumn,
			ToTable:     to,
			ToColumn:    r.ToColumn,
			Cardinality: cardinality,
			Confidence:  r.Confidence,
		}

		if rel.Confidence < threshold {
			g.dropped++
			continue
		}
		if _, dup := g.originals[rel.Key()]; dup {
			continue
		}

		g.accepted = append(g.accepted, rel)
		g.originals[rel.Key()] = rel

		// Undirected: insert both traversal directions
		g.adjacency[from] = append(g.adjacency[from], edge{rel: rel})
		if from != to {
			g.adjacency[to] = append(g.adjacency[to], edge{rel: rel.Reverse()})
		}
	}

	return g, nil
}

// Canonical returns the declared spelling of a table name, matched case-insensitively.
func (g *SchemaGraph) Canonical(name string) (string, bool) {
	canonical, ok := g.names[strings.ToLower(strings.TrimSpace(name))]
	return canonical, ok
}

// HasTable reports whether the table is known to the graph.
func (g *SchemaGraph) HasTable(name string) bool {
	_, ok := g.Canonical(name)
	return ok
}

// Table returns the table with the given name.
func (g *SchemaGraph) Table(name string) (models.Table, bool) {
	canonical, ok := g.Canonical(name)
	if !ok {
		return models.Table{}, false
	}
	t := g.tables[canonical]
	columns := make([]string, len(t.Columns))
	copy(columns, t.Columns)
	return models.Table{Name: t.Name, Columns: columns}, true
}

// TableNames returns all table names in document order.
func (g *SchemaGraph) TableNames() []string {
	names := make([]string, len(g.order))
	copy(names, g.order)
	return names
}

// Tables returns all tables in document order.
func (g *SchemaGraph) Tables() []models.Table {
	tables := make([]models.Table, 0, len(g.order))
	for _, name := range g.order {
		t, _ := g.Table(name)
		tables = append(tables, t)
	}
	return tables
}

// Relationships returns every relationship at or above the confidence threshold.
func (g *SchemaGraph) Relationships() []models.Relationship {
	rels := make([]models.Relationship, len(g.accepted))
	copy(rels, g.accepted)
	return rels
}

// DroppedRelationships returns how many relationships fell below the threshold.
func (g *SchemaGraph) DroppedRelationships() int {
	return g.dropped
}

// Threshold returns the confidence threshold the graph was built with.
func (g *SchemaGraph) Threshold() float64 {
	return g.threshold
}

// Neighbors returns the relationships leaving table, oriented away from it.
func (g *SchemaGraph) Neighbors(table string) []models.Relationship {
	canonical, ok := g.Canonical(table)
	if !ok {
		return nil
	}
	edges := g.adjacency[canonical]
	rels := make([]models.Relationship, len(edges))
	for i, e := range edges {
		rels[i] = e.rel
	}
	return rels
}

// Original maps a relationship in either traversal direction back to the
// relationship as it was declared in the schema document.
func (g *SchemaGraph) Original(rel models.Relationship) (models.Relationship, bool) {
	if orig, ok := g.originals[rel.Key()]; ok {
		return orig, true
	}
	if orig, ok := g.originals[rel.Reverse().Key()]; ok {
		return orig, true
	}
	return models.Relationship{}, false
}

// DirectRelationships returns accepted relationships whose endpoints are both in tables.
func (g *SchemaGraph) DirectRelationships(tables []string) []models.Relationship {
	inSet := g.canonicalSet(tables)
	var rels []models.Relationship
	for _, r := range g.accepted {
		if inSet[r.FromTable] && inSet[r.ToTable] {
			rels = append(rels, r)
		}
	}
	return rels
}

// TablesWithColumn returns, in the order given, the tables that have a column named column.
func (g *SchemaGraph) TablesWithColumn(tables []string, column string) []string {
	var matches []string
	for _, name := range tables {
		t, ok := g.Table(name)
		if ok && t.HasColumn(column) {
			matches = append(matches, t.Name)
		}
	}
	return matches
}

// CanonicalTables maps names to their canonical spelling, dropping unknown names and duplicates.
func (g *SchemaGraph) CanonicalTables(tables []string) []string {
	seen := make(map[string]bool, len(tables))
	var result []string
	for _, name := range tables {
		canonical, ok := g.Canonical(name)
		if !ok || seen[canonical] {
			continue
		}
		seen[canonical] = true
		result = append(result, canonical)
	}
	return result
}

func (g *SchemaGraph) canonicalSet(tables []string) map[string]bool {
	set := make(map[string]bool, len(tables))
	for _, name := range g.CanonicalTables(tables) {
		set[name] = true
	}
	return set
}
