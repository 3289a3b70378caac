package models

import (
	"fmt"
	"strings"
)

// Table represents a table (or view) known to the schema graph.
type Table struct {
	Name    string   `json:"name" yaml:"name"`
	Columns []string `json:"columns" yaml:"columns"`
}

// HasColumn reports whether the table has a column with the given name (case-insensitive).
func (t Table) HasColumn(column string) bool {
	for _, c := range t.Columns {
		if strings.EqualFold(c, column) {
			return true
		}
	}
	return false
}

// Relationship is a directed join edge between two table columns.
// The schema graph walks it in both directions.
type Relationship struct {
	FromTable   string  `json:"from_table" yaml:"from_table"`
	FromColumn  string  `json:"from_column" yaml:"from_column"`
	ToTable     string  `json:"to_table" yaml:"to_table"`
	ToColumn    string  `json:"to_column" yaml:"to_column"`
	Cardinality string  `json:"cardinality" yaml:"cardinality"`
	Confidence  float64 `json:"confidence" yaml:"confidence"`
}

// RelationshipKey identifies a relationship regardless of cardinality and confidence.
type RelationshipKey struct {
	FromTable  string
	FromColumn string
	ToTable    string
	ToColumn   string
}

// Key returns the dedup tuple (fromTable, fromColumn, toTable, toColumn).
func (r Relationship) Key() RelationshipKey {
	return RelationshipKey{
		FromTable:  r.FromTable,
		FromColumn: r.FromColumn,
		ToTable:    r.ToTable,
		ToColumn:   r.ToColumn,
	}
}

// Reverse returns the same relationship walked from the other end.
func (r Relationship) Reverse() Relationship {
	return Relationship{
		FromTable:   r.ToTable,
		FromColumn:  r.ToColumn,
		ToTable:     r.FromTable,
		ToColumn:    r.FromColumn,
		Cardinality: ReverseCardinality(r.Cardinality),
		Confidence:  r.Confidence,
	}
}

// Touches reports whether either endpoint is the given table.
func (r Relationship) Touches(table string) bool {
	return r.FromTable == table || r.ToTable == table
}

// String renders the relationship as a join condition, e.g. "orders.user_id = users.id".
func (r Relationship) String() string {
	return fmt.Sprintf("%s.%s = %s.%s", r.FromTable, r.FromColumn, r.ToTable, r.ToColumn)
}

// Cardinality types
const (
	Cardinality1To1    = "1:1"
	Cardinality1ToN    = "1:N"
	CardinalityNTo1    = "N:1"
	CardinalityNToM    = "N:M"
	CardinalityUnknown = "unknown"
)

// ValidCardinalities contains all valid cardinality values.
var ValidCardinalities = []string{
	Cardinality1To1,
	Cardinality1ToN,
	CardinalityNTo1,
	CardinalityNToM,
	CardinalityUnknown,
}

// IsValidCardinality checks if the given cardinality is valid.
func IsValidCardinality(c string) bool {
	for _, v := range ValidCardinalities {
		if v == c {
			return true
		}
	}
	return false
}

// ReverseCardinality returns the cardinality seen from the other side of a relationship.
func ReverseCardinality(cardinality string) string {
	switch cardinality {
	case CardinalityNTo1:
		return Cardinality1ToN
	case Cardinality1ToN:
		return CardinalityNTo1
	default:
		return cardinality // 1:1, N:M, unknown stay the same
	}
}

// JoinPath is an ordered sequence of relationships connecting two tables.
// An empty path connects a table to itself.
type JoinPath struct {
	Hops []Relationship `json:"hops"`
}

// Len returns the hop count.
func (p JoinPath) Len() int {
	return len(p.Hops)
}

// Cost returns the sum of (1 + (1 - confidence)) over all hops.
// Fewer hops and higher confidence both lower the cost.
func (p JoinPath) Cost() float64 {
	cost := 0.0
	for _, hop := range p.Hops {
		cost += HopCost(hop.Confidence)
	}
	return cost
}

// Tables returns every table visited by the path in traversal order.
func (p JoinPath) Tables() []string {
	if len(p.Hops) == 0 {
		return nil
	}
	tables := []string{p.Hops[0].FromTable}
	for _, hop := range p.Hops {
		tables = append(tables, hop.ToTable)
	}
	return tables
}

// Reverse returns the path walked from its destination back to its source.
func (p JoinPath) Reverse() JoinPath {
	hops := make([]Relationship, len(p.Hops))
	for i, hop := range p.Hops {
		hops[len(p.Hops)-1-i] = hop.Reverse()
	}
	return JoinPath{Hops: hops}
}

// String renders the path as "a.x = b.y -> b.z = c.w".
func (p JoinPath) String() string {
	parts := make([]string, len(p.Hops))
	for i, hop := range p.Hops {
		parts[i] = hop.String()
	}
	return strings.Join(parts, " -> ")
}

// HopCost is the cost of traversing a single relationship.
func HopCost(confidence float64) float64 {
	return 1 + (1 - confidence)
}
