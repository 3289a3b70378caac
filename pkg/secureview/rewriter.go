// Package secureview maps logical table names to access-controlled views and rewrites
// generated SQL so the views are queried instead of the base tables.
package secureview

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/apperrors"
)

// Map is an immutable logical-table to secure-view mapping.
// It is safe for concurrent use.
type Map struct {
	// lower-cased logical name -> view name
	views map[string]string
	// lower-cased view name -> declared logical name
	logical map[string]string
}

// NewMap validates entries and builds a Map. Entries must be non-empty, one-to-one, and
// no view name may also be a logical name (rewriting would not be idempotent).
func NewMap(entries map[string]string) (*Map, error) {
	m := &Map{
		views:   make(map[string]string, len(entries)),
		logical: make(map[string]string, len(entries)),
	}

	// Sorted for deterministic error messages
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		view := strings.TrimSpace(entries[name])
		table := strings.TrimSpace(name)
		if table == "" || view == "" {
			return nil, fmt.Errorf("%w: empty table or view name in entry %q -> %q", apperrors.ErrInvalidSecureViewMap, name, entries[name])
		}
		key := strings.ToLower(table)
		if _, dup := m.views[key]; dup {
			return nil, fmt.Errorf("%w: table %q mapped twice", apperrors.ErrInvalidSecureViewMap, table)
		}
		if other, dup := m.logical[strings.ToLower(view)]; dup {
			return nil, fmt.Errorf("%w: view %q mapped from both %q and %q", apperrors.ErrInvalidSecureViewMap, view, other, table)
		}
		m.views[key] = view
		m.logical[strings.ToLower(view)] = table
	}

	for viewKey := range m.logical {
		if _, clash := m.views[viewKey]; clash {
			return nil, fmt.Errorf("%w: %q is both a secured table and a view name", apperrors.ErrInvalidSecureViewMap, viewKey)
		}
	}

	return m, nil
}

// Len returns the number of secured tables.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.views)
}

// Tables returns the secured logical table names, sorted.
func (m *Map) Tables() []string {
	if m == nil {
		return nil
	}
	tables := make([]string, 0, len(m.logical))
	for _, table := range m.logical {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables
}

// IsSecured reports whether table has a secure view.
func (m *Map) IsSecured(table string) bool {
	if m == nil {
		return false
	}
	_, ok := m.views[strings.ToLower(strings.TrimSpace(table))]
	return ok
}

// ToSecureName returns the secure view for table, or table unchanged when it is not secured.
func (m *Map) ToSecureName(table string) string {
	if m == nil {
		return table
	}
	if view, ok := m.views[strings.ToLower(strings.TrimSpace(table))]; ok {
		return view
	}
	return table
}

// FromSecureName returns the logical table behind a secure view name, or name unchanged.
// Only whole names registered in the map are translated.
func (m *Map) FromSecureName(name string) string {
	if m == nil {
		return name
	}
	if table, ok := m.logical[strings.ToLower(strings.TrimSpace(name))]; ok {
		return table
	}
	return name
}

// KnownNames returns the names that may legally appear in rewritten SQL for tables:
// the view for each secured table, the table itself otherwise.
func (m *Map) KnownNames(tables []string) []string {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = m.ToSecureName(t)
	}
	return names
}

// RewriteSQL replaces every logical table name in FROM and JOIN positions with its
// secure view. Everything else, including unsecured table names, aliases and column
// references, is copied byte for byte. References to a WITH name are not rewritten.
func (m *Map) RewriteSQL(sql string) string {
	if m.Len() == 0 {
		return sql
	}

	scan := scanTables(sql)
	var b strings.Builder
	b.Grow(len(sql))
	last := 0

	for _, ref := range scan.refs {
		if scan.isCTE(ref) {
			continue
		}
		view, ok := m.views[strings.ToLower(ref.Name)]
		if !ok {
			continue
		}
		b.WriteString(sql[last:ref.start])
		if ref.quoted {
			original := sql[ref.start:ref.end]
			b.WriteByte(original[0])
			b.WriteString(view)
			b.WriteByte(original[len(original)-1])
		} else {
			b.WriteString(view)
		}
		last = ref.end
	}

	if last == 0 {
		return sql
	}
	b.WriteString(sql[last:])
	return b.String()
}

// UnknownTablesError lists table references that match no known table or view.
type UnknownTablesError struct {
	Tables []string
}

func (e *UnknownTablesError) Error() string {
	return fmt.Sprintf("unknown tables referenced: %s", strings.Join(e.Tables, ", "))
}

func (e *UnknownTablesError) Unwrap() error {
	return apperrors.ErrUnknownTable
}

type validateOptions struct {
	caseSensitive bool
	qualifiers    []string
}

// ValidateOption configures ValidateTablesExist.
type ValidateOption func(*validateOptions)

// WithCaseSensitive makes table matching exact instead of case-insensitive.
func WithCaseSensitive(caseSensitive bool) ValidateOption {
	return func(o *validateOptions) {
		o.caseSensitive = caseSensitive
	}
}

// WithQualifiers lists the schema or database prefixes a table reference may carry,
// e.g. the datasource's own database. Any other qualified reference is unknown.
func WithQualifiers(qualifiers ...string) ValidateOption {
	return func(o *validateOptions) {
		o.qualifiers = append(o.qualifiers, qualifiers...)
	}
}

// ValidateTablesExist checks that every table in a FROM or JOIN clause of sql is in known.
// Qualified references pass only when their qualifier was allowed by WithQualifiers.
// Returns *UnknownTablesError naming each missing table once.
func ValidateTablesExist(sql string, known []string, opts ...ValidateOption) error {
	var o validateOptions
	for _, opt := range opts {
		opt(&o)
	}

	fold := func(s string) string {
		if o.caseSensitive {
			return s
		}
		return strings.ToLower(s)
	}

	knownSet := make(map[string]bool, len(known))
	for _, name := range known {
		knownSet[fold(strings.TrimSpace(name))] = true
	}
	qualifierSet := make(map[string]bool, len(o.qualifiers))
	for _, q := range o.qualifiers {
		if q = strings.TrimSpace(q); q != "" {
			qualifierSet[fold(q)] = true
		}
	}

	var missing []string
	reported := make(map[string]bool)
	for _, ref := range ExtractTableReferences(sql) {
		name := ref.Name
		ok := knownSet[fold(ref.Name)]
		if ref.Qualifier != "" {
			name = ref.Qualifier + "." + ref.Name
			ok = ok && qualifierSet[fold(ref.Qualifier)]
		}
		key := fold(name)
		if ok || reported[key] {
			continue
		}
		reported[key] = true
		missing = append(missing, name)
	}

	if len(missing) > 0 {
		return &UnknownTablesError{Tables: missing}
	}
	return nil
}
