package graph

import (
	"sort"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/models"
)

// BridgeTable is a table outside the requested set that connects two or more requested tables.
type BridgeTable struct {
	Name     string   `json:"name"`
	Connects []string `json:"connects"`
}

// DiscoverBridgeTables finds tables outside tables that touch at least two of them through
// relationships at or above the graph's confidence threshold, then keeps only the candidates
// that lie on a shortest path between two of the requested tables.
//
// The path confirmation stage keeps wide fan-out tables (audit logs, lookup tables) from
// being pulled into every query just because they reference many tables.
func DiscoverBridgeTables(tables []string, relationships []models.Relationship, finder *PathFinder, maxHops int) []BridgeTable {
	g := finder.Graph()
	requested := g.CanonicalTables(tables)
	if len(requested) < 2 {
		return nil
	}
	inSet := make(map[string]bool, len(requested))
	for _, name := range requested {
		inSet[name] = true
	}

	// Stage 1: candidate generation by direct-relationship counting
	touches := make(map[string]map[string]bool)
	for _, r := range relationships {
		if r.Confidence < g.Threshold() {
			continue
		}
		from, okFrom := g.Canonical(r.FromTable)
		to, okTo := g.Canonical(r.ToTable)
		if !okFrom || !okTo {
			continue
		}
		switch {
		case inSet[from] && !inSet[to]:
			addTouch(touches, to, from)
		case inSet[to] && !inSet[from]:
			addTouch(touches, from, to)
		}
	}

	// Stage 2: path confirmation
	onPath := make(map[string]bool)
	for key, path := range finder.FindPathsBetweenTables(requested, maxHops) {
		if key.From > key.To {
			continue // each unordered pair once
		}
		for _, name := range path.Tables() {
			if !inSet[name] {
				onPath[name] = true
			}
		}
	}

	var bridges []BridgeTable
	for candidate, connected := range touches {
		if len(connected) < 2 || !onPath[candidate] {
			continue
		}
		connects := make([]string, 0, len(connected))
		for name := range connected {
			connects = append(connects, name)
		}
		sort.Strings(connects)
		bridges = append(bridges, BridgeTable{Name: candidate, Connects: connects})
	}

	sort.Slice(bridges, func(i, j int) bool {
		return bridges[i].Name < bridges[j].Name
	})

	return bridges
}

func addTouch(touches map[string]map[string]bool, outside, inside string) {
	if touches[outside] == nil {
		touches[outside] = make(map[string]bool)
	}
	touches[outside][inside] = true
}

// BridgeNames returns just the table names of bridges.
func BridgeNames(bridges []BridgeTable) []string {
	names := make([]string, len(bridges))
	for i, b := range bridges {
		names[i] = b.Name
	}
	return names
}
