package graph

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// ConnectedComponent represents a group of tables connected by traversable relationships.
type ConnectedComponent struct {
	Tables []string
	Size   int
}

// FindConnectedComponents identifies all connected components in the graph using DFS.
// Returns a list of components sorted by size (largest first) and a list of island tables.
func (g *SchemaGraph) FindConnectedComponents() ([]ConnectedComponent, []string) {
	visited := make(map[string]bool)
	var components []ConnectedComponent

	// Run DFS from each unvisited table, in document order for stable output
	for _, table := range g.order {
		if !visited[table] {
			component := g.dfs(table, visited)
			components = append(components, ConnectedComponent{
				Tables: component,
				Size:   len(component),
			})
		}
	}

	// Separate out island tables (components with size 1)
	var nonIslands []ConnectedComponent
	var islands []string

	for _, comp := range components {
		if comp.Size == 1 {
			islands = append(islands, comp.Tables[0])
		} else {
			nonIslands = append(nonIslands, comp)
		}
	}

	sort.SliceStable(nonIslands, func(i, j int) bool {
		return nonIslands[i].Size > nonIslands[j].Size
	})

	return nonIslands, islands
}

// dfs performs depth-first search starting from a table.
// Returns all tables in the connected component.
func (g *SchemaGraph) dfs(start string, visited map[string]bool) []string {
	var component []string
	stack := []string{start}

	for len(stack) > 0 {
		// Pop from stack
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[current] {
			continue
		}

		visited[current] = true
		component = append(component, current)

		for _, e := range g.adjacency[current] {
			if !visited[e.rel.ToTable] {
				stack = append(stack, e.rel.ToTable)
			}
		}
	}

	return component
}

// LogConnectivity logs a summary of graph connectivity at startup.
// Island tables can only be queried alone; no join path reaches them.
func LogConnectivity(g *SchemaGraph, logger *zap.Logger) {
	components, islands := g.FindConnectedComponents()

	logger.Info("Schema graph loaded",
		zap.Int("tables", len(g.order)),
		zap.Int("relationships", len(g.accepted)),
		zap.Int("dropped_low_confidence", g.dropped),
		zap.Float64("confidence_threshold", g.threshold),
		zap.Int("components", len(components)),
		zap.Int("islands", len(islands)))

	for i, comp := range components {
		// Show first 5 tables, then "..."
		preview := comp.Tables
		suffix := ""
		if len(preview) > 5 {
			preview = preview[:5]
			suffix = fmt.Sprintf(", ... (%d more)", len(comp.Tables)-5)
		}
		logger.Debug(fmt.Sprintf("Component %d (%d tables): %v%s", i+1, comp.Size, preview, suffix))
	}

	if len(islands) > 0 {
		preview := islands
		suffix := ""
		if len(islands) > 5 {
			preview = islands[:5]
			suffix = fmt.Sprintf(", ... (%d more)", len(islands)-5)
		}
		logger.Warn(fmt.Sprintf("Island tables (%d): %v%s", len(islands), preview, suffix))
	}
}
