package graph

import (
	"container/heap"
	"strings"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/models"
)

// PathKey identifies a directed (source, destination) table pair.
type PathKey struct {
	From string
	To   string
}

type cacheKey struct {
	from    string
	to      string
	maxHops int
}

type cachedPath struct {
	path models.JoinPath
	ok   bool
}

// PathFinder computes confidence-weighted shortest join paths over a SchemaGraph.
// Results are memoized for the lifetime of the PathFinder, which is scoped to one
// pipeline run. A PathFinder is not safe for concurrent use.
type PathFinder struct {
	graph *SchemaGraph
	paths map[cacheKey]cachedPath
	pairs map[cacheKey]cachedPath
}

// NewPathFinder creates a path finder with an empty cache.
func NewPathFinder(g *SchemaGraph) *PathFinder {
	return &PathFinder{
		graph: g,
		paths: make(map[cacheKey]cachedPath),
		pairs: make(map[cacheKey]cachedPath),
	}
}

// Graph returns the underlying schema graph.
func (f *PathFinder) Graph() *SchemaGraph {
	return f.graph
}

// FindShortestPath returns the lowest-cost path from start to end using at most maxHops hops.
// The boolean is false when either table is unknown or end is unreachable within the budget.
// A table always reaches itself with an empty path.
func (f *PathFinder) FindShortestPath(start, end string, maxHops int) (models.JoinPath, bool) {
	if equalFoldTrim(start, end) {
		return models.JoinPath{}, true
	}
	from, ok := f.graph.Canonical(start)
	if !ok {
		return models.JoinPath{}, false
	}
	to, ok := f.graph.Canonical(end)
	if !ok {
		return models.JoinPath{}, false
	}
	if from == to {
		return models.JoinPath{}, true
	}

	key := cacheKey{from: from, to: to, maxHops: maxHops}
	if cached, hit := f.paths[key]; hit {
		return cached.path, cached.ok
	}

	path, found := f.dijkstra(from, to, maxHops)
	f.paths[key] = cachedPath{path: path, ok: found}
	return path, found
}

// FindPathsBetweenTables computes shortest paths for every unordered pair of tables and
// returns both directions. Unknown tables and unreachable pairs are absent from the result.
func (f *PathFinder) FindPathsBetweenTables(tables []string, maxHops int) map[PathKey]models.JoinPath {
	canonical := f.graph.CanonicalTables(tables)
	result := make(map[PathKey]models.JoinPath)

	for i := 0; i < len(canonical); i++ {
		for j := i + 1; j < len(canonical); j++ {
			path, ok := f.pairPath(canonical[i], canonical[j], maxHops)
			if !ok {
				continue
			}
			result[PathKey{From: canonical[i], To: canonical[j]}] = path
			result[PathKey{From: canonical[j], To: canonical[i]}] = path.Reverse()
		}
	}

	return result
}

// ExpandRelationships returns direct plus every relationship found on a shortest path
// between two of tables that direct does not already contain. Relationships are
// returned in their declared orientation and deduplicated by
// (fromTable, fromColumn, toTable, toColumn).
func (f *PathFinder) ExpandRelationships(tables []string, direct []models.Relationship, maxHops int) []models.Relationship {
	seen := make(map[models.RelationshipKey]bool, len(direct))
	result := make([]models.Relationship, 0, len(direct))
	for _, r := range direct {
		if seen[r.Key()] {
			continue
		}
		seen[r.Key()] = true
		result = append(result, r)
	}

	canonical := f.graph.CanonicalTables(tables)
	for i := 0; i < len(canonical); i++ {
		for j := i + 1; j < len(canonical); j++ {
			path, ok := f.pairPath(canonical[i], canonical[j], maxHops)
			if !ok {
				continue
			}
			for _, hop := range path.Hops {
				rel, known := f.graph.Original(hop)
				if !known {
					rel = hop
				}
				if seen[rel.Key()] || seen[rel.Reverse().Key()] {
					continue
				}
				seen[rel.Key()] = true
				result = append(result, rel)
			}
		}
	}

	return result
}

// pairPath memoizes the path for an unordered pair, oriented from a to b.
func (f *PathFinder) pairPath(a, b string, maxHops int) (models.JoinPath, bool) {
	key := cacheKey{from: a, to: b, maxHops: maxHops}
	if cached, hit := f.pairs[key]; hit {
		return cached.path, cached.ok
	}
	reverseKey := cacheKey{from: b, to: a, maxHops: maxHops}
	if cached, hit := f.pairs[reverseKey]; hit {
		return cached.path.Reverse(), cached.ok
	}

	path, ok := f.FindShortestPath(a, b, maxHops)
	f.pairs[key] = cachedPath{path: path, ok: ok}
	return path, ok
}

// dijkstra runs a hop-bounded Dijkstra search. States are (table, hops) so a cheap but
// long route cannot hide a costlier route that fits the hop budget.
func (f *PathFinder) dijkstra(from, to string, maxHops int) (models.JoinPath, bool) {
	if maxHops <= 0 {
		return models.JoinPath{}, false
	}

	type state struct {
		table string
		hops  int
	}

	pq := &priorityQueue{}
	heap.Init(pq)
	seq := 0
	heap.Push(pq, &queueItem{table: from, seq: seq})
	visited := make(map[state]bool)

	for pq.Len() > 0 {
		item := heap.Pop(pq).(*queueItem)
		s := state{table: item.table, hops: item.hops}
		if visited[s] {
			continue
		}
		visited[s] = true

		if item.table == to {
			return item.path(), true
		}
		if item.hops >= maxHops {
			continue
		}

		for _, e := range f.graph.adjacency[item.table] {
			next := state{table: e.rel.ToTable, hops: item.hops + 1}
			if visited[next] || item.onPath(e.rel.ToTable) {
				continue
			}
			seq++
			heap.Push(pq, &queueItem{
				table:  e.rel.ToTable,
				cost:   item.cost + models.HopCost(e.rel.Confidence),
				hops:   item.hops + 1,
				seq:    seq,
				via:    e.rel,
				parent: item,
			})
		}
	}

	return models.JoinPath{}, false
}

type queueItem struct {
	table  string
	cost   float64
	hops   int
	seq    int
	via    models.Relationship
	parent *queueItem
}

func (it *queueItem) path() models.JoinPath {
	hops := make([]models.Relationship, it.hops)
	for cur := it; cur.parent != nil; cur = cur.parent {
		hops[cur.hops-1] = cur.via
	}
	return models.JoinPath{Hops: hops}
}

func (it *queueItem) onPath(table string) bool {
	for cur := it; cur != nil; cur = cur.parent {
		if cur.table == table {
			return true
		}
	}
	return false
}

// priorityQueue orders by accumulated cost, then by insertion sequence.
type priorityQueue []*queueItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].cost != pq[j].cost {
		return pq[i].cost < pq[j].cost
	}
	return pq[i].seq < pq[j].seq
}

func (pq priorityQueue) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }

func (pq *priorityQueue) Push(x any) { *pq = append(*pq, x.(*queueItem)) }

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}

func equalFoldTrim(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
