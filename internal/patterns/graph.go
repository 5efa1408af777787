package patterns

import (
	"slices"
	"sort"
	"strings"

	"fluorite-memory/internal/types"
)

type frameworkRelations struct {
	primary []types.ChunkID
	// combination keys this framework takes part in
	combos []string
}

// graph tracks which chunks use which frameworks, framework combinations
// and discovered chunk-to-chunk edges. Callers hold Analyzer.mu.
type graph struct {
	adjacency    map[types.ChunkID][]WeightedEdge
	frameworks   map[string]*frameworkRelations
	combinations map[string]*FrameworkCombination
}

func newGraph() *graph {
	return &graph{
		adjacency:    make(map[types.ChunkID][]WeightedEdge),
		frameworks:   make(map[string]*frameworkRelations),
		combinations: make(map[string]*FrameworkCombination),
	}
}

func (g *graph) relations(fw string) *frameworkRelations {
	r, ok := g.frameworks[fw]
	if !ok {
		r = &frameworkRelations{}
		g.frameworks[fw] = r
	}
	return r
}

// addChunk records id under each framework and, for two or more frameworks,
// under their combination. It reports whether a new combination appeared.
func (g *graph) addChunk(id types.ChunkID, frameworks []string) bool {
	for _, fw := range frameworks {
		r := g.relations(fw)
		if !slices.Contains(r.primary, id) {
			r.primary = append(r.primary, id)
		}
	}
	if len(frameworks) < 2 {
		return false
	}

	key := comboKey(frameworks)
	combo, ok := g.combinations[key]
	if !ok {
		combo = &FrameworkCombination{
			Frameworks:  append([]string(nil), frameworks...),
			PatternName: strings.Join(frameworks, "-") + " integration",
			Confidence:  0.8,
		}
		g.combinations[key] = combo
		for _, fw := range frameworks {
			r := g.relations(fw)
			r.combos = append(r.combos, key)
		}
	}
	if !slices.Contains(combo.Chunks, id) {
		combo.Chunks = append(combo.Chunks, id)
	}
	combo.UsageFrequency++
	return !ok
}

func comboKey(frameworks []string) string {
	sorted := slices.Clone(frameworks)
	sort.Strings(sorted)
	return strings.Join(sorted, "+")
}

// combinationsWith returns combinations containing every named framework.
func (g *graph) combinationsWith(frameworks ...string) []FrameworkCombination {
	if len(frameworks) == 0 {
		return nil
	}
	r, ok := g.frameworks[frameworks[0]]
	if !ok {
		return nil
	}
	var out []FrameworkCombination
	for _, key := range r.combos {
		combo := g.combinations[key]
		match := true
		for _, fw := range frameworks[1:] {
			if !combo.has(fw) {
				match = false
				break
			}
		}
		if match {
			out = append(out, combo.clone())
		}
	}
	return out
}

// link replaces id's outgoing edges, keeping the strongest limit.
func (g *graph) link(id types.ChunkID, edges []WeightedEdge, limit int) int {
	edges = slices.Clone(edges)
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].Weight > edges[j].Weight })
	if limit > 0 && len(edges) > limit {
		edges = edges[:limit]
	}
	if len(edges) == 0 {
		delete(g.adjacency, id)
		return 0
	}
	g.adjacency[id] = edges
	return len(edges)
}

// remove drops id from every list and edge in the graph.
func (g *graph) remove(id types.ChunkID) {
	delete(g.adjacency, id)
	for src, edges := range g.adjacency {
		kept := slices.DeleteFunc(edges, func(e WeightedEdge) bool { return e.Target == id })
		if len(kept) == 0 {
			delete(g.adjacency, src)
		} else {
			g.adjacency[src] = kept
		}
	}
	g.detach(id)
}

// detach drops id from framework and combination lists, keeping its edges.
func (g *graph) detach(id types.ChunkID) {
	for _, r := range g.frameworks {
		r.primary = slices.DeleteFunc(r.primary, func(c types.ChunkID) bool { return c == id })
	}
	for _, combo := range g.combinations {
		combo.Chunks = slices.DeleteFunc(combo.Chunks, func(c types.ChunkID) bool { return c == id })
	}
}

func (g *graph) edgeCount() int {
	n := 0
	for _, edges := range g.adjacency {
		n += len(edges)
	}
	return n
}
