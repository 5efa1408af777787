package index

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"fluorite-memory/internal/types"
)

const (
	MaxLevel       = 16
	M              = 16 // Max connections per layer
	M0             = 32 // Max connections for layer 0
	EfConstruction = 40
	EfSearch       = 50
)

var (
	ErrDimension  = errors.New("index: dimension mismatch")
	ErrZeroVector = errors.New("index: zero vector")
)

type Node struct {
	ID        types.ChunkID
	Level     int
	Neighbors [][]types.ChunkID // [level][neighbors]
	deleted   bool
}

// Hit is one search result. Score is cosine similarity in [-1,1].
type Hit struct {
	ID    types.ChunkID
	Score float32
}

// HnswIndex is an in-memory HNSW graph over unit-normalized chunk embeddings.
// Removed nodes are tombstoned and stay traversable until the graph is rebuilt.
type HnswIndex struct {
	nodes           map[types.ChunkID]*Node
	vecs            map[types.ChunkID]types.Vector
	dim             int
	tombstones      int
	entryPointID    types.ChunkID
	maxLevel        int
	currentMaxLevel int
	rng             *rand.Rand
	mu              sync.RWMutex
}

func NewHnswIndex() *HnswIndex {
	return NewHnswIndexWithSeed(1)
}

// NewHnswIndexWithSeed fixes the level generator so graphs are reproducible.
func NewHnswIndexWithSeed(seed int64) *HnswIndex {
	idx := &HnswIndex{
		maxLevel: MaxLevel,
		rng:      rand.New(rand.NewSource(seed)),
	}
	idx.reset()
	return idx
}

func (idx *HnswIndex) reset() {
	idx.nodes = make(map[types.ChunkID]*Node)
	idx.vecs = make(map[types.ChunkID]types.Vector)
	idx.entryPointID = ""
	idx.currentMaxLevel = -1
	idx.tombstones = 0
	idx.dim = 0
}

// Reset clears the graph and its vectors.
func (idx *HnswIndex) Reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.reset()
}

// Len counts live entries.
func (idx *HnswIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.nodes) - idx.tombstones
}

func (idx *HnswIndex) Dim() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dim
}

func (idx *HnswIndex) Contains(id types.ChunkID) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n, ok := idx.nodes[id]
	return ok && !n.deleted
}

// Add inserts or replaces the embedding for id. The first vector fixes the
// index dimension.
func (idx *HnswIndex) Add(id types.ChunkID, vector types.Vector) error {
	unit, err := normalize(vector)
	if err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.dim == 0 {
		idx.dim = len(unit)
	}
	if len(unit) != idx.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimension, len(unit), idx.dim)
	}

	if node, ok := idx.nodes[id]; ok {
		// Keep the existing links; the new vector is usually close to the old one.
		idx.vecs[id] = unit
		if node.deleted {
			node.deleted = false
			idx.tombstones--
		}
		return nil
	}
	idx.insert(id, unit)
	return nil
}

func (idx *HnswIndex) insert(id types.ChunkID, vector types.Vector) {
	level := idx.randomLevel()
	node := &Node{
		ID:        id,
		Level:     level,
		Neighbors: make([][]types.ChunkID, level+1),
	}
	idx.nodes[id] = node
	idx.vecs[id] = vector

	if idx.currentMaxLevel == -1 {
		idx.entryPointID = id
		idx.currentMaxLevel = level
		return
	}

	currEntryPoint := idx.entryPointID

	// 1. Find the nearest entry point at node's level by traversing top levels
	for l := idx.currentMaxLevel; l > level; l-- {
		currEntryPoint, _ = idx.searchLayer(vector, currEntryPoint, l)
	}

	// 2. Insert into layers from top-down
	for l := min(level, idx.currentMaxLevel); l >= 0; l-- {
		nearest := idx.searchLayerK(vector, currEntryPoint, EfConstruction, l)

		m := M
		if l == 0 {
			m = M0
		}
		if len(nearest) > m {
			nearest = nearest[:m]
		}

		// Connect bidirectionally
		node.Neighbors[l] = make([]types.ChunkID, 0, len(nearest))
		for _, n := range nearest {
			node.Neighbors[l] = append(node.Neighbors[l], n.id)
			neighbor := idx.nodes[n.id]
			neighbor.Neighbors[l] = append(neighbor.Neighbors[l], id)
			if len(neighbor.Neighbors[l]) > 2*m {
				idx.prune(neighbor, l, m)
			}
		}

		if len(nearest) > 0 {
			currEntryPoint = nearest[0].id
		}
	}

	if level > idx.currentMaxLevel {
		idx.entryPointID = id
		idx.currentMaxLevel = level
	}
}

// prune keeps the m closest links of node at level.
func (idx *HnswIndex) prune(node *Node, level, m int) {
	base := idx.vecs[node.ID]
	links := node.Neighbors[level]
	sort.Slice(links, func(i, j int) bool {
		return distance(base, idx.vecs[links[i]]) < distance(base, idx.vecs[links[j]])
	})
	node.Neighbors[level] = links[:m]
}

// Remove tombstones id. The graph is rebuilt from live vectors once
// tombstones outnumber live nodes.
func (idx *HnswIndex) Remove(id types.ChunkID) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	node, ok := idx.nodes[id]
	if !ok || node.deleted {
		return false
	}
	node.deleted = true
	idx.tombstones++

	if idx.tombstones > len(idx.nodes)-idx.tombstones {
		idx.rebuild()
	}
	return true
}

func (idx *HnswIndex) rebuild() {
	live := make([]types.ChunkID, 0, len(idx.nodes)-idx.tombstones)
	for id, n := range idx.nodes {
		if !n.deleted {
			live = append(live, id)
		}
	}
	// Map order is random; sort for a reproducible graph.
	sort.Slice(live, func(i, j int) bool { return live[i] < live[j] })

	vecs := idx.vecs
	dim := idx.dim
	idx.reset()
	if len(live) > 0 {
		idx.dim = dim
	}
	for _, id := range live {
		idx.insert(id, vecs[id])
	}
}

// Search returns up to k live entries closest to query, best first.
func (idx *HnswIndex) Search(query types.Vector, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	unit, err := normalize(query)
	if err != nil {
		return nil, err
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.currentMaxLevel == -1 {
		return nil, nil
	}
	if len(unit) != idx.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimension, len(unit), idx.dim)
	}

	currEP := idx.entryPointID
	for l := idx.currentMaxLevel; l > 0; l-- {
		currEP, _ = idx.searchLayer(unit, currEP, l)
	}

	ef := max(EfSearch, k) + idx.tombstones
	found := idx.searchLayerK(unit, currEP, ef, 0)

	hits := make([]Hit, 0, min(k, len(found)))
	for _, r := range found {
		if idx.nodes[r.id].deleted {
			continue
		}
		hits = append(hits, Hit{ID: r.id, Score: 1 - r.dist})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// searchLayer finds the single nearest node at a level (greedy search)
func (idx *HnswIndex) searchLayer(query types.Vector, entryPoint types.ChunkID, level int) (types.ChunkID, float32) {
	curr := entryPoint
	currDist := distance(query, idx.vecs[curr])

	changed := true
	for changed {
		changed = false
		node := idx.nodes[curr]
		if level >= len(node.Neighbors) {
			break
		}
		for _, neighborID := range node.Neighbors[level] {
			d := distance(query, idx.vecs[neighborID])
			if d < currDist {
				currDist = d
				curr = neighborID
				changed = true
			}
		}
	}
	return curr, currDist
}

type neighborResult struct {
	id   types.ChunkID
	dist float32
}

// searchLayerK finds K nearest neighbors at a level
func (idx *HnswIndex) searchLayerK(query types.Vector, entryPoint types.ChunkID, k int, level int) []neighborResult {
	visited := map[types.ChunkID]bool{entryPoint: true}
	candidates := []neighborResult{{entryPoint, distance(query, idx.vecs[entryPoint])}}
	results := []neighborResult{candidates[0]}

	for len(candidates) > 0 {
		c := candidates[0]
		candidates = candidates[1:]

		if len(results) >= k && c.dist > results[len(results)-1].dist {
			continue
		}

		node := idx.nodes[c.id]
		if level >= len(node.Neighbors) {
			continue
		}
		for _, neighborID := range node.Neighbors[level] {
			if visited[neighborID] {
				continue
			}
			visited[neighborID] = true
			d := distance(query, idx.vecs[neighborID])

			if len(results) < k || d < results[len(results)-1].dist {
				res := neighborResult{neighborID, d}
				candidates = append(candidates, res)
				results = append(results, res)

				sort.Slice(results, func(i, j int) bool { return results[i].dist < results[j].dist })
				if len(results) > k {
					results = results[:k]
				}
				sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
			}
		}
	}
	return results
}

func (idx *HnswIndex) randomLevel() int {
	lvl := 0
	for idx.rng.Float64() < 0.5 && lvl < idx.maxLevel {
		lvl++
	}
	return lvl
}

// distance is cosine distance between unit vectors.
func distance(a, b types.Vector) float32 {
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return 1 - dot
}

func normalize(v types.Vector) (types.Vector, error) {
	if len(v) == 0 {
		return nil, ErrZeroVector
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, ErrZeroVector
	}
	norm := float32(math.Sqrt(sum))
	out := make(types.Vector, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out, nil
}

// Cosine is the cosine similarity of two raw vectors, 0 when either is zero
// or their lengths differ.
func Cosine(a, b types.Vector) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
