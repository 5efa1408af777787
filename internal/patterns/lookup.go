package patterns

import (
	"slices"
	"strings"

	"fluorite-memory/internal/types"
)

// candidateLookup resolves candidate chunks for a similarity query.
type candidateLookup interface {
	get(id types.ChunkID) (*types.Chunk, error)
	byFramework(name string) ([]*types.Chunk, error)
	byPattern(name string) ([]*types.Chunk, error)
	recent(limit int) ([]*types.Chunk, error)
}

// sourceLookup reads through the durable store.
type sourceLookup struct {
	src CandidateSource
}

func (l sourceLookup) get(id types.ChunkID) (*types.Chunk, error) {
	opt, err := l.src.GetChunk(id)
	if err != nil {
		return nil, err
	}
	return opt.OrEmpty(), nil
}

func (l sourceLookup) byFramework(name string) ([]*types.Chunk, error) {
	return l.src.GetChunksByFramework(name)
}

func (l sourceLookup) byPattern(name string) ([]*types.Chunk, error) {
	return l.src.GetChunksByPattern(name)
}

func (l sourceLookup) recent(limit int) ([]*types.Chunk, error) {
	return l.src.GetRecentChunks(limit)
}

// poolLookup serves candidates from chunks already loaded for a rebuild, so
// each query does not rescan the store.
type poolLookup struct {
	byID       map[types.ChunkID]*types.Chunk
	frameworks map[string][]*types.Chunk
	patterns   map[string][]*types.Chunk
	sorted     []*types.Chunk
}

func newPoolLookup(pool []*types.Chunk) *poolLookup {
	l := &poolLookup{
		byID:       make(map[types.ChunkID]*types.Chunk, len(pool)),
		frameworks: make(map[string][]*types.Chunk),
		patterns:   make(map[string][]*types.Chunk),
		sorted:     slices.Clone(pool),
	}
	for _, c := range pool {
		l.byID[c.ID] = c
		for _, fw := range normalizedFrameworks(c.Metadata.Frameworks) {
			l.frameworks[fw] = append(l.frameworks[fw], c)
		}
		for _, p := range uniqueTrimmed(c.Metadata.Patterns) {
			l.patterns[p] = append(l.patterns[p], c)
		}
	}
	slices.SortStableFunc(l.sorted, func(a, b *types.Chunk) int {
		return b.Metadata.LastAccessed.Compare(a.Metadata.LastAccessed)
	})
	return l
}

func (l *poolLookup) get(id types.ChunkID) (*types.Chunk, error) {
	return l.byID[id], nil
}

func (l *poolLookup) byFramework(name string) ([]*types.Chunk, error) {
	return l.frameworks[types.NormalizeFramework(name)], nil
}

func (l *poolLookup) byPattern(name string) ([]*types.Chunk, error) {
	return l.patterns[strings.TrimSpace(name)], nil
}

func (l *poolLookup) recent(limit int) ([]*types.Chunk, error) {
	if limit > len(l.sorted) {
		limit = len(l.sorted)
	}
	return l.sorted[:limit], nil
}
