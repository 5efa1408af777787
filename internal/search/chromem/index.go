// Package chromem implements search.Searcher on an embedded chromem-go
// collection persisted next to the chunk store.
package chromem

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	chromemgo "github.com/philippgille/chromem-go"
	"github.com/samber/mo"

	"fluorite-memory/internal/search"
	"fluorite-memory/internal/types"
)

const (
	collectionName = "chunks"
	snapshotName   = "snapshot.gob.gz"

	DefaultDim      = 256
	DefaultMinScore = 0.1
)

type Options struct {
	Dim int
	// MinScore drops unfiltered hits scoring below it. None means DefaultMinScore.
	MinScore mo.Option[float32]
	Logger   *slog.Logger
}

// Index keeps one document per chunk. Writes are persisted by chromem as they
// happen, so Commit has nothing to flush.
type Index struct {
	mu       sync.RWMutex
	db       *chromemgo.DB
	coll     *chromemgo.Collection
	dir      string
	embedder HashEmbedder
	minScore float32
	log      *slog.Logger
	queries  atomic.Uint64
	closed   bool
}

var _ search.Searcher = (*Index)(nil)

// Open loads or creates the index under dir.
func Open(dir string, o Options) (*Index, error) {
	if o.Dim <= 0 {
		o.Dim = DefaultDim
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	db, err := chromemgo.NewPersistentDB(dir, true)
	if err != nil {
		return nil, fmt.Errorf("open search index: %w", err)
	}
	idx := &Index{
		db:       db,
		dir:      dir,
		embedder: HashEmbedder{Dim: o.Dim},
		minScore: o.MinScore.OrElse(DefaultMinScore),
		log:      o.Logger.With("component", "search"),
	}
	if err := idx.openCollection(); err != nil {
		return nil, err
	}
	idx.log.Info("[search] opened", "path", dir, "documents", idx.coll.Count())
	return idx, nil
}

func (idx *Index) openCollection() error {
	coll, err := idx.db.GetOrCreateCollection(collectionName, map[string]string{
		"dim": fmt.Sprint(idx.embedder.Dim),
	}, idx.embedder.Func())
	if err != nil {
		return fmt.Errorf("open search collection: %w", err)
	}
	idx.coll = coll
	return nil
}

func frameworkKey(name string) string { return "fw:" + types.NormalizeFramework(name) }

func patternKey(name string) string { return "pt:" + strings.TrimSpace(name) }

func document(chunk *types.Chunk) chromemgo.Document {
	meta := map[string]string{"type": string(chunk.Type)}
	for _, fw := range chunk.Metadata.Frameworks {
		if types.NormalizeFramework(fw) != "" {
			meta[frameworkKey(fw)] = "1"
		}
	}
	if code, ok := chunk.Content.(*types.CodeContent); ok && code.Framework != "" {
		meta[frameworkKey(code.Framework)] = "1"
	}
	for _, p := range chunk.Metadata.Patterns {
		if strings.TrimSpace(p) != "" {
			meta[patternKey(p)] = "1"
		}
	}
	text := chunk.SearchableText()
	if strings.TrimSpace(text) == "" {
		text = string(chunk.ID)
	}
	return chromemgo.Document{ID: string(chunk.ID), Metadata: meta, Content: text}
}

func (idx *Index) IndexChunk(ctx context.Context, chunk *types.Chunk) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return fmt.Errorf("search index closed")
	}
	if err := idx.coll.AddDocument(ctx, document(chunk)); err != nil {
		return fmt.Errorf("index chunk %s: %w", chunk.ID, err)
	}
	return nil
}

func (idx *Index) RemoveChunk(ctx context.Context, id types.ChunkID) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return fmt.Errorf("search index closed")
	}
	if err := idx.coll.Delete(ctx, nil, nil, string(id)); err != nil {
		return fmt.Errorf("remove chunk %s from search: %w", id, err)
	}
	return nil
}

// query runs a nearest-neighbour lookup. Unfiltered results below the minimum
// score are dropped; filtered results are ranked but kept.
func (idx *Index) query(ctx context.Context, vec []float32, limit int, where map[string]string) ([]search.Hit, error) {
	idx.queries.Add(1)
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return nil, fmt.Errorf("search index closed")
	}
	n := min(limit, idx.coll.Count())
	if n <= 0 || vec == nil {
		return nil, nil
	}
	res, err := idx.coll.QueryEmbedding(ctx, vec, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}
	hits := make([]search.Hit, 0, len(res))
	for _, r := range res {
		if where == nil && r.Similarity < idx.minScore {
			continue
		}
		hits = append(hits, search.Hit{ID: types.ChunkID(r.ID), Score: r.Similarity})
	}
	return hits, nil
}

func (idx *Index) Search(ctx context.Context, query string, limit int) ([]search.Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, search.ErrEmptyQuery
	}
	return idx.query(ctx, idx.embedder.Vector(query), limit, nil)
}

func (idx *Index) SearchByFramework(ctx context.Context, framework string, limit int) ([]search.Hit, error) {
	if types.NormalizeFramework(framework) == "" {
		return nil, search.ErrEmptyQuery
	}
	vec := idx.embedder.Vector(framework)
	if vec == nil {
		vec = idx.embedder.placeholder()
	}
	return idx.query(ctx, vec, limit, map[string]string{frameworkKey(framework): "1"})
}

func (idx *Index) SearchByPattern(ctx context.Context, pattern string, limit int) ([]search.Hit, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, search.ErrEmptyQuery
	}
	vec := idx.embedder.Vector(pattern)
	if vec == nil {
		vec = idx.embedder.placeholder()
	}
	return idx.query(ctx, vec, limit, map[string]string{patternKey(pattern): "1"})
}

// FuzzySearch matches on character trigrams only, so misspelled terms still
// land near their correct form.
func (idx *Index) FuzzySearch(ctx context.Context, term string, limit int) ([]search.Hit, error) {
	if strings.TrimSpace(term) == "" {
		return nil, search.ErrEmptyQuery
	}
	return idx.query(ctx, idx.embedder.TrigramVector(term), limit, nil)
}

func (idx *Index) Commit(context.Context) error { return nil }

// Optimize writes a compressed snapshot of the collection beside it.
func (idx *Index) Optimize(context.Context) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return fmt.Errorf("search index closed")
	}
	path := filepath.Join(idx.dir, snapshotName)
	if err := idx.db.ExportToFile(path, true, "", collectionName); err != nil {
		return fmt.Errorf("export search snapshot: %w", err)
	}
	idx.log.Info("[search] snapshot", "path", path, "documents", idx.coll.Count())
	return nil
}

// Reset drops every document.
func (idx *Index) Reset(context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return fmt.Errorf("search index closed")
	}
	if err := idx.db.DeleteCollection(collectionName); err != nil {
		return fmt.Errorf("reset search index: %w", err)
	}
	return idx.openCollection()
}

func (idx *Index) Stats() search.Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return search.Stats{
		Documents: idx.coll.Count(),
		Queries:   idx.queries.Load(),
		Dim:       idx.embedder.Dim,
		Path:      idx.dir,
	}
}

func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.closed = true
	return nil
}
