package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/mo"
	"golang.org/x/sync/errgroup"

	"fluorite-memory/internal/cache"
	"fluorite-memory/internal/patterns"
	"fluorite-memory/internal/search"
	"fluorite-memory/internal/search/chromem"
	"fluorite-memory/internal/storage"
	"fluorite-memory/internal/types"
)

var (
	ErrSearchDisabled = errors.New("engine: search is not enabled")
	ErrChunkNotFound  = errors.New("engine: chunk not found")
	ErrClosed         = errors.New("engine: closed")
)

// State is the engine lifecycle position.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}
	return "uninitialized"
}

type Option func(*options)

type options struct {
	logger   *slog.Logger
	searcher search.Searcher
	registry *patterns.Registry
}

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithSearcher replaces the default chromem index. It is used even when
// EnableSearch is false.
func WithSearcher(s search.Searcher) Option { return func(o *options) { o.searcher = s } }

func WithRegistry(r *patterns.Registry) Option { return func(o *options) { o.registry = r } }

// MemoryEngine coordinates storage, the hot cache, the search index and the
// pattern analyzer. Each collaborator has its own lock; the engine adds none
// around I/O.
type MemoryEngine struct {
	cfg      Config
	store    *storage.HybridStore
	cache    *cache.LRU
	search   search.Searcher
	analyzer *patterns.Analyzer
	log      *slog.Logger

	stateMu sync.RWMutex
	state   State

	counters counters
}

// New opens every component under cfg.StoragePath and warms the cache with
// the most recently accessed chunks.
func New(ctx context.Context, cfg Config, opts ...Option) (*MemoryEngine, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	e := &MemoryEngine{cfg: cfg, log: o.logger.With("component", "engine"), state: StateInitializing}
	e.log.Info("[init] starting", "path", cfg.StoragePath, "search", cfg.EnableSearch)

	if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	so := cfg.storageOptions()
	so.Logger = o.logger
	store, err := storage.NewHybridStore(cfg.StoragePath, so)
	if err != nil {
		return nil, fmt.Errorf("initialize storage: %w", err)
	}
	e.store = store
	e.cache = cache.New(cfg.cacheConfig())

	switch {
	case o.searcher != nil:
		e.search = o.searcher
	case cfg.EnableSearch:
		idx, err := chromem.Open(filepath.Join(cfg.StoragePath, "search"), chromem.Options{
			Dim:      cfg.SearchDim,
			MinScore: mo.Some(cfg.SearchMinScore),
			Logger:   o.logger,
		})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("initialize search: %w", err)
		}
		e.search = idx
	}

	e.analyzer, err = patterns.New(cfg.patternConfig(), store, patterns.Options{
		Registry: o.registry,
		Logger:   o.logger,
	})
	if err != nil {
		e.closeComponents()
		return nil, fmt.Errorf("initialize pattern analyzer: %w", err)
	}

	if err := e.warmup(ctx); err != nil {
		e.closeComponents()
		return nil, err
	}

	e.setState(StateReady)
	e.log.Info("[init] ready", "cached", e.cache.Stats().Chunks)
	return e, nil
}

func (e *MemoryEngine) warmup(ctx context.Context) error {
	recent, err := e.store.GetRecentChunks(e.cfg.MaxHotChunks / 2)
	if err != nil {
		return fmt.Errorf("cache warm-up: %w", err)
	}
	for _, c := range recent {
		e.cache.Insert(c.ID, c)
	}
	if e.cfg.RebuildOnStart && len(recent) > 0 {
		if _, err := e.analyzer.RebuildRelationships(ctx); err != nil {
			return fmt.Errorf("pattern analysis: %w", err)
		}
	}
	return nil
}

func (e *MemoryEngine) setState(s State) {
	e.stateMu.Lock()
	e.state = s
	e.stateMu.Unlock()
}

func (e *MemoryEngine) State() State {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

func (e *MemoryEngine) ready() error {
	if e.State() != StateReady {
		return ErrClosed
	}
	return nil
}

func (e *MemoryEngine) Config() Config { return e.cfg }

// SearchEnabled reports whether a search collaborator is attached.
func (e *MemoryEngine) SearchEnabled() bool { return e.search != nil }

// StoreChunk writes chunk through storage, cache, search and the analyzer, in
// that order. The returned error names the step that failed; earlier steps
// stay applied.
func (e *MemoryEngine) StoreChunk(ctx context.Context, chunk *types.Chunk) (types.ChunkID, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	if err := chunk.Validate(); err != nil {
		return "", err
	}
	c := chunk.Clone()
	c.Sanitize()
	if err := e.persist(ctx, c, true); err != nil {
		return c.ID, err
	}
	e.log.Debug("[store] chunk", "id", c.ID, "rev", c.Revision)
	return c.ID, nil
}

// persist is the shared write path. analyze is false for writes that only
// change derived fields such as the quality score.
func (e *MemoryEngine) persist(ctx context.Context, c *types.Chunk, analyze bool) error {
	rev, err := e.store.StoreChunk(c)
	if err != nil {
		return fmt.Errorf("storage write: %w", err)
	}
	c.Revision = rev
	e.counters.diskWrite()

	e.cache.Insert(c.ID, c)

	if e.search != nil {
		if err := e.search.IndexChunk(ctx, c); err != nil {
			return fmt.Errorf("search indexing: %w", err)
		}
	}
	if analyze {
		if err := e.analyzer.AnalyzeChunk(c); err != nil {
			return fmt.Errorf("pattern analysis: %w", err)
		}
	}
	return nil
}

// BatchFailure names a chunk that could not be stored.
type BatchFailure struct {
	ID    types.ChunkID `json:"id"`
	Error string        `json:"error"`
}

type BatchResult struct {
	Succeeded []types.ChunkID `json:"succeeded"`
	Failed    []BatchFailure  `json:"failed"`
}

// StoreChunks stores chunks concurrently. One failure does not stop the
// others; results keep input order.
func (e *MemoryEngine) StoreChunks(ctx context.Context, chunks []*types.Chunk) (BatchResult, error) {
	if err := e.ready(); err != nil {
		return BatchResult{}, err
	}
	errs := make([]error, len(chunks))
	var g errgroup.Group
	g.SetLimit(max(e.cfg.BatchWorkers, 1))
	for i, c := range chunks {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			_, errs[i] = e.StoreChunk(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	res := BatchResult{Succeeded: []types.ChunkID{}, Failed: []BatchFailure{}}
	for i, err := range errs {
		var id types.ChunkID
		if chunks[i] != nil {
			id = chunks[i].ID
		}
		if err != nil {
			res.Failed = append(res.Failed, BatchFailure{ID: id, Error: err.Error()})
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	e.log.Info("[store] batch", "succeeded", len(res.Succeeded), "failed", len(res.Failed))
	return res, nil
}

// GetChunk serves from the cache, falling back to storage and caching the
// result. A missing chunk is (nil, false, nil).
func (e *MemoryEngine) GetChunk(ctx context.Context, id types.ChunkID) (*types.Chunk, bool, error) {
	if err := e.ready(); err != nil {
		return nil, false, err
	}
	if c, ok := e.cache.Get(id); ok {
		e.counters.cacheHit()
		return c, true, nil
	}
	e.counters.cacheMiss()

	opt, err := e.store.GetChunk(id)
	if err != nil {
		return nil, false, fmt.Errorf("storage read: %w", err)
	}
	e.counters.diskRead()
	c, ok := opt.Get()
	if !ok {
		return nil, false, nil
	}
	e.cache.Insert(id, c)
	return c, true, nil
}

// UpdateChunk replaces an existing chunk, re-indexing and re-analysing it.
func (e *MemoryEngine) UpdateChunk(ctx context.Context, chunk *types.Chunk) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := chunk.Validate(); err != nil {
		return err
	}
	opt, err := e.store.GetChunk(chunk.ID)
	if err != nil {
		return fmt.Errorf("storage read: %w", err)
	}
	if opt.IsAbsent() {
		return fmt.Errorf("%w: %s", ErrChunkNotFound, chunk.ID)
	}
	c := chunk.Clone()
	c.Sanitize()
	return e.persist(ctx, c, true)
}

// DeleteChunk removes id everywhere and reports whether storage held it.
func (e *MemoryEngine) DeleteChunk(ctx context.Context, id types.ChunkID) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	existed, err := e.store.DeleteChunk(id)
	if err != nil {
		return false, fmt.Errorf("storage delete: %w", err)
	}
	e.cache.Remove(id)
	e.analyzer.Forget(id)
	if e.search != nil {
		if err := e.search.RemoveChunk(ctx, id); err != nil {
			return existed, fmt.Errorf("search removal: %w", err)
		}
	}
	e.counters.touch()
	e.log.Info("[delete] chunk", "id", id, "existed", existed)
	return existed, nil
}

// FindSimilar scores stored chunks against chunk. When chunk is the current
// stored revision of its id the matches are recorded as relationships.
func (e *MemoryEngine) FindSimilar(ctx context.Context, chunk *types.Chunk, limit int) ([]types.SimilarityMatch, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if chunk == nil {
		return nil, fmt.Errorf("%w: nil", types.ErrInvalidChunk)
	}
	matches, err := e.analyzer.FindSimilar(ctx, chunk, limit)
	if err != nil {
		return nil, fmt.Errorf("pattern analysis: %w", err)
	}
	e.counters.addPatternMatches(len(matches))
	if len(matches) > 0 {
		stored, err := e.isStoredRevision(chunk)
		if err != nil {
			return nil, err
		}
		if stored {
			e.analyzer.RecordMatches(chunk.ID, matches)
		}
	}
	return matches, nil
}

// isStoredRevision reports whether storage holds chunk's id at chunk's revision.
func (e *MemoryEngine) isStoredRevision(chunk *types.Chunk) (bool, error) {
	if chunk.Revision == 0 {
		return false, nil
	}
	opt, err := e.store.GetChunk(chunk.ID)
	if err != nil {
		return false, fmt.Errorf("storage read: %w", err)
	}
	e.counters.diskRead()
	stored, ok := opt.Get()
	return ok && stored.Revision == chunk.Revision, nil
}

// FindSimilarByID looks id up and runs FindSimilar on it.
func (e *MemoryEngine) FindSimilarByID(ctx context.Context, id types.ChunkID, limit int) ([]types.SimilarityMatch, error) {
	c, ok, err := e.GetChunk(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChunkNotFound, id)
	}
	return e.FindSimilar(ctx, c, limit)
}

func (e *MemoryEngine) GetFrameworkChunks(ctx context.Context, framework string) ([]*types.Chunk, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	chunks, err := e.store.GetChunksByFramework(framework)
	if err != nil {
		return nil, fmt.Errorf("framework index: %w", err)
	}
	e.counters.diskRead()
	return chunks, nil
}

func (e *MemoryEngine) GetPatternChunks(ctx context.Context, pattern string) ([]*types.Chunk, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	chunks, err := e.store.GetChunksByPattern(pattern)
	if err != nil {
		return nil, fmt.Errorf("pattern index: %w", err)
	}
	e.counters.diskRead()
	return chunks, nil
}

// Relationships returns the discovered edges from id, strongest first.
func (e *MemoryEngine) Relationships(id types.ChunkID) []patterns.WeightedEdge {
	return e.analyzer.Relationships(id)
}

func (e *MemoryEngine) CodePatterns() []patterns.CodePattern { return e.analyzer.CodePatterns() }

func (e *MemoryEngine) FrameworkCombinations(first, second string) []patterns.FrameworkCombination {
	return e.analyzer.FrameworkCombinations(first, second)
}

// FeedbackResult reports what a piece of feedback changed.
type FeedbackResult struct {
	ID           types.ChunkID `json:"id"`
	Adjustment   float32       `json:"adjustment"`
	QualityScore float32       `json:"quality_score"`
	Updated      bool          `json:"updated"`
}

// LearnFromFeedback updates the analyzer's weights and nudges the chunk's
// quality score by the same adjustment. Feedback on an unknown chunk is
// still counted.
func (e *MemoryEngine) LearnFromFeedback(ctx context.Context, id types.ChunkID, fb types.Feedback) (FeedbackResult, error) {
	if err := e.ready(); err != nil {
		return FeedbackResult{}, err
	}
	if fb.Timestamp.IsZero() {
		fb.Timestamp = types.Now()
	}
	adj := e.analyzer.UpdateFromFeedback(id, fb)
	res := FeedbackResult{ID: id, Adjustment: adj}

	c, ok, err := e.GetChunk(ctx, id)
	if err != nil {
		return res, err
	}
	if !ok {
		return res, nil
	}
	res.QualityScore = c.QualityScore
	if adj == 0 {
		return res, nil
	}
	c.QualityScore = types.Clamp01(c.QualityScore + adj)
	if err := e.persist(ctx, c, false); err != nil {
		return res, err
	}
	res.QualityScore = c.QualityScore
	res.Updated = true
	e.log.Info("[feedback] applied", "id", id, "type", fb.Type, "adjustment", adj, "quality", c.QualityScore)
	return res, nil
}

// OptimizeReport summarises an Optimize run.
type OptimizeReport struct {
	Storage   storage.Stats          `json:"storage"`
	Rebuild   patterns.RebuildReport `json:"rebuild"`
	Evicted   int                    `json:"expired_evicted"`
	SearchRan bool                   `json:"search_optimized"`
}

// Optimize compacts storage, optimizes the search index and rebuilds the
// relationship graph.
func (e *MemoryEngine) Optimize(ctx context.Context) (OptimizeReport, error) {
	if err := e.ready(); err != nil {
		return OptimizeReport{}, err
	}
	e.log.Info("[optimize] starting")
	var rep OptimizeReport
	if err := e.store.Optimize(); err != nil {
		return rep, fmt.Errorf("storage compaction: %w", err)
	}
	if e.search != nil {
		if err := e.search.Optimize(ctx); err != nil {
			return rep, fmt.Errorf("search optimize: %w", err)
		}
		rep.SearchRan = true
	}
	rebuild, err := e.analyzer.RebuildRelationships(ctx)
	if err != nil {
		return rep, fmt.Errorf("pattern analysis: %w", err)
	}
	rep.Rebuild = rebuild
	rep.Evicted = e.cache.CleanupExpired()
	if st, err := e.store.Stats(); err == nil {
		rep.Storage = st
	}
	e.counters.touch()
	e.log.Info("[optimize] done", "chunks", rebuild.Chunks, "edges", rebuild.Edges, "expired", rep.Evicted)
	return rep, nil
}

// ReindexSearch rebuilds the search index from storage.
func (e *MemoryEngine) ReindexSearch(ctx context.Context) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if e.search == nil {
		return 0, ErrSearchDisabled
	}
	if err := e.search.Reset(ctx); err != nil {
		return 0, fmt.Errorf("search reset: %w", err)
	}
	n := 0
	err := e.store.ForEach(ctx, func(c *types.Chunk) error {
		if err := e.search.IndexChunk(ctx, c); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("search indexing: %w", err)
	}
	if err := e.search.Commit(ctx); err != nil {
		return n, fmt.Errorf("search commit: %w", err)
	}
	e.log.Info("[reindex] done", "documents", n)
	return n, nil
}

// CleanupExpired drops cache entries idle past the TTL.
func (e *MemoryEngine) CleanupExpired() int {
	return e.cache.CleanupExpired()
}

// Health reports whether each component answers.
type Health struct {
	Status  string `json:"status"`
	State   string `json:"state"`
	Storage string `json:"storage"`
	Search  string `json:"search"`
}

func (e *MemoryEngine) Health(ctx context.Context) Health {
	h := Health{Status: "ok", State: e.State().String(), Storage: "ok", Search: "disabled"}
	if e.State() != StateReady {
		h.Status = "unavailable"
		return h
	}
	if _, err := e.store.Metadata(); err != nil {
		h.Status = "degraded"
		h.Storage = err.Error()
	}
	if e.search != nil {
		h.Search = "ok"
	}
	return h
}

// Close releases every component. It is safe to call twice.
func (e *MemoryEngine) Close() error {
	e.stateMu.Lock()
	if e.state == StateClosed {
		e.stateMu.Unlock()
		return nil
	}
	e.state = StateClosed
	e.stateMu.Unlock()
	err := e.closeComponents()
	e.log.Info("[shutdown] closed")
	return err
}

func (e *MemoryEngine) closeComponents() error {
	var errs []error
	if e.analyzer != nil {
		e.analyzer.Close()
	}
	if e.search != nil {
		errs = append(errs, e.search.Close())
	}
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	return errors.Join(errs...)
}
