package patterns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/samber/mo"
	"golang.org/x/sync/errgroup"

	"fluorite-memory/internal/index"
	"fluorite-memory/internal/types"
)

const maxExamples = 10

type Config struct {
	Threshold        float32 `json:"similarity_threshold"`
	MaxRelationships int     `json:"max_relationships"`
	LearningRate     float32 `json:"learning_rate"`
	// CandidateLimit bounds how many stored chunks one similarity query scores.
	CandidateLimit int   `json:"candidate_limit"`
	EmbeddingDim   int   `json:"embedding_dim"`
	MemoTokens     int64 `json:"memo_tokens"`
	// RebuildWorkers bounds concurrent similarity queries during a rebuild.
	RebuildWorkers int `json:"rebuild_workers"`
}

func DefaultConfig() Config {
	return Config{
		Threshold:        0.6,
		MaxRelationships: 20,
		LearningRate:     0.1,
		CandidateLimit:   256,
		EmbeddingDim:     384,
		MemoTokens:       1 << 20,
		RebuildWorkers:   4,
	}
}

// CandidateSource is the durable chunk set the analyzer draws candidates
// from. *storage.HybridStore satisfies it.
type CandidateSource interface {
	GetChunk(id types.ChunkID) (mo.Option[*types.Chunk], error)
	GetChunksByFramework(name string) ([]*types.Chunk, error)
	GetChunksByPattern(name string) ([]*types.Chunk, error)
	GetRecentChunks(limit int) ([]*types.Chunk, error)
	ForEach(ctx context.Context, fn func(*types.Chunk) error) error
}

type Options struct {
	Registry *Registry
	Index    *index.HnswIndex
	Logger   *slog.Logger
}

// Analyzer extracts patterns from chunks, keeps the relationship graph and
// scores chunk similarity. Storage reads happen outside its locks.
type Analyzer struct {
	cfg      Config
	source   CandidateSource
	registry *Registry
	vectors  *index.HnswIndex
	score    scorer
	log      *slog.Logger

	mu                sync.RWMutex
	codePatterns      map[string]*CodePattern
	frameworkPatterns map[string]*FrameworkPattern
	chunkPatterns     map[types.ChunkID][]string
	graph             *graph
	stats             PatternStats

	fbMu     sync.Mutex
	feedback FeedbackStats
}

// RebuildReport summarises a relationship rebuild.
type RebuildReport struct {
	Chunks       int `json:"chunks"`
	Edges        int `json:"edges"`
	Combinations int `json:"combinations"`
}

func New(cfg Config, source CandidateSource, o Options) (*Analyzer, error) {
	if source == nil {
		return nil, errors.New("patterns: nil candidate source")
	}
	def := DefaultConfig()
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = def.CandidateLimit
	}
	if cfg.RebuildWorkers <= 0 {
		cfg.RebuildWorkers = def.RebuildWorkers
	}
	if o.Registry == nil {
		o.Registry = DefaultRegistry()
	}
	if o.Index == nil {
		o.Index = index.NewHnswIndex()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	memo, err := newTokenMemo(cfg.MemoTokens)
	if err != nil {
		return nil, fmt.Errorf("token memo: %w", err)
	}

	a := &Analyzer{
		cfg:      cfg,
		source:   source,
		registry: o.Registry,
		vectors:  o.Index,
		score:    scorer{memo: memo},
		log:      o.Logger.With("component", "patterns"),
	}
	a.resetTables()
	return a, nil
}

func (a *Analyzer) resetTables() {
	a.codePatterns = make(map[string]*CodePattern)
	a.frameworkPatterns = make(map[string]*FrameworkPattern)
	a.chunkPatterns = make(map[types.ChunkID][]string)
	a.graph = newGraph()
	calls := a.stats.SimilarityCalculations
	a.stats = PatternStats{
		FrameworkPatterns:      make(map[string]uint64),
		PatternTypes:           make(map[PatternType]uint64),
		SimilarityCalculations: calls,
	}
}

func (a *Analyzer) Config() Config { return a.cfg }

func (a *Analyzer) Close() {
	a.score.memo.close()
}

func normalizedFrameworks(in []string) []string {
	out := make([]string, 0, len(in))
	for _, fw := range in {
		fw = types.NormalizeFramework(fw)
		if fw != "" && !slices.Contains(out, fw) {
			out = append(out, fw)
		}
	}
	return out
}

// detect runs the registry over a chunk's code. Chunks without code yield
// nothing.
func (a *Analyzer) detect(chunk *types.Chunk, frameworks []string) ([]Detection, []FrameworkPattern) {
	code, ok := chunk.Content.(*types.CodeContent)
	if !ok {
		return nil, nil
	}
	lang := DetectLanguage(code, chunk.Metadata.FilePath)

	tagged := frameworks
	if code.Framework != "" {
		tagged = []string{types.NormalizeFramework(code.Framework)}
	}
	if len(tagged) == 0 {
		tagged = []string{""}
	}

	var found []Detection
	for _, fw := range tagged {
		for _, d := range a.registry.Detect(Source{Language: lang, Framework: fw, Code: code.Code}) {
			if !slices.ContainsFunc(found, func(x Detection) bool { return x.Name == d.Name }) {
				found = append(found, d)
			}
		}
	}

	var fps []FrameworkPattern
	for _, fw := range frameworks {
		for _, fd := range a.registry.FrameworkDetectors(fw) {
			if fp, ok := fd.Detect(chunk.ID, code.Code); ok {
				fps = append(fps, fp)
			}
		}
	}
	return found, fps
}

// AnalyzeChunk records the chunk's code and framework patterns, its
// framework memberships and its embedding. Re-analysing a chunk replaces
// its previous memberships.
func (a *Analyzer) AnalyzeChunk(chunk *types.Chunk) error {
	if chunk == nil || chunk.Content == nil {
		return fmt.Errorf("pattern analysis: %w", types.ErrInvalidChunk)
	}
	frameworks := normalizedFrameworks(chunk.Metadata.Frameworks)
	detections, fps := a.detect(chunk, frameworks)

	if len(chunk.Embedding) > 0 {
		if err := a.vectors.Add(chunk.ID, chunk.Embedding); err != nil {
			a.log.Warn("embedding not indexed", "id", chunk.ID, "err", err)
		}
	} else {
		a.vectors.Remove(chunk.ID)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, seen := a.chunkPatterns[chunk.ID]; seen {
		a.graph.detach(chunk.ID)
		a.dropFrameworkPatterns(chunk.ID)
	}

	ids := make([]string, 0, len(detections))
	for _, d := range detections {
		id := slug(d.Name)
		ids = append(ids, id)
		p, ok := a.codePatterns[id]
		if !ok {
			p = &CodePattern{
				ID:         id,
				Name:       d.Name,
				Type:       d.Type,
				Signature:  d.Signature,
				Confidence: d.Confidence,
			}
			a.codePatterns[id] = p
		}
		p.UsageCount++
		for _, fw := range d.Frameworks {
			if !slices.Contains(p.Frameworks, fw) {
				p.Frameworks = append(p.Frameworks, fw)
			}
		}
		if !slices.Contains(p.Examples, chunk.ID) {
			p.Examples = append(p.Examples, chunk.ID)
			if len(p.Examples) > maxExamples {
				p.Examples = p.Examples[len(p.Examples)-maxExamples:]
			}
		}
		a.stats.PatternTypes[d.Type]++
	}
	a.chunkPatterns[chunk.ID] = ids

	for _, fp := range fps {
		a.frameworkPatterns[fp.ID] = &fp
	}

	if a.graph.addChunk(chunk.ID, frameworks) {
		a.stats.RelationshipDiscoveries++
	}

	a.stats.TotalPatterns++
	for _, fw := range frameworks {
		a.stats.FrameworkPatterns[fw]++
	}

	a.log.Debug("chunk analyzed", "id", chunk.ID, "patterns", len(ids), "framework_patterns", len(fps))
	return nil
}

func (a *Analyzer) dropFrameworkPatterns(id types.ChunkID) {
	for key, fp := range a.frameworkPatterns {
		if fp.Chunk == id {
			delete(a.frameworkPatterns, key)
		}
	}
}

// Forget removes every trace of id from the analyzer's tables.
func (a *Analyzer) Forget(id types.ChunkID) {
	a.vectors.Remove(id)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.graph.remove(id)
	a.dropFrameworkPatterns(id)
	for _, pid := range a.chunkPatterns[id] {
		if p, ok := a.codePatterns[pid]; ok {
			p.Examples = slices.DeleteFunc(p.Examples, func(c types.ChunkID) bool { return c == id })
		}
	}
	delete(a.chunkPatterns, id)
}

// FindSimilar scores stored candidates against chunk and returns those at
// or above the threshold, best first. chunk itself is never returned.
func (a *Analyzer) FindSimilar(ctx context.Context, chunk *types.Chunk, limit int) ([]types.SimilarityMatch, error) {
	return a.findSimilar(ctx, chunk, limit, sourceLookup{a.source})
}

func (a *Analyzer) findSimilar(ctx context.Context, chunk *types.Chunk, limit int, lookup candidateLookup) ([]types.SimilarityMatch, error) {
	if chunk == nil || limit <= 0 {
		return nil, nil
	}
	candidates, err := a.candidates(ctx, chunk, lookup)
	if err != nil {
		return nil, fmt.Errorf("pattern analysis: %w", err)
	}

	matches := make([]types.SimilarityMatch, 0, len(candidates))
	for _, c := range candidates {
		if c.ID == chunk.ID {
			continue
		}
		s := a.score.score(chunk, c)
		combined := s.Combined()
		if combined < a.cfg.Threshold {
			continue
		}
		matches = append(matches, types.SimilarityMatch{Chunk: c, Score: combined, Kind: s.Dominant()})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Chunk.ID < matches[j].Chunk.ID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	a.mu.Lock()
	a.stats.SimilarityCalculations++
	a.mu.Unlock()
	return matches, nil
}

// Score returns the similarity components for a pair of chunks.
func (a *Analyzer) Score(x, y *types.Chunk) Scores {
	return a.score.score(x, y)
}

// candidates gathers up to CandidateLimit distinct chunks other than chunk:
// embedding neighbours, then pattern and framework index members, then the
// most recently accessed chunks.
func (a *Analyzer) candidates(ctx context.Context, chunk *types.Chunk, lookup candidateLookup) ([]*types.Chunk, error) {
	limit := a.cfg.CandidateLimit
	seen := map[types.ChunkID]bool{chunk.ID: true}
	out := make([]*types.Chunk, 0, limit)
	add := func(cs []*types.Chunk) {
		for _, c := range cs {
			if len(out) >= limit {
				return
			}
			if c == nil || seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			out = append(out, c)
		}
	}

	if len(chunk.Embedding) > 0 {
		hits, err := a.vectors.Search(chunk.Embedding, limit)
		if err != nil {
			a.log.Debug("embedding search skipped", "id", chunk.ID, "err", err)
		}
		for _, h := range hits {
			if seen[h.ID] {
				continue
			}
			c, err := lookup.get(h.ID)
			if err != nil {
				return nil, err
			}
			if c != nil {
				add([]*types.Chunk{c})
			}
		}
	}

	for _, p := range uniqueTrimmed(chunk.Metadata.Patterns) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cs, err := lookup.byPattern(p)
		if err != nil {
			return nil, err
		}
		add(cs)
	}
	for _, fw := range normalizedFrameworks(chunk.Metadata.Frameworks) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cs, err := lookup.byFramework(fw)
		if err != nil {
			return nil, err
		}
		add(cs)
	}

	if len(out) < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cs, err := lookup.recent(limit)
		if err != nil {
			return nil, err
		}
		add(cs)
	}
	return out, nil
}

func uniqueTrimmed(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// RecordMatches stores similarity matches as Similar edges from id,
// keeping at most MaxRelationships.
func (a *Analyzer) RecordMatches(id types.ChunkID, matches []types.SimilarityMatch) int {
	edges := make([]WeightedEdge, 0, len(matches))
	for _, m := range matches {
		if m.Chunk == nil || m.Chunk.ID == id {
			continue
		}
		edges = append(edges, WeightedEdge{
			Target:     m.Chunk.ID,
			Type:       types.RelSimilar,
			Weight:     m.Score,
			Confidence: m.Score,
		})
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.graph.link(id, edges, a.cfg.MaxRelationships)
	a.stats.RelationshipDiscoveries += uint64(n)
	return n
}

// Relationships returns the discovered edges from id, strongest first.
func (a *Analyzer) Relationships(id types.ChunkID) []WeightedEdge {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.graph.adjacency[id])
}

// FrameworkChunks lists the chunks analysed under framework.
func (a *Analyzer) FrameworkChunks(framework string) []types.ChunkID {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.graph.frameworks[types.NormalizeFramework(framework)]
	if !ok {
		return nil
	}
	return slices.Clone(r.primary)
}

// FrameworkCombinations returns recorded combinations that include both
// frameworks.
func (a *Analyzer) FrameworkCombinations(first, second string) []FrameworkCombination {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.graph.combinationsWith(types.NormalizeFramework(first), types.NormalizeFramework(second))
}

func (a *Analyzer) NextjsLaravelPatterns() []FrameworkCombination {
	return a.FrameworkCombinations("nextjs", "laravel")
}

// CodePatterns returns a copy of the code pattern table ordered by id.
func (a *Analyzer) CodePatterns() []CodePattern {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]CodePattern, 0, len(a.codePatterns))
	for _, p := range a.codePatterns {
		out = append(out, *p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (a *Analyzer) FrameworkPatterns() []FrameworkPattern {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]FrameworkPattern, 0, len(a.frameworkPatterns))
	for _, p := range a.frameworkPatterns {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ChunkPatterns lists the code pattern ids detected in id.
func (a *Analyzer) ChunkPatterns(id types.ChunkID) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.chunkPatterns[id])
}

func (a *Analyzer) Stats() PatternStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stats.clone()
}

func (a *Analyzer) FeedbackStats() FeedbackStats {
	a.fbMu.Lock()
	defer a.fbMu.Unlock()
	return a.feedback
}

// FeedbackAdjustment is the weight change a feedback type produces.
func FeedbackAdjustment(t types.FeedbackType, learningRate float32) float32 {
	switch t {
	case types.FeedbackHelpful:
		return learningRate
	case types.FeedbackNotHelpful:
		return -learningRate
	case types.FeedbackNeedsImprovement:
		return -learningRate * 0.5
	case types.FeedbackHasErrors:
		return -learningRate * 2
	default:
		return 0
	}
}

// UpdateFromFeedback counts the feedback, recomputes accuracy and shifts
// the confidence of the patterns detected in id. It returns the adjustment
// applied.
func (a *Analyzer) UpdateFromFeedback(id types.ChunkID, fb types.Feedback) float32 {
	adj := FeedbackAdjustment(fb.Type, a.cfg.LearningRate)

	a.fbMu.Lock()
	a.feedback.Total++
	switch fb.Type {
	case types.FeedbackHelpful:
		a.feedback.Helpful++
	case types.FeedbackNotHelpful:
		a.feedback.NotHelpful++
	case types.FeedbackNeedsImprovement:
		a.feedback.Improvements++
	case types.FeedbackHasErrors:
		a.feedback.ErrorReports++
	}
	a.feedback.Accuracy = float64(a.feedback.Helpful) / float64(max(a.feedback.Total, 1))
	a.feedback.WeightAdjustment += float64(adj)
	a.fbMu.Unlock()

	if adj != 0 {
		a.mu.Lock()
		for _, pid := range a.chunkPatterns[id] {
			if p, ok := a.codePatterns[pid]; ok {
				p.Confidence = types.Clamp01(p.Confidence + adj)
			}
		}
		a.mu.Unlock()
	}

	a.log.Debug("feedback applied", "id", id, "type", fb.Type, "adjustment", adj)
	return adj
}

// RebuildRelationships clears every derived table and rebuilds it from the
// durable chunk set: patterns and memberships first, then similarity edges.
func (a *Analyzer) RebuildRelationships(ctx context.Context) (RebuildReport, error) {
	var pool []*types.Chunk
	err := a.source.ForEach(ctx, func(c *types.Chunk) error {
		pool = append(pool, c)
		return nil
	})
	if err != nil {
		return RebuildReport{}, fmt.Errorf("rebuild relationships: %w", err)
	}

	a.vectors.Reset()
	a.mu.Lock()
	a.resetTables()
	a.mu.Unlock()

	for _, c := range pool {
		if err := a.AnalyzeChunk(c); err != nil {
			a.log.Warn("skipping chunk in rebuild", "id", c.ID, "err", err)
		}
	}

	lookup := newPoolLookup(pool)
	var (
		mu    sync.Mutex
		edges int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.RebuildWorkers)
	for _, c := range pool {
		g.Go(func() error {
			matches, err := a.findSimilar(gctx, c, a.cfg.MaxRelationships, lookup)
			if err != nil {
				return err
			}
			n := a.RecordMatches(c.ID, matches)
			mu.Lock()
			edges += n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RebuildReport{}, fmt.Errorf("rebuild relationships: %w", err)
	}

	a.mu.RLock()
	report := RebuildReport{Chunks: len(pool), Edges: edges, Combinations: len(a.graph.combinations)}
	a.mu.RUnlock()
	a.log.Info("relationships rebuilt", "chunks", report.Chunks, "edges", report.Edges, "combinations", report.Combinations)
	return report, nil
}

// EdgeCount is the number of chunk-to-chunk edges in the graph.
func (a *Analyzer) EdgeCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.graph.edgeCount()
}
