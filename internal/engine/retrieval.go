package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"fluorite-memory/internal/search"
	"fluorite-memory/internal/types"
)

// RankingConfig weights the re-ranking of integration recommendations.
type RankingConfig struct {
	QualityWeight    float32 `json:"quality_weight"`
	RecencyWeight    float32 `json:"recency_weight"`
	ConfidenceWeight float32 `json:"confidence_weight"`
}

func DefaultRankingConfig() RankingConfig {
	return RankingConfig{
		QualityWeight:    0.5,
		RecencyWeight:    0.2,
		ConfidenceWeight: 0.3,
	}
}

type ScoredChunk struct {
	Chunk *types.Chunk `json:"chunk"`
	Score float32      `json:"score"`
}

// SearchMode selects which search collaborator query runs.
type SearchMode string

const (
	SearchText      SearchMode = "text"
	SearchFuzzy     SearchMode = "fuzzy"
	SearchFramework SearchMode = "framework"
	SearchPattern   SearchMode = "pattern"
)

// SearchChunks runs a text query against the search index and resolves the
// hits through the cache. Hits whose chunk has since vanished are skipped.
func (e *MemoryEngine) SearchChunks(ctx context.Context, query string, limit int) ([]ScoredChunk, error) {
	return e.Search(ctx, SearchText, query, limit)
}

func (e *MemoryEngine) Search(ctx context.Context, mode SearchMode, query string, limit int) ([]ScoredChunk, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.search == nil {
		return nil, ErrSearchDisabled
	}
	e.counters.searchQuery()

	var (
		hits []search.Hit
		err  error
	)
	switch mode {
	case SearchFuzzy:
		hits, err = e.search.FuzzySearch(ctx, query, limit)
	case SearchFramework:
		hits, err = e.search.SearchByFramework(ctx, query, limit)
	case SearchPattern:
		hits, err = e.search.SearchByPattern(ctx, query, limit)
	case SearchText, "":
		hits, err = e.search.Search(ctx, query, limit)
	default:
		return nil, fmt.Errorf("unknown search mode %q", mode)
	}
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}

	out := make([]ScoredChunk, 0, len(hits))
	for _, h := range hits {
		c, ok, err := e.GetChunk(ctx, h.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			e.log.Warn("[search] stale hit", "id", h.ID)
			continue
		}
		out = append(out, ScoredChunk{Chunk: c, Score: h.Score})
	}
	return out, nil
}

// Recommendation is a chunk that implements a framework combination.
type Recommendation struct {
	Chunk       *types.Chunk `json:"chunk"`
	Combination string       `json:"combination"`
	Confidence  float32      `json:"confidence"`
	Quality     float32      `json:"quality"`
	Recency     float32      `json:"recency"`
	Score       float32      `json:"score"`
}

// RecommendIntegrations ranks the chunks behind every recorded combination of
// first and second by quality, recency and combination confidence.
func (e *MemoryEngine) RecommendIntegrations(ctx context.Context, first, second string, limit int) ([]Recommendation, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	w := e.cfg.Ranking
	combos := e.analyzer.FrameworkCombinations(first, second)

	seen := make(map[types.ChunkID]bool)
	candidates := make([]Recommendation, 0)
	for _, combo := range combos {
		for _, id := range combo.Chunks {
			if seen[id] {
				continue
			}
			seen[id] = true
			c, ok, err := e.GetChunk(ctx, id)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			recency := calculateRecency(c.Metadata.LastAccessed)
			finalScore := c.QualityScore*w.QualityWeight + recency*w.RecencyWeight + combo.Confidence*w.ConfidenceWeight
			candidates = append(candidates, Recommendation{
				Chunk:       c,
				Combination: combo.PatternName,
				Confidence:  combo.Confidence,
				Quality:     c.QualityScore,
				Recency:     recency,
				Score:       finalScore,
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// calculateRecency decays from 1 toward 0 with a one-day half-weight.
func calculateRecency(t time.Time) float32 {
	if t.IsZero() {
		return 0.5
	}
	hours := max(time.Since(t).Hours(), 0)
	return float32(1.0 / (1.0 + hours/24.0))
}
