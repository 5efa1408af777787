package search

import (
	"context"
	"errors"

	"fluorite-memory/internal/types"
)

var ErrEmptyQuery = errors.New("search: empty query")

// Hit is a matching chunk id with its relevance in [-1,1].
type Hit struct {
	ID    types.ChunkID `json:"id"`
	Score float32       `json:"score"`
}

type Stats struct {
	Documents int    `json:"documents"`
	Queries   uint64 `json:"queries"`
	Dim       int    `json:"dim"`
	Path      string `json:"path"`
}

// Searcher is the text index kept alongside storage. It can be rebuilt from
// storage at any time.
type Searcher interface {
	IndexChunk(ctx context.Context, chunk *types.Chunk) error
	RemoveChunk(ctx context.Context, id types.ChunkID) error
	Search(ctx context.Context, query string, limit int) ([]Hit, error)
	SearchByFramework(ctx context.Context, framework string, limit int) ([]Hit, error)
	SearchByPattern(ctx context.Context, pattern string, limit int) ([]Hit, error)
	FuzzySearch(ctx context.Context, term string, limit int) ([]Hit, error)
	Commit(ctx context.Context) error
	Optimize(ctx context.Context) error
	Reset(ctx context.Context) error
	Stats() Stats
	Close() error
}
