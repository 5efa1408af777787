package storage

import (
	"context"

	"github.com/samber/mo"

	"fluorite-memory/internal/types"
)

// ChunkStore defines durable chunk storage with framework and pattern indexes.
type ChunkStore interface {
	// StoreChunk writes the chunk and its index entries, returning the assigned revision.
	StoreChunk(chunk *types.Chunk) (uint64, error)

	// UpdateChunk reindexes and rewrites an existing chunk.
	UpdateChunk(chunk *types.Chunk) (uint64, error)

	// GetChunk returns the stored chunk, or None if absent.
	GetChunk(id types.ChunkID) (mo.Option[*types.Chunk], error)

	// DeleteChunk removes the chunk and its index references.
	DeleteChunk(id types.ChunkID) (bool, error)

	GetChunksByFramework(name string) ([]*types.Chunk, error)
	GetChunksByPattern(name string) ([]*types.Chunk, error)

	// GetRecentChunks returns up to limit chunks ordered by last access, newest first.
	GetRecentChunks(limit int) ([]*types.Chunk, error)

	// ForEach streams every decodable chunk.
	ForEach(ctx context.Context, fn func(*types.Chunk) error) error

	Optimize() error
	Stats() (Stats, error)
	Close() error
}
