package storage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"fluorite-memory/internal/types"
)

func newTestStore(t *testing.T) (*HybridStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewHybridStore(dir, Options{CompressionLevel: 6})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func taggedChunk(id string, frameworks, patterns []string) *types.Chunk {
	c := types.NewChunk(types.ChunkID(id), types.TypeComponent, &types.CodeContent{Language: "tsx", Code: "export const " + id + " = () => null"})
	c.Metadata.Frameworks = frameworks
	c.Metadata.Patterns = patterns
	return c
}

func ids(chunks []*types.Chunk) []types.ChunkID {
	out := make([]types.ChunkID, len(chunks))
	for i, c := range chunks {
		out[i] = c.ID
	}
	return out
}

func TestStoreAndGet(t *testing.T) {
	s, _ := newTestStore(t)
	c := fullChunk()

	rev, err := s.StoreChunk(c)
	require.NoError(t, err)
	assert.NotZero(t, rev)

	opt, err := s.GetChunk(c.ID)
	require.NoError(t, err)
	got, ok := opt.Get()
	require.True(t, ok)

	c.Revision = rev
	assert.Equal(t, c, got)

	missing, err := s.GetChunk("nope")
	require.NoError(t, err)
	assert.True(t, missing.IsAbsent())
}

func TestStoreRejectsInvalidChunk(t *testing.T) {
	s, _ := newTestStore(t)
	c := fullChunk()
	c.QualityScore = 2

	_, err := s.StoreChunk(c)
	assert.ErrorIs(t, err, types.ErrInvalidChunk)
}

func TestRevisionsIncrease(t *testing.T) {
	s, _ := newTestStore(t)
	c := taggedChunk("a", nil, nil)

	r1, err := s.StoreChunk(c)
	require.NoError(t, err)
	r2, err := s.StoreChunk(c)
	require.NoError(t, err)
	assert.Greater(t, r2, r1)
}

func TestFrameworkIndexCompleteness(t *testing.T) {
	s, _ := newTestStore(t)

	var want []types.ChunkID
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("next-%d", i)
		_, err := s.StoreChunk(taggedChunk(id, []string{"nextjs"}, nil))
		require.NoError(t, err)
		want = append(want, types.ChunkID(id))

		_, err = s.StoreChunk(taggedChunk(fmt.Sprintf("lara-%d", i), []string{"laravel"}, nil))
		require.NoError(t, err)
	}
	// Re-storing must not duplicate index entries.
	_, err := s.StoreChunk(taggedChunk("next-3", []string{"nextjs"}, nil))
	require.NoError(t, err)

	got, err := s.GetChunksByFramework("nextjs")
	require.NoError(t, err)
	assert.ElementsMatch(t, want, ids(got))

	idx, err := s.FrameworkIDs("NextJS")
	require.NoError(t, err)
	assert.Len(t, idx, 10)
}

func TestFrameworkCounts(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.StoreChunk(taggedChunk("a", []string{"nextjs"}, []string{"hook"}))
	require.NoError(t, err)
	_, err = s.StoreChunk(taggedChunk("b", []string{"nextjs", "laravel"}, []string{"hook"}))
	require.NoError(t, err)

	next, err := s.GetChunksByFramework("nextjs")
	require.NoError(t, err)
	lara, err := s.GetChunksByFramework("laravel")
	require.NoError(t, err)
	hook, err := s.GetChunksByPattern("hook")
	require.NoError(t, err)

	assert.Len(t, next, 2)
	assert.Len(t, lara, 1)
	assert.Len(t, hook, 2)
}

func TestUpdateReindexes(t *testing.T) {
	s, _ := newTestStore(t)
	c := taggedChunk("a", []string{"react"}, []string{"hook"})
	_, err := s.StoreChunk(c)
	require.NoError(t, err)

	c.Metadata.Frameworks = []string{"vue"}
	c.Metadata.Patterns = []string{"composable"}
	_, err = s.UpdateChunk(c)
	require.NoError(t, err)

	react, err := s.GetChunksByFramework("react")
	require.NoError(t, err)
	assert.Empty(t, react)
	hook, err := s.PatternIDs("hook")
	require.NoError(t, err)
	assert.Empty(t, hook)

	vue, err := s.GetChunksByFramework("vue")
	require.NoError(t, err)
	assert.Equal(t, []types.ChunkID{"a"}, ids(vue))

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.TotalChunks)
}

func TestDelete(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.StoreChunk(taggedChunk("a", []string{"react"}, []string{"hook"}))
	require.NoError(t, err)
	_, err = s.StoreChunk(taggedChunk("b", []string{"react"}, nil))
	require.NoError(t, err)

	deleted, err := s.DeleteChunk("a")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteChunk("a")
	require.NoError(t, err)
	assert.False(t, deleted)

	opt, err := s.GetChunk("a")
	require.NoError(t, err)
	assert.True(t, opt.IsAbsent())

	react, err := s.FrameworkIDs("react")
	require.NoError(t, err)
	assert.Equal(t, []types.ChunkID{"b"}, react)
	hook, err := s.PatternIDs("hook")
	require.NoError(t, err)
	assert.Empty(t, hook)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.TotalChunks)
}

func TestRemoveFromIndexesWithoutReverseEntry(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.StoreChunk(taggedChunk("a", []string{"react", "nextjs"}, []string{"hook"}))
	require.NoError(t, err)

	// Simulate a record written before the reverse index existed.
	require.NoError(t, s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTags).Delete([]byte("a"))
	}))
	require.NoError(t, s.RemoveFromIndexes("a"))

	for _, fw := range []string{"react", "nextjs"} {
		got, err := s.FrameworkIDs(fw)
		require.NoError(t, err)
		assert.Empty(t, got, fw)
	}
	hook, err := s.PatternIDs("hook")
	require.NoError(t, err)
	assert.Empty(t, hook)
}

func TestIndexSkipsVanishedChunks(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.StoreChunk(taggedChunk("a", []string{"react"}, nil))
	require.NoError(t, err)

	require.NoError(t, s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChunks).Delete(chunkKey("a"))
	}))

	got, err := s.GetChunksByFramework("react")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecentChunksSkipsCorrupt(t *testing.T) {
	s, _ := newTestStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		c := taggedChunk(fmt.Sprintf("c%d", i), nil, nil)
		c.Metadata.LastAccessed = base.Add(time.Duration(i) * time.Hour)
		_, err := s.StoreChunk(c)
		require.NoError(t, err)
	}
	require.NoError(t, s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChunks).Put(chunkKey("broken"), []byte{1, 0, 0, 0, 0, 0, 0, 0, 1, 'x'})
	}))

	recent, err := s.GetRecentChunks(3)
	require.NoError(t, err)
	assert.Equal(t, []types.ChunkID{"c4", "c3", "c2"}, ids(recent))

	none, err := s.GetRecentChunks(0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestForEachCrossesBatches(t *testing.T) {
	s, _ := newTestStore(t)
	n := scanBatch + 17
	for i := 0; i < n; i++ {
		_, err := s.StoreChunk(taggedChunk(fmt.Sprintf("c%04d", i), nil, nil))
		require.NoError(t, err)
	}

	seen := make(map[types.ChunkID]bool)
	require.NoError(t, s.ForEach(context.Background(), func(c *types.Chunk) error {
		seen[c.ID] = true
		return nil
	}))
	assert.Len(t, seen, n)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.ForEach(ctx, func(*types.Chunk) error { return nil }), context.Canceled)
}

func TestCompressionStats(t *testing.T) {
	s, _ := newTestStore(t)
	c := types.NewChunk("big", types.TypePattern, &types.CodeContent{Language: "text", Code: strings.Repeat("a", 10000)})
	_, err := s.StoreChunk(c)
	require.NoError(t, err)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.TotalChunks)
	assert.Less(t, st.CompressionRatio, 1.0)
	assert.Greater(t, st.UncompressedBytes, st.CompressedBytes)
	assert.Greater(t, st.DatabaseSizeBytes, int64(0))
}

func TestOptimizeKeepsDataAndRecordsTime(t *testing.T) {
	s, _ := newTestStore(t)
	for i := 0; i < 50; i++ {
		_, err := s.StoreChunk(taggedChunk(fmt.Sprintf("c%d", i), []string{"react"}, nil))
		require.NoError(t, err)
	}
	for i := 0; i < 40; i++ {
		_, err := s.DeleteChunk(types.ChunkID(fmt.Sprintf("c%d", i)))
		require.NoError(t, err)
	}
	before, err := s.Metadata()
	require.NoError(t, err)
	assert.True(t, before.LastOptimized.IsZero())

	require.NoError(t, s.Optimize())

	after, err := s.Metadata()
	require.NoError(t, err)
	assert.False(t, after.LastOptimized.IsZero())
	assert.Equal(t, uint64(10), after.TotalChunks)

	react, err := s.GetChunksByFramework("react")
	require.NoError(t, err)
	assert.Len(t, react, 10)

	// Revisions keep increasing after the file swap.
	rev, err := s.StoreChunk(taggedChunk("new", nil, nil))
	require.NoError(t, err)
	assert.Greater(t, rev, uint64(50))

	_, err = os.Stat(s.Path() + ".compact")
	assert.True(t, os.IsNotExist(err))
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	s, err := NewHybridStore(dir, Options{})
	require.NoError(t, err)
	_, err = s.StoreChunk(taggedChunk("a", []string{"laravel"}, []string{"controller"}))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.GetChunk("a")
	assert.ErrorIs(t, err, ErrClosed)

	s2, err := NewHybridStore(dir, Options{})
	require.NoError(t, err)
	defer s2.Close()

	opt, err := s2.GetChunk("a")
	require.NoError(t, err)
	assert.True(t, opt.IsPresent())

	got, err := s2.GetChunksByPattern("controller")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	meta, err := s2.Metadata()
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, meta.Version)
	assert.Equal(t, uint64(1), meta.TotalChunks)
}

func TestConcurrentStores(t *testing.T) {
	s, _ := newTestStore(t)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_, err := s.StoreChunk(taggedChunk(fmt.Sprintf("g%d-%d", g, i), []string{"nextjs"}, nil))
				assert.NoError(t, err)
			}
		}(g)
	}
	wg.Wait()

	got, err := s.FrameworkIDs("nextjs")
	require.NoError(t, err)
	assert.Len(t, got, 160)
	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(160), st.TotalChunks)
}
