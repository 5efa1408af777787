package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/samber/mo"
	"go.etcd.io/bbolt"

	"fluorite-memory/internal/types"
)

var (
	bucketChunks     = []byte("chunks")
	bucketFrameworks = []byte("framework_index")
	bucketPatterns   = []byte("pattern_index")
	bucketTags       = []byte("chunk_tags")
	bucketMetadata   = []byte("metadata")
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("storage: closed")

var _ ChunkStore = (*HybridStore)(nil)

const (
	chunkKeyPrefix = "chunk:"

	// Value frame: version byte, big-endian revision, compressed record.
	frameVersion    = 1
	frameHeaderSize = 9

	scanBatch         = 256
	compactTxMaxBytes = 4 << 20
)

type Options struct {
	CompressionLevel int
	Timeout          time.Duration
	Logger           *slog.Logger
}

// HybridStore keeps compressed chunks in bbolt together with framework and
// pattern indexes. Primary record, indexes and metadata commit in one transaction.
type HybridStore struct {
	path  string
	opts  *bbolt.Options
	codec *Codec
	log   *slog.Logger

	// mu guards the db handle, which Compact swaps.
	mu     sync.RWMutex
	db     *bbolt.DB
	closed bool
}

// NewHybridStore opens (or creates) chunks.db inside dir.
func NewHybridStore(dir string, o Options) (*HybridStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	codec, err := NewCodec(o.CompressionLevel)
	if err != nil {
		return nil, err
	}

	s := &HybridStore{
		path:  filepath.Join(dir, "chunks.db"),
		opts:  &bbolt.Options{Timeout: o.Timeout},
		codec: codec,
		log:   o.Logger.With("component", "storage"),
	}
	if err := s.open(); err != nil {
		codec.Close()
		return nil, err
	}
	return s, nil
}

func (s *HybridStore) open() error {
	db, err := bbolt.Open(s.path, 0o600, s.opts)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketChunks, bucketFrameworks, bucketPatterns, bucketTags, bucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		if tx.Bucket(bucketMetadata).Get(metadataKey) == nil {
			return writeMetadata(tx, newMetadata(types.Now()))
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("init buckets: %w", err)
	}
	s.db = db
	return nil
}

func chunkKey(id types.ChunkID) []byte {
	return []byte(chunkKeyPrefix + string(id))
}

func frame(rev uint64, payload []byte) []byte {
	out := make([]byte, frameHeaderSize+len(payload))
	out[0] = frameVersion
	binary.BigEndian.PutUint64(out[1:frameHeaderSize], rev)
	copy(out[frameHeaderSize:], payload)
	return out
}

func unframe(v []byte) (uint64, []byte, error) {
	if len(v) < frameHeaderSize || v[0] != frameVersion {
		return 0, nil, fmt.Errorf("bad record frame (len=%d)", len(v))
	}
	return binary.BigEndian.Uint64(v[1:frameHeaderSize]), v[frameHeaderSize:], nil
}

// view runs fn against the current handle under the read lock.
func (s *HybridStore) view(fn func(tx *bbolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.View(fn)
}

func (s *HybridStore) update(fn func(tx *bbolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.Update(fn)
}

// StoreChunk serializes and compresses chunk outside the write transaction,
// then writes record, indexes, reverse index and metadata atomically.
// Re-storing an existing id replaces its index entries.
func (s *HybridStore) StoreChunk(chunk *types.Chunk) (uint64, error) {
	if err := chunk.Validate(); err != nil {
		return 0, err
	}
	payload, rawLen, err := s.codec.Encode(chunk)
	if err != nil {
		return 0, fmt.Errorf("storage write: %w", err)
	}
	id := string(chunk.ID)
	tags := tagsOf(chunk)

	var rev uint64
	err = s.update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		key := chunkKey(chunk.ID)
		existed := b.Get(key) != nil

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put(key, frame(seq, payload)); err != nil {
			return err
		}
		if existed {
			if err := unindexTx(tx, id); err != nil {
				return fmt.Errorf("index update: %w", err)
			}
		}
		if err := indexTx(tx, id, tags); err != nil {
			return fmt.Errorf("index update: %w", err)
		}

		meta, err := readMetadata(tx)
		if err != nil {
			return err
		}
		if !existed {
			meta.TotalChunks++
		}
		meta.Compression.add(rawLen, len(payload))
		if err := writeMetadata(tx, meta); err != nil {
			return err
		}
		rev = seq
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store chunk %s: %w", chunk.ID, err)
	}
	s.log.Debug("chunk stored", "id", id, "rev", rev, "raw", rawLen, "compressed", len(payload))
	return rev, nil
}

// UpdateChunk is StoreChunk for a chunk whose tags may have changed.
func (s *HybridStore) UpdateChunk(chunk *types.Chunk) (uint64, error) {
	return s.StoreChunk(chunk)
}

func (s *HybridStore) GetChunk(id types.ChunkID) (mo.Option[*types.Chunk], error) {
	var raw []byte
	err := s.view(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketChunks).Get(chunkKey(id)); v != nil {
			raw = bytes.Clone(v)
		}
		return nil
	})
	if err != nil {
		return mo.None[*types.Chunk](), err
	}
	if raw == nil {
		return mo.None[*types.Chunk](), nil
	}
	chunk, err := s.decode(raw)
	if err != nil {
		return mo.None[*types.Chunk](), fmt.Errorf("get chunk %s: %w", id, err)
	}
	return mo.Some(chunk), nil
}

func (s *HybridStore) decode(v []byte) (*types.Chunk, error) {
	rev, payload, err := unframe(v)
	if err != nil {
		return nil, err
	}
	chunk, err := s.codec.Decode(payload)
	if err != nil {
		return nil, err
	}
	chunk.Revision = rev
	return chunk, nil
}

// DeleteChunk removes the record and every index reference to it.
func (s *HybridStore) DeleteChunk(id types.ChunkID) (bool, error) {
	var existed bool
	err := s.update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		key := chunkKey(id)
		if b.Get(key) == nil {
			return nil
		}
		existed = true
		if err := b.Delete(key); err != nil {
			return err
		}
		if err := unindexTx(tx, string(id)); err != nil {
			return fmt.Errorf("index update: %w", err)
		}
		meta, err := readMetadata(tx)
		if err != nil {
			return err
		}
		if meta.TotalChunks > 0 {
			meta.TotalChunks--
		}
		return writeMetadata(tx, meta)
	})
	if err != nil {
		return false, fmt.Errorf("delete chunk %s: %w", id, err)
	}
	return existed, nil
}

// RemoveFromIndexes drops id from all index lists without touching the record.
func (s *HybridStore) RemoveFromIndexes(id types.ChunkID) error {
	return s.update(func(tx *bbolt.Tx) error {
		return unindexTx(tx, string(id))
	})
}

func (s *HybridStore) GetChunksByFramework(name string) ([]*types.Chunk, error) {
	return s.chunksByIndex(bucketFrameworks, types.NormalizeFramework(name))
}

func (s *HybridStore) GetChunksByPattern(name string) ([]*types.Chunk, error) {
	return s.chunksByIndex(bucketPatterns, name)
}

// FrameworkIDs returns the raw index list for name.
func (s *HybridStore) FrameworkIDs(name string) ([]types.ChunkID, error) {
	return s.indexIDs(bucketFrameworks, types.NormalizeFramework(name))
}

func (s *HybridStore) PatternIDs(name string) ([]types.ChunkID, error) {
	return s.indexIDs(bucketPatterns, name)
}

func (s *HybridStore) indexIDs(bucket []byte, key string) ([]types.ChunkID, error) {
	var ids []string
	err := s.view(func(tx *bbolt.Tx) error {
		var err error
		ids, err = readIDList(tx.Bucket(bucket), key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stringsToIDs(ids), nil
}

func (s *HybridStore) chunksByIndex(bucket []byte, key string) ([]*types.Chunk, error) {
	ids, err := s.indexIDs(bucket, key)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Chunk, 0, len(ids))
	for _, id := range ids {
		opt, err := s.GetChunk(id)
		if err != nil {
			s.log.Warn("skipping unreadable chunk", "id", id, "index", string(bucket), "err", err)
			continue
		}
		if chunk, ok := opt.Get(); ok {
			out = append(out, chunk)
		}
	}
	return out, nil
}

// GetRecentChunks decodes every record, skipping corrupt ones, and returns the
// limit most recently accessed.
func (s *HybridStore) GetRecentChunks(limit int) ([]*types.Chunk, error) {
	if limit <= 0 {
		return nil, nil
	}
	var chunks []*types.Chunk
	err := s.ForEach(context.Background(), func(c *types.Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(chunks, func(a, b *types.Chunk) int {
		return b.Metadata.LastAccessed.Compare(a.Metadata.LastAccessed)
	})
	if len(chunks) > limit {
		chunks = chunks[:limit]
	}
	return chunks, nil
}

// ForEach copies records out in batches and decodes them outside the read
// transaction. Records that fail to decode are logged and skipped.
func (s *HybridStore) ForEach(ctx context.Context, fn func(*types.Chunk) error) error {
	var after []byte
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var keys, vals [][]byte
		err := s.view(func(tx *bbolt.Tx) error {
			c := tx.Bucket(bucketChunks).Cursor()
			var k, v []byte
			if after == nil {
				k, v = c.First()
			} else {
				k, v = c.Seek(after)
				if k != nil && bytes.Equal(k, after) {
					k, v = c.Next()
				}
			}
			for ; k != nil && len(keys) < scanBatch; k, v = c.Next() {
				keys = append(keys, bytes.Clone(k))
				vals = append(vals, bytes.Clone(v))
			}
			return nil
		})
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		for i, v := range vals {
			chunk, err := s.decode(v)
			if err != nil {
				s.log.Warn("skipping corrupt chunk", "key", string(keys[i]), "err", err)
				continue
			}
			if err := fn(chunk); err != nil {
				return err
			}
		}
		after = keys[len(keys)-1]
	}
}

// Compact rewrites the database into a fresh file and swaps it in.
func (s *HybridStore) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tmp := s.path + ".compact"
	_ = os.Remove(tmp)
	dst, err := bbolt.Open(tmp, 0o600, s.opts)
	if err != nil {
		return fmt.Errorf("compact: open target: %w", err)
	}
	if err := bbolt.Compact(dst, s.db, compactTxMaxBytes); err != nil {
		_ = dst.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("compact: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("compact: close target: %w", err)
	}
	if err := s.db.Close(); err != nil {
		_ = os.Remove(tmp)
		s.closed = true
		return fmt.Errorf("compact: close source: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		if reopenErr := s.open(); reopenErr != nil {
			s.closed = true
			return errors.Join(fmt.Errorf("compact: swap: %w", err), reopenErr)
		}
		return fmt.Errorf("compact: swap: %w", err)
	}
	if err := s.open(); err != nil {
		s.closed = true
		return fmt.Errorf("compact: reopen: %w", err)
	}
	return nil
}

// Optimize compacts the database and records when it happened.
func (s *HybridStore) Optimize() error {
	before := s.fileSize()
	start := time.Now()
	if err := s.Compact(); err != nil {
		return err
	}
	err := s.update(func(tx *bbolt.Tx) error {
		meta, err := readMetadata(tx)
		if err != nil {
			return err
		}
		meta.LastOptimized = types.Now()
		return writeMetadata(tx, meta)
	})
	if err != nil {
		return fmt.Errorf("record optimization: %w", err)
	}
	s.log.Info("storage optimized", "before_bytes", before, "after_bytes", s.fileSize(), "took", time.Since(start))
	return nil
}

func (s *HybridStore) Metadata() (DatabaseMetadata, error) {
	var meta DatabaseMetadata
	err := s.view(func(tx *bbolt.Tx) error {
		var err error
		meta, err = readMetadata(tx)
		return err
	})
	return meta, err
}

func (s *HybridStore) Stats() (Stats, error) {
	meta, err := s.Metadata()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		TotalChunks:       meta.TotalChunks,
		DatabaseSizeBytes: s.fileSize(),
		CompressionRatio:  meta.Compression.Ratio,
		UncompressedBytes: meta.Compression.UncompressedBytes,
		CompressedBytes:   meta.Compression.CompressedBytes,
		LastOptimized:     meta.LastOptimized,
	}, nil
}

func (s *HybridStore) fileSize() int64 {
	fi, err := os.Stat(s.path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

func (s *HybridStore) Path() string { return s.path }

func (s *HybridStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.codec.Close()
	return s.db.Close()
}
