package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const schemaVersion = "1.0.0"

var metadataKey = []byte("database")

// DatabaseMetadata is persisted in the metadata bucket and updated in the same
// transaction as every chunk write.
type DatabaseMetadata struct {
	Version       string           `json:"version"`
	CreatedAt     time.Time        `json:"created_at"`
	LastOptimized time.Time        `json:"last_optimized"`
	TotalChunks   uint64           `json:"total_chunks"`
	Compression   CompressionStats `json:"compression_stats"`
}

// CompressionStats are cumulative over every write since creation.
type CompressionStats struct {
	UncompressedBytes uint64  `json:"total_uncompressed_bytes"`
	CompressedBytes   uint64  `json:"total_compressed_bytes"`
	Ratio             float64 `json:"compression_ratio"`
}

func (c *CompressionStats) add(raw, compressed int) {
	c.UncompressedBytes += uint64(raw)
	c.CompressedBytes += uint64(compressed)
	if c.UncompressedBytes > 0 {
		c.Ratio = float64(c.CompressedBytes) / float64(c.UncompressedBytes)
	}
}

// Stats is a point-in-time view of the store.
type Stats struct {
	TotalChunks       uint64    `json:"total_chunks"`
	DatabaseSizeBytes int64     `json:"database_size_bytes"`
	CompressionRatio  float64   `json:"compression_ratio"`
	UncompressedBytes uint64    `json:"uncompressed_bytes"`
	CompressedBytes   uint64    `json:"compressed_bytes"`
	LastOptimized     time.Time `json:"last_optimized"`
}

func newMetadata(now time.Time) DatabaseMetadata {
	return DatabaseMetadata{
		Version:     schemaVersion,
		CreatedAt:   now,
		Compression: CompressionStats{Ratio: 1.0},
	}
}

func readMetadata(tx *bbolt.Tx) (DatabaseMetadata, error) {
	var meta DatabaseMetadata
	data := tx.Bucket(bucketMetadata).Get(metadataKey)
	if data == nil {
		return meta, fmt.Errorf("database metadata missing")
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("decode database metadata: %w", err)
	}
	return meta, nil
}

func writeMetadata(tx *bbolt.Tx, meta DatabaseMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketMetadata).Put(metadataKey, data)
}
