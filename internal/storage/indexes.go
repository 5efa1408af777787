package storage

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"go.etcd.io/bbolt"

	"fluorite-memory/internal/types"
)

// tagSet is the reverse-index entry for one chunk.
type tagSet struct {
	Frameworks []string `json:"frameworks"`
	Patterns   []string `json:"patterns"`
}

func tagsOf(c *types.Chunk) tagSet {
	return tagSet{
		Frameworks: uniqueKeys(c.Metadata.Frameworks, types.NormalizeFramework),
		Patterns:   uniqueKeys(c.Metadata.Patterns, strings.TrimSpace),
	}
}

func uniqueKeys(in []string, norm func(string) string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = norm(s)
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func readIDList(b *bbolt.Bucket, key string) ([]string, error) {
	data := b.Get([]byte(key))
	if data == nil {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("decode index %q: %w", key, err)
	}
	return ids, nil
}

func writeIDList(b *bbolt.Bucket, key string, ids []string) error {
	if len(ids) == 0 {
		return b.Delete([]byte(key))
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

// addToIndex appends id under key unless already present.
func addToIndex(b *bbolt.Bucket, key, id string) error {
	ids, err := readIDList(b, key)
	if err != nil {
		return err
	}
	if slices.Contains(ids, id) {
		return nil
	}
	return writeIDList(b, key, append(ids, id))
}

func removeFromIndex(b *bbolt.Bucket, key, id string) error {
	ids, err := readIDList(b, key)
	if err != nil {
		return err
	}
	i := slices.Index(ids, id)
	if i < 0 {
		return nil
	}
	return writeIDList(b, key, slices.Delete(ids, i, i+1))
}

// indexTx records id under each of its tags and saves the reverse entry.
func indexTx(tx *bbolt.Tx, id string, tags tagSet) error {
	fw := tx.Bucket(bucketFrameworks)
	for _, name := range tags.Frameworks {
		if err := addToIndex(fw, name, id); err != nil {
			return err
		}
	}
	pt := tx.Bucket(bucketPatterns)
	for _, name := range tags.Patterns {
		if err := addToIndex(pt, name, id); err != nil {
			return err
		}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketTags).Put([]byte(id), data)
}

// unindexTx purges every index reference to id. Chunks written before the
// reverse index existed fall back to a scan of both index buckets.
func unindexTx(tx *bbolt.Tx, id string) error {
	rev := tx.Bucket(bucketTags)
	data := rev.Get([]byte(id))
	if data == nil {
		if err := scanRemove(tx.Bucket(bucketFrameworks), id); err != nil {
			return err
		}
		return scanRemove(tx.Bucket(bucketPatterns), id)
	}

	var tags tagSet
	if err := json.Unmarshal(data, &tags); err != nil {
		return fmt.Errorf("decode reverse index for %s: %w", id, err)
	}
	fw := tx.Bucket(bucketFrameworks)
	for _, name := range tags.Frameworks {
		if err := removeFromIndex(fw, name, id); err != nil {
			return err
		}
	}
	pt := tx.Bucket(bucketPatterns)
	for _, name := range tags.Patterns {
		if err := removeFromIndex(pt, name, id); err != nil {
			return err
		}
	}
	return rev.Delete([]byte(id))
}

func scanRemove(b *bbolt.Bucket, id string) error {
	var keys []string
	err := b.ForEach(func(k, v []byte) error {
		var ids []string
		if err := json.Unmarshal(v, &ids); err != nil {
			return fmt.Errorf("decode index %q: %w", k, err)
		}
		if slices.Contains(ids, id) {
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return err
	}
	// Mutating during ForEach is not allowed, so removal happens afterwards.
	for _, k := range keys {
		if err := removeFromIndex(b, k, id); err != nil {
			return err
		}
	}
	return nil
}
