package engine

import (
	"fmt"
	"sync"
	"time"

	"fluorite-memory/internal/cache"
	"fluorite-memory/internal/patterns"
	"fluorite-memory/internal/search"
	"fluorite-memory/internal/storage"
	"fluorite-memory/internal/types"
)

type counters struct {
	mu             sync.Mutex
	cacheHits      uint64
	cacheMisses    uint64
	diskReads      uint64
	diskWrites     uint64
	searchQueries  uint64
	patternMatches uint64
	lastUpdate     time.Time
}

func (c *counters) cacheHit() {
	c.mu.Lock()
	c.cacheHits++
	c.mu.Unlock()
}

func (c *counters) cacheMiss() {
	c.mu.Lock()
	c.cacheMisses++
	c.mu.Unlock()
}

func (c *counters) diskRead() {
	c.mu.Lock()
	c.diskReads++
	c.mu.Unlock()
}

func (c *counters) diskWrite() {
	c.mu.Lock()
	c.diskWrites++
	c.lastUpdate = types.Now()
	c.mu.Unlock()
}

func (c *counters) searchQuery() {
	c.mu.Lock()
	c.searchQueries++
	c.mu.Unlock()
}

func (c *counters) addPatternMatches(n int) {
	c.mu.Lock()
	c.patternMatches += uint64(n)
	c.mu.Unlock()
}

func (c *counters) touch() {
	c.mu.Lock()
	c.lastUpdate = types.Now()
	c.mu.Unlock()
}

// Stats is a point-in-time snapshot of the engine and its components.
type Stats struct {
	TotalChunks    uint64     `json:"total_chunks"`
	CacheHits      uint64     `json:"cache_hits"`
	CacheMisses    uint64     `json:"cache_misses"`
	DiskReads      uint64     `json:"disk_reads"`
	DiskWrites     uint64     `json:"disk_writes"`
	SearchQueries  uint64     `json:"search_queries"`
	PatternMatches uint64     `json:"pattern_matches"`
	MemoryUsageMB  float64    `json:"memory_usage_mb"`
	LastUpdate     *time.Time `json:"last_update,omitempty"`

	Cache    cache.Stats            `json:"cache"`
	Storage  storage.Stats          `json:"storage"`
	Patterns patterns.PatternStats  `json:"patterns"`
	Feedback patterns.FeedbackStats `json:"feedback"`
	Search   *search.Stats          `json:"search,omitempty"`
	Edges    int                    `json:"relationship_edges"`
}

// Stats snapshots the counters. TotalChunks comes from storage metadata so
// re-stores of an existing id are not double counted.
func (e *MemoryEngine) Stats() (Stats, error) {
	e.counters.mu.Lock()
	st := Stats{
		CacheHits:      e.counters.cacheHits,
		CacheMisses:    e.counters.cacheMisses,
		DiskReads:      e.counters.diskReads,
		DiskWrites:     e.counters.diskWrites,
		SearchQueries:  e.counters.searchQueries,
		PatternMatches: e.counters.patternMatches,
	}
	if !e.counters.lastUpdate.IsZero() {
		t := e.counters.lastUpdate
		st.LastUpdate = &t
	}
	e.counters.mu.Unlock()

	st.Cache = e.cache.Stats()
	st.MemoryUsageMB = float64(st.Cache.MemoryBytes) / (1024 * 1024)
	st.Patterns = e.analyzer.Stats()
	st.Feedback = e.analyzer.FeedbackStats()
	st.Edges = e.analyzer.EdgeCount()
	if e.search != nil {
		ss := e.search.Stats()
		st.Search = &ss
	}

	if err := e.ready(); err != nil {
		return st, err
	}
	ss, err := e.store.Stats()
	if err != nil {
		return st, fmt.Errorf("storage stats: %w", err)
	}
	st.Storage = ss
	st.TotalChunks = ss.TotalChunks
	return st, nil
}
