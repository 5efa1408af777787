package cache

import (
	"fmt"
	"sync"
	"time"

	"fluorite-memory/internal/types"
)

// Config bounds the hot set.
type Config struct {
	MaxBytes  int64
	MaxChunks int
	// TTL is the idle time after which CleanupExpired drops an entry. Zero disables expiry.
	TTL time.Duration
	// EvictTarget is the fraction of MaxBytes usage is brought down to when the byte limit trips.
	EvictTarget float64
	// CountFlush is the extra fraction of MaxBytes freed when the count limit trips
	// while byte usage is already within CountFlush of the budget.
	CountFlush float64
}

func DefaultConfig() Config {
	return Config{
		MaxBytes:    512 * 1024 * 1024,
		MaxChunks:   10000,
		TTL:         time.Hour,
		EvictTarget: 0.80,
		CountFlush:  0.10,
	}
}

type Stats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	HitRatio    float64 `json:"hit_ratio"`
	Evictions   uint64  `json:"evictions"`
	MemoryBytes int64   `json:"memory_usage_bytes"`
	Chunks      int     `json:"current_chunks"`
	MaxBytes    int64   `json:"max_size_bytes"`
	MaxChunks   int     `json:"max_chunks"`
}

// node is an arena slot. prev/next are keys into the same map; "" terminates the list.
type node struct {
	chunk       *types.Chunk
	size        int64
	accessCount uint64
	lastAccess  time.Time
	prev, next  types.ChunkID
}

// LRU keeps recently used chunks in memory. Head is most recently used.
type LRU struct {
	mu    sync.Mutex
	cfg   Config
	nodes map[types.ChunkID]*node
	head  types.ChunkID
	tail  types.ChunkID
	stats Stats
	now   func() time.Time
}

func New(cfg Config) *LRU {
	def := DefaultConfig()
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = def.MaxChunks
	}
	if cfg.EvictTarget <= 0 || cfg.EvictTarget > 1 {
		cfg.EvictTarget = def.EvictTarget
	}
	if cfg.CountFlush < 0 || cfg.CountFlush > 1 {
		cfg.CountFlush = def.CountFlush
	}
	return &LRU{
		cfg:   cfg,
		nodes: make(map[types.ChunkID]*node),
		stats: Stats{MaxBytes: cfg.MaxBytes, MaxChunks: cfg.MaxChunks},
		now:   time.Now,
	}
}

// Insert stores a copy of chunk as the most recently used entry.
// An existing entry with a newer storage revision is kept and only touched.
func (c *LRU) Insert(id types.ChunkID, chunk *types.Chunk) {
	if id == "" || chunk == nil {
		return
	}
	cp := chunk.Clone()
	size := int64(cp.EstimatedSize())

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if n, ok := c.nodes[id]; ok {
		if cp.Revision == 0 || cp.Revision >= n.chunk.Revision {
			c.stats.MemoryBytes += size - n.size
			n.chunk = cp
			n.size = size
		}
		n.accessCount++
		n.lastAccess = now
		c.moveToHead(id)
		c.enforceLimits()
		return
	}

	c.nodes[id] = &node{chunk: cp, size: size, accessCount: 1, lastAccess: now}
	c.stats.Chunks++
	c.stats.MemoryBytes += size
	c.addToHead(id)
	c.enforceLimits()
}

// Get returns a copy of the cached chunk and marks it most recently used.
func (c *LRU) Get(id types.ChunkID) (*types.Chunk, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.nodes[id]
	if !ok {
		c.stats.Misses++
		c.updateHitRatio()
		return nil, false
	}
	n.accessCount++
	n.lastAccess = c.now()
	c.stats.Hits++
	c.updateHitRatio()
	c.moveToHead(id)
	return n.chunk.Clone(), true
}

// Remove drops id from the cache and reports whether it was present.
func (c *LRU) Remove(id types.ChunkID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.remove(id)
	return ok
}

func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes = make(map[types.ChunkID]*node)
	c.head, c.tail = "", ""
	c.stats = Stats{MaxBytes: c.cfg.MaxBytes, MaxChunks: c.cfg.MaxChunks}
}

func (c *LRU) Contains(id types.ChunkID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.nodes[id]
	return ok
}

// ChunkIDs lists cached ids from most to least recently used.
func (c *LRU) ChunkIDs() []types.ChunkID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]types.ChunkID, 0, len(c.nodes))
	for id := c.head; id != ""; id = c.nodes[id].next {
		ids = append(ids, id)
	}
	return ids
}

// CleanupExpired drops entries idle for longer than the TTL and returns how many were removed.
func (c *LRU) CleanupExpired() int {
	if c.cfg.TTL <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.cfg.TTL)
	removed := 0
	// Walk from the tail; idle entries cluster there but a touched entry may sit anywhere.
	for id := c.tail; id != ""; {
		n := c.nodes[id]
		prev := n.prev
		if n.lastAccess.Before(cutoff) {
			c.remove(id)
			removed++
		}
		id = prev
	}
	return removed
}

// MemoryPressure is the larger of byte and count utilisation, capped at 1.
func (c *LRU) MemoryPressure() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	bytes := float64(c.stats.MemoryBytes) / float64(c.cfg.MaxBytes)
	count := float64(c.stats.Chunks) / float64(c.cfg.MaxChunks)
	return min(max(bytes, count), 1)
}

// EvictLRU removes tail entries until at least target bytes are freed or the cache is empty.
func (c *LRU) EvictLRU(target int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evict(target, 0)
}

func (c *LRU) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// CheckInvariants walks the list in both directions and compares it with the map.
func (c *LRU) CheckInvariants() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if (c.head == "") != (c.tail == "") {
		return fmt.Errorf("head %q and tail %q disagree on emptiness", c.head, c.tail)
	}
	seen := 0
	var prev types.ChunkID
	var bytes int64
	for id := c.head; id != ""; {
		n, ok := c.nodes[id]
		if !ok {
			return fmt.Errorf("list references missing node %q", id)
		}
		if n.prev != prev {
			return fmt.Errorf("node %q prev=%q, want %q", id, n.prev, prev)
		}
		seen++
		if seen > len(c.nodes) {
			return fmt.Errorf("cycle detected at %q", id)
		}
		bytes += n.size
		prev, id = id, n.next
	}
	if prev != c.tail {
		return fmt.Errorf("list ends at %q, tail is %q", prev, c.tail)
	}
	if seen != len(c.nodes) || seen != c.stats.Chunks {
		return fmt.Errorf("list has %d nodes, map %d, stats %d", seen, len(c.nodes), c.stats.Chunks)
	}
	if bytes != c.stats.MemoryBytes {
		return fmt.Errorf("list holds %d bytes, stats %d", bytes, c.stats.MemoryBytes)
	}
	return nil
}

func (c *LRU) updateHitRatio() {
	total := c.stats.Hits + c.stats.Misses
	if total == 0 {
		c.stats.HitRatio = 0
		return
	}
	c.stats.HitRatio = float64(c.stats.Hits) / float64(total)
}

func (c *LRU) enforceLimits() {
	overBytes := c.stats.MemoryBytes > c.cfg.MaxBytes
	overCount := c.stats.Chunks > c.cfg.MaxChunks
	if !overBytes && !overCount {
		return
	}

	var target int64
	if overBytes {
		target = c.stats.MemoryBytes - int64(float64(c.cfg.MaxBytes)*c.cfg.EvictTarget)
	}
	keep := 0
	if overCount {
		keep = c.cfg.MaxChunks
		flushAt := int64(float64(c.cfg.MaxBytes) * (1 - c.cfg.CountFlush))
		if !overBytes && c.cfg.CountFlush > 0 && c.stats.MemoryBytes > flushAt {
			target = int64(float64(c.cfg.MaxBytes) * c.cfg.CountFlush)
		}
	}
	c.evict(target, keep)
}

// evict frees at least target bytes and, when keep > 0, shrinks the entry count to keep.
func (c *LRU) evict(target int64, keep int) int64 {
	var freed int64
	for c.tail != "" && (freed < target || (keep > 0 && c.stats.Chunks > keep)) {
		size, ok := c.remove(c.tail)
		if !ok {
			break
		}
		freed += size
		c.stats.Evictions++
	}
	return freed
}

func (c *LRU) remove(id types.ChunkID) (int64, bool) {
	n, ok := c.nodes[id]
	if !ok {
		return 0, false
	}
	c.unlink(id)
	delete(c.nodes, id)
	c.stats.Chunks--
	c.stats.MemoryBytes -= n.size
	return n.size, true
}

func (c *LRU) addToHead(id types.ChunkID) {
	n := c.nodes[id]
	n.prev = ""
	n.next = c.head
	if c.head != "" {
		c.nodes[c.head].prev = id
	}
	c.head = id
	if c.tail == "" {
		c.tail = id
	}
}

func (c *LRU) moveToHead(id types.ChunkID) {
	if c.head == id {
		return
	}
	c.unlink(id)
	c.addToHead(id)
}

func (c *LRU) unlink(id types.ChunkID) {
	n := c.nodes[id]
	if n.prev != "" {
		c.nodes[n.prev].next = n.next
	} else {
		c.head = n.next
	}
	if n.next != "" {
		c.nodes[n.next].prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev, n.next = "", ""
}
