package engine

import (
	"time"

	"fluorite-memory/internal/cache"
	"fluorite-memory/internal/patterns"
	"fluorite-memory/internal/platform/config"
	"fluorite-memory/internal/storage"
)

type Config struct {
	StoragePath      string `json:"storage_path"`
	CacheSizeMB      int    `json:"cache_size_mb"`
	MaxHotChunks     int    `json:"max_hot_chunks"`
	CompressionLevel int    `json:"compression_level"`
	EnableSearch     bool   `json:"enable_search"`
	// EmbeddingDim is informational; embeddings are supplied by callers.
	EmbeddingDim int `json:"embedding_dim"`

	CacheTTL    time.Duration `json:"cache_ttl"`
	EvictTarget float64       `json:"evict_target"`
	CountFlush  float64       `json:"count_flush"`

	SimilarityThreshold float32 `json:"similarity_threshold"`
	MaxRelationships    int     `json:"max_relationships"`
	LearningRate        float32 `json:"learning_rate"`
	CandidateLimit      int     `json:"candidate_limit"`

	SearchDim      int     `json:"search_dim"`
	SearchMinScore float32 `json:"search_min_score"`

	OpenTimeout time.Duration `json:"open_timeout"`
	// BatchWorkers bounds concurrent stores in StoreChunks.
	BatchWorkers int `json:"batch_workers"`
	// RebuildOnStart rebuilds pattern tables from storage during New.
	RebuildOnStart bool `json:"rebuild_on_start"`

	Ranking RankingConfig `json:"ranking"`
}

func DefaultConfig() Config {
	cc := cache.DefaultConfig()
	pc := patterns.DefaultConfig()
	return Config{
		StoragePath:         "./fluorite-memory",
		CacheSizeMB:         512,
		MaxHotChunks:        cc.MaxChunks,
		CompressionLevel:    6,
		EnableSearch:        true,
		EmbeddingDim:        pc.EmbeddingDim,
		CacheTTL:            cc.TTL,
		EvictTarget:         cc.EvictTarget,
		CountFlush:          cc.CountFlush,
		SimilarityThreshold: pc.Threshold,
		MaxRelationships:    pc.MaxRelationships,
		LearningRate:        pc.LearningRate,
		CandidateLimit:      pc.CandidateLimit,
		SearchDim:           256,
		SearchMinScore:      0.1,
		OpenTimeout:         5 * time.Second,
		BatchWorkers:        8,
		RebuildOnStart:      true,
		Ranking:             DefaultRankingConfig(),
	}
}

// ConfigFrom maps environment settings onto an engine config.
func ConfigFrom(pc *config.Config) Config {
	cfg := DefaultConfig()
	cfg.StoragePath = pc.Storage.Path
	cfg.CompressionLevel = pc.Storage.CompressionLevel
	cfg.OpenTimeout = pc.Storage.OpenTimeout
	cfg.CacheSizeMB = pc.Cache.SizeMB
	cfg.MaxHotChunks = pc.Cache.MaxHotChunks
	cfg.CacheTTL = pc.Cache.TTL
	cfg.EvictTarget = pc.Cache.EvictTarget
	cfg.CountFlush = pc.Cache.CountFlush
	cfg.EnableSearch = pc.Search.Enabled
	cfg.SearchDim = pc.Search.Dim
	cfg.SearchMinScore = float32(pc.Search.MinScore)
	cfg.SimilarityThreshold = float32(pc.Learn.SimilarityThreshold)
	cfg.MaxRelationships = pc.Learn.MaxRelationships
	cfg.LearningRate = float32(pc.Learn.LearningRate)
	cfg.EmbeddingDim = pc.Learn.EmbeddingDim
	cfg.CandidateLimit = pc.Learn.CandidateLimit
	return cfg
}

func (c Config) cacheConfig() cache.Config {
	return cache.Config{
		MaxBytes:    int64(c.CacheSizeMB) * 1024 * 1024,
		MaxChunks:   c.MaxHotChunks,
		TTL:         c.CacheTTL,
		EvictTarget: c.EvictTarget,
		CountFlush:  c.CountFlush,
	}
}

func (c Config) patternConfig() patterns.Config {
	pc := patterns.DefaultConfig()
	pc.Threshold = c.SimilarityThreshold
	pc.MaxRelationships = c.MaxRelationships
	pc.LearningRate = c.LearningRate
	pc.CandidateLimit = c.CandidateLimit
	pc.EmbeddingDim = c.EmbeddingDim
	return pc
}

func (c Config) storageOptions() storage.Options {
	return storage.Options{
		CompressionLevel: c.CompressionLevel,
		Timeout:          c.OpenTimeout,
	}
}
