package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process-wide settings read from the environment.
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Cache   CacheConfig
	Search  SearchConfig
	Learn   LearnConfig
	Log     LogConfig
}

type ServerConfig struct {
	Addr string
}

type StorageConfig struct {
	Path             string
	CompressionLevel int
	OpenTimeout      time.Duration
}

type CacheConfig struct {
	SizeMB       int
	MaxHotChunks int
	TTL          time.Duration
	EvictTarget  float64
	CountFlush   float64
}

type SearchConfig struct {
	Enabled  bool
	Dim      int
	MinScore float64
}

type LearnConfig struct {
	SimilarityThreshold float64
	MaxRelationships    int
	LearningRate        float64
	EmbeddingDim        int
	CandidateLimit      int
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads an optional .env file and then the FLUORITE_* variables.
// A missing env file is not an error.
func Load(envFilePath string) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr: getEnv("FLUORITE_ADDR", ":8083"),
		},
		Storage: StorageConfig{
			Path:             getEnv("FLUORITE_DATA", "./fluorite-memory"),
			CompressionLevel: getEnvAsInt("FLUORITE_COMPRESSION_LEVEL", 6),
			OpenTimeout:      getEnvAsDuration("FLUORITE_OPEN_TIMEOUT", 5*time.Second),
		},
		Cache: CacheConfig{
			SizeMB:       getEnvAsInt("FLUORITE_CACHE_MB", 512),
			MaxHotChunks: getEnvAsInt("FLUORITE_MAX_HOT_CHUNKS", 10000),
			TTL:          getEnvAsDuration("FLUORITE_CACHE_TTL", time.Hour),
			EvictTarget:  getEnvAsFloat("FLUORITE_EVICT_TARGET", 0.8),
			CountFlush:   getEnvAsFloat("FLUORITE_COUNT_FLUSH", 0.1),
		},
		Search: SearchConfig{
			Enabled:  getEnvAsBool("FLUORITE_SEARCH", true),
			Dim:      getEnvAsInt("FLUORITE_SEARCH_DIM", 256),
			MinScore: getEnvAsFloat("FLUORITE_SEARCH_MIN_SCORE", 0.1),
		},
		Learn: LearnConfig{
			SimilarityThreshold: getEnvAsFloat("FLUORITE_SIMILARITY_THRESHOLD", 0.6),
			MaxRelationships:    getEnvAsInt("FLUORITE_MAX_RELATIONSHIPS", 20),
			LearningRate:        getEnvAsFloat("FLUORITE_LEARNING_RATE", 0.1),
			EmbeddingDim:        getEnvAsInt("FLUORITE_EMBEDDING_DIM", 384),
			CandidateLimit:      getEnvAsInt("FLUORITE_CANDIDATE_LIMIT", 256),
		},
		Log: LogConfig{
			Level:  getEnv("FLUORITE_LOG_LEVEL", "info"),
			Format: getEnv("FLUORITE_LOG_FORMAT", "text"),
		},
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go duration strings ("90s", "2h").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
