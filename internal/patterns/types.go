package patterns

import (
	"strings"

	"fluorite-memory/internal/types"
)

// PatternType classifies a detected code pattern.
type PatternType string

const (
	PatternFunction       PatternType = "function"
	PatternComponent      PatternType = "component"
	PatternModule         PatternType = "module"
	PatternConfiguration  PatternType = "configuration"
	PatternAPIEndpoint    PatternType = "api_endpoint"
	PatternDatabaseModel  PatternType = "database_model"
	PatternAuthentication PatternType = "authentication"
	PatternErrorHandling  PatternType = "error_handling"
	PatternPerformance    PatternType = "performance"
	PatternTesting        PatternType = "testing"
)

func CustomPattern(label string) PatternType {
	return PatternType("custom:" + label)
}

// CodePattern aggregates every chunk a detector matched.
type CodePattern struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Type       PatternType     `json:"pattern_type"`
	Signature  string          `json:"signature"`
	Frameworks []string        `json:"frameworks"`
	Confidence float32         `json:"confidence"`
	UsageCount uint64          `json:"usage_count"`
	Examples   []types.ChunkID `json:"examples"`
}

func (p *CodePattern) clone() *CodePattern {
	cp := *p
	cp.Frameworks = append([]string(nil), p.Frameworks...)
	cp.Examples = append([]types.ChunkID(nil), p.Examples...)
	return &cp
}

// FrameworkPattern is a framework idiom found in one chunk.
type FrameworkPattern struct {
	ID              string        `json:"id"`
	Framework       string        `json:"framework"`
	PatternName     string        `json:"pattern_name"`
	Chunk           types.ChunkID `json:"chunk_id"`
	Dependencies    []string      `json:"dependencies"`
	BestPractices   []string      `json:"best_practices"`
	CommonIssues    []string      `json:"common_issues"`
	RelatedPatterns []string      `json:"related_patterns"`
}

// FrameworkCombination records chunks that use several frameworks together.
type FrameworkCombination struct {
	Frameworks     []string        `json:"frameworks"`
	PatternName    string          `json:"pattern_name"`
	Chunks         []types.ChunkID `json:"chunks"`
	Confidence     float32         `json:"confidence"`
	UsageFrequency uint64          `json:"usage_frequency"`
}

func (c *FrameworkCombination) has(framework string) bool {
	for _, fw := range c.Frameworks {
		if fw == framework {
			return true
		}
	}
	return false
}

func (c *FrameworkCombination) clone() FrameworkCombination {
	cp := *c
	cp.Frameworks = append([]string(nil), c.Frameworks...)
	cp.Chunks = append([]types.ChunkID(nil), c.Chunks...)
	return cp
}

// WeightedEdge is a discovered link between two chunks.
type WeightedEdge struct {
	Target     types.ChunkID      `json:"target"`
	Type       types.RelationType `json:"relation_type"`
	Weight     float32            `json:"weight"`
	Confidence float32            `json:"confidence"`
}

type FeedbackStats struct {
	Total            uint64  `json:"total_feedback"`
	Helpful          uint64  `json:"helpful_count"`
	NotHelpful       uint64  `json:"not_helpful_count"`
	Improvements     uint64  `json:"improvement_suggestions"`
	ErrorReports     uint64  `json:"error_reports"`
	Accuracy         float64 `json:"pattern_accuracy"`
	WeightAdjustment float64 `json:"weight_adjustment"`
}

type PatternStats struct {
	TotalPatterns           uint64                 `json:"total_patterns"`
	FrameworkPatterns       map[string]uint64      `json:"framework_patterns"`
	PatternTypes            map[PatternType]uint64 `json:"pattern_types"`
	SimilarityCalculations  uint64                 `json:"similarity_calculations"`
	RelationshipDiscoveries uint64                 `json:"relationship_discoveries"`
}

func (s PatternStats) clone() PatternStats {
	out := s
	out.FrameworkPatterns = make(map[string]uint64, len(s.FrameworkPatterns))
	for k, v := range s.FrameworkPatterns {
		out.FrameworkPatterns[k] = v
	}
	out.PatternTypes = make(map[PatternType]uint64, len(s.PatternTypes))
	for k, v := range s.PatternTypes {
		out.PatternTypes[k] = v
	}
	return out
}

func slug(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(strings.NewReplacer(".", "", "-", " ").Replace(name)), "-"))
}
