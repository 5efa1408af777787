package types

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"time"
	"unsafe"

	"github.com/google/uuid"
)

// ErrInvalidChunk is returned by Validate for chunks that must not be stored.
var ErrInvalidChunk = errors.New("invalid chunk")

// Vector represents an embedding supplied by an external model.
type Vector []float32

// ChunkID is the sole key across cache, storage and indexes.
type ChunkID string

// NewChunkID returns a random unique identifier.
func NewChunkID() ChunkID {
	return ChunkID(uuid.NewString())
}

func (id ChunkID) String() string { return string(id) }

// ChunkType distinguishes what a chunk is for.
type ChunkType string

const (
	TypeTemplate       ChunkType = "template"
	TypePattern        ChunkType = "pattern"
	TypeAPIIntegration ChunkType = "api_integration"
	TypeComponent      ChunkType = "component"
	TypeApplication    ChunkType = "application"
	TypeConfiguration  ChunkType = "configuration"
	TypeBestPractice   ChunkType = "best_practice"
	TypeErrorSolution  ChunkType = "error_solution"
	TypePerformance    ChunkType = "performance"
	TypeSecurity       ChunkType = "security"
	TypeTest           ChunkType = "test"
	TypeDocumentation  ChunkType = "documentation"
)

var chunkTypes = []ChunkType{
	TypeTemplate, TypePattern, TypeAPIIntegration, TypeComponent, TypeApplication,
	TypeConfiguration, TypeBestPractice, TypeErrorSolution, TypePerformance,
	TypeSecurity, TypeTest, TypeDocumentation,
}

// ParseChunkType accepts the canonical names, case-insensitively.
func ParseChunkType(s string) (ChunkType, error) {
	t := ChunkType(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(chunkTypes, t) {
		return t, nil
	}
	return "", fmt.Errorf("unknown chunk type %q", s)
}

// LineRange is an inclusive line span in the originating file.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Metadata describes where a chunk came from and how it has been used.
type Metadata struct {
	Source       string         `json:"source"`
	Tags         []string       `json:"tags"`
	Frameworks   []string       `json:"frameworks"`
	Patterns     []string       `json:"patterns"`
	UsageCount   uint64         `json:"usage_count"`
	CreatedAt    time.Time      `json:"created_at"`
	LastAccessed time.Time      `json:"last_accessed"`
	FilePath     string         `json:"file_path,omitempty"`
	LineRange    *LineRange     `json:"line_range,omitempty"`
	Dependencies []ChunkID      `json:"dependencies"`
	Properties   map[string]any `json:"properties,omitempty"`
}

// RelationType labels a directed edge between chunks. Values outside the
// predefined set are custom labels created with CustomRelation.
type RelationType string

const (
	RelDependsOn   RelationType = "depends_on"
	RelSimilar     RelationType = "similar"
	RelExtends     RelationType = "extends"
	RelAlternative RelationType = "alternative"
	RelPartOf      RelationType = "part_of"
	RelUsedWith    RelationType = "used_with"
	RelReplaces    RelationType = "replaces"

	customRelationPrefix = "custom:"
)

func CustomRelation(label string) RelationType {
	return RelationType(customRelationPrefix + label)
}

func (r RelationType) IsCustom() bool {
	return strings.HasPrefix(string(r), customRelationPrefix)
}

type Relation struct {
	Target   ChunkID           `json:"target"`
	Type     RelationType      `json:"type"`
	Strength float32           `json:"strength"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Chunk is the unit of storage, caching, indexing and similarity comparison.
type Chunk struct {
	ID            ChunkID
	Type          ChunkType
	Content       Content
	Metadata      Metadata
	Embedding     Vector
	Relationships []Relation
	QualityScore  float32

	// Revision is assigned by storage on every durable write. Zero means never stored.
	Revision uint64
}

// Now returns the current time in the canonical form chunks carry: UTC with
// the monotonic reading stripped, so values survive a storage round trip unchanged.
func Now() time.Time {
	return time.Now().UTC().Round(0)
}

// NewChunk builds a chunk with default metadata and a neutral quality score.
func NewChunk(id ChunkID, typ ChunkType, content Content) *Chunk {
	now := Now()
	return &Chunk{
		ID:      id,
		Type:    typ,
		Content: content,
		Metadata: Metadata{
			Source:       "unknown",
			Tags:         []string{},
			Frameworks:   []string{},
			Patterns:     []string{},
			CreatedAt:    now,
			LastAccessed: now,
			Dependencies: []ChunkID{},
		},
		Relationships: []Relation{},
		QualityScore:  0.5,
	}
}

// MarkAccessed bumps the usage counter and last-access time.
func (c *Chunk) MarkAccessed(at time.Time) {
	c.Metadata.UsageCount++
	c.Metadata.LastAccessed = at
}

// AddRelationship appends an edge, clamping its strength to [0,1].
func (c *Chunk) AddRelationship(target ChunkID, typ RelationType, strength float32) {
	c.Relationships = append(c.Relationships, Relation{
		Target:   target,
		Type:     typ,
		Strength: Clamp01(strength),
	})
}

// Dependencies returns targets of DependsOn edges.
func (c *Chunk) Dependencies() []ChunkID {
	return c.targets(RelDependsOn)
}

// Similar returns targets of Similar edges.
func (c *Chunk) Similar() []ChunkID {
	return c.targets(RelSimilar)
}

func (c *Chunk) targets(typ RelationType) []ChunkID {
	var out []ChunkID
	for _, r := range c.Relationships {
		if r.Type == typ {
			out = append(out, r.Target)
		}
	}
	return out
}

// IsFrameworkRelated reports whether the chunk is tagged with, or written for, framework.
func (c *Chunk) IsFrameworkRelated(framework string) bool {
	if slices.ContainsFunc(c.Metadata.Frameworks, func(f string) bool {
		return strings.EqualFold(f, framework)
	}) {
		return true
	}
	if code, ok := c.Content.(*CodeContent); ok {
		return strings.EqualFold(code.Framework, framework)
	}
	return false
}

// SearchableText joins tags, frameworks, patterns, content and file path with spaces.
func (c *Chunk) SearchableText() string {
	parts := make([]string, 0, len(c.Metadata.Tags)+len(c.Metadata.Frameworks)+len(c.Metadata.Patterns)+4)
	parts = append(parts, c.Metadata.Tags...)
	parts = append(parts, c.Metadata.Frameworks...)
	parts = append(parts, c.Metadata.Patterns...)
	if c.Content != nil {
		parts = append(parts, c.Content.SearchableParts()...)
	}
	if c.Metadata.FilePath != "" {
		parts = append(parts, c.Metadata.FilePath)
	}
	return strings.Join(parts, " ")
}

// EstimatedSize approximates the in-memory footprint used for cache accounting.
func (c *Chunk) EstimatedSize() int {
	size := int(unsafe.Sizeof(*c))
	if c.Content != nil {
		size += c.Content.Size()
	}
	for _, s := range c.Metadata.Tags {
		size += len(s)
	}
	for _, s := range c.Metadata.Frameworks {
		size += len(s)
	}
	for _, s := range c.Metadata.Patterns {
		size += len(s)
	}
	size += len(c.Metadata.FilePath)
	size += len(c.Embedding) * 4
	size += len(c.Relationships) * int(unsafe.Sizeof(Relation{}))
	return size
}

// Clone returns a deep copy safe to hand to another goroutine.
func (c *Chunk) Clone() *Chunk {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Content != nil {
		cp.Content = cloneContent(c.Content)
	}
	cp.Metadata.Tags = slices.Clone(c.Metadata.Tags)
	cp.Metadata.Frameworks = slices.Clone(c.Metadata.Frameworks)
	cp.Metadata.Patterns = slices.Clone(c.Metadata.Patterns)
	cp.Metadata.Dependencies = slices.Clone(c.Metadata.Dependencies)
	cp.Metadata.Properties = maps.Clone(c.Metadata.Properties)
	if c.Metadata.LineRange != nil {
		lr := *c.Metadata.LineRange
		cp.Metadata.LineRange = &lr
	}
	cp.Embedding = slices.Clone(c.Embedding)
	if c.Relationships != nil {
		cp.Relationships = make([]Relation, len(c.Relationships))
		for i, r := range c.Relationships {
			r.Metadata = maps.Clone(r.Metadata)
			cp.Relationships[i] = r
		}
	}
	return &cp
}

// Validate checks the fields storage relies on.
func (c *Chunk) Validate() error {
	switch {
	case c == nil:
		return fmt.Errorf("%w: nil", ErrInvalidChunk)
	case strings.TrimSpace(string(c.ID)) == "":
		return fmt.Errorf("%w: empty id", ErrInvalidChunk)
	case c.Content == nil:
		return fmt.Errorf("%w: %s has no content", ErrInvalidChunk, c.ID)
	}
	if err := ValidateQualityScore(c.QualityScore); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidChunk, c.ID, err)
	}
	for _, fw := range c.Metadata.Frameworks {
		if err := ValidateFramework(fw); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidChunk, c.ID, err)
		}
	}
	for _, r := range c.Relationships {
		if err := ValidateStrength(r.Strength); err != nil {
			return fmt.Errorf("%w: %s: relation to %s: %v", ErrInvalidChunk, c.ID, r.Target, err)
		}
	}
	return nil
}

// Clamp01 maps v into [0,1]. NaN becomes 0.
func Clamp01(v float32) float32 {
	switch {
	case math.IsNaN(float64(v)) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Clamp01f is Clamp01 for float64.
func Clamp01f(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
