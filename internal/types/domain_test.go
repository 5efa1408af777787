package types

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChunkDefaults(t *testing.T) {
	c := NewChunk("c1", TypeComponent, &CodeContent{Language: "typescript", Code: "export const a = 1"})

	assert.Equal(t, "unknown", c.Metadata.Source)
	assert.Equal(t, float32(0.5), c.QualityScore)
	assert.Equal(t, c.Metadata.CreatedAt, c.Metadata.LastAccessed)
	assert.Equal(t, time.UTC, c.Metadata.CreatedAt.Location())
	assert.Zero(t, c.Revision)
	require.NoError(t, c.Validate())
}

func TestNewChunkIDUnique(t *testing.T) {
	seen := make(map[ChunkID]bool)
	for i := 0; i < 100; i++ {
		id := NewChunkID()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestSearchableTextOrder(t *testing.T) {
	c := NewChunk("c1", TypeComponent, &CodeContent{Language: "tsx", Code: "function Page() {}", Framework: "nextjs"})
	c.Metadata.Tags = []string{"ui"}
	c.Metadata.Frameworks = []string{"nextjs", "react"}
	c.Metadata.Patterns = []string{"page"}
	c.Metadata.FilePath = "pages/index.tsx"

	assert.Equal(t, "ui nextjs react page function Page() {} tsx nextjs pages/index.tsx", c.SearchableText())
}

func TestSearchableTextVariants(t *testing.T) {
	tests := []struct {
		name    string
		content Content
		want    string
	}{
		{"config", &ConfigContent{Format: "json", Content: `{"a":1}`, Schema: "s"}, `{"a":1} json`},
		{"doc with language", &DocumentationContent{Format: "markdown", Content: "# Title", Language: "en"}, "# Title markdown en"},
		{"data compacted", &DataContent{Format: "json", Value: json.RawMessage("{ \"k\" : [1, 2] }")}, `{"k":[1,2]} json`},
		{"binary", &BinaryContent{MimeType: "image/png", Data: []byte{1, 2, 3}}, "image/png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChunk("x", TypeDocumentation, tt.content)
			assert.Equal(t, tt.want, c.SearchableText())
		})
	}
}

func TestEstimatedSizeGrowsWithPayload(t *testing.T) {
	small := NewChunk("a", TypePattern, &CodeContent{Language: "go", Code: "x"})
	big := NewChunk("b", TypePattern, &CodeContent{Language: "go", Code: string(make([]byte, 1000))})
	big.Embedding = make(Vector, 10)

	assert.Greater(t, small.EstimatedSize(), 0)
	assert.Equal(t, small.EstimatedSize()+999+40, big.EstimatedSize())
}

func TestRelationships(t *testing.T) {
	c := NewChunk("a", TypePattern, &CodeContent{Language: "go", Code: "x"})
	c.AddRelationship("b", RelDependsOn, 1.5)
	c.AddRelationship("c", RelSimilar, -1)
	c.AddRelationship("d", CustomRelation("pairs-with"), 0.4)

	assert.Equal(t, []ChunkID{"b"}, c.Dependencies())
	assert.Equal(t, []ChunkID{"c"}, c.Similar())
	assert.Equal(t, float32(1), c.Relationships[0].Strength)
	assert.Equal(t, float32(0), c.Relationships[1].Strength)
	assert.True(t, c.Relationships[2].Type.IsCustom())
	assert.False(t, RelExtends.IsCustom())
}

func TestIsFrameworkRelated(t *testing.T) {
	c := NewChunk("a", TypePattern, &CodeContent{Language: "php", Code: "<?php", Framework: "laravel"})
	assert.True(t, c.IsFrameworkRelated("Laravel"))

	c.Metadata.Frameworks = []string{"nextjs"}
	assert.True(t, c.IsFrameworkRelated("nextjs"))
	assert.False(t, c.IsFrameworkRelated("django"))
}

func TestMarkAccessed(t *testing.T) {
	c := NewChunk("a", TypePattern, &CodeContent{Language: "go", Code: "x"})
	later := c.Metadata.CreatedAt.Add(time.Hour)
	c.MarkAccessed(later)
	c.MarkAccessed(later)

	assert.Equal(t, uint64(2), c.Metadata.UsageCount)
	assert.Equal(t, later, c.Metadata.LastAccessed)
}

func TestCloneIsDeep(t *testing.T) {
	c := NewChunk("a", TypePattern, &BinaryContent{MimeType: "a/b", Data: []byte{1}})
	c.Metadata.Tags = []string{"t"}
	c.Metadata.Properties = map[string]any{"k": "v"}
	c.Embedding = Vector{1, 2}
	c.AddRelationship("b", RelSimilar, 0.5)

	cp := c.Clone()
	require.Equal(t, c, cp)

	cp.Metadata.Tags[0] = "changed"
	cp.Metadata.Properties["k"] = "changed"
	cp.Embedding[0] = 9
	cp.Relationships[0].Target = "z"
	cp.Content.(*BinaryContent).Data[0] = 7

	assert.Equal(t, "t", c.Metadata.Tags[0])
	assert.Equal(t, "v", c.Metadata.Properties["k"])
	assert.Equal(t, float32(1), c.Embedding[0])
	assert.Equal(t, ChunkID("b"), c.Relationships[0].Target)
	assert.Equal(t, byte(1), c.Content.(*BinaryContent).Data[0])
}

func TestValidate(t *testing.T) {
	ok := func() *Chunk { return NewChunk("a", TypePattern, &CodeContent{Language: "go", Code: "x"}) }

	c := ok()
	c.ID = " "
	assert.ErrorIs(t, c.Validate(), ErrInvalidChunk)

	c = ok()
	c.QualityScore = float32(math.NaN())
	assert.ErrorIs(t, c.Validate(), ErrInvalidChunk)

	c = ok()
	c.QualityScore = 1.1
	assert.ErrorIs(t, c.Validate(), ErrInvalidChunk)

	c = ok()
	c.Metadata.Frameworks = []string{"next js"}
	assert.ErrorIs(t, c.Validate(), ErrInvalidChunk)

	c = ok()
	c.Content = nil
	assert.ErrorIs(t, c.Validate(), ErrInvalidChunk)

	for _, strength := range []float32{2, -1, float32(math.NaN()), float32(math.Inf(1))} {
		c = ok()
		c.Relationships = []Relation{{Target: "b", Type: RelSimilar, Strength: strength}}
		assert.ErrorIs(t, c.Validate(), ErrInvalidChunk, "strength %v", strength)
	}

	c = ok()
	c.Relationships = []Relation{{Target: "b", Type: RelSimilar, Strength: 1}, {Target: "c", Type: RelSimilar}}
	assert.NoError(t, c.Validate())
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, float32(0), Clamp01(float32(math.NaN())))
	assert.Equal(t, float32(0), Clamp01(-0.2))
	assert.Equal(t, float32(1), Clamp01(3))
	assert.Equal(t, float32(0.25), Clamp01(0.25))
	assert.Equal(t, 0.0, Clamp01f(math.Inf(-1)))
	assert.Equal(t, 1.0, Clamp01f(math.Inf(1)))
}

func TestParseChunkType(t *testing.T) {
	typ, err := ParseChunkType(" Best_Practice ")
	require.NoError(t, err)
	assert.Equal(t, TypeBestPractice, typ)

	_, err = ParseChunkType("widget")
	assert.Error(t, err)
}

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "a\tb\nc", SanitizeText("a\x00\tb\n\x07c"))
	assert.Equal(t, "next.js", NormalizeFramework("  Next.js "))
	assert.NoError(t, ValidateFramework("Next.js"))
	assert.Error(t, ValidateFramework(""))
}

func TestChunkSanitize(t *testing.T) {
	c := NewChunk("s", TypeComponent, &CodeContent{Language: "go", Code: "a\x00b\x07\nc"})
	c.Metadata.Tags = []string{"x\x01y"}
	c.Sanitize()
	assert.Equal(t, "ab\nc", c.Content.(*CodeContent).Code)
	assert.Equal(t, []string{"xy"}, c.Metadata.Tags)
}
