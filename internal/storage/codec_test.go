package storage

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fluorite-memory/internal/types"
)

func fullChunk() *types.Chunk {
	c := types.NewChunk("full", types.TypeAPIIntegration, &types.CodeContent{
		Language:  "typescript",
		Code:      "export default function handler(req: NextApiRequest, res: NextApiResponse) {}",
		Framework: "nextjs",
	})
	c.Metadata.Source = "template-learner"
	c.Metadata.Tags = []string{"api", "route"}
	c.Metadata.Frameworks = []string{"nextjs"}
	c.Metadata.Patterns = []string{"api-route"}
	c.Metadata.UsageCount = 7
	c.Metadata.FilePath = "pages/api/hello.ts"
	c.Metadata.LineRange = &types.LineRange{Start: 1, End: 12}
	c.Metadata.Dependencies = []types.ChunkID{"dep-1"}
	c.Metadata.Properties = map[string]any{"license": "MIT", "stars": 12.5}
	c.Embedding = types.Vector{0.1, -0.25, 3.5}
	c.AddRelationship("other", types.RelUsedWith, 0.75)
	c.Relationships[0].Metadata = map[string]string{"via": "import"}
	c.QualityScore = 0.8
	return c
}

func TestCodecRoundTripAllVariants(t *testing.T) {
	codec, err := NewCodec(6)
	require.NoError(t, err)
	defer codec.Close()

	variants := map[string]types.Content{
		"code":   &types.CodeContent{Language: "go", Code: "package main"},
		"config": &types.ConfigContent{Format: "yaml", Content: "a: 1", Schema: "schema.json"},
		"doc":    &types.DocumentationContent{Format: "markdown", Content: "# hi", Language: "en"},
		"data":   &types.DataContent{Format: "json", Value: json.RawMessage(`{"k":[1,2,3]}`)},
		"binary": &types.BinaryContent{MimeType: "application/octet-stream", Data: []byte{0, 1, 2, 255}},
	}

	for name, content := range variants {
		t.Run(name, func(t *testing.T) {
			c := fullChunk()
			c.Content = content

			raw, err := Marshal(c)
			require.NoError(t, err)

			compressed := codec.Compress(raw)
			decompressed, err := codec.Decompress(compressed)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(raw, decompressed), "decompressed bytes differ")

			back, err := Unmarshal(decompressed)
			require.NoError(t, err)
			assert.Equal(t, c, back)
		})
	}
}

func TestCodecPreservesNilAndEmpty(t *testing.T) {
	codec, err := NewCodec(1)
	require.NoError(t, err)
	defer codec.Close()

	c := types.NewChunk("bare", types.TypePattern, &types.CodeContent{Language: "go", Code: "x"})
	c.Relationships = nil
	c.Metadata.Dependencies = nil

	payload, _, err := codec.Encode(c)
	require.NoError(t, err)
	back, err := codec.Decode(payload)
	require.NoError(t, err)

	assert.Equal(t, c, back)
	assert.Nil(t, back.Relationships)
	assert.NotNil(t, back.Metadata.Tags)
	assert.Nil(t, back.Embedding)
	assert.Nil(t, back.Metadata.LineRange)
}

func TestCodecCompressesRepetitiveContent(t *testing.T) {
	codec, err := NewCodec(6)
	require.NoError(t, err)
	defer codec.Close()

	c := types.NewChunk("big", types.TypePattern, &types.CodeContent{Language: "text", Code: strings.Repeat("a", 10000)})
	payload, rawLen, err := codec.Encode(c)
	require.NoError(t, err)
	assert.Less(t, len(payload), rawLen)
}

func TestCodecRejectsGarbage(t *testing.T) {
	codec, err := NewCodec(6)
	require.NoError(t, err)
	defer codec.Close()

	_, err = codec.Decode([]byte("not zstd"))
	assert.Error(t, err)

	_, err = Unmarshal([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestMarshalRejectsMissingContent(t *testing.T) {
	c := types.NewChunk("x", types.TypePattern, nil)
	_, err := Marshal(c)
	assert.Error(t, err)
}
