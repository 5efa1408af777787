package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.mongodb.org/mongo-driver/bson"

	"fluorite-memory/internal/types"
)

// chunkRecord is the serialized shape of a chunk. Times are UnixNano because BSON
// datetimes only carry milliseconds; free-form values travel as JSON bytes.
// The storage revision lives in the value frame, not here.
type chunkRecord struct {
	ID        string           `bson:"id"`
	Type      string           `bson:"type"`
	Content   contentRecord    `bson:"content"`
	Meta      metadataRecord   `bson:"meta"`
	Embedding []float32        `bson:"embedding"`
	Relations []relationRecord `bson:"relations"`
	Quality   float32          `bson:"quality"`
}

type contentRecord struct {
	Kind      string `bson:"kind"`
	Language  string `bson:"language,omitempty"`
	Code      string `bson:"code,omitempty"`
	Framework string `bson:"framework,omitempty"`
	Format    string `bson:"format,omitempty"`
	Body      string `bson:"body,omitempty"`
	Schema    string `bson:"schema,omitempty"`
	MimeType  string `bson:"mime,omitempty"`
	Value     []byte `bson:"value"`
	Data      []byte `bson:"data"`
}

type metadataRecord struct {
	Source       string      `bson:"source"`
	Tags         []string    `bson:"tags"`
	Frameworks   []string    `bson:"frameworks"`
	Patterns     []string    `bson:"patterns"`
	UsageCount   int64       `bson:"usage"`
	CreatedAt    int64       `bson:"created"`
	LastAccessed int64       `bson:"accessed"`
	FilePath     string      `bson:"file,omitempty"`
	LineRange    *lineRecord `bson:"lines"`
	Dependencies []string    `bson:"deps"`
	Properties   []byte      `bson:"props"`
}

type lineRecord struct {
	Start int64 `bson:"start"`
	End   int64 `bson:"end"`
}

type relationRecord struct {
	Target   string            `bson:"target"`
	Type     string            `bson:"type"`
	Strength float32           `bson:"strength"`
	Metadata map[string]string `bson:"meta"`
}

// Codec turns chunks into compressed records and back. Safe for concurrent use.
type Codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCodec maps a zstd-style level (0-22) onto the encoder's speed presets.
func NewCodec(level int) (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

func (c *Codec) Close() {
	_ = c.enc.Close()
	c.dec.Close()
}

// Encode serializes and compresses chunk, returning the compressed bytes and the raw length.
func (c *Codec) Encode(chunk *types.Chunk) ([]byte, int, error) {
	raw, err := Marshal(chunk)
	if err != nil {
		return nil, 0, err
	}
	return c.Compress(raw), len(raw), nil
}

func (c *Codec) Decode(b []byte) (*types.Chunk, error) {
	raw, err := c.Decompress(b)
	if err != nil {
		return nil, err
	}
	return Unmarshal(raw)
}

func (c *Codec) Compress(raw []byte) []byte {
	return c.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2))
}

func (c *Codec) Decompress(b []byte) ([]byte, error) {
	raw, err := c.dec.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return raw, nil
}

// Marshal produces the uncompressed BSON form of chunk.
func Marshal(chunk *types.Chunk) ([]byte, error) {
	rec, err := toRecord(chunk)
	if err != nil {
		return nil, err
	}
	raw, err := bson.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("serialize chunk %s: %w", chunk.ID, err)
	}
	return raw, nil
}

func Unmarshal(raw []byte) (*types.Chunk, error) {
	var rec chunkRecord
	if err := bson.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("deserialize chunk: %w", err)
	}
	return fromRecord(&rec)
}

func toRecord(c *types.Chunk) (*chunkRecord, error) {
	content, err := toContentRecord(c.Content)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", c.ID, err)
	}
	var props []byte
	if c.Metadata.Properties != nil {
		props, err = json.Marshal(c.Metadata.Properties)
		if err != nil {
			return nil, fmt.Errorf("chunk %s properties: %w", c.ID, err)
		}
	}
	var lines *lineRecord
	if lr := c.Metadata.LineRange; lr != nil {
		lines = &lineRecord{Start: int64(lr.Start), End: int64(lr.End)}
	}
	var rels []relationRecord
	if c.Relationships != nil {
		rels = make([]relationRecord, len(c.Relationships))
		for i, r := range c.Relationships {
			rels[i] = relationRecord{Target: string(r.Target), Type: string(r.Type), Strength: r.Strength, Metadata: r.Metadata}
		}
	}
	return &chunkRecord{
		ID:      string(c.ID),
		Type:    string(c.Type),
		Content: content,
		Meta: metadataRecord{
			Source:       c.Metadata.Source,
			Tags:         c.Metadata.Tags,
			Frameworks:   c.Metadata.Frameworks,
			Patterns:     c.Metadata.Patterns,
			UsageCount:   int64(c.Metadata.UsageCount),
			CreatedAt:    unixNano(c.Metadata.CreatedAt),
			LastAccessed: unixNano(c.Metadata.LastAccessed),
			FilePath:     c.Metadata.FilePath,
			LineRange:    lines,
			Dependencies: idsToStrings(c.Metadata.Dependencies),
			Properties:   props,
		},
		Embedding: c.Embedding,
		Relations: rels,
		Quality:   c.QualityScore,
	}, nil
}

func fromRecord(rec *chunkRecord) (*types.Chunk, error) {
	content, err := fromContentRecord(rec.Content)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", rec.ID, err)
	}
	var props map[string]any
	if rec.Meta.Properties != nil {
		if err := json.Unmarshal(rec.Meta.Properties, &props); err != nil {
			return nil, fmt.Errorf("chunk %s properties: %w", rec.ID, err)
		}
	}
	var lines *types.LineRange
	if lr := rec.Meta.LineRange; lr != nil {
		lines = &types.LineRange{Start: int(lr.Start), End: int(lr.End)}
	}
	var rels []types.Relation
	if rec.Relations != nil {
		rels = make([]types.Relation, len(rec.Relations))
		for i, r := range rec.Relations {
			rels[i] = types.Relation{Target: types.ChunkID(r.Target), Type: types.RelationType(r.Type), Strength: r.Strength, Metadata: r.Metadata}
		}
	}
	return &types.Chunk{
		ID:      types.ChunkID(rec.ID),
		Type:    types.ChunkType(rec.Type),
		Content: content,
		Metadata: types.Metadata{
			Source:       rec.Meta.Source,
			Tags:         rec.Meta.Tags,
			Frameworks:   rec.Meta.Frameworks,
			Patterns:     rec.Meta.Patterns,
			UsageCount:   uint64(rec.Meta.UsageCount),
			CreatedAt:    fromUnixNano(rec.Meta.CreatedAt),
			LastAccessed: fromUnixNano(rec.Meta.LastAccessed),
			FilePath:     rec.Meta.FilePath,
			LineRange:    lines,
			Dependencies: stringsToIDs(rec.Meta.Dependencies),
			Properties:   props,
		},
		Embedding:     rec.Embedding,
		Relationships: rels,
		QualityScore:  rec.Quality,
	}, nil
}

func toContentRecord(c types.Content) (contentRecord, error) {
	switch v := c.(type) {
	case *types.CodeContent:
		return contentRecord{Kind: string(types.KindCode), Language: v.Language, Code: v.Code, Framework: v.Framework}, nil
	case *types.ConfigContent:
		return contentRecord{Kind: string(types.KindConfig), Format: v.Format, Body: v.Content, Schema: v.Schema}, nil
	case *types.DocumentationContent:
		return contentRecord{Kind: string(types.KindDocumentation), Format: v.Format, Body: v.Content, Language: v.Language}, nil
	case *types.DataContent:
		return contentRecord{Kind: string(types.KindData), Format: v.Format, Value: v.Value}, nil
	case *types.BinaryContent:
		return contentRecord{Kind: string(types.KindBinary), MimeType: v.MimeType, Data: v.Data}, nil
	case nil:
		return contentRecord{}, fmt.Errorf("missing content")
	}
	return contentRecord{}, fmt.Errorf("unsupported content %T", c)
}

func fromContentRecord(r contentRecord) (types.Content, error) {
	switch types.ContentKind(r.Kind) {
	case types.KindCode:
		return &types.CodeContent{Language: r.Language, Code: r.Code, Framework: r.Framework}, nil
	case types.KindConfig:
		return &types.ConfigContent{Format: r.Format, Content: r.Body, Schema: r.Schema}, nil
	case types.KindDocumentation:
		return &types.DocumentationContent{Format: r.Format, Content: r.Body, Language: r.Language}, nil
	case types.KindData:
		return &types.DataContent{Format: r.Format, Value: json.RawMessage(r.Value)}, nil
	case types.KindBinary:
		return &types.BinaryContent{MimeType: r.MimeType, Data: r.Data}, nil
	}
	return nil, fmt.Errorf("unknown content kind %q", r.Kind)
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func idsToStrings(ids []types.ChunkID) []string {
	if ids == nil {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func stringsToIDs(ss []string) []types.ChunkID {
	if ss == nil {
		return nil
	}
	out := make([]types.ChunkID, len(ss))
	for i, s := range ss {
		out[i] = types.ChunkID(s)
	}
	return out
}
