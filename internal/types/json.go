package types

import (
	"encoding/json"
	"fmt"
)

// contentEnvelope tags a Content value with its kind on the wire:
// {"kind":"code","data":{"language":"go","code":"..."}}.
type contentEnvelope struct {
	Kind ContentKind     `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type chunkJSON struct {
	ID            ChunkID          `json:"id"`
	Type          ChunkType        `json:"chunk_type"`
	Content       *contentEnvelope `json:"content"`
	Metadata      Metadata         `json:"metadata"`
	Embedding     Vector           `json:"embedding,omitempty"`
	Relationships []Relation       `json:"relationships"`
	QualityScore  float32          `json:"quality_score"`
	Revision      uint64           `json:"revision,omitempty"`
}

// MarshalContent encodes c inside a kind envelope.
func MarshalContent(c Content) ([]byte, error) {
	env, err := envelope(c)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func envelope(c Content) (*contentEnvelope, error) {
	if c == nil {
		return nil, nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return &contentEnvelope{Kind: c.Kind(), Data: data}, nil
}

// UnmarshalContent decodes a kind envelope into the matching Content variant.
func UnmarshalContent(b []byte) (Content, error) {
	var env contentEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	return env.decode()
}

func (env *contentEnvelope) decode() (Content, error) {
	var c Content
	switch env.Kind {
	case KindCode:
		c = &CodeContent{}
	case KindConfig:
		c = &ConfigContent{}
	case KindDocumentation:
		c = &DocumentationContent{}
	case KindData:
		c = &DataContent{}
	case KindBinary:
		c = &BinaryContent{}
	default:
		return nil, fmt.Errorf("unknown content kind %q", env.Kind)
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, c); err != nil {
			return nil, fmt.Errorf("decode %s content: %w", env.Kind, err)
		}
	}
	return c, nil
}

func (c Chunk) MarshalJSON() ([]byte, error) {
	env, err := envelope(c.Content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(chunkJSON{
		ID:            c.ID,
		Type:          c.Type,
		Content:       env,
		Metadata:      c.Metadata,
		Embedding:     c.Embedding,
		Relationships: c.Relationships,
		QualityScore:  c.QualityScore,
		Revision:      c.Revision,
	})
}

// UnmarshalJSON fills omitted fields with the defaults NewChunk uses.
// Revision is assigned by storage, so an incoming value is ignored.
func (c *Chunk) UnmarshalJSON(b []byte) error {
	def := NewChunk("", "", nil)
	aux := chunkJSON{
		Type:          TypePattern,
		Metadata:      def.Metadata,
		Relationships: def.Relationships,
		QualityScore:  def.QualityScore,
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	typ, err := ParseChunkType(string(aux.Type))
	if err != nil {
		return err
	}
	var content Content
	if aux.Content != nil {
		if content, err = aux.Content.decode(); err != nil {
			return err
		}
	}
	if aux.Metadata.Source == "" {
		aux.Metadata.Source = def.Metadata.Source
	}
	if aux.Metadata.CreatedAt.IsZero() {
		aux.Metadata.CreatedAt = def.Metadata.CreatedAt
	}
	if aux.Metadata.LastAccessed.IsZero() {
		aux.Metadata.LastAccessed = aux.Metadata.CreatedAt
	}
	*c = Chunk{
		ID:            aux.ID,
		Type:          typ,
		Content:       content,
		Metadata:      aux.Metadata,
		Embedding:     aux.Embedding,
		Relationships: aux.Relationships,
		QualityScore:  aux.QualityScore,
	}
	return nil
}
