package types

import (
	"bytes"
	"encoding/json"
)

// ContentKind tags which Content variant a chunk carries.
type ContentKind string

const (
	KindCode          ContentKind = "code"
	KindConfig        ContentKind = "config"
	KindDocumentation ContentKind = "documentation"
	KindData          ContentKind = "data"
	KindBinary        ContentKind = "binary"
)

// Content is the payload of a chunk. Exactly one of the concrete variants below.
type Content interface {
	Kind() ContentKind
	// SearchableParts returns the text fragments that feed full-text search, in order.
	SearchableParts() []string
	// Size is the payload's contribution to the estimated chunk size.
	Size() int
}

type CodeContent struct {
	Language  string `json:"language"`
	Code      string `json:"code"`
	Framework string `json:"framework,omitempty"`
}

func (c *CodeContent) Kind() ContentKind { return KindCode }

func (c *CodeContent) SearchableParts() []string {
	return nonEmpty(c.Code, c.Language, c.Framework)
}

func (c *CodeContent) Size() int { return len(c.Code) + len(c.Language) + len(c.Framework) }

type ConfigContent struct {
	Format  string `json:"format"`
	Content string `json:"content"`
	Schema  string `json:"schema,omitempty"`
}

func (c *ConfigContent) Kind() ContentKind { return KindConfig }

func (c *ConfigContent) SearchableParts() []string {
	return nonEmpty(c.Content, c.Format)
}

func (c *ConfigContent) Size() int { return len(c.Content) + len(c.Format) + len(c.Schema) }

type DocumentationContent struct {
	Format   string `json:"format"`
	Content  string `json:"content"`
	Language string `json:"language,omitempty"`
}

func (c *DocumentationContent) Kind() ContentKind { return KindDocumentation }

func (c *DocumentationContent) SearchableParts() []string {
	return nonEmpty(c.Content, c.Format, c.Language)
}

func (c *DocumentationContent) Size() int { return len(c.Content) + len(c.Format) + len(c.Language) }

// DataContent holds an arbitrary structured value as raw JSON.
type DataContent struct {
	Format string          `json:"format"`
	Value  json.RawMessage `json:"value"`
}

func (c *DataContent) Kind() ContentKind { return KindData }

func (c *DataContent) SearchableParts() []string {
	var buf bytes.Buffer
	if len(c.Value) > 0 && json.Compact(&buf, c.Value) == nil {
		return nonEmpty(buf.String(), c.Format)
	}
	return nonEmpty(string(c.Value), c.Format)
}

func (c *DataContent) Size() int { return len(c.Value) + len(c.Format) }

type BinaryContent struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

func (c *BinaryContent) Kind() ContentKind { return KindBinary }

// Binary payloads are not searchable beyond their mime type.
func (c *BinaryContent) SearchableParts() []string { return nonEmpty(c.MimeType) }

func (c *BinaryContent) Size() int { return len(c.Data) + len(c.MimeType) }

func nonEmpty(parts ...string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// cloneContent returns a deep copy of c.
func cloneContent(c Content) Content {
	switch v := c.(type) {
	case *CodeContent:
		cp := *v
		return &cp
	case *ConfigContent:
		cp := *v
		return &cp
	case *DocumentationContent:
		cp := *v
		return &cp
	case *DataContent:
		cp := *v
		if v.Value != nil {
			cp.Value = make(json.RawMessage, len(v.Value))
			copy(cp.Value, v.Value)
		}
		return &cp
	case *BinaryContent:
		cp := *v
		if v.Data != nil {
			cp.Data = make([]byte, len(v.Data))
			copy(cp.Data, v.Data)
		}
		return &cp
	}
	return c
}
