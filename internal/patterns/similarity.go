package patterns

import (
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto"

	"fluorite-memory/internal/index"
	"fluorite-memory/internal/types"
)

// Component weights of the combined score. They sum to 1.
const (
	WeightContent    = 0.30
	WeightStructural = 0.30
	WeightSemantic   = 0.25
	WeightFramework  = 0.15
)

const kindEpsilon = 1e-6

type tokenSet map[string]struct{}

// tokenMemo caches whitespace token sets of searchable text keyed by the
// text's hash. Sets handed out are shared and must not be modified.
type tokenMemo struct {
	cache *ristretto.Cache
}

func newTokenMemo(maxTokens int64) (*tokenMemo, error) {
	if maxTokens <= 0 {
		maxTokens = 1 << 20
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     maxTokens,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &tokenMemo{cache: c}, nil
}

func (m *tokenMemo) tokens(text string) tokenSet {
	key := xxhash.Sum64String(text)
	if v, ok := m.cache.Get(key); ok {
		if set, ok := v.(tokenSet); ok {
			return set
		}
	}
	set := make(tokenSet)
	for _, w := range strings.Fields(text) {
		set[w] = struct{}{}
	}
	m.cache.Set(key, set, int64(len(set))+1)
	return set
}

func (m *tokenMemo) close() {
	m.cache.Close()
}

func jaccardSets(a, b tokenSet) float32 {
	if len(a) > len(b) {
		a, b = b, a
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float32(inter) / float32(union)
}

func jaccard(a, b []string, norm func(string) string) float32 {
	sa := make(tokenSet, len(a))
	for _, s := range a {
		if s = norm(s); s != "" {
			sa[s] = struct{}{}
		}
	}
	sb := make(tokenSet, len(b))
	for _, s := range b {
		if s = norm(s); s != "" {
			sb[s] = struct{}{}
		}
	}
	return jaccardSets(sa, sb)
}

// Scores holds the four similarity components for a pair of chunks.
type Scores struct {
	Content    float32 `json:"content"`
	Structural float32 `json:"structural"`
	Semantic   float32 `json:"semantic"`
	Framework  float32 `json:"framework"`
	// BothEmbedded is true when Semantic came from embeddings rather
	// than the content fallback.
	BothEmbedded bool `json:"both_embedded"`
}

// Combined is the weighted sum, clamped to [0,1].
func (s Scores) Combined() float32 {
	v := s.Content*WeightContent +
		s.Structural*WeightStructural +
		s.Semantic*WeightSemantic +
		s.Framework*WeightFramework
	return types.Clamp01(v)
}

// Dominant picks the component closest to the maximum. Semantic wins ties
// only when it was computed from embeddings, then structural, framework,
// content.
func (s Scores) Dominant() types.SimilarityKind {
	top := max(s.Content, s.Structural, s.Framework)
	if s.BothEmbedded {
		top = max(top, s.Semantic)
	}
	near := func(v float32) bool { return math.Abs(float64(v-top)) < kindEpsilon }
	switch {
	case s.BothEmbedded && near(s.Semantic):
		return types.SimilaritySemantic
	case near(s.Structural):
		return types.SimilarityStructural
	case near(s.Framework):
		return types.SimilarityFramework
	default:
		return types.SimilarityContent
	}
}

type scorer struct {
	memo *tokenMemo
}

func (sc scorer) content(a, b *types.Chunk) float32 {
	return jaccardSets(sc.memo.tokens(a.SearchableText()), sc.memo.tokens(b.SearchableText()))
}

func (sc scorer) score(a, b *types.Chunk) Scores {
	var s Scores
	s.Content = sc.content(a, b)

	typeMatch := float32(0)
	if a.Type == b.Type {
		typeMatch = 1
	}
	s.Structural = (typeMatch + jaccard(a.Metadata.Patterns, b.Metadata.Patterns, strings.TrimSpace)) / 2

	if len(a.Embedding) > 0 && len(b.Embedding) > 0 {
		s.BothEmbedded = true
		s.Semantic = types.Clamp01(index.Cosine(a.Embedding, b.Embedding))
	} else {
		s.Semantic = s.Content
	}

	s.Framework = jaccard(a.Metadata.Frameworks, b.Metadata.Frameworks, types.NormalizeFramework)
	return s
}
