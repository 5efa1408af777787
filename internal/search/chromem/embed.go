package chromem

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const (
	wordWeight    = 1.0
	trigramWeight = 0.5
)

// HashEmbedder maps text to a fixed-size vector by feature hashing words and
// character trigrams. It is deterministic and needs no model.
type HashEmbedder struct {
	Dim int
}

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

func trigrams(word string) []string {
	padded := []rune("^" + word + "$")
	if len(padded) < 3 {
		return nil
	}
	out := make([]string, 0, len(padded)-2)
	for i := 0; i+3 <= len(padded); i++ {
		out = append(out, string(padded[i:i+3]))
	}
	return out
}

func (e HashEmbedder) add(vec []float32, feature string, weight float32) {
	h := xxhash.Sum64String(feature)
	i := int(h % uint64(len(vec)))
	if h>>63 == 1 {
		weight = -weight
	}
	vec[i] += weight
}

// Vector embeds words and trigrams. Text with no features yields nil.
func (e HashEmbedder) Vector(text string) []float32 {
	return e.vector(text, true)
}

// TrigramVector embeds only character trigrams, for typo-tolerant lookups.
func (e HashEmbedder) TrigramVector(text string) []float32 {
	return e.vector(text, false)
}

func (e HashEmbedder) vector(text string, withWords bool) []float32 {
	vec := make([]float32, e.Dim)
	n := 0
	for _, w := range words(text) {
		if withWords {
			e.add(vec, "w:"+w, wordWeight)
			n++
		}
		for _, g := range trigrams(w) {
			e.add(vec, "t:"+g, trigramWeight)
			n++
		}
	}
	if n == 0 {
		return nil
	}
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return nil
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// Func adapts the embedder to chromem's EmbeddingFunc. Featureless text gets
// a unit vector on the first axis so documents can still be stored.
func (e HashEmbedder) Func() func(ctx context.Context, text string) ([]float32, error) {
	return func(_ context.Context, text string) ([]float32, error) {
		if v := e.Vector(text); v != nil {
			return v, nil
		}
		return e.placeholder(), nil
	}
}

func (e HashEmbedder) placeholder() []float32 {
	v := make([]float32, e.Dim)
	v[0] = 1
	return v
}
