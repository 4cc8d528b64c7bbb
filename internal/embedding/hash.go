package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashDims is the vector size of HashEmbedder when none is configured.
const DefaultHashDims = 512

// stopwords carry no topical signal and are skipped by HashEmbedder.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "in": true, "is": true,
	"it": true, "of": true, "on": true, "or": true, "that": true, "the": true,
	"this": true, "to": true, "was": true, "were": true, "with": true,
}

// HashEmbedder is a deterministic, dependency-free embedder. It hashes word
// and character-trigram features into a fixed number of signed buckets, so
// texts sharing vocabulary score higher. It needs no model files and is the
// default backend.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hash embedder producing vectors of the given size.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDims
	}
	return &HashEmbedder{dims: dims}
}

func (e *HashEmbedder) Embed(_ context.Context, text string) (Vector, error) {
	vec := make([]float64, e.dims)
	for _, tok := range tokenize(text) {
		e.add(vec, "w:"+tok, 1.0)
		runes := []rune("#" + tok + "#")
		for i := 0; i+3 <= len(runes); i++ {
			e.add(vec, "t:"+string(runes[i:i+3]), 0.5)
		}
	}
	return normalize64(vec), nil
}

func (e *HashEmbedder) Dims() int { return e.dims }

func (e *HashEmbedder) add(vec []float64, feature string, weight float64) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := sum % uint64(e.dims)
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if !stopwords[f] {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// normalize64 scales vec to unit length and narrows it to float32.
func normalize64(vec []float64) Vector {
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make(Vector, len(vec))
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}
