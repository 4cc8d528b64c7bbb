// Package embedding turns text into vectors and scores vector similarity.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrModelUnavailable is returned when the embedding backend cannot be
// loaded or fails during inference.
var ErrModelUnavailable = errors.New("embedding model unavailable")

// Vector is a float32 embedding vector.
type Vector = []float32

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dims() int
}

// CosineSimilarity computes cosine similarity between two vectors.
// Zero-magnitude, empty or mismatched vectors score 0.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp float drift so identical vectors never exceed 1.
	return math.Max(-1, math.Min(1, sim))
}

// Config selects and configures an embedding backend.
type Config struct {
	Provider      string // "hash" | "ollama" | "openai" | "onnx"
	Model         string
	Device        string // "cpu" | "cuda" (onnx only)
	URL           string
	APIKey        string
	Dims          int
	ModelPath     string
	TokenizerPath string
	ChunkSize     int // runes per chunk for long text; 0 embeds text whole
}

// NewLoader returns a Loader that builds the configured backend.
// Construction is deferred so a Provider can load it on first use.
func NewLoader(cfg Config) (Loader, error) {
	load, err := backendLoader(cfg)
	if err != nil || cfg.ChunkSize <= 0 {
		return load, err
	}
	return func(ctx context.Context) (Embedder, error) {
		e, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return NewChunkedEmbedder(e, cfg.ChunkSize), nil
	}, nil
}

func backendLoader(cfg Config) (Loader, error) {
	switch cfg.Provider {
	case "", "hash":
		return func(context.Context) (Embedder, error) {
			return NewHashEmbedder(cfg.Dims), nil
		}, nil
	case "ollama":
		return func(context.Context) (Embedder, error) {
			return NewOllamaEmbedder(cfg.URL, cfg.Model), nil
		}, nil
	case "openai":
		return func(context.Context) (Embedder, error) {
			return NewOpenAIEmbedder(cfg.URL, cfg.APIKey, cfg.Model, cfg.Dims), nil
		}, nil
	case "onnx":
		return func(context.Context) (Embedder, error) {
			return newONNXEmbedder(cfg)
		}, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q (valid: hash, ollama, openai, onnx)", cfg.Provider)
	}
}
