package embedding

import (
	"context"
	"fmt"

	"github.com/rcliao/semantic-memory/internal/chunker"
)

// ChunkedEmbedder embeds text that exceeds the model's input window as the
// normalised mean of its chunk vectors. Shorter text passes through unchanged.
type ChunkedEmbedder struct {
	inner Embedder
	opts  chunker.Options
}

// NewChunkedEmbedder wraps inner with a chunk window of maxRunes.
func NewChunkedEmbedder(inner Embedder, maxRunes int) *ChunkedEmbedder {
	return &ChunkedEmbedder{inner: inner, opts: chunker.WithMax(maxRunes)}
}

func (c *ChunkedEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	chunks := chunker.Split(text, c.opts)
	if len(chunks) <= 1 {
		return c.inner.Embed(ctx, text)
	}

	var sum []float64
	for i, chunk := range chunks {
		v, err := c.inner.Embed(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("embed chunk %d/%d: %w", i+1, len(chunks), err)
		}
		if sum == nil {
			sum = make([]float64, len(v))
		}
		if len(v) != len(sum) {
			return nil, fmt.Errorf("chunk %d returned %d dims, want %d", i+1, len(v), len(sum))
		}
		for j, x := range v {
			sum[j] += float64(x)
		}
	}
	return normalize64(sum), nil
}

func (c *ChunkedEmbedder) Dims() int { return c.inner.Dims() }

// Close releases the wrapped backend if it holds native resources.
func (c *ChunkedEmbedder) Close() error {
	if cl, ok := c.inner.(interface{ Close() error }); ok {
		return cl.Close()
	}
	return nil
}
