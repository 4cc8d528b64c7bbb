package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Loader builds the underlying Embedder.
type Loader func(ctx context.Context) (Embedder, error)

// Provider owns a lazily-loaded embedding model. The first Encode (or Load)
// triggers the loader and the handle is reused for the lifetime of the
// Provider. A failed load is retried on the next call. Safe for concurrent use.
type Provider struct {
	load   Loader
	logger *slog.Logger

	mu       sync.Mutex
	embedder Embedder
}

// NewProvider creates a Provider around load. A nil logger discards output.
func NewProvider(load Loader, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Provider{load: load, logger: logger}
}

// NewStaticProvider wraps an already-constructed Embedder.
func NewStaticProvider(e Embedder) *Provider {
	return NewProvider(func(context.Context) (Embedder, error) { return e, nil }, nil)
}

// Load initializes the model if it has not been loaded yet.
func (p *Provider) Load(ctx context.Context) error {
	_, err := p.handle(ctx)
	return err
}

// handle loads under a context detached from the caller's cancellation, so
// an abandoned request cannot fail the load for concurrent callers.
func (p *Provider) handle(ctx context.Context) (Embedder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.embedder != nil {
		return p.embedder, nil
	}

	p.logger.Info("loading embedding model")
	e, err := p.load(context.WithoutCancel(ctx))
	switch {
	case err != nil:
		err = fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	case e == nil:
		err = fmt.Errorf("%w: loader returned no embedder", ErrModelUnavailable)
	}
	if err != nil {
		p.logger.Error("embedding model load failed", "error", err)
		return nil, err
	}
	p.embedder = e
	p.logger.Info("embedding model loaded", "dims", e.Dims())
	return e, nil
}

// Encode returns the embedding of text.
func (p *Provider) Encode(ctx context.Context, text string) (Vector, error) {
	e, err := p.handle(ctx)
	if err != nil {
		return nil, err
	}
	vec, err := e.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	return vec, nil
}

// Similarity scores two vectors with cosine similarity.
func (p *Provider) Similarity(a, b Vector) float64 {
	return CosineSimilarity(a, b)
}

// Dims reports the model's vector size, loading it if needed. It returns 0
// when the model is unavailable.
func (p *Provider) Dims() int {
	e, err := p.handle(context.Background())
	if err != nil {
		return 0
	}
	return e.Dims()
}

// Close releases the model if the backend holds native resources.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.embedder.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
