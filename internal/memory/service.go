// Package memory implements the save and search lifecycle on top of a
// store and an embedding provider.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rcliao/semantic-memory/internal/embedding"
	"github.com/rcliao/semantic-memory/internal/model"
	"github.com/rcliao/semantic-memory/internal/store"
)

// ErrTextTooLong is returned by Save when the text exceeds MaxTextLength.
var ErrTextTooLong = errors.New("text too long")

const (
	DefaultMaxTextLength       = 10000
	DefaultSimilarityThreshold = 0.7
	DefaultLimit               = 5
)

// Save outcomes reported in SaveResult.Reason.
const (
	ReasonCreated   = "created"
	ReasonDuplicate = "duplicate"
)

// Encoder turns text into a vector. *embedding.Provider satisfies it.
type Encoder interface {
	Encode(ctx context.Context, text string) (embedding.Vector, error)
}

// Options tunes a Service. Zero values select the defaults; a nil
// SimilarityThreshold means DefaultSimilarityThreshold.
type Options struct {
	MaxTextLength       int
	SimilarityThreshold *float64
	DefaultLimit        int
	Metrics             *Metrics
	Now                 func() time.Time
}

// Service coordinates dedup, embedding, persistence and ranking. It holds
// no state of its own beyond its collaborators.
type Service struct {
	store   store.Store
	encoder Encoder
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *Metrics
	now     func() time.Time

	maxTextLength int
	threshold     float64
	defaultLimit  int
}

// New creates a Service. A nil logger discards output.
func New(st store.Store, enc Encoder, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.MaxTextLength <= 0 {
		opts.MaxTextLength = DefaultMaxTextLength
	}
	threshold := DefaultSimilarityThreshold
	if opts.SimilarityThreshold != nil {
		threshold = *opts.SimilarityThreshold
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:         st,
		encoder:       enc,
		logger:        logger,
		tracer:        otel.Tracer("github.com/rcliao/semantic-memory/internal/memory"),
		metrics:       opts.Metrics,
		now:           opts.Now,
		maxTextLength: opts.MaxTextLength,
		threshold:     threshold,
		defaultLimit:  opts.DefaultLimit,
	}
}

// SaveParams holds parameters for Save.
type SaveParams struct {
	Text    string   `json:"text"`
	Project string   `json:"project,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// SaveResult reports the id of the stored (or pre-existing) memory.
type SaveResult struct {
	ID           string `json:"id"`
	WasDuplicate bool   `json:"wasDuplicate"`
	Reason       string `json:"reason"`
}

// ContentHash returns the hex SHA-256 of text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Save stores text unless a non-archived memory with the same content already
// exists, in which case the existing id is returned and nothing is written.
func (s *Service) Save(ctx context.Context, p SaveParams) (SaveResult, error) {
	ctx, span := s.tracer.Start(ctx, "memory.Save", trace.WithAttributes(
		attribute.String("memory.project", p.Project),
		attribute.Int("memory.text_len", len(p.Text)),
	))
	defer span.End()

	res, err := s.save(ctx, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.observeSave("error")
		return SaveResult{}, err
	}
	span.SetAttributes(attribute.String("memory.id", res.ID), attribute.String("memory.reason", res.Reason))
	s.metrics.observeSave(res.Reason)
	return res, nil
}

func (s *Service) save(ctx context.Context, p SaveParams) (SaveResult, error) {
	if n := utf8.RuneCountInString(p.Text); n > s.maxTextLength {
		return SaveResult{}, fmt.Errorf("%w: %d characters exceeds limit of %d", ErrTextTooLong, n, s.maxTextLength)
	}

	hash := ContentHash(p.Text)
	existing, err := s.store.FindByHash(ctx, hash)
	if err != nil {
		return SaveResult{}, fmt.Errorf("find by hash: %w", err)
	}
	if existing != nil {
		s.logger.Debug("duplicate memory", "id", existing.ID)
		return SaveResult{ID: existing.ID, WasDuplicate: true, Reason: ReasonDuplicate}, nil
	}

	vec, err := s.encoder.Encode(ctx, p.Text)
	if err != nil {
		return SaveResult{}, fmt.Errorf("embed text: %w", err)
	}

	now := s.now().Unix()
	tags := make([]string, len(p.Tags))
	copy(tags, p.Tags)
	m := &model.Memory{
		ID:          ulid.Make().String(),
		Text:        p.Text,
		ContentHash: hash,
		Embedding:   vec,
		Project:     p.Project,
		Tags:        tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.Insert(ctx, m); err != nil {
		if !errors.Is(err, store.ErrDuplicate) {
			return SaveResult{}, fmt.Errorf("insert memory: %w", err)
		}
		// A concurrent save won the race for this hash.
		winner, ferr := s.store.FindByHash(ctx, hash)
		if ferr != nil {
			return SaveResult{}, fmt.Errorf("find by hash: %w", ferr)
		}
		if winner == nil {
			return SaveResult{}, fmt.Errorf("insert memory: %w", err)
		}
		s.logger.Debug("duplicate memory after conflict", "id", winner.ID)
		return SaveResult{ID: winner.ID, WasDuplicate: true, Reason: ReasonDuplicate}, nil
	}

	s.logger.Info("memory saved", "id", m.ID, "project", m.Project)
	return SaveResult{ID: m.ID, WasDuplicate: false, Reason: ReasonCreated}, nil
}

// SearchParams holds parameters for Search. A nil Threshold selects the
// configured default; Limit <= 0 selects the default limit.
type SearchParams struct {
	Query     string
	Project   string
	Limit     int
	Threshold *float64
}

// SearchResult is an alias kept for callers that reason in service terms.
type SearchResult = model.ResultMemory

type scored struct {
	mem   *model.Memory
	score float64
}

// Search ranks non-archived memories by cosine similarity to query. Ties keep
// the store's newest-first order. An empty result is not an error.
func (s *Service) Search(ctx context.Context, p SearchParams) ([]SearchResult, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = s.defaultLimit
	}
	threshold := s.threshold
	if p.Threshold != nil {
		threshold = *p.Threshold
	}

	ctx, span := s.tracer.Start(ctx, "memory.Search", trace.WithAttributes(
		attribute.String("memory.project", p.Project),
		attribute.Int("memory.limit", limit),
		attribute.Float64("memory.threshold", threshold),
	))
	defer span.End()

	results, candidates, err := s.search(ctx, p, limit, threshold)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.observeSearch("error", candidates)
		return nil, err
	}
	span.SetAttributes(attribute.Int("memory.candidates", candidates), attribute.Int("memory.results", len(results)))
	s.metrics.observeSearch("ok", candidates)
	return results, nil
}

func (s *Service) search(ctx context.Context, p SearchParams, limit int, threshold float64) ([]SearchResult, int, error) {
	qvec, err := s.encoder.Encode(ctx, p.Query)
	if err != nil {
		return nil, 0, fmt.Errorf("embed query: %w", err)
	}

	memories, err := s.store.ListAll(ctx, store.ListFilter{Project: p.Project})
	if err != nil {
		return nil, 0, fmt.Errorf("list memories: %w", err)
	}

	hits := make([]scored, 0, len(memories))
	for i := range memories {
		m := &memories[i]
		if m.Embedding == nil {
			continue
		}
		score := embedding.CosineSimilarity(qvec, m.Embedding)
		if score >= threshold {
			hits = append(hits, scored{mem: m, score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > limit {
		hits = hits[:limit]
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, toResult(h.mem, h.score))
	}
	s.logger.Debug("search complete", "candidates", len(memories), "results", len(results))
	return results, len(memories), nil
}

func toResult(m *model.Memory, score float64) SearchResult {
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	return SearchResult{
		ID:        m.ID,
		Text:      m.Text,
		Score:     RoundScore(score),
		Project:   m.Project,
		Tags:      tags,
		CreatedAt: model.FormatTimestamp(m.CreatedAt),
	}
}

// RoundScore rounds to 4 decimal places for presentation.
func RoundScore(score float64) float64 {
	return math.Round(score*1e4) / 1e4
}

// Get returns a memory by id, archived or not.
func (s *Service) Get(ctx context.Context, id string) (*model.Memory, error) {
	m, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

// Archive hides a memory from search and dedup.
func (s *Service) Archive(ctx context.Context, id string) error {
	if err := s.store.Archive(ctx, id); err != nil {
		return fmt.Errorf("archive memory: %w", err)
	}
	s.logger.Info("memory archived", "id", id)
	return nil
}

// Unarchive restores a memory. It fails with store.ErrDuplicate when another
// active memory already holds the same content.
func (s *Service) Unarchive(ctx context.Context, id string) error {
	if err := s.store.Unarchive(ctx, id); err != nil {
		return fmt.Errorf("unarchive memory: %w", err)
	}
	s.logger.Info("memory unarchived", "id", id)
	return nil
}

// Stats returns storage statistics.
func (s *Service) Stats(ctx context.Context) (*store.Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}
