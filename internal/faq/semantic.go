package faq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMinScore is the lowest cosine similarity accepted as a match.
	DefaultMinScore = 0.75
	embedBatchSize  = 16
	embedParallel   = 4
)

// ErrNotIndexed is returned by SemanticMatcher.Match before IndexCorpus has succeeded.
var ErrNotIndexed = errors.New("faq corpus has not been indexed")

// Embedder turns texts into vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Hit is a nearest-neighbour result.
type Hit struct {
	Number int
	Score  float32
}

// VectorIndex stores one vector per corpus entry.
type VectorIndex interface {
	Ensure(ctx context.Context, dim int) error
	Upsert(ctx context.Context, entries []Entry, vectors [][]float32) error
	Search(ctx context.Context, vector []float32, limit int) ([]Hit, error)
}

// SemanticMatcher retrieves FAQ entries by embedding similarity.
type SemanticMatcher struct {
	embedder Embedder
	index    VectorIndex
	corpus   *Corpus
	minScore float32
	indexed  atomic.Bool
}

// NewSemanticMatcher creates a matcher. A minScore of zero selects DefaultMinScore.
func NewSemanticMatcher(embedder Embedder, index VectorIndex, corpus *Corpus, minScore float32) *SemanticMatcher {
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	return &SemanticMatcher{embedder: embedder, index: index, corpus: corpus, minScore: minScore}
}

// IndexCorpus embeds every question/answer pair and upserts the vectors.
// Batches are embedded concurrently.
func (m *SemanticMatcher) IndexCorpus(ctx context.Context) error {
	entries := m.corpus.Entries()
	if len(entries) == 0 {
		return ErrEmptyCorpus
	}

	vectors := make([][]float32, len(entries))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(embedParallel)
	for start := 0; start < len(entries); start += embedBatchSize {
		end := min(start+embedBatchSize, len(entries))
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, e := range entries[start:end] {
				texts = append(texts, e.Question+"\n"+e.Answer)
			}
			vecs, err := m.embedder.Embed(gCtx, texts)
			if err != nil {
				return fmt.Errorf("embedding entries %d-%d: %w", start+1, end, err)
			}
			copy(vectors[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := m.index.Ensure(ctx, len(vectors[0])); err != nil {
		return err
	}
	if err := m.index.Upsert(ctx, entries, vectors); err != nil {
		return err
	}
	m.indexed.Store(true)
	slog.Info("SemanticMatcher.IndexCorpus: corpus indexed", "entries", len(entries), "dim", len(vectors[0]))
	return nil
}

// Match returns the nearest entry scoring at least the minimum score, or nil.
func (m *SemanticMatcher) Match(ctx context.Context, question string) (*CorpusMatch, error) {
	if !m.indexed.Load() {
		return nil, ErrNotIndexed
	}
	vecs, err := m.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	hits, err := m.index.Search(ctx, vecs[0], 1)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 || hits[0].Score < m.minScore {
		return nil, nil
	}
	e, ok := m.corpus.Entry(hits[0].Number)
	if !ok {
		slog.Warn("SemanticMatcher.Match: index returned unknown entry", "number", hits[0].Number)
		return nil, nil
	}
	return &CorpusMatch{
		Question:   e.Question,
		Answer:     e.Answer,
		Category:   e.Category,
		Confidence: float64(hits[0].Score),
		Resources:  answerResources(e.Answer),
	}, nil
}
