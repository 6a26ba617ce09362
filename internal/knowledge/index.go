// Package knowledge loads the category corpus and answers nearest-neighbour
// queries over it.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/h1v3-io/triage/pkg/protocol"
)

// Vector index backends.
const (
	BackendAuto       = "auto"
	BackendBruteForce = "bruteforce"
	BackendHNSW       = "hnsw"
)

const (
	// DefaultTopK is the number of documents a query returns.
	DefaultTopK = 4

	// autoHNSWThreshold is the corpus size above which the auto backend
	// switches from exact to approximate search.
	autoHNSWThreshold = 1000
)

// Options configures Build.
type Options struct {
	TopK     int
	Backend  string
	HNSW     HNSWConfig
	MinScore float64 // results scoring below this are dropped; 0 keeps all
	Logger   *slog.Logger
}

// Index is the read-only searchable corpus.
type Index struct {
	embedder Embedder
	vectors  VectorIndex
	docs     map[string]protocol.Document
	topK     int
	minScore float64
	backend  string
}

// Build embeds every document and loads it into the configured backend.
func Build(ctx context.Context, docs []protocol.Document, emb Embedder, opts Options) (*Index, error) {
	if len(docs) == 0 {
		return nil, ErrNoCorpus
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	backend := opts.Backend
	if backend == "" || backend == BackendAuto {
		backend = BackendBruteForce
		if len(docs) > autoHNSWThreshold {
			backend = BackendHNSW
		}
	}
	var vectors VectorIndex
	switch backend {
	case BackendBruteForce:
		vectors = NewBruteForceIndex()
	case BackendHNSW:
		vectors = NewHNSWIndex(opts.HNSW)
	default:
		return nil, fmt.Errorf("knowledge: unknown index backend %q", opts.Backend)
	}

	ix := &Index{
		embedder: emb,
		vectors:  vectors,
		docs:     make(map[string]protocol.Document, len(docs)),
		topK:     topK,
		minScore: opts.MinScore,
		backend:  backend,
	}

	dims := 0
	for _, d := range docs {
		if _, dup := ix.docs[d.ID]; dup {
			return nil, fmt.Errorf("knowledge: duplicate document id %q", d.ID)
		}
		vec, err := emb.Embed(ctx, d.Content)
		if err != nil {
			return nil, fmt.Errorf("knowledge: embed %s: %w", d.ID, err)
		}
		if dims == 0 {
			dims = len(vec)
		} else if len(vec) != dims {
			return nil, fmt.Errorf("knowledge: embed %s: dimension %d, want %d", d.ID, len(vec), dims)
		}
		if isZero(vec) {
			logger.Warn("skipping document with empty embedding", "doc", d.ID)
			continue
		}
		ix.docs[d.ID] = d
		vectors.Add(d.ID, vec)
	}
	if vectors.Len() == 0 {
		return nil, ErrNoCorpus
	}

	logger.Info("knowledge index built", "documents", vectors.Len(), "backend", backend, "dims", dims, "top_k", topK)
	return ix, nil
}

// Query returns up to TopK documents best match first. Ties in score are
// ordered by document ID so identical queries give identical results.
func (ix *Index) Query(ctx context.Context, text string) ([]protocol.Document, error) {
	vec, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("knowledge: embed query: %w", err)
	}
	if isZero(vec) {
		return nil, nil
	}

	results := ix.vectors.Search(vec, ix.topK)
	docs := make([]protocol.Document, 0, len(results))
	for _, r := range results {
		if ix.minScore > 0 && r.Score < ix.minScore {
			continue
		}
		docs = append(docs, ix.docs[r.ID])
	}
	return docs, nil
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int { return ix.vectors.Len() }

// Backend returns the vector backend in use.
func (ix *Index) Backend() string { return ix.backend }
