package knowledge

import (
	"sort"

	"github.com/coder/hnsw"
)

// SearchResult pairs a document ID with its cosine similarity to the query.
type SearchResult struct {
	ID    string
	Score float64
}

// VectorIndex finds the nearest stored vectors to a query. Implementations
// are filled once at build time and read-only afterwards.
type VectorIndex interface {
	Add(id string, vector []float32)
	Search(query []float32, topK int) []SearchResult
	Len() int
}

// sortResults orders by descending score, ties broken by ID.
func sortResults(results []SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}

// BruteForceIndex compares the query against every stored vector. Exact,
// and fast enough for the handful of documents a category corpus holds.
type BruteForceIndex struct {
	ids     []string
	vectors [][]float32
}

// NewBruteForceIndex creates an empty BruteForceIndex.
func NewBruteForceIndex() *BruteForceIndex {
	return &BruteForceIndex{}
}

// Add stores a copy of vector under id.
func (b *BruteForceIndex) Add(id string, vector []float32) {
	cp := make([]float32, len(vector))
	copy(cp, vector)
	b.ids = append(b.ids, id)
	b.vectors = append(b.vectors, cp)
}

// Search returns the topK most similar vectors to query.
func (b *BruteForceIndex) Search(query []float32, topK int) []SearchResult {
	if len(query) == 0 || topK <= 0 || len(b.ids) == 0 {
		return nil
	}
	results := make([]SearchResult, len(b.ids))
	for i, id := range b.ids {
		results[i] = SearchResult{ID: id, Score: cosine(query, b.vectors[i])}
	}
	sortResults(results)
	if topK > len(results) {
		topK = len(results)
	}
	return results[:topK]
}

// Len returns the number of stored vectors.
func (b *BruteForceIndex) Len() int { return len(b.ids) }

// HNSWConfig holds the graph parameters for HNSWIndex.
type HNSWConfig struct {
	// M is the maximum number of neighbors per node. Default: 16.
	M int
	// EfSearch is the number of candidates considered during search. Default: 100.
	EfSearch int
	// Ml is the level generation factor. Default: 0.25.
	Ml float64
}

func (c HNSWConfig) withDefaults() HNSWConfig {
	if c.M == 0 {
		c.M = 16
	}
	if c.EfSearch == 0 {
		c.EfSearch = 100
	}
	if c.Ml == 0 {
		c.Ml = 0.25
	}
	return c
}

// HNSWIndex performs approximate nearest neighbor search over a
// Hierarchical Navigable Small World graph.
type HNSWIndex struct {
	graph *hnsw.Graph[string]
}

// NewHNSWIndex creates an empty in-memory HNSW graph using cosine distance.
func NewHNSWIndex(cfg HNSWConfig) *HNSWIndex {
	cfg = cfg.withDefaults()
	g := hnsw.NewGraph[string]()
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = cfg.Ml
	g.Distance = hnsw.CosineDistance
	return &HNSWIndex{graph: g}
}

// Add inserts vector under id. IDs must be unique.
func (h *HNSWIndex) Add(id string, vector []float32) {
	cp := make([]float32, len(vector))
	copy(cp, vector)
	h.graph.Add(hnsw.MakeNode(id, cp))
}

// Search returns up to topK approximate neighbours of query. Score is
// 1 - cosine distance.
func (h *HNSWIndex) Search(query []float32, topK int) []SearchResult {
	if len(query) == 0 || topK <= 0 || h.graph.Len() == 0 {
		return nil
	}
	nodes := h.graph.Search(query, topK)
	results := make([]SearchResult, 0, len(nodes))
	for _, n := range nodes {
		results = append(results, SearchResult{
			ID:    n.Key,
			Score: 1.0 - float64(hnsw.CosineDistance(query, n.Value)),
		})
	}
	sortResults(results)
	return results
}

// Len returns the number of nodes in the graph.
func (h *HNSWIndex) Len() int { return h.graph.Len() }
