// Package rag retrieves tenant knowledge relevant to an inbound message
// by brute-force cosine ranking over stored chunk embeddings. Tenant
// knowledge bases are small enough that an index would be overhead.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/firesend/engine/internal/providers"
	"github.com/firesend/engine/internal/store"
)

// DefaultTopK and DefaultMinScore match the ingestion-time tuning.
const (
	DefaultTopK     = 3
	DefaultMinScore = 0.5
)

// Searcher ranks a tenant's knowledge chunks against a query embedding.
type Searcher struct {
	knowledge store.KnowledgeStore
	embedder  providers.Embedder
	topK      int
	minScore  float64
}

func NewSearcher(knowledge store.KnowledgeStore, embedder providers.Embedder, topK int, minScore float64) *Searcher {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	return &Searcher{knowledge: knowledge, embedder: embedder, topK: topK, minScore: minScore}
}

// Search returns the concatenated content of the best-matching chunks,
// or "" when the tenant has no knowledge base or nothing scores above
// the floor. Only the embedding call can fail.
func (s *Searcher) Search(ctx context.Context, tenantID, query string) (string, error) {
	count, err := s.knowledge.CountChunks(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("rag: count chunks: %w", err)
	}
	if count == 0 {
		return "", nil
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("rag: embed query: %w", err)
	}

	chunks, err := s.knowledge.Chunks(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("rag: load chunks: %w", err)
	}

	type scored struct {
		chunk *store.KnowledgeChunk
		score float64
	}
	ranked := make([]scored, 0, len(chunks))
	for _, c := range chunks {
		ranked = append(ranked, scored{chunk: c, score: CosineSimilarity(queryVec, c.Embedding)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if len(ranked) > s.topK {
		ranked = ranked[:s.topK]
	}

	var parts []string
	for _, r := range ranked {
		if r.score <= s.minScore {
			continue
		}
		parts = append(parts, r.chunk.Content)
	}
	if len(parts) == 0 {
		slog.Debug("rag retrieval below score floor", "tenant_id", tenantID, "chunks", count)
		return "", nil
	}
	return strings.Join(parts, "\n\n"), nil
}

// CosineSimilarity returns the cosine of the angle between a and b.
// Mismatched dimensions (embedding model changed under us) and zero
// vectors score 0 instead of erroring, so one bad chunk cannot break
// retrieval.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
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
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
