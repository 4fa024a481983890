// Package retrieval provides cached top-k evidence lookup over the vector
// store with deterministic query shaping.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/cache"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/observability"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/vectorstore"
)

// Hit is a single retrieval result.
type Hit struct {
	ChunkID  string                    `json:"chunk_id"`
	Content  string                    `json:"content"`
	Score    float64                   `json:"score"`
	Metadata vectorstore.ChunkMetadata `json:"metadata"`
}

// Retriever shapes queries, consults the RAG search cache, and falls back
// to the vector store. Results for identical inputs are byte-identical
// across cache hits.
type Retriever struct {
	store  *vectorstore.Store
	cache  cache.Client
	config Config
	logger *observability.Logger
}

// Config holds retriever settings.
type Config struct {
	TopK           int
	ScoreThreshold float64
	// GuidanceChars caps how much section guidance feeds the query string.
	GuidanceChars int
	// ProjectID and Phase scope cache keys when set.
	ProjectID string
	Phase     string
	// CacheResults toggles the RAG search cache.
	CacheResults bool
}

// DefaultConfig returns default retriever settings.
func DefaultConfig() Config {
	return Config{
		TopK:          8,
		GuidanceChars: 300,
		CacheResults:  true,
	}
}

// NewRetriever creates a retriever over the given store.
func NewRetriever(store *vectorstore.Store, c cache.Client, cfg Config, logger *observability.Logger) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 8
	}
	if cfg.GuidanceChars <= 0 {
		cfg.GuidanceChars = 300
	}
	return &Retriever{store: store, cache: c, config: cfg, logger: logger}
}

// Retrieve returns up to k hits for a query. k <= 0 uses the configured
// default.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]Hit, error) {
	if k <= 0 {
		k = r.config.TopK
	}

	key := cache.Key(cache.NamespaceRAGSearch, query, r.config.ProjectID, r.config.Phase, k)
	if r.config.CacheResults && r.cache != nil {
		if data, err := r.cache.Get(ctx, key); err == nil {
			var hits []Hit
			if err := json.Unmarshal(data, &hits); err == nil {
				r.logger.Debug().Str("key", key).Msg("retrieval cache hit")
				return hits, nil
			}
		}
	}

	results, err := r.store.Search(ctx, query, k, vectorstore.SearchOptions{
		ScoreThreshold: r.config.ScoreThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	hits := make([]Hit, len(results))
	for i, res := range results {
		hits[i] = Hit{
			ChunkID:  res.Chunk.ChunkID,
			Content:  res.Chunk.Content,
			Score:    res.Score,
			Metadata: res.Chunk.Metadata,
		}
	}

	if r.config.CacheResults && r.cache != nil {
		if data, err := json.Marshal(hits); err == nil {
			if err := r.cache.Set(ctx, key, data, cache.TTL(cache.NamespaceRAGSearch)); err != nil {
				r.logger.Debug().Err(err).Msg("retrieval cache write failed")
			}
		}
	}

	return hits, nil
}

// RetrieveWithContext returns hits formatted as a context block for prompt
// assembly.
func (r *Retriever) RetrieveWithContext(ctx context.Context, query string, k int) (string, error) {
	hits, err := r.Retrieve(ctx, query, k)
	if err != nil {
		return "", err
	}
	return FormatHits(hits), nil
}

// ProjectInfo carries the project fields used for section query shaping.
type ProjectInfo struct {
	ProgramName string
	ProjectType string
	Phase       string
}

// RetrieveForSection shapes a query from a section name, the head of its
// guidance, and selected project fields, then retrieves formatted context.
func (r *Retriever) RetrieveForSection(ctx context.Context, sectionName, guidance string, info ProjectInfo, k int) (string, error) {
	head := guidance
	if len(head) > r.config.GuidanceChars {
		head = head[:r.config.GuidanceChars]
	}

	var parts []string
	parts = append(parts, sectionName)
	if head != "" {
		parts = append(parts, head)
	}
	if info.ProgramName != "" {
		parts = append(parts, info.ProgramName)
	}
	if info.ProjectType != "" {
		parts = append(parts, info.ProjectType)
	}
	if info.Phase != "" {
		parts = append(parts, info.Phase)
	}

	return r.RetrieveWithContext(ctx, strings.Join(parts, " | "), k)
}

// FormatHits renders hits as numbered evidence blocks.
func FormatHits(hits []Hit) string {
	if len(hits) == 0 {
		return ""
	}
	var b strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&b, "[%d] (source: %s, score: %.3f)\n%s\n\n", i+1, h.Metadata.Source, h.Score, h.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
