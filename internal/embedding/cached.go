package embedding

import (
	"context"
	"encoding/json"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/cache"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/observability"
)

// CachedEmbedder wraps an Embedder with the embeddings cache namespace.
// Texts are looked up by content hash in one batched read; only misses reach
// the underlying embedder, and fresh vectors are written back in one batched
// write. Cache failures degrade to direct embedding.
type CachedEmbedder struct {
	inner  Embedder
	cache  cache.Client
	logger *observability.Logger
}

// NewCachedEmbedder creates a cache-backed embedder.
func NewCachedEmbedder(inner Embedder, c cache.Client, logger *observability.Logger) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: c, logger: logger}
}

// Embed returns embeddings for texts, serving from cache where possible.
func (e *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if e.cache == nil {
		return e.inner.Embed(ctx, texts)
	}

	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = cache.Key(cache.NamespaceEmbeddings, e.inner.Model(), text)
	}

	cached, err := e.cache.GetBatch(ctx, keys)
	if err != nil {
		e.logger.Debug().Err(err).Msg("embedding cache read failed, treating as cold")
		cached = map[string][]byte{}
	}

	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, key := range keys {
		if data, ok := cached[key]; ok {
			var v []float32
			if err := json.Unmarshal(data, &v); err == nil && len(v) > 0 {
				out[i] = v
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, texts[i])
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := e.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	writes := make(map[string][]byte, len(missIdx))
	for j, i := range missIdx {
		if j >= len(fresh) || fresh[j] == nil {
			continue
		}
		out[i] = fresh[j]
		if data, err := json.Marshal(fresh[j]); err == nil {
			writes[keys[i]] = data
		}
	}

	if err := e.cache.SetBatch(ctx, writes, cache.TTL(cache.NamespaceEmbeddings)); err != nil {
		e.logger.Debug().Err(err).Int("count", len(writes)).Msg("embedding cache write failed")
	}

	return out, nil
}

// EmbedSingle returns the embedding for one text.
func (e *CachedEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 || embeddings[0] == nil {
		return nil, errNoEmbedding
	}
	return embeddings[0], nil
}

// Model returns the underlying model name.
func (e *CachedEmbedder) Model() string { return e.inner.Model() }

// Dimension returns the underlying embedding dimension.
func (e *CachedEmbedder) Dimension() int { return e.inner.Dimension() }

var _ Embedder = (*CachedEmbedder)(nil)
