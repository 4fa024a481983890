package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/cache"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/embedding"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/observability"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/vectorstore"
)

func seededStore(t *testing.T) *vectorstore.Store {
	t.Helper()
	store := vectorstore.NewStore(embedding.NewMockEmbedder(64), vectorstore.StoreConfig{}, observability.Nop())
	require.NoError(t, store.Insert(context.Background(), []vectorstore.Chunk{
		{ChunkID: "far#0", Content: "Market research under FAR Part 10 informs acquisition planning.", Metadata: vectorstore.ChunkMetadata{Source: "far-10"}},
		{ChunkID: "far#1", Content: "Independent government cost estimates support budget decisions.", Metadata: vectorstore.ChunkMetadata{Source: "igce-guide"}},
		{ChunkID: "far#2", Content: "Performance work statements define measurable outcomes.", Metadata: vectorstore.ChunkMetadata{Source: "pws-guide"}},
	}))
	return store
}

func TestRetrieveReturnsHits(t *testing.T) {
	r := NewRetriever(seededStore(t), nil, DefaultConfig(), observability.Nop())

	hits, err := r.Retrieve(context.Background(), "market research planning", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Contains(t, hits[0].Content, "Market research")
	assert.NotEmpty(t, hits[0].Metadata.Source)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
}

func TestRetrieveCachesResults(t *testing.T) {
	cc := cache.NewMemoryClient(100)
	defer cc.Close()
	store := seededStore(t)
	r := NewRetriever(store, cc, DefaultConfig(), observability.Nop())
	ctx := context.Background()

	first, err := r.Retrieve(ctx, "cost estimate", 2)
	require.NoError(t, err)

	// Dropping the underlying chunks proves the second read is served from
	// the cache.
	store.DeleteBySource("igce-guide")
	store.DeleteBySource("far-10")
	store.DeleteBySource("pws-guide")

	second, err := r.Retrieve(ctx, "cost estimate", 2)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRetrieveCacheDisabled(t *testing.T) {
	cc := cache.NewMemoryClient(100)
	defer cc.Close()
	store := seededStore(t)
	cfg := DefaultConfig()
	cfg.CacheResults = false
	r := NewRetriever(store, cc, cfg, observability.Nop())
	ctx := context.Background()

	_, err := r.Retrieve(ctx, "cost estimate", 2)
	require.NoError(t, err)

	store.DeleteBySource("igce-guide")
	store.DeleteBySource("far-10")
	store.DeleteBySource("pws-guide")

	hits, err := r.Retrieve(ctx, "cost estimate", 2)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRetrieveScopedCacheKeys(t *testing.T) {
	cc := cache.NewMemoryClient(100)
	defer cc.Close()
	store := seededStore(t)

	a := NewRetriever(store, cc, Config{TopK: 2, CacheResults: true, ProjectID: "proj-a"}, observability.Nop())
	b := NewRetriever(store, cc, Config{TopK: 2, CacheResults: true, ProjectID: "proj-b"}, observability.Nop())
	ctx := context.Background()

	_, err := a.Retrieve(ctx, "market research", 2)
	require.NoError(t, err)

	// proj-b must not see proj-a's cached result after the store changes.
	store.DeleteBySource("far-10")
	hitsB, err := b.Retrieve(ctx, "market research", 2)
	require.NoError(t, err)
	for _, h := range hitsB {
		assert.NotEqual(t, "far-10", h.Metadata.Source)
	}
}

func TestRetrieveForSectionShapesQuery(t *testing.T) {
	r := NewRetriever(seededStore(t), nil, DefaultConfig(), observability.Nop())

	out, err := r.RetrieveForSection(context.Background(), "Cost Analysis",
		"Estimate the independent government cost", ProjectInfo{
			ProgramName: "Falcon Sustainment",
			ProjectType: "services",
			Phase:       "pre_solicitation",
		}, 1)
	require.NoError(t, err)
	assert.Contains(t, out, "[1]")
	assert.Contains(t, out, "source:")
}

func TestFormatHits(t *testing.T) {
	assert.Equal(t, "", FormatHits(nil))

	out := FormatHits([]Hit{
		{ChunkID: "a", Content: "first evidence", Score: 0.91, Metadata: vectorstore.ChunkMetadata{Source: "far-10"}},
		{ChunkID: "b", Content: "second evidence", Score: 0.5, Metadata: vectorstore.ChunkMetadata{Source: "guide"}},
	})
	assert.Contains(t, out, "[1] (source: far-10, score: 0.910)")
	assert.Contains(t, out, "first evidence")
	assert.Contains(t, out, "[2] (source: guide, score: 0.500)")
}
