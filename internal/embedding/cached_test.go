package embedding

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/cache"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/observability"
)

// countingEmbedder tracks how many texts reach the inner embedder.
type countingEmbedder struct {
	inner Embedder
	calls atomic.Int64
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(int64(len(texts)))
	return c.inner.Embed(ctx, texts)
}

func (c *countingEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.inner.EmbedSingle(ctx, text)
}

func (c *countingEmbedder) Model() string  { return c.inner.Model() }
func (c *countingEmbedder) Dimension() int { return c.inner.Dimension() }

func TestCachedEmbedderServesRepeatsFromCache(t *testing.T) {
	counting := &countingEmbedder{inner: NewMockEmbedder(16)}
	cc := cache.NewMemoryClient(100)
	defer cc.Close()
	e := NewCachedEmbedder(counting, cc, observability.Nop())
	ctx := context.Background()

	first, err := e.Embed(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, int64(2), counting.calls.Load())

	second, err := e.Embed(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(2), counting.calls.Load())
}

func TestCachedEmbedderPartialMiss(t *testing.T) {
	counting := &countingEmbedder{inner: NewMockEmbedder(16)}
	cc := cache.NewMemoryClient(100)
	defer cc.Close()
	e := NewCachedEmbedder(counting, cc, observability.Nop())
	ctx := context.Background()

	_, err := e.Embed(ctx, []string{"alpha"})
	require.NoError(t, err)

	out, err := e.Embed(ctx, []string{"alpha", "gamma"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.NotNil(t, out[0])
	assert.NotNil(t, out[1])
	// Only the new text hit the inner embedder.
	assert.Equal(t, int64(2), counting.calls.Load())
}

func TestCachedEmbedderNilCache(t *testing.T) {
	counting := &countingEmbedder{inner: NewMockEmbedder(16)}
	e := NewCachedEmbedder(counting, nil, observability.Nop())

	out, err := e.Embed(context.Background(), []string{"alpha"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(1), counting.calls.Load())
}
