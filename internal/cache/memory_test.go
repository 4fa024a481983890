package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySetGet(t *testing.T) {
	c := NewMemoryClient(100)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))
	val, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), val)

	_, err = c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryExpiry(t *testing.T) {
	c := NewMemoryClient(100)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), -time.Second))
	_, err := c.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryDeleteByPrefix(t *testing.T) {
	c := NewMemoryClient(100)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "rag:1", []byte("a"), time.Minute))
	require.NoError(t, c.Set(ctx, "rag:2", []byte("b"), time.Minute))
	require.NoError(t, c.Set(ctx, "emb:1", []byte("c"), time.Minute))

	require.NoError(t, c.DeleteByPrefix(ctx, "rag:"))

	_, err := c.Get(ctx, "rag:1")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "emb:1")
	assert.NoError(t, err)
}

func TestMemoryBatch(t *testing.T) {
	c := NewMemoryClient(100)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.SetBatch(ctx, map[string][]byte{
		"a": []byte("1"),
		"b": []byte("2"),
	}, time.Minute))

	got, err := c.GetBatch(ctx, []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, []byte("1"), got["a"])
}

func TestMemoryEviction(t *testing.T) {
	c := NewMemoryClient(2)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Hour))
	require.NoError(t, c.Set(ctx, "c", []byte("3"), time.Hour))

	// The entry expiring soonest goes first.
	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "c")
	assert.NoError(t, err)
}

func TestMemoryPubSub(t *testing.T) {
	c := NewMemoryClient(100)
	defer c.Close()
	ctx := context.Background()

	ch, stop, err := c.Subscribe(ctx, "events")
	require.NoError(t, err)

	require.NoError(t, c.Publish(ctx, "events", map[string]string{"hello": "world"}))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"hello":"world"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	stop()
	// Publishing after unsubscribe must not panic or block.
	require.NoError(t, c.Publish(ctx, "events", "late"))
}
