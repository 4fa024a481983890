package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// TestRedisAgainstContainer runs the full client surface, including pub/sub,
// against a real Redis. Requires Docker; enable with INTEGRATION=1.
func TestRedisAgainstContainer(t *testing.T) {
	if os.Getenv("INTEGRATION") == "" {
		t.Skip("set INTEGRATION=1 to run container tests")
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, testcontainers.TerminateContainer(container))
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	c, err := NewRedisClient(RedisConfig{Addr: endpoint, Prefix: "it:"})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))
	val, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), val)

	ch, stop, err := c.Subscribe(ctx, "events")
	require.NoError(t, err)
	defer stop()

	// Subscription setup races the publish; retry until delivery.
	require.Eventually(t, func() bool {
		_ = c.Publish(ctx, "events", map[string]string{"ping": "pong"})
		select {
		case msg := <-ch:
			assert.JSONEq(t, `{"ping":"pong"}`, string(msg))
			return true
		default:
			return false
		}
	}, 10*time.Second, 200*time.Millisecond)

	require.NoError(t, c.SetBatch(ctx, map[string][]byte{
		"b1": []byte("1"),
		"b2": []byte("2"),
	}, time.Minute))
	got, err := c.GetBatch(ctx, []string{"b1", "b2"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	require.NoError(t, c.DeleteByPrefix(ctx, "b"))
	got, err = c.GetBatch(ctx, []string{"b1", "b2"})
	require.NoError(t, err)
	assert.Empty(t, got)
}
