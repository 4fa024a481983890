package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/cache"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/observability"
)

func TestPublishSubscribeRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := cache.NewMemoryClient(100)
	defer client.Close()

	out, stop, err := Subscribe(ctx, client, "proj-1", observability.Nop())
	require.NoError(t, err)
	defer stop()

	pub := NewPublisher(client, "proj-1", observability.Nop())
	pub.Publish(ctx, ProgressEvent{
		TaskID:    "task-1",
		Progress:  0.25,
		Message:   "generating igce",
		EventType: EventProgress,
	})

	select {
	case ev := <-out:
		assert.Equal(t, "task-1", ev.TaskID)
		assert.Equal(t, "proj-1", ev.ProjectID)
		assert.Equal(t, EventProgress, ev.EventType)
		assert.InDelta(t, 0.25, ev.Progress, 0.001)
		assert.False(t, ev.Timestamp.IsZero())
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishIsolatedPerProject(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client := cache.NewMemoryClient(100)
	defer client.Close()

	out, stop, err := Subscribe(ctx, client, "proj-a", observability.Nop())
	require.NoError(t, err)
	defer stop()

	NewPublisher(client, "proj-b", observability.Nop()).Publish(ctx, ProgressEvent{
		TaskID: "task-b", EventType: EventStarted,
	})

	select {
	case ev := <-out:
		t.Fatalf("unexpected event for other project: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishNilCacheIsNoop(t *testing.T) {
	pub := NewPublisher(nil, "proj-1", observability.Nop())
	pub.Publish(context.Background(), ProgressEvent{TaskID: "t", EventType: EventError})
}
