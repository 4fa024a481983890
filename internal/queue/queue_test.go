package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/observability"
)

func TestBuildScheduleProportions(t *testing.T) {
	schedule := buildSchedule(9, 5, 3)
	require.Len(t, schedule, 17)

	counts := map[Name]int{}
	for _, n := range schedule {
		counts[n]++
	}
	assert.Equal(t, 9, counts[QueueHigh])
	assert.Equal(t, 5, counts[QueueQuality])
	assert.Equal(t, 3, counts[QueueBatch])

	// The rotation interleaves rather than running one queue in a burst.
	assert.Equal(t, QueueHigh, schedule[0])
	assert.Equal(t, QueueQuality, schedule[1])
}

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p := NewPool(Config{Workers: 3, Capacity: 16}, observability.Nop())
	p.Start(context.Background())
	defer p.Close()

	var done sync.WaitGroup
	var count atomic.Int32
	for i := 0; i < 10; i++ {
		done.Add(1)
		err := p.Submit(&Task{
			ID:    "t",
			Queue: QueueHigh,
			Run: func(ctx context.Context) error {
				count.Add(1)
				done.Done()
				return nil
			},
		})
		require.NoError(t, err)
	}

	waitDone(t, &done, 5*time.Second)
	assert.Equal(t, int32(10), count.Load())
}

func TestPoolSingleOwnership(t *testing.T) {
	p := NewPool(Config{Workers: 4, Capacity: 64}, observability.Nop())
	p.Start(context.Background())
	defer p.Close()

	var runs atomic.Int32
	var done sync.WaitGroup
	for i := 0; i < 50; i++ {
		done.Add(1)
		require.NoError(t, p.Submit(&Task{
			ID:    "t",
			Queue: QueueBatch,
			Run: func(ctx context.Context) error {
				runs.Add(1)
				done.Done()
				return nil
			},
		}))
	}
	waitDone(t, &done, 5*time.Second)

	// Each task ran exactly once even with competing workers.
	assert.Equal(t, int32(50), runs.Load())
}

func TestPoolDeadlinePropagatesToTask(t *testing.T) {
	p := NewPool(Config{
		Workers:   1,
		Capacity:  4,
		Deadlines: Deadlines{High: 50 * time.Millisecond},
	}, observability.Nop())
	p.Start(context.Background())
	defer p.Close()

	got := make(chan error, 1)
	require.NoError(t, p.Submit(&Task{
		ID:    "slow",
		Queue: QueueHigh,
		Run: func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				got <- ctx.Err()
			case <-time.After(2 * time.Second):
				got <- nil
			}
			return nil
		},
	}))

	select {
	case err := <-got:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("task never observed its deadline")
	}
}

func TestSubmitQueueFull(t *testing.T) {
	p := NewPool(Config{Workers: 1, Capacity: 1}, observability.Nop())
	// Not started: nothing drains the queues.

	require.NoError(t, p.Submit(&Task{ID: "a", Queue: QueueBatch, Run: func(ctx context.Context) error { return nil }}))
	err := p.Submit(&Task{ID: "b", Queue: QueueBatch, Run: func(ctx context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrQueueFull)

	assert.Equal(t, 1, p.Depth(QueueBatch))
}

func TestSubmitAfterClose(t *testing.T) {
	p := NewPool(Config{Workers: 1}, observability.Nop())
	p.Start(context.Background())
	p.Close()

	err := p.Submit(&Task{ID: "x", Queue: QueueHigh, Run: func(ctx context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestSubmitValidation(t *testing.T) {
	p := NewPool(DefaultConfig(), observability.Nop())

	assert.Error(t, p.Submit(nil))
	assert.Error(t, p.Submit(&Task{ID: "x"}))
	assert.Error(t, p.Submit(&Task{ID: "x", Queue: "nope", Run: func(ctx context.Context) error { return nil }}))
}

func waitDone(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	ch := make(chan struct{})
	go func() {
		wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for tasks")
	}
}
