package taskstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/observability"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite3", filepath.Join(t.TempDir(), "tasks.db"), observability.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateGetUpdateFinish(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec := &Record{
		ID:            "task-1",
		ProjectID:     "proj-1",
		Queue:         "high",
		RequestedDocs: []string{"igce", "acquisition_plan"},
	}
	require.NoError(t, s.Create(ctx, rec))

	got, err := s.Get(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, []string{"igce", "acquisition_plan"}, got.RequestedDocs)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, s.UpdateProgress(ctx, "task-1", StatusRunning, 0.5))
	got, err = s.Get(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.InDelta(t, 0.5, got.Progress, 0.001)

	require.NoError(t, s.Finish(ctx, "task-1", StatusCompleted, ""))
	got, err = s.Get(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestGetMissingTask(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	err = s.UpdateProgress(context.Background(), "nope", StatusRunning, 0.1)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestListForProject(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Create(ctx, &Record{ID: "t1", ProjectID: "p1", RequestedDocs: []string{"igce"}}))
	require.NoError(t, s.Create(ctx, &Record{ID: "t2", ProjectID: "p1", RequestedDocs: []string{"pws"}}))
	require.NoError(t, s.Create(ctx, &Record{ID: "t3", ProjectID: "p2", RequestedDocs: []string{"pws"}}))

	recs, err := s.ListForProject(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestFailRunningOnStartup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Create(ctx, &Record{ID: "t1", ProjectID: "p1"}))
	require.NoError(t, s.UpdateProgress(ctx, "t1", StatusRunning, 0.3))
	require.NoError(t, s.Create(ctx, &Record{ID: "t2", ProjectID: "p1"}))

	n, err := s.FailRunning(ctx, "worker restarted")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "worker restarted", got.Error)

	got, err = s.Get(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}
