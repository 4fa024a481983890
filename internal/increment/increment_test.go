package increment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/cache"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/observability"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/project"
)

func baseInputs() Inputs {
	return Inputs{
		DocumentName: "Acquisition Plan",
		Assumptions: []project.Assumption{
			{ID: "a1", Text: "firm fixed price"},
			{ID: "a2", Text: "three year base"},
		},
		DependencyHashes: map[string]string{
			"igce": ContentHash("igce content"),
			"mrr":  ContentHash("mrr content"),
		},
		ProjectID:         "proj-1",
		Phase:             "pre_solicitation",
		AdditionalContext: "expedited timeline",
		Agent:             AgentFingerprint{Model: "gpt-4o", Temperature: 0.2, Version: "1"},
	}
}

func TestComputeHashDeterministic(t *testing.T) {
	h1 := ComputeHash(baseInputs())
	h2 := ComputeHash(baseInputs())
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestComputeHashAssumptionOrderIrrelevant(t *testing.T) {
	in := baseInputs()
	reordered := baseInputs()
	reordered.Assumptions = []project.Assumption{
		reordered.Assumptions[1],
		reordered.Assumptions[0],
	}
	assert.Equal(t, ComputeHash(in), ComputeHash(reordered))
}

func TestComputeHashSensitivity(t *testing.T) {
	base := ComputeHash(baseInputs())

	in := baseInputs()
	in.DocumentName = "PWS"
	assert.NotEqual(t, base, ComputeHash(in))

	in = baseInputs()
	in.DependencyHashes["igce"] = ContentHash("edited igce content")
	assert.NotEqual(t, base, ComputeHash(in))

	in = baseInputs()
	in.Agent.Temperature = 0.7
	assert.NotEqual(t, base, ComputeHash(in))

	in = baseInputs()
	in.Assumptions[0].Text = "cost plus"
	assert.NotEqual(t, base, ComputeHash(in))
}

func TestCheckStoreInvalidate(t *testing.T) {
	ctx := context.Background()
	client := cache.NewMemoryClient(1000)
	defer client.Close()

	c := NewCache(client, observability.Nop())
	hash := ComputeHash(baseInputs())

	_, hit := c.Check(ctx, "doc-1", hash)
	assert.False(t, hit)

	result := Result{Content: "# Acquisition Plan\n...", GeneratedAt: "2026-08-24T00:00:00Z"}
	require.NoError(t, c.Store(ctx, "doc-1", hash, result))

	got, hit := c.Check(ctx, "doc-1", hash)
	require.True(t, hit)
	assert.Equal(t, result.Content, got.Content)

	// A different hash for the same document is a miss, never a stale hit.
	in := baseInputs()
	in.AdditionalContext = "changed"
	_, hit = c.Check(ctx, "doc-1", ComputeHash(in))
	assert.False(t, hit)

	c.Invalidate(ctx, "doc-1")
	_, hit = c.Check(ctx, "doc-1", hash)
	assert.False(t, hit)
}

func TestCheckNilClientDegrades(t *testing.T) {
	c := NewCache(nil, observability.Nop())
	_, hit := c.Check(context.Background(), "doc-1", "abc")
	assert.False(t, hit)
	assert.NoError(t, c.Store(context.Background(), "doc-1", "abc", Result{}))
}
