package registry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/observability"
)

func TestLineageRecordAndExport(t *testing.T) {
	w, err := NewLineageWriter(t.TempDir(), observability.Nop())
	require.NoError(t, err)

	err = w.Record("Falcon", []LineageEdge{
		{FromID: "mrr_1", ToID: "igce_1", InfluenceType: InfluenceDataSource, Relevance: 0.8},
		{FromID: "chunk_src", ToID: "igce_1", InfluenceType: InfluenceContext, Relevance: 0.61, ChunkIDs: []string{"c1", "c2"}},
	})
	require.NoError(t, err)
	err = w.Record("Falcon", []LineageEdge{
		{FromID: "igce_1", ToID: "ap_1", InfluenceType: InfluenceDataSource, Relevance: 1.0},
	})
	require.NoError(t, err)

	edges, err := w.Edges("Falcon")
	require.NoError(t, err)
	require.Len(t, edges, 3)
	assert.Equal(t, InfluenceContext, edges[1].InfluenceType)
	assert.Equal(t, []string{"c1", "c2"}, edges[1].ChunkIDs)
	assert.False(t, edges[0].RecordedAt.IsZero())

	data, err := w.ExportJSON("Falcon")
	require.NoError(t, err)

	var export Export
	require.NoError(t, json.Unmarshal(data, &export))
	assert.Equal(t, "Falcon", export.Program)
	assert.Equal(t, 3, export.EdgeCount)
}

func TestLineageEmptyProgram(t *testing.T) {
	w, err := NewLineageWriter(t.TempDir(), observability.Nop())
	require.NoError(t, err)

	edges, err := w.Edges("nothing")
	require.NoError(t, err)
	assert.Empty(t, edges)

	require.NoError(t, w.Record("nothing", nil))
}
