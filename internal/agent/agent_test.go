package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/extraction"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/llm"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/observability"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/project"
)

func TestRegistryLookup(t *testing.T) {
	r := NewBuiltinRegistry(&llm.MockClient{}, nil, observability.Nop())

	a, err := r.Get("igce")
	require.NoError(t, err)
	assert.Equal(t, "igce", a.DocType())

	_, err = r.Get("unknown_type")
	assert.ErrorIs(t, err, ErrUnknownDocType)

	types := r.DocTypes()
	assert.Contains(t, types, "market_research_report")
	assert.Contains(t, types, "pws")
}

func TestLLMAgentExecute(t *testing.T) {
	mock := &llm.MockClient{Responses: []string{
		"# Independent Government Cost Estimate\n\n## Basis of Estimate\nBased on the market research report.\n\n## Cost Breakdown\nTotal: $45,000,000.\n",
	}}
	tracker := &llm.UsageTracker{}
	a := NewLLMAgent(BuiltinDefinitions[1], mock, tracker, observability.Nop())

	out, err := a.Execute(context.Background(), Task{
		DocType:      "igce",
		DocumentName: "IGCE",
		Project: ProjectInfo{
			ProgramName:    "Falcon Sustainment",
			CurrentPhase:   project.PhasePreSolicitation,
			EstimatedValue: 45_000_000,
		},
		Extracted: extraction.Record{"estimated_value": 45_000_000.0},
		Assumptions: []project.Assumption{
			{ID: "a1", Text: "three year base period"},
		},
		AncestorContent: map[string]string{
			"market_research_report": "market research content",
		},
	})
	require.NoError(t, err)

	assert.Contains(t, out.Content, "Basis of Estimate")
	assert.Equal(t, "market_research_report", out.References["market_research_report"])
	assert.Equal(t, 45_000_000.0, out.ExtractedData["estimated_value"])

	// Prompt carries the facts and the assumption for grounding.
	assert.Contains(t, mock.LastReq.Prompt, "Falcon Sustainment")
	assert.Contains(t, mock.LastReq.Prompt, "estimated_value")
	assert.Contains(t, mock.LastReq.Prompt, "[a1] three year base period")

	_, _, calls := tracker.Totals()
	assert.Equal(t, 1, calls)
}

func TestLLMAgentPropagatesModelError(t *testing.T) {
	mock := &llm.MockClient{Err: llm.ErrEmptyResponse}
	a := NewLLMAgent(BuiltinDefinitions[0], mock, nil, observability.Nop())

	_, err := a.Execute(context.Background(), Task{DocType: "market_research_report"})
	assert.ErrorIs(t, err, llm.ErrEmptyResponse)
}

func TestDefaultDependencyGraph(t *testing.T) {
	graph := DefaultDependencyGraph()
	assert.Equal(t, []string{"market_research_report", "igce"}, graph["acquisition_plan"])
	assert.Empty(t, graph["market_research_report"])
}

func TestCleanMarkdown(t *testing.T) {
	in := "```markdown\n# Plan\n\n- item one\n\n- item two\n-   \n\nBody text.\n```\n"
	got := CleanMarkdown(in)

	assert.NotContains(t, got, "```")
	assert.NotContains(t, got, "- item one\n\n- item two")
	assert.Contains(t, got, "- item one\n- item two")
	assert.Contains(t, got, "Body text.")
}

func TestCleanMarkdownIdempotent(t *testing.T) {
	in := "# Doc\n\n- a\n\n\n- b\n\nText   \n"
	once := CleanMarkdown(in)
	twice := CleanMarkdown(once)
	assert.Equal(t, once, twice)
}
