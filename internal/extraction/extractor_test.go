package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/llm"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/observability"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/retrieval"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/vectorstore"
)

const sampleCorpus = `Market Research Report for the Falcon sustainment effort.
Estimated value: $45M over the full period.
Period of performance: 3 years with 2 option years.
NAICS code: 541512. Small business goal: 23%.
- The contractor shall provide engineering support services.
- The contractor shall maintain configuration baselines.
Award date: 2026-03-15.`

func newTestExtractor(client llm.Client) *Extractor {
	return NewExtractor(client, DefaultConfig(), observability.Nop())
}

func TestExtractRegexStage(t *testing.T) {
	ex := newTestExtractor(nil)
	rec := ex.Extract(context.Background(), "market_research_report", nil, sampleCorpus, nil)

	assert.InDelta(t, 45_000_000, rec["estimated_value"], 0.01)
	assert.InDelta(t, 36.0, rec["period_of_performance"], 0.01)
	assert.Equal(t, "541512", rec["naics_code"])
	assert.InDelta(t, 23.0, rec["small_business_goal"], 0.01)
	assert.Equal(t, "2026-03-15", rec["award_date"])

	reqs, ok := rec["requirements"].([]string)
	require.True(t, ok)
	assert.Len(t, reqs, 2)
	assert.Contains(t, reqs[0], "shall provide engineering support")
}

func TestExtractPreStructuredWins(t *testing.T) {
	ex := newTestExtractor(&llm.MockClient{Err: errors.New("must not be called")})

	hits := []retrieval.Hit{
		{
			ChunkID: "c1",
			Content: `{"estimated_value": 12000000, "requirements": ["maintain baseline"]}`,
			Metadata: vectorstore.ChunkMetadata{
				Format: "json",
				Type:   "structured_costs",
			},
		},
	}
	rec := ex.Extract(context.Background(), "igce", hits, sampleCorpus, nil)

	assert.InDelta(t, 12_000_000, rec["estimated_value"], 0.01)
	// The structured record is adopted as-is, not merged with regex output.
	assert.NotContains(t, rec, "naics_code")
}

func TestExtractLLMStageMergesOverRegex(t *testing.T) {
	mock := &llm.MockClient{Responses: []string{
		"Here is the data:\n" +
			`{"estimated_value": 50000000, "contracting_office": "PEO Digital", "requirements": ["deliver monthly status reports"]}`,
	}}
	ex := newTestExtractor(mock)

	tracker := &llm.UsageTracker{}
	rec := ex.Extract(context.Background(), "acquisition_plan", nil, sampleCorpus, tracker)

	// Model values win, regex-only fields survive.
	assert.InDelta(t, 50_000_000, rec["estimated_value"], 0.01)
	assert.Equal(t, "PEO Digital", rec["contracting_office"])
	assert.Equal(t, "541512", rec["naics_code"])

	_, _, calls := tracker.Totals()
	assert.Equal(t, 1, calls)
}

func TestExtractLLMFailureFallsBackToRegex(t *testing.T) {
	mock := &llm.MockClient{Responses: []string{"I could not find any structured data."}}
	ex := newTestExtractor(mock)

	rec := ex.Extract(context.Background(), "pws", nil, sampleCorpus, nil)

	assert.Equal(t, 1, mock.CallCount)
	assert.InDelta(t, 45_000_000, rec["estimated_value"], 0.01)
}

func TestExtractSkipsLLMForShortCorpus(t *testing.T) {
	mock := &llm.MockClient{Err: errors.New("must not be called")}
	ex := newTestExtractor(mock)

	rec := ex.Extract(context.Background(), "pws", nil, "short text", nil)

	assert.Equal(t, 0, mock.CallCount)
	assert.NotNil(t, rec)
}

func TestExtractRecordInvariants(t *testing.T) {
	ex := newTestExtractor(nil)
	rec := ex.Extract(context.Background(), "pws", nil, "nothing useful in here", nil)

	// List categories default to empty, never missing.
	assert.Equal(t, []string{}, rec["requirements"])
	assert.Equal(t, []string{}, rec["deliverables"])

	meta, ok := rec["metadata"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 0, meta["requirements_found"])
	assert.Equal(t, 0, meta["deliverables_found"])
}

func TestFirstJSONObject(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{`prefix {"a": 1} suffix`, `{"a": 1}`, true},
		{`{"a": {"b": 2}}`, `{"a": {"b": 2}}`, true},
		{`{"s": "brace } inside"}`, `{"s": "brace } inside"}`, true},
		{`{"s": "escaped \" quote }"}`, `{"s": "escaped \" quote }"}`, true},
		{`no json at all`, "", false},
		{`{"unterminated": 1`, "", false},
	}
	for _, c := range cases {
		got, ok := firstJSONObject(c.in)
		assert.Equal(t, c.ok, ok, "input %q", c.in)
		assert.Equal(t, c.want, got, "input %q", c.in)
	}
}
