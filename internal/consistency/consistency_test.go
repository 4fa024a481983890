package consistency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/observability"
)

const docIGCE = `# Independent Government Cost Estimate
Estimated value: $45M for the full effort.
Period of performance: 3 years.
Award date: 2026-03-15.
NAICS code: 541512.
Small business goal: 23%.
Contracting office: PEO Digital Enterprise Services.`

func newValidator() *Validator {
	return NewValidator(nil, observability.Nop())
}

func fieldByName(t *testing.T, report Report, name string) FieldResult {
	t.Helper()
	for _, f := range report.Fields {
		if f.Field == name {
			return f
		}
	}
	t.Fatalf("field %s not in report", name)
	return FieldResult{}
}

func TestCompareIdenticalDocuments(t *testing.T) {
	report := newValidator().Compare("igce", docIGCE, "ap", docIGCE)

	assert.Equal(t, "A", report.Grade)
	assert.InDelta(t, 1.0, report.PassRatio, 0.001)
	for _, f := range report.Fields {
		assert.Equal(t, StatusPass, f.Status, "field %s", f.Field)
	}
}

func TestCompareCurrencyWithinTolerance(t *testing.T) {
	// $45M vs $46M is ~2.2% apart, inside the 5% tolerance. Different
	// units for the same amount also pass exactly.
	other := `Total cost: $46 million over the contract.
Period of performance: 36 months.
Award date: 03/18/2026.
NAICS code: 541512.
Small business goal: 23%.
Contracting office: PEO Digital Enterprise Services.`

	report := newValidator().Compare("igce", docIGCE, "ap", other)

	ev := fieldByName(t, report, "estimated_value")
	assert.Equal(t, StatusPass, ev.Status)

	// 3 years normalizes to 36 months; duration comparison is exact.
	pop := fieldByName(t, report, "period_of_performance")
	assert.Equal(t, StatusPass, pop.Status)

	// Dates 3 days apart are within the 7 day window.
	date := fieldByName(t, report, "award_date")
	assert.Equal(t, StatusPass, date.Status)

	assert.Equal(t, "A", report.Grade)
}

func TestCompareDriftFails(t *testing.T) {
	other := `Estimated value: $90M total.
Period of performance: 5 years.
Award date: 2026-09-01.
NAICS code: 541519.
Small business goal: 40%.
Contracting office: Army Contracting Command.`

	report := newValidator().Compare("igce", docIGCE, "ap", other)

	assert.Equal(t, StatusFail, fieldByName(t, report, "estimated_value").Status)
	assert.Equal(t, StatusFail, fieldByName(t, report, "period_of_performance").Status)
	assert.Equal(t, StatusFail, fieldByName(t, report, "award_date").Status)
	assert.Equal(t, StatusFail, fieldByName(t, report, "naics_code").Status)
	assert.Equal(t, StatusFail, fieldByName(t, report, "contracting_office").Status)
	assert.Equal(t, "F", report.Grade)
}

func TestCompareNotFound(t *testing.T) {
	sparse := "This document mentions no scalar facts at all."
	report := newValidator().Compare("igce", docIGCE, "sparse", sparse)

	ev := fieldByName(t, report, "estimated_value")
	assert.Equal(t, StatusNotFound, ev.Status)
	assert.Contains(t, ev.Detail, "second document")
	require.NotNil(t, ev.EvidenceA)
	assert.Nil(t, ev.EvidenceB)

	// Required fields missing count against the grade; optional ones do not.
	assert.Less(t, report.PassRatio, 1.0)
}

func TestEvidenceCapturesLineAndContext(t *testing.T) {
	report := newValidator().Compare("igce", docIGCE, "copy", docIGCE)

	ev := fieldByName(t, report, "award_date")
	require.NotNil(t, ev.EvidenceA)
	assert.Equal(t, "2026-03-15", ev.EvidenceA.Raw)
	assert.Equal(t, 4, ev.EvidenceA.Line)
	assert.Contains(t, ev.EvidenceA.Context, "Award date")
}

func TestLevenshteinSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, levenshteinSimilarity("abc", "abc"), 0.001)
	assert.InDelta(t, 0.0, levenshteinSimilarity("", "xxxx"), 0.001)

	// One edit across ten characters.
	sim := levenshteinSimilarity("peo digital", "peo digitol")
	assert.InDelta(t, 1.0-1.0/11.0, sim, 0.001)
}

func TestGradeMapping(t *testing.T) {
	assert.Equal(t, "A", gradeFor(0.95))
	assert.Equal(t, "B", gradeFor(0.85))
	assert.Equal(t, "C", gradeFor(0.72))
	assert.Equal(t, "D", gradeFor(0.6))
	assert.Equal(t, "F", gradeFor(0.3))
}
