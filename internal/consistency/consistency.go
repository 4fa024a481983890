// Package consistency compares scalar fields across two generated
// artifacts and reports drift. It observes the registry; it never blocks
// writes.
package consistency

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/extraction"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/observability"
)

// FieldStatus is a per-field comparison outcome.
type FieldStatus string

const (
	StatusPass     FieldStatus = "PASS"
	StatusFail     FieldStatus = "FAIL"
	StatusNotFound FieldStatus = "NOT_FOUND"
)

// FieldDefinition declares one cross-document field to check. Patterns are
// tried in order; capture group 1 is preferred, otherwise the whole match.
type FieldDefinition struct {
	Name      string
	Type      extraction.FieldType
	Patterns  []*regexp.Regexp
	Tolerance float64
	Required  bool
}

// Evidence records where a field value was found.
type Evidence struct {
	Raw     string `json:"raw"`
	Line    int    `json:"line"`
	Context string `json:"context"`
}

// FieldResult is one field's comparison outcome.
type FieldResult struct {
	Field      string      `json:"field"`
	Status     FieldStatus `json:"status"`
	Similarity float64     `json:"similarity"`
	Method     string      `json:"method"`
	EvidenceA  *Evidence   `json:"evidence_a,omitempty"`
	EvidenceB  *Evidence   `json:"evidence_b,omitempty"`
	Detail     string      `json:"detail,omitempty"`
}

// Report is the validator's output for one document pair.
type Report struct {
	DocA      string        `json:"doc_a"`
	DocB      string        `json:"doc_b"`
	Fields    []FieldResult `json:"fields"`
	PassRatio float64       `json:"pass_ratio"`
	Grade     string        `json:"grade"`
}

// Validator compares documents against a field model.
type Validator struct {
	fields []FieldDefinition
	logger *observability.Logger
}

// NewValidator creates a validator. Nil fields use the builtin model.
func NewValidator(fields []FieldDefinition, logger *observability.Logger) *Validator {
	if fields == nil {
		fields = DefaultFields()
	}
	return &Validator{fields: fields, logger: logger}
}

// DefaultFields is the builtin cross-document field model.
func DefaultFields() []FieldDefinition {
	return []FieldDefinition{
		{
			Name: "estimated_value",
			Type: extraction.FieldCurrency,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)(?:estimated|total|contract)\s+(?:value|cost|price)[:\s]+(\$?[\d,.]+\s*(?:billion|million|thousand|[bmk])?)`),
				regexp.MustCompile(`(\$[\d,.]+\s*(?:billion|million|thousand|[bmk])?)`),
			},
			Tolerance: 0.05,
			Required:  true,
		},
		{
			Name: "period_of_performance",
			Type: extraction.FieldDuration,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)period\s+of\s+performance[:\s]+([\d.]+\s*(?:years?|months?))`),
				regexp.MustCompile(`(?i)([\d.]+[-\s]*(?:year|month))\s+(?:period|effort|contract)`),
			},
			Required: true,
		},
		{
			Name: "award_date",
			Type: extraction.FieldDate,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)(?:award|start)\s+date[:\s]+(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{4}|[A-Z][a-z]+ \d{1,2}, \d{4})`),
			},
		},
		{
			Name: "naics_code",
			Type: extraction.FieldIdentifier,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)NAICS(?:\s+code)?[:\s]+(\d{6})`),
			},
		},
		{
			Name: "small_business_goal",
			Type: extraction.FieldPercentage,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)small\s+business\s+(?:goal|set[- ]aside)[^\d]{0,20}([\d.]+)\s*%`),
			},
			Tolerance: 0.01,
		},
		{
			Name: "contracting_office",
			Type: extraction.FieldOrganization,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)contracting\s+(?:office|activity)[:\s]+([^\n.]{3,80})`),
			},
			Tolerance: 0.8,
		},
	}
}

// Compare extracts each field from both documents and compares type-aware.
func (v *Validator) Compare(nameA, contentA, nameB, contentB string) Report {
	report := Report{DocA: nameA, DocB: nameB}

	evaluated, passed := 0, 0
	for _, field := range v.fields {
		result := v.compareField(field, contentA, contentB)
		report.Fields = append(report.Fields, result)

		switch result.Status {
		case StatusPass:
			evaluated++
			passed++
		case StatusFail:
			evaluated++
		case StatusNotFound:
			if field.Required {
				evaluated++
			}
		}
	}

	if evaluated > 0 {
		report.PassRatio = float64(passed) / float64(evaluated)
	} else {
		report.PassRatio = 1
	}
	report.Grade = gradeFor(report.PassRatio)

	v.logger.Info().
		Str("doc_a", nameA).
		Str("doc_b", nameB).
		Float64("pass_ratio", report.PassRatio).
		Str("grade", report.Grade).
		Msg("consistency comparison complete")
	return report
}

func (v *Validator) compareField(field FieldDefinition, contentA, contentB string) FieldResult {
	result := FieldResult{Field: field.Name, Method: method(field.Type)}

	evA := findField(field, contentA)
	evB := findField(field, contentB)
	result.EvidenceA = evA
	result.EvidenceB = evB

	if evA == nil || evB == nil {
		result.Status = StatusNotFound
		if evA == nil && evB == nil {
			result.Detail = "not found in either document"
		} else if evA == nil {
			result.Detail = "not found in first document"
		} else {
			result.Detail = "not found in second document"
		}
		return result
	}

	similarity, pass, detail := compareTyped(field, evA.Raw, evB.Raw)
	result.Similarity = similarity
	result.Detail = detail
	if pass {
		result.Status = StatusPass
	} else {
		result.Status = StatusFail
	}
	return result
}

// findField applies the patterns in order and captures location evidence.
func findField(field FieldDefinition, content string) *Evidence {
	for _, re := range field.Patterns {
		loc := re.FindStringSubmatchIndex(content)
		if loc == nil {
			continue
		}
		start, end := loc[0], loc[1]
		raw := content[start:end]
		// Prefer capture group 1 when the pattern has one.
		if len(loc) >= 4 && loc[2] >= 0 {
			raw = content[loc[2]:loc[3]]
		}
		line := 1 + strings.Count(content[:start], "\n")
		ctxStart := start - 40
		if ctxStart < 0 {
			ctxStart = 0
		}
		ctxEnd := end + 40
		if ctxEnd > len(content) {
			ctxEnd = len(content)
		}
		return &Evidence{
			Raw:     strings.TrimSpace(raw),
			Line:    line,
			Context: strings.TrimSpace(content[ctxStart:ctxEnd]),
		}
	}
	return nil
}

func method(t extraction.FieldType) string {
	switch t {
	case extraction.FieldCurrency, extraction.FieldNumber, extraction.FieldPercentage:
		return "percent_difference"
	case extraction.FieldDuration:
		return "exact_months"
	case extraction.FieldDate:
		return "date_window"
	case extraction.FieldIdentifier:
		return "exact"
	default:
		return "levenshtein"
	}
}

// compareTyped applies the per-type comparison rule.
func compareTyped(field FieldDefinition, rawA, rawB string) (similarity float64, pass bool, detail string) {
	switch field.Type {
	case extraction.FieldCurrency:
		return comparePercentDiff(extraction.NormalizeCurrency, field, rawA, rawB)
	case extraction.FieldNumber:
		return comparePercentDiff(extraction.NormalizeNumber, field, rawA, rawB)
	case extraction.FieldPercentage:
		return comparePercentDiff(extraction.NormalizePercent, field, rawA, rawB)

	case extraction.FieldDuration:
		a, okA := extraction.NormalizeDuration(rawA)
		b, okB := extraction.NormalizeDuration(rawB)
		if !okA || !okB {
			return 0, false, "duration did not normalize"
		}
		if a == b {
			return 1, true, fmt.Sprintf("%.0f months in both", a)
		}
		return 0, false, fmt.Sprintf("%.0f months vs %.0f months", a, b)

	case extraction.FieldDate:
		a, okA := extraction.NormalizeDate(rawA)
		b, okB := extraction.NormalizeDate(rawB)
		if !okA || !okB {
			return 0, false, "date did not parse"
		}
		days := math.Abs(a.Sub(b).Hours() / 24)
		if days <= 7 {
			return 1 - days/7, true, fmt.Sprintf("%.0f days apart", days)
		}
		return 0, false, fmt.Sprintf("%.0f days apart", days)

	case extraction.FieldIdentifier:
		if strings.EqualFold(strings.TrimSpace(rawA), strings.TrimSpace(rawB)) {
			return 1, true, ""
		}
		return 0, false, fmt.Sprintf("%q vs %q", rawA, rawB)

	default:
		a := extraction.NormalizeText(rawA)
		b := extraction.NormalizeText(rawB)
		sim := levenshteinSimilarity(a, b)
		tol := field.Tolerance
		if tol <= 0 {
			tol = 0.8
		}
		return sim, sim >= tol, fmt.Sprintf("similarity %.2f, threshold %.2f", sim, tol)
	}
}

func comparePercentDiff(normalize func(string) (float64, bool), field FieldDefinition, rawA, rawB string) (float64, bool, string) {
	a, okA := normalize(rawA)
	b, okB := normalize(rawB)
	if !okA || !okB {
		return 0, false, "value did not normalize"
	}
	if a == b {
		return 1, true, "exact match"
	}
	base := math.Max(math.Abs(a), math.Abs(b))
	if base == 0 {
		return 0, false, "zero baseline"
	}
	diff := math.Abs(a-b) / base
	tol := field.Tolerance
	if tol <= 0 {
		tol = 0.05
	}
	return 1 - diff, diff <= tol, fmt.Sprintf("%.2f%% apart, tolerance %.2f%%", diff*100, tol*100)
}

// levenshteinSimilarity maps edit distance to [0, 1].
func levenshteinSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

// gradeFor maps a pass ratio to a letter grade.
func gradeFor(ratio float64) string {
	switch {
	case ratio >= 0.9:
		return "A"
	case ratio >= 0.8:
		return "B"
	case ratio >= 0.7:
		return "C"
	case ratio >= 0.6:
		return "D"
	default:
		return "F"
	}
}
