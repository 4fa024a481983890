package extraction

import "regexp"

// FieldType classifies how a field's raw matches are normalized and later
// compared by the consistency validator.
type FieldType string

const (
	FieldText         FieldType = "text"
	FieldCurrency     FieldType = "currency"
	FieldDuration     FieldType = "duration"
	FieldDate         FieldType = "date"
	FieldPercentage   FieldType = "percentage"
	FieldIdentifier   FieldType = "identifier"
	FieldOrganization FieldType = "organization"
	FieldNumber       FieldType = "number"
)

// Pattern is one typed extraction rule. Patterns are data so fields can be
// added or tuned without touching the pipeline.
type Pattern struct {
	Field    string
	Type     FieldType
	Regexps  []*regexp.Regexp
	Multiple bool
}

// defaultPatterns are the stage 2 rules applied to every corpus. Capture
// group 1 is the extracted value.
var defaultPatterns = []Pattern{
	{
		Field: "estimated_value",
		Type:  FieldCurrency,
		Regexps: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(?:estimated|total|contract)\s+(?:value|cost|price)[:\s]+(\$?[\d,.]+\s*(?:billion|million|thousand|[bmk])?)`),
			regexp.MustCompile(`(?i)IGCE[:\s]+(\$?[\d,.]+\s*(?:billion|million|thousand|[bmk])?)`),
			regexp.MustCompile(`(\$[\d,.]+\s*(?:billion|million|thousand|[bmk])?)`),
		},
	},
	{
		Field: "period_of_performance",
		Type:  FieldDuration,
		Regexps: []*regexp.Regexp{
			regexp.MustCompile(`(?i)period\s+of\s+performance[:\s]+([\d.]+\s*(?:years?|months?|weeks?|days?))`),
			regexp.MustCompile(`(?i)(?:base\s+period|pop)\s+of\s+([\d.]+\s*(?:years?|months?))`),
			regexp.MustCompile(`(?i)([\d.]+[-\s]*(?:year|month))\s+(?:period|effort|contract)`),
		},
	},
	{
		Field: "award_date",
		Type:  FieldDate,
		Regexps: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(?:award|start)\s+date[:\s]+(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{4}|[A-Z][a-z]+ \d{1,2}, \d{4})`),
		},
	},
	{
		Field: "solicitation_number",
		Type:  FieldIdentifier,
		Regexps: []*regexp.Regexp{
			regexp.MustCompile(`(?i)solicitation\s+(?:no\.?|number)[:\s]+([A-Z0-9][A-Z0-9-]{5,})`),
			regexp.MustCompile(`\b([A-Z]{1,4}\d{2,4}-\d{2}-[A-Z]-\d{4})\b`),
		},
	},
	{
		Field: "naics_code",
		Type:  FieldIdentifier,
		Regexps: []*regexp.Regexp{
			regexp.MustCompile(`(?i)NAICS(?:\s+code)?[:\s]+(\d{6})`),
		},
	},
	{
		Field: "small_business_goal",
		Type:  FieldPercentage,
		Regexps: []*regexp.Regexp{
			regexp.MustCompile(`(?i)small\s+business\s+(?:goal|set[- ]aside)[^\d]{0,20}([\d.]+\s*%)`),
		},
	},
	{
		Field: "contracting_office",
		Type:  FieldOrganization,
		Regexps: []*regexp.Regexp{
			regexp.MustCompile(`(?i)contracting\s+(?:office|activity)[:\s]+([^\n.]{3,80})`),
		},
	},
	{
		Field:    "requirements",
		Type:     FieldText,
		Multiple: true,
		Regexps: []*regexp.Regexp{
			regexp.MustCompile(`(?im)^\s*(?:[-*•]|\d+[.)])\s+(?:the\s+contractor\s+)?(shall\s+[^\n]+)`),
			regexp.MustCompile(`(?im)(?:the\s+)?contractor\s+(shall\s+[^\n.]+)`),
		},
	},
	{
		Field:    "deliverables",
		Type:     FieldText,
		Multiple: true,
		Regexps: []*regexp.Regexp{
			regexp.MustCompile(`(?im)^\s*(?:[-*•]|\d+[.)])\s+deliverable[:\s]+([^\n]+)`),
			regexp.MustCompile(`(?i)deliver(?:able)?s?\s+include[:\s]+([^\n]+)`),
		},
	},
	{
		Field: "option_years",
		Type:  FieldNumber,
		Regexps: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(\d+)\s+option\s+(?:years?|periods?)`),
		},
	},
}

// listFields are the categories that must always be present in a record,
// defaulting to empty lists when nothing matched.
var listFields = []string{"requirements", "deliverables"}
