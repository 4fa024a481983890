// Package extraction turns retrieval hits and raw text into typed records
// through a staged pipeline: pre-structured JSON, quick regex, then
// LLM-JSON with schema prompting.
package extraction

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	currencyRe   = regexp.MustCompile(`(?i)\$?\s*([\d,]+(?:\.\d+)?)\s*(billion|million|thousand|b|m|k)?\b`)
	durationRe   = regexp.MustCompile(`(?i)([\d.]+)\s*(years?|months?|weeks?|days?|yrs?|mos?)\b`)
	emphasisRe   = regexp.MustCompile(`(\*\*|__|\*|_)`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// dateFormats are the accepted calendar date layouts, tried in order.
var dateFormats = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2006/01/02",
	"02-01-2006",
}

// NormalizeCurrency converts a currency string to dollars. "$45M" and
// "45 million" both become 45000000. Returns false when no amount parses.
func NormalizeCurrency(s string) (float64, bool) {
	m := currencyRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}
	raw := strings.ReplaceAll(m[1], ",", "")
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToLower(m[2]) {
	case "billion", "b":
		amount *= 1e9
	case "million", "m":
		amount *= 1e6
	case "thousand", "k":
		amount *= 1e3
	}
	return amount, true
}

// NormalizeDuration converts a duration string to months. "3 years" → 36.
// Returns false when no duration parses.
func NormalizeDuration(s string) (float64, bool) {
	m := durationRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		// A bare number is taken as months already.
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return v, true
		}
		return 0, false
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	unit := strings.ToLower(m[2])
	switch {
	case strings.HasPrefix(unit, "year"), strings.HasPrefix(unit, "yr"):
		return value * 12, true
	case strings.HasPrefix(unit, "month"), strings.HasPrefix(unit, "mo"):
		return value, true
	case strings.HasPrefix(unit, "week"):
		return value * 12 / 52, true
	case strings.HasPrefix(unit, "day"):
		return value * 12 / 365, true
	}
	return 0, false
}

// NormalizeDate parses a calendar date from any accepted format.
func NormalizeDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// NormalizeText strips markdown emphasis, collapses whitespace, lowercases,
// and trims trailing punctuation.
func NormalizeText(s string) string {
	s = emphasisRe.ReplaceAllString(s, "")
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimRight(s, ".,;:!? ")
}

// NormalizePercent parses a percentage string to its numeric value.
func NormalizePercent(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// NormalizeNumber parses a plain number, tolerating thousands separators.
func NormalizeNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
