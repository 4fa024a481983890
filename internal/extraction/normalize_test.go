package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCurrency(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"$45M", 45_000_000},
		{"45 million", 45_000_000},
		{"$1.2 billion", 1_200_000_000},
		{"$3,500", 3500},
		{"500k", 500_000},
		{"$250,000.50", 250000.50},
	}
	for _, c := range cases {
		got, ok := NormalizeCurrency(c.in)
		require.True(t, ok, "input %q should parse", c.in)
		assert.InDelta(t, c.want, got, 0.01, "input %q", c.in)
	}

	_, ok := NormalizeCurrency("no money here")
	assert.False(t, ok)
}

func TestNormalizeDuration(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"3 years", 36},
		{"18 months", 18},
		{"1 year", 12},
		{"6 mos", 6},
		{"2.5 years", 30},
		{"12", 12}, // bare numbers are months already
	}
	for _, c := range cases {
		got, ok := NormalizeDuration(c.in)
		require.True(t, ok, "input %q should parse", c.in)
		assert.InDelta(t, c.want, got, 0.01, "input %q", c.in)
	}

	_, ok := NormalizeDuration("indefinite")
	assert.False(t, ok)
}

func TestNormalizeDateFormats(t *testing.T) {
	inputs := []string{
		"2026-03-15",
		"03/15/2026",
		"March 15, 2026",
		"Mar 15, 2026",
		"15 March 2026",
	}
	for _, in := range inputs {
		d, ok := NormalizeDate(in)
		require.True(t, ok, "input %q should parse", in)
		assert.Equal(t, 2026, d.Year())
		assert.Equal(t, 3, int(d.Month()))
		assert.Equal(t, 15, d.Day())
	}

	_, ok := NormalizeDate("sometime next spring")
	assert.False(t, ok)
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "contractor shall provide support",
		NormalizeText("**Contractor shall   provide support.**"))
	assert.Equal(t, "a b c", NormalizeText("  _a_  b\n\tc;  "))
	assert.Equal(t, "", NormalizeText("  ...  "))
}

func TestNormalizePercentAndNumber(t *testing.T) {
	p, ok := NormalizePercent("23.5%")
	require.True(t, ok)
	assert.InDelta(t, 23.5, p, 0.001)

	n, ok := NormalizeNumber("1,234,567")
	require.True(t, ok)
	assert.InDelta(t, 1234567, n, 0.001)
}
