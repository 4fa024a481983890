package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/llm"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/observability"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/retrieval"
)

// Record is the typed output of an extraction run. Values are scalars,
// lists of strings, or nested maps from the pre-structured fast path.
type Record map[string]interface{}

// Extractor runs the staged extraction pipeline for an artifact type.
type Extractor struct {
	llm      llm.Client
	config   Config
	patterns []Pattern
	logger   *observability.Logger
}

// Config holds extractor settings.
type Config struct {
	// MinCharsForLLM is the corpus length below which the model stage is
	// skipped entirely.
	MinCharsForLLM int
	// MaxCorpusChars caps how much raw text reaches the model prompt.
	MaxCorpusChars int
	Temperature    float64
	MaxTokens      int
}

// DefaultConfig returns default extractor settings.
func DefaultConfig() Config {
	return Config{
		MinCharsForLLM: 200,
		MaxCorpusChars: 12000,
		Temperature:    0.1,
		MaxTokens:      2048,
	}
}

// NewExtractor creates an extractor. A nil client disables the model stage.
func NewExtractor(client llm.Client, cfg Config, logger *observability.Logger) *Extractor {
	if cfg.MinCharsForLLM <= 0 {
		cfg.MinCharsForLLM = 200
	}
	if cfg.MaxCorpusChars <= 0 {
		cfg.MaxCorpusChars = 12000
	}
	return &Extractor{
		llm:      client,
		config:   cfg,
		patterns: defaultPatterns,
		logger:   logger,
	}
}

// Extract converts retrieval hits plus a raw corpus into a typed record for
// the given artifact type. The model stage can only add to the regex
// record; its failures are logged and swallowed.
func (e *Extractor) Extract(ctx context.Context, artifactType string, hits []retrieval.Hit, corpus string, tracker *llm.UsageTracker) Record {
	// Stage 1: a hit that is already structured JSON wins outright.
	if rec, ok := e.preStructured(hits); ok {
		e.logger.Debug().Str("artifact_type", artifactType).Msg("extraction used pre-structured hit")
		e.finalize(rec, Record{})
		return rec
	}

	// Stage 2: cheap typed patterns over the combined text.
	text := corpus
	if text == "" {
		var parts []string
		for _, h := range hits {
			parts = append(parts, h.Content)
		}
		text = strings.Join(parts, "\n\n")
	}
	regexRec := e.applyPatterns(text)

	// Stage 3: schema-prompted model extraction when there is enough text.
	if e.llm != nil && len(text) >= e.config.MinCharsForLLM {
		if rec, err := e.llmExtract(ctx, artifactType, text, tracker); err != nil {
			e.logger.Warn().
				Str("artifact_type", artifactType).
				Err(err).
				Msg("model extraction failed, keeping regex record")
		} else {
			merged := mergeRecords(regexRec, rec)
			e.finalize(merged, regexRec)
			return merged
		}
	}

	e.finalize(regexRec, regexRec)
	return regexRec
}

// preStructured returns the first hit whose metadata marks it as JSON.
func (e *Extractor) preStructured(hits []retrieval.Hit) (Record, bool) {
	for _, h := range hits {
		if h.Metadata.Format != "json" && !strings.HasPrefix(h.Metadata.Type, "structured_") {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(h.Content), &rec); err != nil {
			e.logger.Debug().Str("chunk_id", h.ChunkID).Err(err).Msg("structured hit did not parse, skipping")
			continue
		}
		return rec, true
	}
	return nil, false
}

// applyPatterns runs the typed pattern table over the text. It cannot fail;
// an empty record is a valid outcome.
func (e *Extractor) applyPatterns(text string) Record {
	rec := Record{}
	for _, p := range e.patterns {
		if p.Multiple {
			var values []string
			seen := map[string]struct{}{}
			for _, re := range p.Regexps {
				for _, m := range re.FindAllStringSubmatch(text, -1) {
					v := NormalizeText(m[1])
					if v == "" {
						continue
					}
					if _, dup := seen[v]; dup {
						continue
					}
					seen[v] = struct{}{}
					values = append(values, v)
				}
			}
			if len(values) > 0 {
				rec[p.Field] = values
			}
			continue
		}
		for _, re := range p.Regexps {
			m := re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			if v, ok := normalizeTyped(p.Type, m[1]); ok {
				rec[p.Field] = v
				break
			}
		}
	}
	return rec
}

// normalizeTyped applies the per-type normalization contract to a raw match.
func normalizeTyped(t FieldType, raw string) (interface{}, bool) {
	switch t {
	case FieldCurrency:
		if v, ok := NormalizeCurrency(raw); ok {
			return v, true
		}
	case FieldDuration:
		if v, ok := NormalizeDuration(raw); ok {
			return v, true
		}
	case FieldDate:
		if v, ok := NormalizeDate(raw); ok {
			return v.Format("2006-01-02"), true
		}
	case FieldPercentage:
		if v, ok := NormalizePercent(raw); ok {
			return v, true
		}
	case FieldNumber:
		if v, ok := NormalizeNumber(raw); ok {
			return v, true
		}
	case FieldIdentifier:
		s := strings.TrimSpace(raw)
		if s != "" {
			return s, true
		}
	default:
		s := NormalizeText(raw)
		if s != "" {
			return s, true
		}
	}
	return nil, false
}

const extractionSystemPrompt = `You are a contracting document analyst. Extract structured data from the provided text. Respond with a single JSON object and nothing else. Use null for fields you cannot find. Do not invent values.`

// llmExtract prompts the model with an explicit schema and parses the first
// balanced JSON object in its reply.
func (e *Extractor) llmExtract(ctx context.Context, artifactType, text string, tracker *llm.UsageTracker) (Record, error) {
	if len(text) > e.config.MaxCorpusChars {
		text = text[:e.config.MaxCorpusChars]
	}

	prompt := fmt.Sprintf(`Extract data for a %q artifact from the text below.

Return JSON with this shape:
{
  "estimated_value": <dollars as number or null>,
  "period_of_performance": <months as number or null>,
  "award_date": <"YYYY-MM-DD" or null>,
  "solicitation_number": <string or null>,
  "naics_code": <string or null>,
  "small_business_goal": <percent as number or null>,
  "contracting_office": <string or null>,
  "requirements": [<strings>],
  "deliverables": [<strings>],
  "option_years": <number or null>
}

Text:
%s`, artifactType, text)

	resp, err := e.llm.Complete(ctx, llm.Request{
		System:      extractionSystemPrompt,
		Prompt:      prompt,
		Temperature: e.config.Temperature,
		MaxTokens:   e.config.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}
	tracker.Record(resp)

	raw, ok := firstJSONObject(resp.Content)
	if !ok {
		return nil, fmt.Errorf("no JSON object in model response")
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("parse model JSON: %w", err)
	}
	// Null placeholders are not extracted values.
	for k, v := range rec {
		if v == nil {
			delete(rec, k)
		}
	}
	return rec, nil
}

// firstJSONObject returns the first balanced {...} span, respecting string
// literals and escapes.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// mergeRecords overlays the model record on the regex record. The result is
// always a key-superset of base.
func mergeRecords(base, overlay Record) Record {
	merged := Record{}
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

// finalize guarantees the record's structural invariants: list categories
// are present even when empty, and a metadata object carries the counts the
// pattern stage found.
func (e *Extractor) finalize(rec, regexRec Record) {
	for _, f := range listFields {
		if _, ok := rec[f]; !ok {
			rec[f] = []string{}
		}
	}
	counts := map[string]int{}
	for _, f := range listFields {
		counts[f+"_found"] = listLen(regexRec[f])
	}
	meta, _ := rec["metadata"].(map[string]interface{})
	if meta == nil {
		meta = map[string]interface{}{}
	}
	for k, v := range counts {
		if _, ok := meta[k]; !ok {
			meta[k] = v
		}
	}
	rec["metadata"] = meta
}

func listLen(v interface{}) int {
	switch t := v.(type) {
	case []string:
		return len(t)
	case []interface{}:
		return len(t)
	}
	return 0
}
