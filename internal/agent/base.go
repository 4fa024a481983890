package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/llm"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/observability"
)

// Definition describes one model-backed artifact generator. Definitions are
// data so new artifact types need no new code.
type Definition struct {
	DocType      string
	Title        string
	SystemPrompt string
	// Sections are the required top-level headings, in order.
	Sections []string
	// DependencyTypes are the ancestor artifact types whose data this
	// agent consumes; they become reference edges when present.
	DependencyTypes []string
	Temperature     float64
	MaxTokens       int
}

// LLMAgent generates a document from a Definition via the shared model
// client.
type LLMAgent struct {
	def     Definition
	llm     llm.Client
	tracker *llm.UsageTracker
	logger  *observability.Logger
}

// NewLLMAgent creates an agent from a definition. The tracker accumulates
// token usage for the owning task and may be nil.
func NewLLMAgent(def Definition, client llm.Client, tracker *llm.UsageTracker, logger *observability.Logger) *LLMAgent {
	if def.MaxTokens <= 0 {
		def.MaxTokens = 4096
	}
	return &LLMAgent{def: def, llm: client, tracker: tracker, logger: logger}
}

// DocType returns the artifact type this agent generates.
func (a *LLMAgent) DocType() string { return a.def.DocType }

// Execute builds the prompt, calls the model, and post-processes the
// response. Scalar values in the extract are passed through from the task;
// the agent never invents values that contradict them.
func (a *LLMAgent) Execute(ctx context.Context, task Task) (*Output, error) {
	resp, err := a.llm.Complete(ctx, llm.Request{
		System:      a.def.SystemPrompt,
		Prompt:      a.buildPrompt(task),
		Temperature: a.def.Temperature,
		MaxTokens:   a.def.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.def.DocType, err)
	}
	a.tracker.Record(resp)

	content := CleanMarkdown(resp.Content)

	references := map[string]string{}
	for _, dep := range a.def.DependencyTypes {
		if _, ok := task.AncestorContent[dep]; ok {
			references[dep] = dep
		}
	}

	extracted := map[string]interface{}{}
	for k, v := range task.Extracted {
		extracted[k] = v
	}

	out := &Output{
		Content:       content,
		ExtractedData: extracted,
		References:    references,
		Metadata: map[string]interface{}{
			"doc_type":          a.def.DocType,
			"model":             a.llm.Model(),
			"section_coverage":  sectionCoverage(content, a.def.Sections),
			"prompt_tokens":     resp.PromptTokens,
			"completion_tokens": resp.CompletionTokens,
		},
	}

	a.logger.Info().
		Str("doc_type", a.def.DocType).
		Int("content_chars", len(content)).
		Float64("section_coverage", out.Metadata["section_coverage"].(float64)).
		Msg("agent execution complete")

	return out, nil
}

// buildPrompt assembles project context, extracted facts, assumptions,
// ancestor content, and retrieved evidence into one generation prompt.
func (a *LLMAgent) buildPrompt(task Task) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Generate a %s for the following program.\n\n", a.def.Title)

	b.WriteString("## Project\n")
	fmt.Fprintf(&b, "- Program: %s\n", task.Project.ProgramName)
	if task.Project.Description != "" {
		fmt.Fprintf(&b, "- Description: %s\n", task.Project.Description)
	}
	if task.Project.ProjectType != "" {
		fmt.Fprintf(&b, "- Type: %s\n", task.Project.ProjectType)
	}
	fmt.Fprintf(&b, "- Current phase: %s\n", task.Project.CurrentPhase)
	if task.Project.EstimatedValue > 0 {
		fmt.Fprintf(&b, "- Estimated value: $%.2f\n", task.Project.EstimatedValue)
	}
	if task.Project.ContractType != "" {
		fmt.Fprintf(&b, "- Contract type: %s\n", task.Project.ContractType)
	}
	if task.Project.PeriodOfPerformance != "" {
		fmt.Fprintf(&b, "- Period of performance: %s\n", task.Project.PeriodOfPerformance)
	}

	if len(task.Extracted) > 0 {
		b.WriteString("\n## Extracted facts\n")
		b.WriteString("Use these values verbatim. Do not contradict them.\n")
		for _, k := range sortedKeys(task.Extracted) {
			if k == "metadata" {
				continue
			}
			fmt.Fprintf(&b, "- %s: %v\n", k, task.Extracted[k])
		}
	}

	if len(task.Assumptions) > 0 {
		b.WriteString("\n## Assumptions\n")
		for _, as := range task.Assumptions {
			fmt.Fprintf(&b, "- [%s] %s\n", as.ID, as.Text)
		}
	}

	if len(task.AncestorContent) > 0 {
		b.WriteString("\n## Upstream documents\n")
		for _, name := range sortedKeysStr(task.AncestorContent) {
			fmt.Fprintf(&b, "### %s\n%s\n\n", name, task.AncestorContent[name])
		}
	}

	if task.RetrievedContext != "" {
		b.WriteString("\n## Reference material\n")
		b.WriteString(task.RetrievedContext)
		b.WriteString("\n")
	}

	if task.AdditionalContext != "" {
		b.WriteString("\n## Additional direction\n")
		b.WriteString(task.AdditionalContext)
		b.WriteString("\n")
	}

	if len(a.def.Sections) > 0 {
		b.WriteString("\n## Required sections\n")
		for i, s := range a.def.Sections {
			fmt.Fprintf(&b, "%d. %s\n", i+1, s)
		}
	}

	b.WriteString("\nRespond with the complete document in markdown. No code fences.\n")
	return b.String()
}

// sectionCoverage returns the fraction of required sections whose heading
// appears in the content.
func sectionCoverage(content string, sections []string) float64 {
	if len(sections) == 0 {
		return 1.0
	}
	lower := strings.ToLower(content)
	found := 0
	for _, s := range sections {
		if strings.Contains(lower, strings.ToLower(s)) {
			found++
		}
	}
	return float64(found) / float64(len(sections))
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysStr(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
