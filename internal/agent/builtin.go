package agent

import (
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/llm"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/observability"
)

// BuiltinDefinitions are the artifact generators shipped with the core.
var BuiltinDefinitions = []Definition{
	{
		DocType: "market_research_report",
		Title:   "Market Research Report",
		SystemPrompt: "You are a federal acquisition analyst writing a market research report per FAR Part 10. " +
			"Ground every claim in the provided facts and reference material.",
		Sections: []string{
			"Executive Summary",
			"Description of Requirement",
			"Market Analysis",
			"Sources Sought",
			"Small Business Considerations",
			"Conclusions and Recommendations",
		},
		Temperature: 0.3,
	},
	{
		DocType: "igce",
		Title:   "Independent Government Cost Estimate",
		SystemPrompt: "You are a government cost estimator preparing an independent government cost estimate. " +
			"Every figure must come from the extracted facts or upstream documents; never invent costs.",
		Sections: []string{
			"Basis of Estimate",
			"Cost Breakdown",
			"Labor Categories",
			"Other Direct Costs",
			"Escalation and Assumptions",
		},
		DependencyTypes: []string{"market_research_report"},
		Temperature:     0.1,
	},
	{
		DocType: "acquisition_plan",
		Title:   "Acquisition Plan",
		SystemPrompt: "You are a contracting officer writing an acquisition plan per FAR Part 7. " +
			"Stay consistent with the upstream market research and cost estimate.",
		Sections: []string{
			"Background and Objectives",
			"Plan of Action",
			"Contract Type Selection",
			"Source Selection Procedures",
			"Milestones",
			"Risks",
		},
		DependencyTypes: []string{"market_research_report", "igce"},
		Temperature:     0.3,
	},
	{
		DocType: "pws",
		Title:   "Performance Work Statement",
		SystemPrompt: "You are writing a performance work statement. State requirements as measurable outcomes " +
			"using \"The contractor shall\" phrasing.",
		Sections: []string{
			"Scope",
			"Applicable Documents",
			"Performance Requirements",
			"Deliverables",
			"Performance Standards",
			"Quality Assurance",
		},
		DependencyTypes: []string{"acquisition_plan"},
		Temperature:     0.2,
	},
	{
		DocType: "solicitation",
		Title:   "Solicitation",
		SystemPrompt: "You are drafting solicitation language. Incorporate the performance work statement and " +
			"evaluation criteria consistent with the acquisition plan.",
		Sections: []string{
			"Instructions to Offerors",
			"Evaluation Criteria",
			"Contract Clauses",
			"Attachments",
		},
		DependencyTypes: []string{"pws", "acquisition_plan"},
		Temperature:     0.2,
	},
	{
		DocType: "quality_report",
		Title:   "Document Quality Report",
		SystemPrompt: "You are a quality reviewer. Assess the provided documents for completeness, internal " +
			"consistency, and compliance. Cite specific passages.",
		Sections: []string{
			"Summary",
			"Findings",
			"Cross-Document Consistency",
			"Recommendations",
		},
		Temperature: 0.2,
	},
}

// DefaultDependencyGraph maps each builtin artifact type to its ancestors,
// in declaration order.
func DefaultDependencyGraph() map[string][]string {
	graph := make(map[string][]string, len(BuiltinDefinitions))
	for _, def := range BuiltinDefinitions {
		deps := make([]string, len(def.DependencyTypes))
		copy(deps, def.DependencyTypes)
		graph[def.DocType] = deps
	}
	return graph
}

// NewBuiltinRegistry registers an LLMAgent for every builtin definition.
func NewBuiltinRegistry(client llm.Client, tracker *llm.UsageTracker, logger *observability.Logger) *Registry {
	r := NewRegistry()
	for _, def := range BuiltinDefinitions {
		r.Register(NewLLMAgent(def, client, tracker, logger))
	}
	return r
}
