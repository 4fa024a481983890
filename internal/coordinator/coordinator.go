// Package coordinator executes generation tasks end-to-end: dependency
// resolution, retrieval, extraction, agent execution, persistence, lineage,
// and progress reporting.
package coordinator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/agent"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/cache"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/extraction"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/increment"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/observability"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/project"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/registry"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/retrieval"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/taskstore"
)

// DependencyGraph is the static artifact dependency configuration. Order
// preserves declaration order for deterministic tie-breaking.
type DependencyGraph struct {
	Order []string
	Deps  map[string][]string
}

// BuiltinGraph returns the dependency graph of the builtin artifact types.
func BuiltinGraph() DependencyGraph {
	g := DependencyGraph{Deps: agent.DefaultDependencyGraph()}
	for _, def := range agent.BuiltinDefinitions {
		g.Order = append(g.Order, def.DocType)
	}
	return g
}

// declIndex returns a doc type's position in declaration order; unknown
// types sort last.
func (g DependencyGraph) declIndex(docType string) int {
	for i, t := range g.Order {
		if t == docType {
			return i
		}
	}
	return len(g.Order)
}

// MissingDependencyError reports ancestors that are neither present with
// content nor part of the generation plan.
type MissingDependencyError struct {
	Missing []string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("missing dependencies: %s", strings.Join(e.Missing, ", "))
}

// Request describes one generation task.
type Request struct {
	TaskID            string
	Queue             string
	Project           *project.Project
	Documents         map[string]*project.Document
	Requested         []string
	Assumptions       []project.Assumption
	AdditionalContext string
}

// ArtifactStatus is the per-artifact outcome within a task.
type ArtifactStatus string

const (
	ArtifactGenerated ArtifactStatus = "generated"
	ArtifactCacheHit  ArtifactStatus = "cache_hit"
	ArtifactFailed    ArtifactStatus = "failed"
	ArtifactSkipped   ArtifactStatus = "skipped"
)

// ArtifactResult reports one artifact's outcome.
type ArtifactResult struct {
	DocType      string         `json:"doc_type"`
	Status       ArtifactStatus `json:"status"`
	RegistryID   string         `json:"registry_id,omitempty"`
	Error        string         `json:"error,omitempty"`
	SkipReason   string         `json:"skip_reason,omitempty"`
	QualityScore float64        `json:"quality_score,omitempty"`
}

// TaskResult is the task's terminal summary.
type TaskResult struct {
	TaskID    string           `json:"task_id"`
	Status    taskstore.Status `json:"status"`
	Artifacts []ArtifactResult `json:"artifacts"`
	Errors    []string         `json:"errors,omitempty"`
}

// Config holds coordinator settings.
type Config struct {
	// AncestorContentCap truncates each ancestor before it joins the
	// prompt, keeping token budgets bounded and deterministic.
	AncestorContentCap int
	// ParallelChains runs independent dependency chains concurrently.
	ParallelChains bool
	RetrievalTopK  int
}

// DefaultConfig returns default coordinator settings.
func DefaultConfig() Config {
	return Config{
		AncestorContentCap: 2000,
		RetrievalTopK:      8,
	}
}

// Coordinator drives generation tasks.
type Coordinator struct {
	graph     DependencyGraph
	agents    *agent.Registry
	retriever *retrieval.Retriever
	extractor *extraction.Extractor
	incCache  *increment.Cache
	registry  *registry.Registry
	lineage   *registry.LineageWriter
	tasks     *taskstore.Store
	cache     cache.Client
	agentFP   increment.AgentFingerprint
	config    Config
	logger    *observability.Logger
}

// Deps bundles the coordinator's collaborators. Tasks, lineage, and the
// cache client are optional; the rest are required.
type Deps struct {
	Graph     DependencyGraph
	Agents    *agent.Registry
	Retriever *retrieval.Retriever
	Extractor *extraction.Extractor
	IncCache  *increment.Cache
	Registry  *registry.Registry
	Lineage   *registry.LineageWriter
	Tasks     *taskstore.Store
	Cache     cache.Client
	AgentFP   increment.AgentFingerprint
}

// New creates a coordinator.
func New(deps Deps, cfg Config, logger *observability.Logger) (*Coordinator, error) {
	if deps.Agents == nil || deps.Registry == nil {
		return nil, fmt.Errorf("agents and registry are required")
	}
	if cfg.AncestorContentCap <= 0 {
		cfg.AncestorContentCap = 2000
	}
	if cfg.RetrievalTopK <= 0 {
		cfg.RetrievalTopK = 8
	}
	return &Coordinator{
		graph:     deps.Graph,
		agents:    deps.Agents,
		retriever: deps.Retriever,
		extractor: deps.Extractor,
		incCache:  deps.IncCache,
		registry:  deps.Registry,
		lineage:   deps.Lineage,
		tasks:     deps.Tasks,
		cache:     deps.Cache,
		agentFP:   deps.AgentFP,
		config:    cfg,
		logger:    logger,
	}, nil
}

// plan computes the topological execution order for the requested types and
// verifies eligibility. Ancestors outside the plan must already carry
// content; otherwise the task fails up front with the missing names.
func (c *Coordinator) plan(req *Request) ([]string, error) {
	inPlan := make(map[string]bool, len(req.Requested))
	for _, t := range req.Requested {
		if _, err := c.agents.Get(t); err != nil {
			return nil, err
		}
		inPlan[t] = true
	}

	var missing []string
	for _, t := range req.Requested {
		for _, dep := range c.graph.Deps[t] {
			if inPlan[dep] {
				continue
			}
			doc, ok := req.Documents[dep]
			if !ok || !doc.HasContent() {
				missing = append(missing, dep)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &MissingDependencyError{Missing: dedupe(missing)}
	}

	// Kahn's algorithm restricted to the plan; ready nodes are picked in
	// declaration order.
	indegree := make(map[string]int, len(inPlan))
	for t := range inPlan {
		for _, dep := range c.graph.Deps[t] {
			if inPlan[dep] {
				indegree[t]++
			}
		}
	}

	var order []string
	remaining := make(map[string]bool, len(inPlan))
	for t := range inPlan {
		remaining[t] = true
	}
	for len(remaining) > 0 {
		var ready []string
		for t := range remaining {
			if indegree[t] == 0 {
				ready = append(ready, t)
			}
		}
		if len(ready) == 0 {
			return nil, fmt.Errorf("dependency cycle among requested artifacts")
		}
		sort.Slice(ready, func(i, j int) bool {
			return c.graph.declIndex(ready[i]) < c.graph.declIndex(ready[j])
		})
		next := ready[0]
		order = append(order, next)
		delete(remaining, next)
		for t := range remaining {
			for _, dep := range c.graph.Deps[t] {
				if dep == next {
					indegree[t]--
				}
			}
		}
	}
	return order, nil
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || sorted[i-1] != s {
			out = append(out, s)
		}
	}
	return out
}

// newTaskID generates a task identifier.
func newTaskID() string {
	return "task_" + uuid.NewString()
}
