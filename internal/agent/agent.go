// Package agent maps artifact types to generators. Each agent turns a
// generation task into markdown content plus a structured extract.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/extraction"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/project"
)

// ErrUnknownDocType indicates no agent is registered for an artifact type.
var ErrUnknownDocType = errors.New("no agent registered for document type")

// ProjectInfo is the project context agents consume.
type ProjectInfo struct {
	ProjectID           string
	ProgramName         string
	Description         string
	ProjectType         string
	CurrentPhase        project.Phase
	EstimatedValue      float64
	ContractType        string
	PeriodOfPerformance string
}

// Task is the input to one agent execution.
type Task struct {
	DocType           string
	DocumentName      string
	Project           ProjectInfo
	Extracted         extraction.Record
	Assumptions       []project.Assumption
	AncestorContent   map[string]string
	RetrievedContext  string
	AdditionalContext string
}

// Output is what an agent produces. References holds the dependency doc
// types whose content was consumed; the coordinator resolves them to
// registry documents when persisting.
type Output struct {
	Content       string
	Metadata      map[string]interface{}
	ExtractedData map[string]interface{}
	References    map[string]string
}

// Agent generates one artifact type.
type Agent interface {
	Execute(ctx context.Context, task Task) (*Output, error)
	DocType() string
}

// Registry maps document types to agents.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds an agent, replacing any prior registration for its type.
func (r *Registry) Register(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.DocType()] = a
}

// Get returns the agent for a document type.
func (r *Registry) Get(docType string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[docType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDocType, docType)
	}
	return a, nil
}

// DocTypes lists registered types, sorted.
func (r *Registry) DocTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.agents))
	for t := range r.agents {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
