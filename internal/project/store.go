package project

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrProjectNotFound indicates no project matched the ID.
var ErrProjectNotFound = errors.New("project not found")

// Store is the in-process project inventory. Durable artifact content
// lives in the registry; this tracks live project and document state.
type Store struct {
	mu       sync.RWMutex
	projects map[string]*Project
	docs     map[string]map[string]*Document // project ID -> doc type
}

// NewStore creates an empty project store.
func NewStore() *Store {
	return &Store{
		projects: make(map[string]*Project),
		docs:     make(map[string]map[string]*Document),
	}
}

// Create registers a project. A missing ID or phase gets defaults.
func (s *Store) Create(p *Project) *Project {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = "proj_" + uuid.NewString()
	}
	if p.CurrentPhase == "" {
		p.CurrentPhase = PhasePreSolicitation
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.PhaseStateFor(p.CurrentPhase) == nil {
		p.Phases = append(p.Phases, PhaseState{
			Phase: p.CurrentPhase, Status: "in_progress", StartDate: &now,
		})
	}

	s.projects[p.ID] = p
	s.docs[p.ID] = make(map[string]*Document)
	return p
}

// Get returns a project by ID.
func (s *Store) Get(id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, ErrProjectNotFound)
	}
	return p, nil
}

// List returns all projects ordered by creation time.
func (s *Store) List() []*Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// UpsertDocument attaches or replaces a document on a project, keyed by
// document type.
func (s *Store) UpsertDocument(projectID string, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[projectID]; !ok {
		return fmt.Errorf("project %s: %w", projectID, ErrProjectNotFound)
	}
	doc.ProjectID = projectID
	if doc.ID == "" {
		doc.ID = fmt.Sprintf("%s:%s", projectID, doc.DocumentType)
	}
	s.docs[projectID][doc.DocumentType] = doc
	return nil
}

// Documents returns a project's documents keyed by type. The map is a
// shallow copy; the documents are shared.
func (s *Store) Documents(projectID string) (map[string]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs, ok := s.docs[projectID]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", projectID, ErrProjectNotFound)
	}
	out := make(map[string]*Document, len(docs))
	for k, v := range docs {
		out[k] = v
	}
	return out, nil
}

// DocumentList returns a project's documents as a slice.
func (s *Store) DocumentList(projectID string) ([]Document, error) {
	docs, err := s.Documents(projectID)
	if err != nil {
		return nil, err
	}
	types := make([]string, 0, len(docs))
	for t := range docs {
		types = append(types, t)
	}
	sort.Strings(types)
	out := make([]Document, 0, len(docs))
	for _, t := range types {
		out = append(out, *docs[t])
	}
	return out, nil
}
