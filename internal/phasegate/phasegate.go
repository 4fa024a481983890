// Package phasegate enforces ordered phase progression. Transitions are
// validated against per-phase required documents, requested by authorized
// roles, and resolved by the gatekeeper role exactly once.
package phasegate

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/observability"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/project"
)

var (
	// ErrAlreadyResolved indicates the transition request was approved or
	// rejected before.
	ErrAlreadyResolved = errors.New("transition request already resolved")
	// ErrRequestNotFound indicates no request matched the ID.
	ErrRequestNotFound = errors.New("transition request not found")
	// ErrReasonRequired indicates a rejection without comments.
	ErrReasonRequired = errors.New("rejection requires a reason")
	// ErrNotAuthorized indicates the acting user lacks the required role.
	ErrNotAuthorized = errors.New("user is not authorized for this action")
)

// PhaseRules configures one phase's gate.
type PhaseRules struct {
	RequiredDocuments []string     `yaml:"required_documents"`
	Gatekeeper        project.Role `yaml:"gatekeeper"`
}

// Rules is the static phase-gate configuration, read once at startup.
type Rules struct {
	Phases map[project.Phase]PhaseRules `yaml:"phases"`
}

// LoadRules reads phase rules from a YAML file.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read phase rules: %w", err)
	}
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse phase rules: %w", err)
	}
	return &r, nil
}

// DefaultRules returns the builtin gate configuration.
func DefaultRules() *Rules {
	return &Rules{
		Phases: map[project.Phase]PhaseRules{
			project.PhasePreSolicitation: {
				RequiredDocuments: []string{
					"Market Research Report",
					"Independent Government Cost Estimate",
					"Acquisition Plan",
				},
				Gatekeeper: project.RoleContractingOfficer,
			},
			project.PhaseSolicitation: {
				RequiredDocuments: []string{
					"Performance Work Statement",
					"Solicitation",
				},
				Gatekeeper: project.RoleContractingOfficer,
			},
			project.PhasePostSolicitation: {
				RequiredDocuments: []string{
					"Source Selection Decision Document",
				},
				Gatekeeper: project.RoleContractingOfficer,
			},
			project.PhaseAward: {
				Gatekeeper: project.RoleContractingOfficer,
			},
		},
	}
}

// DocumentStatus reports one required document's state.
type DocumentStatus struct {
	Exists   bool   `json:"exists"`
	Status   string `json:"status"`
	Approved bool   `json:"approved"`
}

// Report is a transition validation result.
type Report struct {
	CanTransition      bool                      `json:"can_transition"`
	BlockingIssues     []string                  `json:"blocking_issues"`
	Warnings           []string                  `json:"warnings"`
	DocumentStatus     map[string]DocumentStatus `json:"document_status"`
	RequiredGatekeeper project.Role              `json:"required_gatekeeper"`
	UserCanRequest     bool                      `json:"user_can_request"`
}

// RequestStatus is a transition request's lifecycle state.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// TransitionRequest is a pending or resolved phase transition.
type TransitionRequest struct {
	ID          string        `json:"id"`
	ProjectID   string        `json:"project_id"`
	From        project.Phase `json:"from"`
	To          project.Phase `json:"to"`
	RequestedBy project.User  `json:"requested_by"`
	Report      Report        `json:"report"`
	Status      RequestStatus `json:"status"`
	Comments    string        `json:"comments,omitempty"`
	ResolvedBy  string        `json:"resolved_by,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	ResolvedAt  *time.Time    `json:"resolved_at,omitempty"`
}

// Config holds gate policy settings.
type Config struct {
	// BlockOnUnapproved escalates unapproved required documents from
	// warnings to blocking issues.
	BlockOnUnapproved bool
}

// Service validates and resolves phase transitions.
type Service struct {
	mu       sync.Mutex
	rules    *Rules
	config   Config
	requests map[string]*TransitionRequest
	logger   *observability.Logger
}

// NewService creates a phase-gate service. Nil rules fall back to the
// builtin configuration.
func NewService(rules *Rules, cfg Config, logger *observability.Logger) *Service {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Service{
		rules:    rules,
		config:   cfg,
		requests: make(map[string]*TransitionRequest),
		logger:   logger,
	}
}

// ValidateTransition checks whether a project may move from one phase to
// the next and reports document readiness. Validation never mutates state.
func (s *Service) ValidateTransition(proj *project.Project, docs []project.Document, from, to project.Phase, user project.User) Report {
	report := Report{
		BlockingIssues: []string{},
		Warnings:       []string{},
		DocumentStatus: map[string]DocumentStatus{},
		UserCanRequest: project.CanRequestTransition(user.Role),
	}

	if !project.ValidTransition(from, to) {
		report.BlockingIssues = append(report.BlockingIssues,
			fmt.Sprintf("invalid transition: %s -> %s", from, to))
	}
	if proj.CurrentPhase != from {
		report.BlockingIssues = append(report.BlockingIssues,
			fmt.Sprintf("project is in phase %s, not %s", proj.CurrentPhase, from))
	}

	rules := s.rules.Phases[from]
	report.RequiredGatekeeper = rules.Gatekeeper

	for _, name := range rules.RequiredDocuments {
		status := DocumentStatus{}
		for i := range docs {
			if !strings.EqualFold(docs[i].DocumentName, name) {
				continue
			}
			status.Exists = true
			status.Status = string(docs[i].GenerationStatus)
			status.Approved = docs[i].ApprovalStatus == project.ApprovalApproved
			break
		}
		report.DocumentStatus[name] = status

		if !status.Exists {
			report.BlockingIssues = append(report.BlockingIssues,
				fmt.Sprintf("Required document missing: %s", name))
			continue
		}
		if !status.Approved {
			msg := fmt.Sprintf("document not approved: %s", name)
			if s.config.BlockOnUnapproved {
				report.BlockingIssues = append(report.BlockingIssues, msg)
			} else {
				report.Warnings = append(report.Warnings, msg)
			}
		}
	}

	if !report.UserCanRequest {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("role %s may not request transitions", user.Role))
	}

	report.CanTransition = len(report.BlockingIssues) == 0 && report.UserCanRequest
	return report
}

// CreateTransitionRequest validates and records a pending request. The
// full validation report travels with the request.
func (s *Service) CreateTransitionRequest(proj *project.Project, docs []project.Document, to project.Phase, user project.User) (*TransitionRequest, error) {
	from := proj.CurrentPhase
	report := s.ValidateTransition(proj, docs, from, to, user)
	if !report.UserCanRequest {
		return nil, fmt.Errorf("request transition as %s: %w", user.Role, ErrNotAuthorized)
	}
	if !report.CanTransition {
		return nil, fmt.Errorf("transition blocked: %s", strings.Join(report.BlockingIssues, "; "))
	}

	req := &TransitionRequest{
		ID:          "ptr_" + uuid.NewString(),
		ProjectID:   proj.ID,
		From:        from,
		To:          to,
		RequestedBy: user,
		Report:      report,
		Status:      RequestPending,
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	s.requests[req.ID] = req
	s.mu.Unlock()

	s.logger.Info().
		Str("request_id", req.ID).
		Str("project_id", proj.ID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("phase transition requested")
	return req, nil
}

// Request returns a transition request by ID.
func (s *Service) Request(id string) (*TransitionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", id, ErrRequestNotFound)
	}
	return req, nil
}

// PendingForProject lists a project's unresolved requests.
func (s *Service) PendingForProject(projectID string) []*TransitionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*TransitionRequest
	for _, req := range s.requests {
		if req.ProjectID == projectID && req.Status == RequestPending {
			out = append(out, req)
		}
	}
	return out
}

// ApproveTransition resolves a request and advances the project: the old
// phase completes with an end date, the new phase starts, and the current
// phase moves, all under one lock so a crash mid-update cannot be observed
// by other callers.
func (s *Service) ApproveTransition(requestID string, proj *project.Project, gatekeeper project.User, comments string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestID]
	if !ok {
		return fmt.Errorf("approve %s: %w", requestID, ErrRequestNotFound)
	}
	if req.Status != RequestPending {
		return fmt.Errorf("approve %s: %w", requestID, ErrAlreadyResolved)
	}
	if gatekeeper.Role != req.Report.RequiredGatekeeper && gatekeeper.Role != project.RoleAdmin {
		return fmt.Errorf("approve as %s: %w", gatekeeper.Role, ErrNotAuthorized)
	}

	now := time.Now().UTC()
	if old := proj.PhaseStateFor(req.From); old != nil {
		old.Status = "completed"
		old.EndDate = &now
	} else {
		proj.Phases = append(proj.Phases, project.PhaseState{
			Phase: req.From, Status: "completed", EndDate: &now,
		})
	}
	if next := proj.PhaseStateFor(req.To); next != nil {
		next.Status = "in_progress"
		next.StartDate = &now
	} else {
		proj.Phases = append(proj.Phases, project.PhaseState{
			Phase: req.To, Status: "in_progress", StartDate: &now,
		})
	}
	proj.CurrentPhase = req.To
	proj.UpdatedAt = now

	req.Status = RequestApproved
	req.Comments = comments
	req.ResolvedBy = gatekeeper.ID
	req.ResolvedAt = &now

	s.logger.Info().
		Str("request_id", requestID).
		Str("project_id", proj.ID).
		Str("new_phase", string(req.To)).
		Msg("phase transition approved")
	return nil
}

// RejectTransition terminally rejects a request. A reason is required.
func (s *Service) RejectTransition(requestID string, gatekeeper project.User, comments string) error {
	if strings.TrimSpace(comments) == "" {
		return ErrReasonRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestID]
	if !ok {
		return fmt.Errorf("reject %s: %w", requestID, ErrRequestNotFound)
	}
	if req.Status != RequestPending {
		return fmt.Errorf("reject %s: %w", requestID, ErrAlreadyResolved)
	}
	if gatekeeper.Role != req.Report.RequiredGatekeeper && gatekeeper.Role != project.RoleAdmin {
		return fmt.Errorf("reject as %s: %w", gatekeeper.Role, ErrNotAuthorized)
	}

	now := time.Now().UTC()
	req.Status = RequestRejected
	req.Comments = comments
	req.ResolvedBy = gatekeeper.ID
	req.ResolvedAt = &now

	s.logger.Info().
		Str("request_id", requestID).
		Str("project_id", req.ProjectID).
		Msg("phase transition rejected")
	return nil
}
