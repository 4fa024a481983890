package phasegate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/observability"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/project"
)

var (
	co     = project.User{ID: "u1", Name: "Casey", Role: project.RoleContractingOfficer}
	pm     = project.User{ID: "u2", Name: "Jordan", Role: project.RoleProgramManager}
	viewer = project.User{ID: "u3", Name: "Riley", Role: project.RoleViewer}
)

func readyProject() (*project.Project, []project.Document) {
	proj := &project.Project{
		ID:           "proj-1",
		ProgramName:  "Falcon Sustainment",
		CurrentPhase: project.PhasePreSolicitation,
	}
	docs := []project.Document{
		{DocumentName: "Market Research Report", GenerationStatus: project.GenerationGenerated, ApprovalStatus: project.ApprovalApproved},
		{DocumentName: "independent government cost estimate", GenerationStatus: project.GenerationGenerated, ApprovalStatus: project.ApprovalApproved},
		{DocumentName: "Acquisition Plan", GenerationStatus: project.GenerationGenerated, ApprovalStatus: project.ApprovalApproved},
	}
	return proj, docs
}

func TestValidateTransitionReady(t *testing.T) {
	s := NewService(nil, Config{}, observability.Nop())
	proj, docs := readyProject()

	report := s.ValidateTransition(proj, docs, project.PhasePreSolicitation, project.PhaseSolicitation, pm)

	assert.True(t, report.CanTransition)
	assert.Empty(t, report.BlockingIssues)
	assert.True(t, report.UserCanRequest)
	assert.Equal(t, project.RoleContractingOfficer, report.RequiredGatekeeper)

	// Case-insensitive name matching found all three documents.
	require.Len(t, report.DocumentStatus, 3)
	for name, st := range report.DocumentStatus {
		assert.True(t, st.Exists, "document %s", name)
		assert.True(t, st.Approved, "document %s", name)
	}
}

func TestValidateTransitionMissingDocumentBlocks(t *testing.T) {
	s := NewService(nil, Config{}, observability.Nop())
	proj, docs := readyProject()
	docs = docs[:2] // drop the acquisition plan

	report := s.ValidateTransition(proj, docs, project.PhasePreSolicitation, project.PhaseSolicitation, pm)

	assert.False(t, report.CanTransition)
	require.Len(t, report.BlockingIssues, 1)
	assert.Equal(t, "Required document missing: Acquisition Plan", report.BlockingIssues[0])
	assert.False(t, report.DocumentStatus["Acquisition Plan"].Exists)
}

func TestValidateTransitionUnapprovedPolicy(t *testing.T) {
	proj, docs := readyProject()
	docs[1].ApprovalStatus = project.ApprovalDraft

	// Default policy: unapproved is a warning.
	s := NewService(nil, Config{}, observability.Nop())
	report := s.ValidateTransition(proj, docs, project.PhasePreSolicitation, project.PhaseSolicitation, pm)
	assert.True(t, report.CanTransition)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "not approved")

	// Strict policy: unapproved blocks.
	strict := NewService(nil, Config{BlockOnUnapproved: true}, observability.Nop())
	report = strict.ValidateTransition(proj, docs, project.PhasePreSolicitation, project.PhaseSolicitation, pm)
	assert.False(t, report.CanTransition)
}

func TestValidateTransitionInvalidChain(t *testing.T) {
	s := NewService(nil, Config{}, observability.Nop())
	proj, docs := readyProject()

	report := s.ValidateTransition(proj, docs, project.PhasePreSolicitation, project.PhaseAward, co)
	assert.False(t, report.CanTransition)
	assert.Contains(t, report.BlockingIssues[0], "invalid transition")
}

func TestValidateTransitionViewerCannotRequest(t *testing.T) {
	s := NewService(nil, Config{}, observability.Nop())
	proj, docs := readyProject()

	report := s.ValidateTransition(proj, docs, project.PhasePreSolicitation, project.PhaseSolicitation, viewer)
	assert.False(t, report.UserCanRequest)
	assert.False(t, report.CanTransition)
}

func TestApproveTransitionAdvancesProject(t *testing.T) {
	s := NewService(nil, Config{}, observability.Nop())
	proj, docs := readyProject()

	req, err := s.CreateTransitionRequest(proj, docs, project.PhaseSolicitation, pm)
	require.NoError(t, err)
	assert.Equal(t, RequestPending, req.Status)

	require.NoError(t, s.ApproveTransition(req.ID, proj, co, "looks complete"))

	assert.Equal(t, project.PhaseSolicitation, proj.CurrentPhase)
	old := proj.PhaseStateFor(project.PhasePreSolicitation)
	require.NotNil(t, old)
	assert.Equal(t, "completed", old.Status)
	require.NotNil(t, old.EndDate)
	next := proj.PhaseStateFor(project.PhaseSolicitation)
	require.NotNil(t, next)
	assert.Equal(t, "in_progress", next.Status)
	require.NotNil(t, next.StartDate)

	// At most once: the second resolution fails and the phase stays put.
	err = s.ApproveTransition(req.ID, proj, co, "again")
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	assert.Equal(t, project.PhaseSolicitation, proj.CurrentPhase)
}

func TestApproveRequiresGatekeeperRole(t *testing.T) {
	s := NewService(nil, Config{}, observability.Nop())
	proj, docs := readyProject()

	req, err := s.CreateTransitionRequest(proj, docs, project.PhaseSolicitation, pm)
	require.NoError(t, err)

	err = s.ApproveTransition(req.ID, proj, pm, "")
	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Equal(t, project.PhasePreSolicitation, proj.CurrentPhase)
}

func TestRejectTransitionRequiresReason(t *testing.T) {
	s := NewService(nil, Config{}, observability.Nop())
	proj, docs := readyProject()

	req, err := s.CreateTransitionRequest(proj, docs, project.PhaseSolicitation, pm)
	require.NoError(t, err)

	err = s.RejectTransition(req.ID, co, "  ")
	assert.ErrorIs(t, err, ErrReasonRequired)

	require.NoError(t, s.RejectTransition(req.ID, co, "IGCE needs rework"))
	got, err := s.Request(req.ID)
	require.NoError(t, err)
	assert.Equal(t, RequestRejected, got.Status)
	assert.Equal(t, "IGCE needs rework", got.Comments)

	// Terminal: cannot approve after rejection.
	err = s.ApproveTransition(req.ID, proj, co, "")
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	assert.Equal(t, project.PhasePreSolicitation, proj.CurrentPhase)
}

func TestCreateRequestBlockedTransition(t *testing.T) {
	s := NewService(nil, Config{}, observability.Nop())
	proj, docs := readyProject()
	docs = docs[:1]

	_, err := s.CreateTransitionRequest(proj, docs, project.PhaseSolicitation, pm)
	assert.Error(t, err)

	_, err = s.CreateTransitionRequest(proj, docs, project.PhaseSolicitation, viewer)
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestLoadRulesFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gates.yaml")
	content := `phases:
  pre_solicitation:
    required_documents:
      - Market Research Report
      - Custom Checklist
    gatekeeper: program_manager
  solicitation:
    required_documents:
      - Solicitation
    gatekeeper: contracting_officer
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	pre := rules.Phases[project.PhasePreSolicitation]
	assert.Equal(t, []string{"Market Research Report", "Custom Checklist"}, pre.RequiredDocuments)
	assert.Equal(t, project.RoleProgramManager, pre.Gatekeeper)

	_, err = LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
