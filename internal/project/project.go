// Package project defines the shared project and document model consumed by
// the coordinator, the phase-gate service, and the HTTP surface.
package project

import "time"

// Phase identifies a procurement lifecycle phase.
type Phase string

const (
	PhasePreSolicitation  Phase = "pre_solicitation"
	PhaseSolicitation     Phase = "solicitation"
	PhasePostSolicitation Phase = "post_solicitation"
	PhaseAward            Phase = "award"
)

// PhaseChain is the only valid ordering of phases.
var PhaseChain = []Phase{
	PhasePreSolicitation,
	PhaseSolicitation,
	PhasePostSolicitation,
	PhaseAward,
}

// NextPhase returns the phase that follows p, or "" for the last phase.
func NextPhase(p Phase) Phase {
	for i, ph := range PhaseChain {
		if ph == p && i+1 < len(PhaseChain) {
			return PhaseChain[i+1]
		}
	}
	return ""
}

// ValidTransition reports whether from → to is one step along the chain.
func ValidTransition(from, to Phase) bool {
	return NextPhase(from) == to
}

// Role is a user's role for phase-gate authorization.
type Role string

const (
	RoleContractingOfficer Role = "contracting_officer"
	RoleProgramManager     Role = "program_manager"
	RoleAdmin              Role = "admin"
	RoleViewer             Role = "viewer"
)

// CanRequestTransition reports whether the role may request phase
// transitions.
func CanRequestTransition(r Role) bool {
	switch r {
	case RoleContractingOfficer, RoleProgramManager, RoleAdmin:
		return true
	}
	return false
}

// User identifies an acting user.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// GenerationStatus tracks a document's generation lifecycle.
type GenerationStatus string

const (
	GenerationPending   GenerationStatus = "PENDING"
	GenerationGenerated GenerationStatus = "GENERATED"
	GenerationFailed    GenerationStatus = "FAILED"
	GenerationUploaded  GenerationStatus = "UPLOADED"
)

// ApprovalStatus tracks a document's review lifecycle.
type ApprovalStatus string

const (
	ApprovalDraft    ApprovalStatus = "draft"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// PhaseState records one phase's progress on a project.
type PhaseState struct {
	Phase     Phase      `json:"phase"`
	Status    string     `json:"status"` // not_started, in_progress, completed
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// Project is a procurement program being worked through the phase chain.
type Project struct {
	ID                  string       `json:"id"`
	ProgramName         string       `json:"program_name"`
	Description         string       `json:"description"`
	ProjectType         string       `json:"project_type"`
	CurrentPhase        Phase        `json:"current_phase"`
	EstimatedValue      float64      `json:"estimated_value"`
	ContractType        string       `json:"contract_type"`
	PeriodOfPerformance string       `json:"period_of_performance"`
	Phases              []PhaseState `json:"phases"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// PhaseStateFor returns the state entry for a phase, if tracked.
func (p *Project) PhaseStateFor(phase Phase) *PhaseState {
	for i := range p.Phases {
		if p.Phases[i].Phase == phase {
			return &p.Phases[i]
		}
	}
	return nil
}

// Document is one artifact attached to a project.
type Document struct {
	ID               string           `json:"id"`
	ProjectID        string           `json:"project_id"`
	DocumentName     string           `json:"document_name"`
	DocumentType     string           `json:"document_type"`
	Phase            Phase            `json:"phase"`
	GeneratedContent string           `json:"generated_content,omitempty"`
	GeneratedAt      *time.Time       `json:"generated_at,omitempty"`
	GenerationStatus GenerationStatus `json:"generation_status"`
	ApprovalStatus   ApprovalStatus   `json:"approval_status"`
	AIQualityScore   float64          `json:"ai_quality_score,omitempty"`
}

// HasContent reports whether the document can serve as a generation
// ancestor: approved, uploaded, or carrying generated content.
func (d *Document) HasContent() bool {
	return d.ApprovalStatus == ApprovalApproved ||
		d.GenerationStatus == GenerationUploaded ||
		d.GeneratedContent != ""
}

// Assumption is one task input; IDs are unique within a task.
type Assumption struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}
