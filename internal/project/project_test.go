package project

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseChain(t *testing.T) {
	assert.Equal(t, PhaseSolicitation, NextPhase(PhasePreSolicitation))
	assert.Equal(t, PhaseAward, NextPhase(PhasePostSolicitation))
	assert.Equal(t, Phase(""), NextPhase(PhaseAward))

	assert.True(t, ValidTransition(PhasePreSolicitation, PhaseSolicitation))
	assert.False(t, ValidTransition(PhasePreSolicitation, PhaseAward))
	assert.False(t, ValidTransition(PhaseSolicitation, PhasePreSolicitation))
}

func TestCanRequestTransition(t *testing.T) {
	assert.True(t, CanRequestTransition(RoleContractingOfficer))
	assert.True(t, CanRequestTransition(RoleProgramManager))
	assert.True(t, CanRequestTransition(RoleAdmin))
	assert.False(t, CanRequestTransition(RoleViewer))
}

func TestDocumentHasContent(t *testing.T) {
	assert.True(t, (&Document{ApprovalStatus: ApprovalApproved}).HasContent())
	assert.True(t, (&Document{GenerationStatus: GenerationUploaded}).HasContent())
	assert.True(t, (&Document{GeneratedContent: "text"}).HasContent())
	assert.False(t, (&Document{GenerationStatus: GenerationPending}).HasContent())
}

func TestStoreCreateAndDocuments(t *testing.T) {
	s := NewStore()

	p := s.Create(&Project{ProgramName: "Falcon"})
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, PhasePreSolicitation, p.CurrentPhase)
	require.NotNil(t, p.PhaseStateFor(PhasePreSolicitation))

	require.NoError(t, s.UpsertDocument(p.ID, &Document{
		DocumentName: "IGCE",
		DocumentType: "igce",
	}))

	docs, err := s.Documents(p.ID)
	require.NoError(t, err)
	require.Contains(t, docs, "igce")
	assert.Equal(t, p.ID+":igce", docs["igce"].ID)

	list, err := s.DocumentList(p.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, ErrProjectNotFound)
	err = s.UpsertDocument("missing", &Document{DocumentType: "igce"})
	assert.ErrorIs(t, err, ErrProjectNotFound)
}
