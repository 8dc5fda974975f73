package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewGenerationRequest_DeduplicatesInOrder(t *testing.T) {
	classes := []Class{{ID: 3}, {ID: 1}, {ID: 3}, {ID: 2}, {ID: 1}}

	req := NewGenerationRequest(classes, false)

	assert.Equal(t, []ClassID{3, 1, 2}, req.ClassIDs)
	assert.False(t, req.Regenerate)
}

func TestNewGenerationRequest_Empty(t *testing.T) {
	req := NewGenerationRequest(nil, false)
	assert.Empty(t, req.ClassIDs)
	assert.NotNil(t, req.ClassIDs, "class_ids must encode as [] not null")
}

func TestOutcome_MessageAndLevel(t *testing.T) {
	tests := []struct {
		name    string
		outcome Outcome
		level   Level
		message string
	}{
		{"success", Success(), LevelSuccess, "Timetables generated successfully!"},
		{"no classes", Skipped(ReasonNoClasses), LevelWarning, "No classes found. Please add classes first."},
		{"cancelled", Skipped(ReasonCancelled), LevelWarning, "Generation cancelled"},
		{"transport", Failure(ReasonGenerationFailed), LevelError, "Failed to generate timetables"},
		{"not found", Failure(ReasonSchoolNotFound), LevelError, "School not found"},
		{"validation passthrough", Failure("Class 7 has no subjects assigned"), LevelError, "Class 7 has no subjects assigned"},
		{"empty failure", Failure(""), LevelError, "Failed to generate timetables"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.level, tt.outcome.Level())
			assert.Equal(t, tt.message, tt.outcome.Message())
		})
	}
}

func TestPhase_Busy(t *testing.T) {
	assert.False(t, PhaseIdle.Busy())
	assert.True(t, PhaseResolvingClasses.Busy())
	assert.True(t, PhaseSubmitting.Busy())
	assert.True(t, PhaseRefreshingSummary.Busy())
	assert.True(t, PhaseAborted.Busy())
}

func TestParseSchoolID(t *testing.T) {
	id, err := ParseSchoolID("42")
	assert.NoError(t, err)
	assert.Equal(t, SchoolID(42), id)
	assert.Equal(t, "42", id.String())

	for _, bad := range []string{"", "abc", "0", "-3", "1.5"} {
		_, err := ParseSchoolID(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestSnapshot_CloneIsIndependent(t *testing.T) {
	s := Snapshot{SchoolID: 1, WorkingDays: []string{"Mon", "Tue"}}
	c := s.Clone()
	c.WorkingDays[0] = "Sun"

	assert.Equal(t, "Mon", s.WorkingDays[0])
	assert.False(t, s.Equal(c))
	assert.True(t, s.Equal(s.Clone()))
}
