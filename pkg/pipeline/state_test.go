package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextStateNormalFlow(t *testing.T) {
	tests := []struct {
		name    string
		current JobState
		want    JobState
	}{
		{"created starts planning", StateCreated, StatePlanning},
		{"uploaded starts planning", StateUploaded, StatePlanning},
		{"planning to parsing", StatePlanning, StateParsing},
		{"parsing to enriching", StateParsing, StateEnriching},
		{"enriching to costing", StateEnriching, StateCosting},
		{"costing finalizes", StateCosting, StateCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextState(tt.current)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextStateRejectsTerminalAndUnknown(t *testing.T) {
	for _, state := range []JobState{StateCompleted, StateFailed, JobState("bogus"), JobState("")} {
		_, err := NextState(state)
		require.Error(t, err, "state %q", state)
		assert.True(t, errors.Is(err, ErrInvalidTransition))
	}
}

func TestStageEntering(t *testing.T) {
	tests := []struct {
		next      JobState
		wantStage Stage
		wantOK    bool
	}{
		{StatePlanning, StagePlanning, true},
		{StateParsing, StageParsing, true},
		{StateEnriching, StageEnriching, true},
		{StateCosting, StageCosting, true},
		{StateCompleted, Stage(""), false},
		{StateFailed, Stage(""), false},
		{StateCreated, Stage(""), false},
	}

	for _, tt := range tests {
		stage, ok := StageEntering(tt.next)
		assert.Equal(t, tt.wantOK, ok, "state %q", tt.next)
		assert.Equal(t, tt.wantStage, stage, "state %q", tt.next)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(StateCompleted))
	assert.True(t, IsTerminal(StateFailed))

	for _, state := range []JobState{StateCreated, StateUploaded, StatePlanning, StateParsing, StateEnriching, StateCosting} {
		assert.False(t, IsTerminal(state), "state %q", state)
	}
}

func TestValid(t *testing.T) {
	for _, state := range []JobState{StateCreated, StateUploaded, StatePlanning, StateParsing, StateEnriching, StateCosting, StateCompleted, StateFailed} {
		assert.True(t, Valid(state), "state %q", state)
	}
	assert.False(t, Valid(JobState("pending")))
	assert.False(t, Valid(JobState("")))
}

func TestStagesCoverEveryNonFinalizeTransition(t *testing.T) {
	// Every stage is entered by exactly one state in the normal flow, and
	// the only record-less hop is costing -> completed.
	seen := map[Stage]bool{}
	for state := StateCreated; ; {
		next, err := NextState(state)
		require.NoError(t, err)

		stage, ok := StageEntering(next)
		if next == StateCompleted {
			assert.False(t, ok)
			break
		}
		require.True(t, ok)
		assert.False(t, seen[stage], "stage %q entered twice", stage)
		seen[stage] = true
		state = next
	}
	assert.Len(t, seen, len(Stages()))
}
