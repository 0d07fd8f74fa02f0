// Package pipeline defines the job lifecycle for cost-estimation runs:
// the closed state set, the legal-transition table, the stage executor
// contract, and the bookkeeping types for per-stage execution attempts.
package pipeline

import "fmt"

// JobState is the lifecycle state of a cost-estimation job. A job sits in
// the state named after the last stage that completed for it (or created/
// uploaded before any stage has run).
//
// NOTE: These values are persisted in the run store and are part of the
// stable on-disk contract.
type JobState string

const (
	StateCreated   JobState = "created"
	StateUploaded  JobState = "uploaded"
	StatePlanning  JobState = "planning"
	StateParsing   JobState = "parsing"
	StateEnriching JobState = "enriching"
	StateCosting   JobState = "costing"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

// Stage is one named step of the pipeline. Completing stage S moves a job
// into the state of the same name; the final costing -> completed hop is a
// finalize transition that runs no stage.
type Stage string

const (
	StagePlanning  Stage = "planning"
	StageParsing   Stage = "parsing"
	StageEnriching Stage = "enriching"
	StageCosting   Stage = "costing"
)

// Stages lists the pipeline stages in execution order.
func Stages() []Stage {
	return []Stage{StagePlanning, StageParsing, StageEnriching, StageCosting}
}

// transitions is the normal-flow table. States absent as keys have no
// successor; FAILED is reachable from any non-terminal state through the
// orchestrator's failure path, not through this table.
var transitions = map[JobState]JobState{
	StateCreated:   StatePlanning,
	StateUploaded:  StatePlanning,
	StatePlanning:  StateParsing,
	StateParsing:   StateEnriching,
	StateEnriching: StateCosting,
	StateCosting:   StateCompleted,
}

// stageEntering names the stage executed while a job moves into each state.
var stageEntering = map[JobState]Stage{
	StatePlanning:  StagePlanning,
	StateParsing:   StageParsing,
	StateEnriching: StageEnriching,
	StateCosting:   StageCosting,
}

// NextState returns the successor of current in the normal flow.
//
// It is a pure function, total over the six non-terminal states. Terminal
// and unrecognized states yield ErrInvalidTransition.
func NextState(current JobState) (JobState, error) {
	next, ok := transitions[current]
	if !ok {
		return "", fmt.Errorf("%w: no successor for state %q", ErrInvalidTransition, current)
	}
	return next, nil
}

// StageEntering returns the stage executed when a job transitions into
// next. The second return is false for transitions that run no stage
// (entering COMPLETED).
func StageEntering(next JobState) (Stage, bool) {
	s, ok := stageEntering[next]
	return s, ok
}

// IsTerminal reports whether state has no outgoing transitions.
func IsTerminal(state JobState) bool {
	return state == StateCompleted || state == StateFailed
}

// Valid reports whether state is a member of the closed state set.
func Valid(state JobState) bool {
	switch state {
	case StateCreated, StateUploaded, StatePlanning, StateParsing,
		StateEnriching, StateCosting, StateCompleted, StateFailed:
		return true
	}
	return false
}
