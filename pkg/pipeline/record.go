package pipeline

import "time"

// ExecutionStatus is the lifecycle status of one stage attempt.
//
// NOTE: Persisted values; part of the stable run-store contract.
type ExecutionStatus string

const (
	ExecutionRunning ExecutionStatus = "running"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
)

// Job is the persisted job row owned by the orchestrator. Intake creates
// it in StateCreated (StateUploaded once the project archive is stored);
// only the orchestrator mutates State afterwards.
type Job struct {
	ID        string    `json:"job_id"`
	Name      string    `json:"name,omitempty"`
	State     JobState  `json:"state"`
	SpecPath  string    `json:"spec_path,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StageExecution is the bookkeeping record for one attempt of one stage
// for one job. Records are created RUNNING by the orchestrator and are
// immutable once sealed (status success or failed).
//
// For a given (job, stage), attempt numbers are contiguous from 1.
type StageExecution struct {
	ID        int64           `json:"id"`
	JobID     string          `json:"job_id"`
	Stage     Stage           `json:"stage"`
	Attempt   int             `json:"attempt"`
	Status    ExecutionStatus `json:"status"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	Error     string          `json:"error,omitempty"`

	// Input and Output carry executor-defined metadata. The orchestrator
	// stores them verbatim and never interprets their shape.
	Input  map[string]any `json:"input,omitempty"`
	Output map[string]any `json:"output,omitempty"`
}

// Duration returns the wall-clock time of a sealed attempt, or zero while
// the attempt is still running.
func (e *StageExecution) Duration() time.Duration {
	if e.EndedAt == nil {
		return 0
	}
	return e.EndedAt.Sub(e.StartedAt)
}

// Sealed reports whether the record has left RUNNING status.
func (e *StageExecution) Sealed() bool {
	return e.Status == ExecutionSuccess || e.Status == ExecutionFailed
}
