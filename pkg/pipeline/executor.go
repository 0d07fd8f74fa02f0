package pipeline

import "context"

// Executor is the capability contract implemented by each concrete stage.
//
// The orchestrator depends only on this interface, which keeps stage
// implementations substitutable in tests and lets stages live behind
// service boundaries (HTTP handoff) or run in-process.
type Executor interface {
	// ValidateInput rejects a job whose current state or metadata cannot
	// feed this stage. A non-nil error seals the attempt FAILED without
	// invoking Execute.
	ValidateInput(ctx context.Context, job *Job) error

	// Execute performs the stage's work and returns output metadata to be
	// stored on the execution record. The context carries the per-stage
	// timeout; implementations must honor cancellation.
	Execute(ctx context.Context, job *Job) (map[string]any, error)

	// ValidateOutput rejects the stage's own result. A non-nil error is
	// treated identically to an execution failure.
	ValidateOutput(ctx context.Context, output map[string]any) error
}

// Registry maps each stage to its executor. It is constructed once at
// process start and passed by reference into the orchestrator; there is no
// package-level mutable registry.
type Registry map[Stage]Executor

// Lookup returns the executor for stage, or false if none is registered.
func (r Registry) Lookup(stage Stage) (Executor, bool) {
	e, ok := r[stage]
	return e, ok
}
