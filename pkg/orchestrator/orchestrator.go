// Package orchestrator drives jobs through the cost-estimation pipeline.
//
// One Advance call performs exactly one stage transition under the per-job
// advisory lock: it creates a RUNNING stage execution record, invokes the
// stage executor through its validate/execute/validate contract, seals the
// record, and writes the job's next state. Every invocation either fully
// commits (record sealed, state written, lock released) or fully no-ops
// (lock never acquired); no partial state is observable.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/costscope/costscope/pkg/locker"
	"github.com/costscope/costscope/pkg/pipeline"
	"github.com/costscope/costscope/pkg/runstore"
)

// Config configures orchestration policy.
type Config struct {
	// StageTimeout bounds a single stage invocation. A timeout is a stage
	// failure, not a hang. Default: 10m.
	StageTimeout time.Duration

	// MaxAttempts is the per-(job, stage) attempt ceiling. Once a stage
	// has failed MaxAttempts times, the next advance moves the job to
	// FAILED instead of retrying. Default: 3.
	MaxAttempts int
}

// DefaultConfig returns the default orchestration policy.
func DefaultConfig() Config {
	return Config{
		StageTimeout: 10 * time.Minute,
		MaxAttempts:  3,
	}
}

// Orchestrator advances jobs stage by stage. It is the only writer of job
// state; stage executors never touch the job row.
type Orchestrator struct {
	store    *runstore.Store
	locks    locker.Manager
	registry pipeline.Registry
	cfg      Config
	logger   *zap.Logger
}

// New creates an orchestrator. The registry is injected by reference and
// is not copied; construct it once at process start.
func New(store *runstore.Store, locks locker.Manager, registry pipeline.Registry, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = DefaultConfig().StageTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:    store,
		locks:    locks,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
	}
}

// Result reports the outcome of one advance.
type Result struct {
	Job *pipeline.Job

	// Execution is the sealed stage record for this advance, or nil for
	// the record-less finalize transition into COMPLETED.
	Execution *pipeline.StageExecution
}

// Advance performs one stage transition for the job.
//
// Retries are caller-driven: advancing a job left non-terminal by an
// earlier failure creates a new attempt with the next contiguous number.
// Terminal jobs are rejected with pipeline.ErrInvalidTransition, and a
// lock held by another instance yields locker.ErrLockTimeout with no
// mutation performed.
func (o *Orchestrator) Advance(ctx context.Context, jobID string) (*Result, error) {
	handle, err := o.locks.Acquire(ctx, jobID)
	if err != nil {
		if errors.Is(err, locker.ErrLockTimeout) {
			o.logger.Warn("Job advance lock contention",
				zap.String("job_id", jobID))
		}
		return nil, err
	}
	defer func() { _ = handle.Release() }()

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if pipeline.IsTerminal(job.State) {
		return nil, fmt.Errorf("%w: job %s is already %s",
			pipeline.ErrInvalidTransition, job.ID, job.State)
	}

	next, err := pipeline.NextState(job.State)
	if err != nil {
		return nil, err
	}

	stage, hasStage := pipeline.StageEntering(next)
	if !hasStage {
		// Finalize transition (costing -> completed): a pure state write,
		// no stage runs and no record is created.
		if err := o.store.UpdateJobState(ctx, job.ID, job.State, next); err != nil {
			return nil, err
		}
		job.State = next
		o.logger.Info("Job completed",
			zap.String("job_id", job.ID))
		return &Result{Job: job}, nil
	}

	prior, err := o.store.LatestAttempt(ctx, job.ID, stage)
	if err != nil {
		return nil, err
	}
	if prior >= o.cfg.MaxAttempts {
		// Attempt budget exhausted: fail the job so later advances are
		// rejected as terminal instead of retrying forever.
		if err := o.store.UpdateJobState(ctx, job.ID, job.State, pipeline.StateFailed); err != nil {
			return nil, err
		}
		job.State = pipeline.StateFailed
		o.logger.Error("Job failed: stage attempt limit reached",
			zap.String("job_id", job.ID),
			zap.String("stage", string(stage)),
			zap.Int("attempts", prior),
			zap.Int("max_attempts", o.cfg.MaxAttempts))
		return &Result{Job: job}, fmt.Errorf("stage %s exceeded %d attempts", stage, o.cfg.MaxAttempts)
	}

	exec, err := o.store.BeginExecution(ctx, job.ID, stage, map[string]any{
		"from_state": string(job.State),
		"to_state":   string(next),
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("Stage started",
		zap.String("job_id", job.ID),
		zap.String("stage", string(stage)),
		zap.Int("attempt", exec.Attempt))

	output, stageErr := o.invoke(ctx, job, stage)
	if stageErr != nil {
		return o.fail(ctx, job, exec, stageErr)
	}

	if err := o.store.SealExecution(ctx, exec, pipeline.ExecutionSuccess, "", output); err != nil {
		return nil, err
	}
	if err := o.store.UpdateJobState(ctx, job.ID, job.State, next); err != nil {
		return nil, err
	}
	job.State = next

	o.logger.Info("Stage succeeded",
		zap.String("job_id", job.ID),
		zap.String("stage", string(stage)),
		zap.Int("attempt", exec.Attempt),
		zap.Duration("duration", exec.Duration()))

	return &Result{Job: job, Execution: exec}, nil
}

// invoke runs one executor through its full contract under the per-stage
// timeout.
func (o *Orchestrator) invoke(ctx context.Context, job *pipeline.Job, stage pipeline.Stage) (map[string]any, error) {
	executor, ok := o.registry.Lookup(stage)
	if !ok {
		return nil, &pipeline.ExecutionError{
			Stage: stage,
			Err:   fmt.Errorf("no executor registered for stage %s", stage),
		}
	}

	if err := executor.ValidateInput(ctx, job); err != nil {
		var verr *pipeline.ValidationError
		if errors.As(err, &verr) {
			return nil, err
		}
		return nil, pipeline.NewInputValidationError(stage, err.Error())
	}

	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()

	started := time.Now()
	output, err := executor.Execute(stageCtx, job)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
			return nil, &pipeline.ExecutionError{
				Stage: stage,
				Err:   fmt.Errorf("timed out after %s", time.Since(started).Round(time.Millisecond)),
			}
		}
		var verr *pipeline.ValidationError
		var eerr *pipeline.ExecutionError
		if errors.As(err, &verr) || errors.As(err, &eerr) {
			return nil, err
		}
		return nil, &pipeline.ExecutionError{Stage: stage, Err: err}
	}

	if err := executor.ValidateOutput(ctx, output); err != nil {
		var verr *pipeline.ValidationError
		if errors.As(err, &verr) {
			return nil, err
		}
		return nil, pipeline.NewOutputValidationError(stage, err.Error())
	}

	return output, nil
}

// fail seals the record FAILED and moves the job to FAILED. Failures are
// always recorded before they surface.
func (o *Orchestrator) fail(ctx context.Context, job *pipeline.Job, exec *pipeline.StageExecution, stageErr error) (*Result, error) {
	if err := o.store.SealExecution(ctx, exec, pipeline.ExecutionFailed, stageErr.Error(), nil); err != nil {
		return nil, fmt.Errorf("seal failed execution: %w (stage error: %v)", err, stageErr)
	}
	if err := o.store.UpdateJobState(ctx, job.ID, job.State, pipeline.StateFailed); err != nil {
		return nil, fmt.Errorf("mark job failed: %w (stage error: %v)", err, stageErr)
	}
	job.State = pipeline.StateFailed

	o.logger.Error("Stage failed",
		zap.String("job_id", job.ID),
		zap.String("stage", string(exec.Stage)),
		zap.Int("attempt", exec.Attempt),
		zap.Error(stageErr))

	return &Result{Job: job, Execution: exec}, stageErr
}

// Retry rewinds a FAILED job to the state it held before its most recent
// failed stage, so that a subsequent Advance re-runs that stage with the
// next contiguous attempt number.
//
// This is the externally-triggered retry path and the only sanctioned exit
// from FAILED; like the failure transition itself it lives outside the
// normal-flow table. Advance continues to reject terminal jobs.
func (o *Orchestrator) Retry(ctx context.Context, jobID string) (*pipeline.Job, error) {
	handle, err := o.locks.Acquire(ctx, jobID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = handle.Release() }()

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State != pipeline.StateFailed {
		return nil, fmt.Errorf("%w: retry requires a failed job, got %s",
			pipeline.ErrInvalidTransition, job.State)
	}

	failed, err := o.store.LatestFailedExecution(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	from, _ := failed.Input["from_state"].(string)
	rewind := pipeline.JobState(from)
	if !pipeline.Valid(rewind) || pipeline.IsTerminal(rewind) {
		return nil, fmt.Errorf("failed execution %d has no usable origin state", failed.ID)
	}

	if err := o.store.UpdateJobState(ctx, job.ID, pipeline.StateFailed, rewind); err != nil {
		return nil, err
	}
	job.State = rewind

	o.logger.Info("Job rewound for retry",
		zap.String("job_id", job.ID),
		zap.String("stage", string(failed.Stage)),
		zap.String("state", string(rewind)),
		zap.Int("prior_attempts", failed.Attempt))

	return job, nil
}

// Run advances the job until it reaches a terminal state, returning the
// final job. A stage failure stops the loop with the stage's error.
func (o *Orchestrator) Run(ctx context.Context, jobID string) (*pipeline.Job, error) {
	for {
		res, err := o.Advance(ctx, jobID)
		if err != nil {
			if res != nil && res.Job != nil {
				return res.Job, err
			}
			return nil, err
		}
		if pipeline.IsTerminal(res.Job.State) {
			return res.Job, nil
		}
	}
}
