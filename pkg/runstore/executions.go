package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/costscope/costscope/pkg/pipeline"
)

// ErrNoFailedExecution is returned when a retry rewind is requested for a
// job without any failed stage record.
var ErrNoFailedExecution = errors.New("no failed stage execution")

// BeginExecution creates a RUNNING stage execution record with the next
// attempt number for (job, stage). Attempts are contiguous from 1.
//
// The unique (job_id, stage, attempt) constraint makes a concurrent begin
// for the same stage fail rather than produce duplicate attempt numbers;
// the per-job lock means this only matters if the lock is bypassed.
func (s *Store) BeginExecution(ctx context.Context, jobID string, stage pipeline.Stage, input map[string]any) (*pipeline.StageExecution, error) {
	var maxAttempt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(attempt) FROM stage_executions WHERE job_id = ? AND stage = ?`,
		jobID, string(stage)).Scan(&maxAttempt)
	if err != nil {
		return nil, fmt.Errorf("read max attempt: %w", err)
	}

	exec := &pipeline.StageExecution{
		JobID:     jobID,
		Stage:     stage,
		Attempt:   int(maxAttempt.Int64) + 1,
		Status:    pipeline.ExecutionRunning,
		StartedAt: time.Now().UTC(),
		Input:     input,
	}

	inputJSON, err := marshalMeta(input)
	if err != nil {
		return nil, fmt.Errorf("encode input metadata: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_executions (job_id, stage, attempt, status, started_at, input_json)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		exec.JobID, string(exec.Stage), exec.Attempt, string(exec.Status),
		exec.StartedAt.Format(TimeFormat), inputJSON)
	if err != nil {
		return nil, fmt.Errorf("insert stage execution: %w", err)
	}
	if exec.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("insert stage execution: %w", err)
	}
	return exec, nil
}

// SealExecution finalizes a RUNNING record as success or failed. Sealed
// records are immutable: sealing twice is an error.
func (s *Store) SealExecution(ctx context.Context, exec *pipeline.StageExecution, status pipeline.ExecutionStatus, execErr string, output map[string]any) error {
	if exec == nil {
		return fmt.Errorf("stage execution is nil")
	}
	if status != pipeline.ExecutionSuccess && status != pipeline.ExecutionFailed {
		return fmt.Errorf("cannot seal execution with status %q", status)
	}

	outputJSON, err := marshalMeta(output)
	if err != nil {
		return fmt.Errorf("encode output metadata: %w", err)
	}

	ended := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE stage_executions
		 SET status = ?, ended_at = ?, error = ?, output_json = ?
		 WHERE id = ? AND status = ?`,
		string(status), ended.Format(TimeFormat), execErr, outputJSON,
		exec.ID, string(pipeline.ExecutionRunning))
	if err != nil {
		return fmt.Errorf("seal stage execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("seal stage execution: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("stage execution %d is not running", exec.ID)
	}

	exec.Status = status
	exec.EndedAt = &ended
	exec.Error = execErr
	exec.Output = output
	return nil
}

// ListExecutions returns all stage execution records for a job, ordered by
// start time then id (stable for equal timestamps).
func (s *Store) ListExecutions(ctx context.Context, jobID string) ([]pipeline.StageExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, stage, attempt, status, started_at, ended_at, error, input_json, output_json
		 FROM stage_executions WHERE job_id = ? ORDER BY started_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list stage executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []pipeline.StageExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *exec)
	}
	return out, rows.Err()
}

// LatestAttempt returns the highest attempt number recorded for
// (job, stage), zero if the stage never ran.
func (s *Store) LatestAttempt(ctx context.Context, jobID string, stage pipeline.Stage) (int, error) {
	var maxAttempt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(attempt) FROM stage_executions WHERE job_id = ? AND stage = ?`,
		jobID, string(stage)).Scan(&maxAttempt)
	if err != nil {
		return 0, fmt.Errorf("read max attempt: %w", err)
	}
	return int(maxAttempt.Int64), nil
}

// LatestFailedExecution returns the most recent FAILED record for a job,
// or ErrNoFailedExecution if the job never failed a stage.
func (s *Store) LatestFailedExecution(ctx context.Context, jobID string) (*pipeline.StageExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, stage, attempt, status, started_at, ended_at, error, input_json, output_json
		 FROM stage_executions
		 WHERE job_id = ? AND status = ?
		 ORDER BY started_at DESC, id DESC LIMIT 1`,
		jobID, string(pipeline.ExecutionFailed))
	if err != nil {
		return nil, fmt.Errorf("load failed execution: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: job %s", ErrNoFailedExecution, jobID)
	}
	return scanExecution(rows)
}

func scanExecution(rows *sql.Rows) (*pipeline.StageExecution, error) {
	var exec pipeline.StageExecution
	var stage, status, startedAt string
	var endedAt, execErr, inputJSON, outputJSON sql.NullString

	if err := rows.Scan(&exec.ID, &exec.JobID, &stage, &exec.Attempt, &status,
		&startedAt, &endedAt, &execErr, &inputJSON, &outputJSON); err != nil {
		return nil, fmt.Errorf("scan stage execution: %w", err)
	}

	exec.Stage = pipeline.Stage(stage)
	exec.Status = pipeline.ExecutionStatus(status)
	exec.Error = execErr.String

	var err error
	if exec.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if endedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse ended_at: %w", err)
		}
		exec.EndedAt = &t
	}
	if exec.Input, err = unmarshalMeta(inputJSON); err != nil {
		return nil, fmt.Errorf("decode input metadata: %w", err)
	}
	if exec.Output, err = unmarshalMeta(outputJSON); err != nil {
		return nil, fmt.Errorf("decode output metadata: %w", err)
	}
	return &exec, nil
}

func marshalMeta(m map[string]any) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalMeta(ns sql.NullString) (map[string]any, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}
