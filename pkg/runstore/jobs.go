package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/costscope/costscope/pkg/pipeline"
)

// ErrJobNotFound is returned when a job id has no row.
var ErrJobNotFound = errors.New("job not found")

// CreateJob inserts a new job in StateCreated and returns it.
func (s *Store) CreateJob(ctx context.Context, name, specPath string) (*pipeline.Job, error) {
	now := time.Now().UTC()
	job := &pipeline.Job{
		ID:        uuid.New().String(),
		Name:      strings.TrimSpace(name),
		State:     pipeline.StateCreated,
		SpecPath:  strings.TrimSpace(specPath),
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, name, state, spec_path, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, string(job.State), job.SpecPath,
		job.CreatedAt.Format(TimeFormat), job.UpdatedAt.Format(TimeFormat))
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// GetJob loads a job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*pipeline.Job, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, fmt.Errorf("job_id is required")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, name, state, spec_path, created_at, updated_at
		 FROM jobs WHERE job_id = ?`, jobID)

	var job pipeline.Job
	var state, createdAt, updatedAt string
	var name, specPath sql.NullString
	if err := row.Scan(&job.ID, &name, &state, &specPath, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.Name = name.String
	job.SpecPath = specPath.String
	job.State = pipeline.JobState(state)

	var err error
	if job.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if job.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &job, nil
}

// UpdateJobState writes the job's new state. Guarded by the expected
// previous state so a lost race never double-writes a transition.
func (s *Store) UpdateJobState(ctx context.Context, jobID string, from, to pipeline.JobState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, updated_at = ? WHERE job_id = ? AND state = ?`,
		string(to), time.Now().UTC().Format(TimeFormat), jobID, string(from))
	if err != nil {
		return fmt.Errorf("update job state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job state: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s is not in state %q", jobID, from)
	}
	return nil
}

// MarkUploaded moves a CREATED job to UPLOADED after its project archive
// has been stored. Called by the intake surface, not the orchestrator.
func (s *Store) MarkUploaded(ctx context.Context, jobID string) error {
	return s.UpdateJobState(ctx, jobID, pipeline.StateCreated, pipeline.StateUploaded)
}

// ListJobs returns jobs newest-first.
func (s *Store) ListJobs(ctx context.Context) ([]pipeline.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, name, state, spec_path, created_at, updated_at
		 FROM jobs ORDER BY created_at DESC, job_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []pipeline.Job
	for rows.Next() {
		var job pipeline.Job
		var state, createdAt, updatedAt string
		var name, specPath sql.NullString
		if err := rows.Scan(&job.ID, &name, &state, &specPath, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		job.Name = name.String
		job.SpecPath = specPath.String
		job.State = pipeline.JobState(state)
		if job.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		if job.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}
