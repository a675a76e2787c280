package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"meshplane/internal/store"
)

const jobColumns = `job_id, user_id, job_type, model, dataset, budget, speed, status, assigned_node, cost, error_message, created_at, started_at, completed_at, metadata`

func scanJob(row rowScanner) (*store.Job, error) {
	var j store.Job
	var (
		dataset, assignedNode, errorMessage sql.NullString
		budget                              sql.NullFloat64
		startedAt, completedAt              sql.NullTime
		metadata                            []byte
	)
	if err := row.Scan(
		&j.JobID, &j.UserID, &j.JobType, &j.Model, &dataset, &budget, &j.Speed, &j.Status,
		&assignedNode, &j.Cost, &errorMessage, &j.CreatedAt, &startedAt, &completedAt, &metadata,
	); err != nil {
		return nil, err
	}
	j.Dataset = stringPtr(dataset)
	j.Budget = floatPtr(budget)
	j.AssignedNode = stringPtr(assignedNode)
	j.ErrorMessage = stringPtr(errorMessage)
	j.CreatedAt = j.CreatedAt.UTC()
	j.StartedAt = timePtr(startedAt)
	j.CompletedAt = timePtr(completedAt)

	m, err := decodeMetadata(metadata)
	if err != nil {
		return nil, fmt.Errorf("decode job metadata: %w", err)
	}
	j.Metadata = m
	return &j, nil
}

func (s *Store) CreateJob(ctx context.Context, tx store.DBTransaction, job *store.Job) error {
	metadata, err := encodeMetadata(job.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (job_id, user_id, job_type, model, dataset, budget, speed, status, assigned_node, cost, error_message, created_at, started_at, completed_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = s.exec(ctx, tx, query,
		job.JobID,
		job.UserID,
		job.JobType,
		job.Model,
		nullString(job.Dataset),
		nullFloat(job.Budget),
		job.Speed,
		job.Status,
		nullString(job.AssignedNode),
		job.Cost,
		nullString(job.ErrorMessage),
		job.CreatedAt.UTC(),
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, tx store.DBTransaction, jobID string) (*store.Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs WHERE job_id = $1"

	job, err := scanJob(s.queryRow(ctx, tx, query, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", jobID, store.ErrNotFound)
		}
		return nil, err
	}
	return job, nil
}

func (s *Store) ListJobs(ctx context.Context, tx store.DBTransaction, filter store.JobFilter) ([]store.Job, error) {
	var conds []string
	var args []interface{}

	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.StartedBefore != nil {
		args = append(args, filter.StartedBefore.UTC())
		conds = append(conds, fmt.Sprintf("started_at < $%d", len(args)))
	}

	query := "SELECT " + jobColumns + " FROM jobs"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC, job_id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.query(ctx, tx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs query failed: %w", err)
	}
	defer rows.Close()

	var jobs []store.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs scan failed: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs rows error: %w", err)
	}

	return jobs, nil
}

// UpdateJob writes every mutable column guarded by the expected status.
func (s *Store) UpdateJob(ctx context.Context, tx store.DBTransaction, job *store.Job, expected store.JobStatus) (bool, error) {
	query := `
		UPDATE jobs
		SET status = $1,
			assigned_node = $2,
			cost = $3,
			error_message = $4,
			started_at = $5,
			completed_at = $6
		WHERE job_id = $7 AND status = $8
	`
	res, err := s.exec(ctx, tx, query,
		job.Status,
		nullString(job.AssignedNode),
		job.Cost,
		nullString(job.ErrorMessage),
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		job.JobID,
		expected,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update job %s: %w", job.JobID, err)
	}
	return affected(res)
}

func (s *Store) CreateTask(ctx context.Context, tx store.DBTransaction, task *store.Task) error {
	query := `
		INSERT INTO tasks (task_id, job_id, node_id, status, created_at, started_at, completed_at, duration_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.exec(ctx, tx, query,
		task.TaskID,
		task.JobID,
		task.NodeID,
		task.Status,
		task.CreatedAt.UTC(),
		nullTime(task.StartedAt),
		nullTime(task.CompletedAt),
		nullFloat(task.DurationSeconds),
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

func (s *Store) UpdateTask(ctx context.Context, tx store.DBTransaction, task *store.Task) error {
	query := `
		UPDATE tasks
		SET status = $1, started_at = $2, completed_at = $3, duration_seconds = $4
		WHERE task_id = $5
	`
	res, err := s.exec(ctx, tx, query,
		task.Status,
		nullTime(task.StartedAt),
		nullTime(task.CompletedAt),
		nullFloat(task.DurationSeconds),
		task.TaskID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", task.TaskID, err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task %s: %w", task.TaskID, store.ErrNotFound)
	}
	return nil
}

// GetRunningTask returns the latest running task of a job.
func (s *Store) GetRunningTask(ctx context.Context, tx store.DBTransaction, jobID string) (*store.Task, error) {
	query := `
		SELECT task_id, job_id, node_id, status, created_at, started_at, completed_at, duration_seconds
		FROM tasks
		WHERE job_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	var t store.Task
	var startedAt, completedAt sql.NullTime
	var duration sql.NullFloat64
	err := s.queryRow(ctx, tx, query, jobID, store.TaskStatusRunning).Scan(
		&t.TaskID, &t.JobID, &t.NodeID, &t.Status, &t.CreatedAt, &startedAt, &completedAt, &duration,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("running task for job %s: %w", jobID, store.ErrNotFound)
		}
		return nil, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.StartedAt = timePtr(startedAt)
	t.CompletedAt = timePtr(completedAt)
	t.DurationSeconds = floatPtr(duration)
	return &t, nil
}

func (s *Store) CountTasks(ctx context.Context, tx store.DBTransaction, jobID string) (*store.TaskCounts, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = $1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = $2 THEN 1 ELSE 0 END), 0)
		FROM tasks
		WHERE job_id = $3
	`
	var c store.TaskCounts
	err := s.queryRow(ctx, tx, query, store.TaskStatusCompleted, store.TaskStatusFailed, jobID).
		Scan(&c.Total, &c.Completed, &c.Failed)
	if err != nil {
		return nil, fmt.Errorf("count tasks for job %s: %w", jobID, err)
	}
	return &c, nil
}
