package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kwal0203/opus-blocks/internal/storage/models"
)

func (c *Client) CreateJob(ctx context.Context, job *models.Job) error {
	ts := now()
	job.CreatedAt = ts
	job.UpdatedAt = ts

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO jobs (id, owner_id, job_type, target_id, status, progress, error, trace_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID.String(), job.OwnerID.String(), string(job.JobType), job.TargetID.String(),
		string(job.Status), rawOrEmpty(job.Progress), nullString(job.Error),
		job.TraceID, ts.Unix(), ts.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (c *Client) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, owner_id, job_type, target_id, status, progress, error, trace_id, created_at, updated_at
		 FROM jobs WHERE id = ?`, id.String())

	var job models.Job
	var idStr, ownerStr, jobType, targetStr, status, progress string
	var errMsg sql.NullString
	var createdAt, updatedAt int64
	err := row.Scan(&idStr, &ownerStr, &jobType, &targetStr, &status, &progress,
		&errMsg, &job.TraceID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	job.ID = uuid.MustParse(idStr)
	job.OwnerID = uuid.MustParse(ownerStr)
	job.JobType = models.JobType(jobType)
	job.TargetID = uuid.MustParse(targetStr)
	job.Status = models.JobStatus(status)
	job.Progress = json.RawMessage(progress)
	job.Error = stringPtr(errMsg)
	job.CreatedAt = timeFromUnix(createdAt)
	job.UpdatedAt = timeFromUnix(updatedAt)
	return &job, nil
}

func (c *Client) UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, errMsg *string) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), nullString(errMsg), now().Unix(), id.String())
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

func (c *Client) UpdateJobProgress(ctx context.Context, id uuid.UUID, progress json.RawMessage) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ?`,
		rawOrEmpty(progress), now().Unix(), id.String())
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

func (c *Client) ListJobsForOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, owner_id, job_type, target_id, status, progress, error, trace_id, created_at, updated_at
		 FROM jobs WHERE owner_id = ? ORDER BY created_at DESC LIMIT ?`,
		ownerID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []*models.Job
	for rows.Next() {
		var job models.Job
		var idStr, ownerStr, jobType, targetStr, status, progress string
		var errMsg sql.NullString
		var createdAt, updatedAt int64
		if err := rows.Scan(&idStr, &ownerStr, &jobType, &targetStr, &status, &progress,
			&errMsg, &job.TraceID, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		job.ID = uuid.MustParse(idStr)
		job.OwnerID = uuid.MustParse(ownerStr)
		job.JobType = models.JobType(jobType)
		job.TargetID = uuid.MustParse(targetStr)
		job.Status = models.JobStatus(status)
		job.Progress = json.RawMessage(progress)
		job.Error = stringPtr(errMsg)
		job.CreatedAt = timeFromUnix(createdAt)
		job.UpdatedAt = timeFromUnix(updatedAt)
		out = append(out, &job)
	}
	return out, rows.Err()
}

func (c *Client) CountJobsInWindow(ctx context.Context, from, to int64) (total, failed int, err error) {
	err = c.db.QueryRowContext(ctx,
		`SELECT COUNT(1), COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		 FROM jobs WHERE created_at >= ? AND created_at < ?`,
		string(models.JobFailed), from, to).Scan(&total, &failed)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count jobs in window: %w", err)
	}
	return total, failed, nil
}

func (c *Client) CreateDeadLetter(ctx context.Context, dl *models.DeadLetter) error {
	dl.CreatedAt = now()
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO dead_letters (id, job_id, task_name, payload_json, error, retry_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		dl.ID.String(), nullUUID(dl.JobID), dl.TaskName, rawOrEmpty(dl.PayloadJSON),
		nullString(dl.Error), dl.RetryCount, dl.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert dead letter: %w", err)
	}
	return nil
}

func (c *Client) ListDeadLetters(ctx context.Context, limit int) ([]*models.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, job_id, task_name, payload_json, error, retry_count, created_at
		 FROM dead_letters ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	var out []*models.DeadLetter
	for rows.Next() {
		var dl models.DeadLetter
		var idStr, payload string
		var jobID, errMsg sql.NullString
		var createdAt int64
		if err := rows.Scan(&idStr, &jobID, &dl.TaskName, &payload, &errMsg,
			&dl.RetryCount, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter row: %w", err)
		}
		dl.ID = uuid.MustParse(idStr)
		if dl.JobID, err = uuidPtr(jobID); err != nil {
			return nil, err
		}
		dl.PayloadJSON = json.RawMessage(payload)
		dl.Error = stringPtr(errMsg)
		dl.CreatedAt = timeFromUnix(createdAt)
		out = append(out, &dl)
	}
	return out, rows.Err()
}

func (c *Client) CountDeadLettersForJob(ctx context.Context, jobID uuid.UUID) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM dead_letters WHERE job_id = ?`, jobID.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return count, nil
}
