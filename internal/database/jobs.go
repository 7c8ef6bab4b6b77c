package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Job is the persisted record of one background job
type Job struct {
	ID              string
	Feature         string
	Status          string
	ProgressPct     int
	ProgressMessage string
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     sql.NullTime
}

// JobLog is one persisted progress message of a job
type JobLog struct {
	ID        int64
	JobID     string
	Message   string
	Pct       int
	Category  string
	CreatedAt time.Time
}

// CreateJob inserts a new job record
func CreateJob(db *sql.DB, id, feature string) error {
	_, err := db.Exec(
		`INSERT INTO jobs (id, feature, status, progress_pct) VALUES (?, ?, 'pending', 0)`,
		id, feature,
	)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", id, err)
	}
	return nil
}

// UpdateJobProgress records the latest status, percentage and message
func UpdateJobProgress(db *sql.DB, id, status string, pct int, message string) error {
	_, err := db.Exec(
		`UPDATE jobs SET status = ?, progress_pct = ?, progress_message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, pct, message, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	return nil
}

// FinishJob marks a job terminal, recording an error message for failures
func FinishJob(db *sql.DB, id, status, errorMessage string) error {
	_, err := db.Exec(
		`UPDATE jobs SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP, completed_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, errorMessage, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish job %s: %w", id, err)
	}
	return nil
}

// GetJob returns one job record
func GetJob(db *sql.DB, id string) (*Job, error) {
	row := db.QueryRow(
		`SELECT id, feature, status, progress_pct, COALESCE(progress_message, ''), COALESCE(error_message, ''), created_at, updated_at, completed_at
		 FROM jobs WHERE id = ?`, id,
	)

	var job Job
	err := row.Scan(&job.ID, &job.Feature, &job.Status, &job.ProgressPct,
		&job.ProgressMessage, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt, &job.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return &job, nil
}

// ListRecentJobs returns the newest jobs, most recent first
func ListRecentJobs(db *sql.DB, limit int) ([]Job, error) {
	rows, err := db.Query(
		`SELECT id, feature, status, progress_pct, COALESCE(progress_message, ''), COALESCE(error_message, ''), created_at, updated_at, completed_at
		 FROM jobs ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var job Job
		if err := rows.Scan(&job.ID, &job.Feature, &job.Status, &job.ProgressPct,
			&job.ProgressMessage, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt, &job.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// AppendJobLog persists one progress message for a job
func AppendJobLog(db *sql.DB, jobID, message string, pct int, category string) error {
	_, err := db.Exec(
		`INSERT INTO job_logs (job_id, message, pct, category) VALUES (?, ?, ?, ?)`,
		jobID, message, pct, category,
	)
	if err != nil {
		return fmt.Errorf("failed to append log for job %s: %w", jobID, err)
	}
	return nil
}

// GetJobLogs returns a job's persisted messages in insertion order
func GetJobLogs(db *sql.DB, jobID string) ([]JobLog, error) {
	rows, err := db.Query(
		`SELECT id, job_id, message, pct, category, created_at FROM job_logs WHERE job_id = ? ORDER BY id`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var logs []JobLog
	for rows.Next() {
		var entry JobLog
		if err := rows.Scan(&entry.ID, &entry.JobID, &entry.Message, &entry.Pct, &entry.Category, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job log: %w", err)
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

// CleanupOldJobs deletes finished jobs older than maxAge along with their
// logs, returning the number of jobs removed.
func CleanupOldJobs(db *sql.DB, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	result, err := db.Exec(
		`DELETE FROM jobs WHERE completed_at IS NOT NULL AND completed_at < ?`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old jobs: %w", err)
	}
	return result.RowsAffected()
}
