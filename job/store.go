package job

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/teranos/tempo/errors"
)

// Store handles persistence of async jobs
type Store struct {
	db *sql.DB
}

// NewStore creates a new job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = `id, org_id, schedule_id, job_type, payload, status,
	triggered_by, attempts, error, result, created_at, started_at, completed_at`

// CreateJob inserts a new job into the database
func (s *Store) CreateJob(job *Job) error {
	query := `
		INSERT INTO jobs (
			id, org_id, schedule_id, job_type, payload, status,
			triggered_by, attempts, error, result, created_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	scheduleID := sql.NullString{String: job.ScheduleID, Valid: job.ScheduleID != ""}
	payload := "{}"
	if len(job.Payload) > 0 {
		payload = string(job.Payload)
	}

	_, err := s.db.Exec(query,
		job.ID,
		job.OrgID,
		scheduleID,
		job.Type,
		payload,
		string(job.Status),
		job.TriggeredBy,
		job.Attempts,
		nullIfEmpty(job.Error),
		nullIfEmpty(job.Result),
		job.CreatedAt.Format(time.RFC3339),
		formatNullTime(job.StartedAt),
		formatNullTime(job.CompletedAt),
	)
	if err != nil {
		return errors.Wrapf(err, "create job %s", job.ID)
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(id string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

	job, err := scanJob(s.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errors.ErrNotFound, "job %s", id)
		}
		return nil, err
	}
	return job, nil
}

// UpdateJob updates an existing job's mutable state
func (s *Store) UpdateJob(job *Job) error {
	query := `
		UPDATE jobs
		SET status = ?, attempts = ?, error = ?, result = ?,
		    started_at = ?, completed_at = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(query,
		string(job.Status),
		job.Attempts,
		nullIfEmpty(job.Error),
		nullIfEmpty(job.Result),
		formatNullTime(job.StartedAt),
		formatNullTime(job.CompletedAt),
		job.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "update job %s", job.ID)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "update job rows affected")
	}
	if affected == 0 {
		return errors.Wrapf(errors.ErrNotFound, "job %s", job.ID)
	}
	return nil
}

// ListJobs returns jobs, newest first, optionally filtered by status.
// An empty orgID lists across tenants (engine internals only; the API
// always scopes).
func (s *Store) ListJobs(orgID string, status *Status, limit int) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var conds []string
	var args []interface{}

	if orgID != "" {
		conds = append(conds, "org_id = ?")
		args = append(args, orgID)
	}
	if status != nil {
		conds = append(conds, "status = ?")
		args = append(args, string(*status))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list jobs")
	}
	defer rows.Close()

	return scanJobs(rows)
}

// ListBySchedule returns jobs dispatched for a schedule, newest first.
// Backs the schedule history endpoint.
func (s *Store) ListBySchedule(orgID, scheduleID string, limit int) ([]*Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE schedule_id = ? AND org_id = ?
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := s.db.Query(query, scheduleID, orgID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list jobs by schedule")
	}
	defer rows.Close()

	return scanJobs(rows)
}

// OldestQueued returns the oldest queued job, or nil when the queue is
// empty.
func (s *Store) OldestQueued() (*Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = 'queued'
		ORDER BY created_at ASC
		LIMIT 1`

	job, err := scanJob(s.db.QueryRow(query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

// CountByStatus returns how many jobs are in the given status
func (s *Store) CountByStatus(status Status) (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM jobs WHERE status = ?", string(status)).Scan(&count)
	if err != nil {
		return 0, errors.Wrapf(err, "count %s jobs", status)
	}
	return count, nil
}

// ListRunning returns all running jobs, oldest first. Used at startup
// to requeue work orphaned by an ungraceful shutdown.
func (s *Store) ListRunning(limit int) ([]*Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = 'running'
		ORDER BY created_at ASC
		LIMIT ?`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list running jobs")
	}
	defer rows.Close()

	return scanJobs(rows)
}

// CleanupOldJobs removes terminal jobs older than the given duration.
// Returns the number of rows removed.
func (s *Store) CleanupOldJobs(olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)

	result, err := s.db.Exec(`
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND created_at < ?
	`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "cleanup old jobs")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "cleanup rows affected")
	}
	return int(rows), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var scheduleID, jobError, result sql.NullString
	var payload, status, createdAt string
	var startedAt, completedAt sql.NullString

	err := row.Scan(
		&job.ID,
		&job.OrgID,
		&scheduleID,
		&job.Type,
		&payload,
		&status,
		&job.TriggeredBy,
		&job.Attempts,
		&jobError,
		&result,
		&createdAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "scan job")
	}

	job.ScheduleID = scheduleID.String
	job.Payload = json.RawMessage(payload)
	job.Status = Status(status)
	job.Error = jobError.String
	job.Result = result.String

	if job.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, errors.Wrapf(err, "parse created_at %q", createdAt)
	}
	if startedAt.Valid {
		t, err := time.Parse(time.RFC3339, startedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "parse started_at %q", startedAt.String)
		}
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "parse completed_at %q", completedAt.String)
		}
		job.CompletedAt = &t
	}

	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate jobs")
	}
	return jobs, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func formatNullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
