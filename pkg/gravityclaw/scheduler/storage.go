package scheduler

import (
	"database/sql"
	"fmt"
)

// SQLiteStorage persists jobs in the scheduled_jobs table.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates job storage on an opened and migrated database.
func NewSQLiteStorage(db *sql.DB) *SQLiteStorage {
	return &SQLiteStorage{db: db}
}

// Save upserts a job.
func (s *SQLiteStorage) Save(job *Job) error {
	var lastRun any
	if job.LastRunAt != nil {
		lastRun = job.LastRunAt.UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO scheduled_jobs (id, schedule, description, user_id, enabled, created_at, last_run_at, run_count, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schedule = excluded.schedule,
			description = excluded.description,
			user_id = excluded.user_id,
			enabled = excluded.enabled,
			last_run_at = excluded.last_run_at,
			run_count = excluded.run_count,
			last_error = excluded.last_error`,
		job.ID, job.Schedule, job.Description, job.UserID, job.Enabled,
		job.CreatedAt.UTC(), lastRun, job.RunCount, job.LastError)
	if err != nil {
		return fmt.Errorf("saving job %q: %w", job.ID, err)
	}
	return nil
}

// Delete removes a job.
func (s *SQLiteStorage) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM scheduled_jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting job %q: %w", id, err)
	}
	return nil
}

// LoadAll returns every stored job.
func (s *SQLiteStorage) LoadAll() ([]*Job, error) {
	rows, err := s.db.Query(`
		SELECT id, schedule, description, user_id, enabled, created_at, last_run_at, run_count, COALESCE(last_error, '')
		FROM scheduled_jobs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		var j Job
		var lastRun sql.NullTime
		if err := rows.Scan(&j.ID, &j.Schedule, &j.Description, &j.UserID, &j.Enabled,
			&j.CreatedAt, &lastRun, &j.RunCount, &j.LastError); err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		if lastRun.Valid {
			t := lastRun.Time
			j.LastRunAt = &t
		}
		out = append(out, &j)
	}
	return out, rows.Err()
}

var _ JobStorage = (*SQLiteStorage)(nil)
