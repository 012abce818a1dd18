package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/heyitswin/zipsea-sub004/internal/pricesync"
)

// SyncJobStore persists ProcessingJob rows in the sync_jobs table.
type SyncJobStore struct {
	db    DB
	clock pricesync.Clock
}

// NewSyncJobStore constructs a SyncJobStore.
func NewSyncJobStore(db DB, clock pricesync.Clock) *SyncJobStore {
	return &SyncJobStore{db: db, clock: clock}
}

// CreateJob inserts a new pending job row.
func (s *SyncJobStore) CreateJob(ctx context.Context, job pricesync.Job) error {
	counters, err := json.Marshal(job.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	if _, err := s.db.Exec(ctx, `
INSERT INTO sync_jobs (id, line_id, event, status, submitted_at, counters)
VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.LineID, job.Event, string(job.Status), job.Submitted, counters,
	); err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

// UpdateJobStatus transitions the job and refreshes counters. Start and
// finish timestamps are set on the matching transitions.
func (s *SyncJobStore) UpdateJobStatus(ctx context.Context, jobID string, status pricesync.JobStatus, errText string, counters pricesync.JobCounters) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	now := s.clock.Now()
	tag, err := s.db.Exec(ctx, `
UPDATE sync_jobs SET
	status = $2,
	error_text = $3,
	counters = $4,
	started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN $5 ELSE started_at END,
	finished_at = CASE WHEN $2 IN ('succeeded','partial','failed','skipped') THEN $5 ELSE finished_at END
WHERE id = $1`,
		jobID, string(status), errText, countersJSON, now,
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s not found", jobID)
	}
	return nil
}

// GetJob fetches one job by id.
func (s *SyncJobStore) GetJob(ctx context.Context, jobID string) (pricesync.Job, error) {
	row := s.db.QueryRow(ctx, `
SELECT id, line_id, event, status, submitted_at, started_at, finished_at,
	COALESCE(error_text, ''), counters
FROM sync_jobs WHERE id = $1`, jobID)
	return scanJob(row)
}

// ListJobsByLine returns the most recent jobs for one line.
func (s *SyncJobStore) ListJobsByLine(ctx context.Context, lineID int64, limit int) ([]pricesync.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
SELECT id, line_id, event, status, submitted_at, started_at, finished_at,
	COALESCE(error_text, ''), counters
FROM sync_jobs WHERE line_id = $1
ORDER BY submitted_at DESC LIMIT $2`, lineID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs for line %d: %w", lineID, err)
	}
	defer rows.Close()

	var jobs []pricesync.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (pricesync.Job, error) {
	var (
		job          pricesync.Job
		status       string
		countersJSON []byte
	)
	if err := row.Scan(
		&job.ID, &job.LineID, &job.Event, &status,
		&job.Submitted, &job.Started, &job.Finished,
		&job.ErrorText, &countersJSON,
	); err != nil {
		return pricesync.Job{}, fmt.Errorf("scan job: %w", err)
	}
	job.Status = pricesync.JobStatus(status)
	if len(countersJSON) > 0 {
		if err := json.Unmarshal(countersJSON, &job.Counters); err != nil {
			return pricesync.Job{}, fmt.Errorf("unmarshal counters: %w", err)
		}
	}
	return job, nil
}
