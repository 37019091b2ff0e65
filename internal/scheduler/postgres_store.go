package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/unclebandit/campaign-lifecycle/internal/model"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const jobColumns = `id, event_name, dedupe_key, payload, execute_at, status,
       attempts, max_attempts, last_error, locked_by, locked_at, created_at`

func (s *PostgresStore) Upsert(ctx context.Context, job *model.ScheduledJob) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if job.DedupeKey != nil {
		_, err := tx.ExecContext(ctx, `
			UPDATE scheduled_jobs
			SET status = $1
			WHERE dedupe_key = $2 AND status = $3
		`, model.JobReplaced, *job.DedupeKey, model.JobPending)
		if err != nil {
			return fmt.Errorf("replace pending %s: %w", *job.DedupeKey, err)
		}
	}

	if job.Status == "" {
		job.Status = model.JobPending
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO scheduled_jobs (event_name, dedupe_key, payload, execute_at, status, max_attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, created_at
	`, job.EventName, job.DedupeKey, []byte(job.Payload), job.ExecuteAt, job.Status, job.MaxAttempts,
	).Scan(&job.ID, &job.CreatedAt)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) NextDue(ctx context.Context) (*time.Time, error) {
	var next sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(execute_at) FROM scheduled_jobs WHERE status = $1`, model.JobPending).Scan(&next)
	if err != nil {
		return nil, err
	}
	if !next.Valid {
		return nil, nil
	}
	return &next.Time, nil
}

func (s *PostgresStore) FetchDue(ctx context.Context, before time.Time, limit int) ([]model.ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM scheduled_jobs
		WHERE status = $1 AND execute_at <= $2
		ORDER BY execute_at ASC
		LIMIT $3
	`, model.JobPending, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []model.ScheduledJob{}
	for rows.Next() {
		var (
			j       model.ScheduledJob
			payload []byte
		)
		if err := rows.Scan(&j.ID, &j.EventName, &j.DedupeKey, &payload, &j.ExecuteAt, &j.Status,
			&j.Attempts, &j.MaxAttempts, &j.LastError, &j.LockedBy, &j.LockedAt, &j.CreatedAt); err != nil {
			return nil, err
		}
		j.Payload = payload
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Claim moves a pending job to processing. Only one caller can win.
func (s *PostgresStore) Claim(ctx context.Context, jobID int64, lockedBy string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET status = $1, locked_by = $2, locked_at = NOW()
		WHERE id = $3 AND status = $4
	`, model.JobProcessing, lockedBy, jobID, model.JobPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) MarkSucceeded(ctx context.Context, jobID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET status = $1, attempts = attempts + 1, locked_by = NULL, locked_at = NULL
		WHERE id = $2
	`, model.JobSucceeded, jobID)
	return err
}

// supersededStatus resolves a job leaving processing to pending, or to
// replaced when a newer job with the same dedupe key is pending or running.
// It keeps the pending dedupe index unique when a job was re-added mid-run.
const supersededStatus = `CASE WHEN EXISTS (
			SELECT 1 FROM scheduled_jobs n
			WHERE n.dedupe_key = j.dedupe_key AND n.id > j.id AND n.status IN ($1, $3)
		) THEN $2 ELSE $1 END`

func (s *PostgresStore) MarkRetry(ctx context.Context, jobID int64, errMsg string, retryAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs j
		SET status = `+supersededStatus+`, attempts = attempts + 1, last_error = $4, execute_at = $5,
		    locked_by = NULL, locked_at = NULL
		WHERE j.id = $6
	`, model.JobPending, model.JobReplaced, model.JobProcessing, errMsg, retryAt, jobID)
	return err
}

func (s *PostgresStore) MarkDead(ctx context.Context, jobID int64, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET status = $1, attempts = attempts + 1, last_error = $2, locked_by = NULL, locked_at = NULL
		WHERE id = $3
	`, model.JobDead, errMsg, jobID)
	return err
}

func (s *PostgresStore) UnlockStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs j
		SET status = `+supersededStatus+`, locked_by = NULL, locked_at = NULL
		WHERE j.status = $3 AND j.locked_at < $4
	`, model.JobPending, model.JobReplaced, model.JobProcessing, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ Store = (*PostgresStore)(nil)
