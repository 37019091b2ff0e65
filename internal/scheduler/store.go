package scheduler

import (
	"context"
	"time"

	"github.com/unclebandit/campaign-lifecycle/internal/model"
)

// Store persists scheduled jobs. Implementations must make Claim atomic so
// that one job is handed to exactly one worker at a time.
type Store interface {
	// Upsert inserts job. When job.DedupeKey is set, any pending job with
	// the same key is marked replaced first.
	Upsert(ctx context.Context, job *model.ScheduledJob) error
	// NextDue returns the earliest execute_at among pending jobs, or nil.
	NextDue(ctx context.Context) (*time.Time, error)
	FetchDue(ctx context.Context, before time.Time, limit int) ([]model.ScheduledJob, error)
	Claim(ctx context.Context, jobID int64, lockedBy string) (bool, error)
	MarkSucceeded(ctx context.Context, jobID int64) error
	MarkRetry(ctx context.Context, jobID int64, errMsg string, retryAt time.Time) error
	MarkDead(ctx context.Context, jobID int64, errMsg string) error
	// UnlockStale returns processing jobs claimed before cutoff to pending.
	UnlockStale(ctx context.Context, cutoff time.Time) (int64, error)
}
