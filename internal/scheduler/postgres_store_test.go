package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-lifecycle/internal/model"
)

func TestPostgresStore_UpsertReplacesPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	key := "campaign:12:EXPIRATION"

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE scheduled_jobs\\s+SET status = \\$1\\s+WHERE dedupe_key").
		WithArgs("replaced", key, "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO scheduled_jobs").
		WithArgs("EXPIRATION", key, []byte(`{"campaignId":12}`), at, "pending", 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(77, at))
	mock.ExpectCommit()

	store := NewPostgresStore(db)
	job := &model.ScheduledJob{
		EventName:   "EXPIRATION",
		DedupeKey:   &key,
		Payload:     []byte(`{"campaignId":12}`),
		ExecuteAt:   at,
		MaxAttempts: 5,
	}
	require.NoError(t, store.Upsert(context.Background(), job))
	assert.Equal(t, int64(77), job.ID)
	assert.Equal(t, model.JobPending, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertWithoutKeySkipsReplace(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO scheduled_jobs").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))
	mock.ExpectCommit()

	store := NewPostgresStore(db)
	require.NoError(t, store.Upsert(context.Background(), &model.ScheduledJob{EventName: "X", Payload: []byte(`1`)}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_NextDue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgresStore(db)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT MIN\\(execute_at\\)").
		WithArgs("pending").
		WillReturnRows(sqlmock.NewRows([]string{"min"}).AddRow(at))
	next, err := store.NextDue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, at.Equal(*next))

	mock.ExpectQuery("SELECT MIN\\(execute_at\\)").
		WillReturnRows(sqlmock.NewRows([]string{"min"}).AddRow(nil))
	next, err = store.NextDue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestPostgresStore_FetchDue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM scheduled_jobs\\s+WHERE status = \\$1 AND execute_at <= \\$2").
		WithArgs("pending", now, 10).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "event_name", "dedupe_key", "payload", "execute_at", "status",
			"attempts", "max_attempts", "last_error", "locked_by", "locked_at", "created_at",
		}).AddRow(3, "EXPIRATION", "campaign:1:EXPIRATION", []byte(`{"campaignId":1}`), now, "pending", 1, 5, "boom", nil, nil, now))

	jobs, err := NewPostgresStore(db).FetchDue(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, int64(3), jobs[0].ID)
	require.NotNil(t, jobs[0].DedupeKey)
	assert.Equal(t, "campaign:1:EXPIRATION", *jobs[0].DedupeKey)
	assert.Equal(t, 1, jobs[0].Attempts)
	require.NotNil(t, jobs[0].LastError)
	assert.Nil(t, jobs[0].LockedBy)
}

func TestPostgresStore_Claim(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgresStore(db)

	mock.ExpectExec("UPDATE scheduled_jobs\\s+SET status = \\$1, locked_by").
		WithArgs("processing", "worker-a", int64(3), "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE scheduled_jobs\\s+SET status = \\$1, locked_by").
		WithArgs("processing", "worker-b", int64(3), "pending").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.Claim(context.Background(), 3, "worker-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Claim(context.Background(), 3, "worker-b")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Outcomes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgresStore(db)
	retryAt := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	cutoff := retryAt.Add(-15 * time.Minute)

	mock.ExpectExec("UPDATE scheduled_jobs").
		WithArgs("succeeded", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE scheduled_jobs j").
		WithArgs("pending", "replaced", "processing", "boom", retryAt, int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE scheduled_jobs").
		WithArgs("dead", "boom", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("WHERE j.status = \\$3 AND j.locked_at < \\$4").
		WithArgs("pending", "replaced", "processing", cutoff).
		WillReturnResult(sqlmock.NewResult(0, 2))

	ctx := context.Background()
	require.NoError(t, store.MarkSucceeded(ctx, 3))
	require.NoError(t, store.MarkRetry(ctx, 4, "boom", retryAt))
	require.NoError(t, store.MarkDead(ctx, 5, "boom"))
	n, err := store.UnlockStale(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReleaseYieldsToNewerJobWithSameKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgresStore(db)
	retryAt := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)

	// Both releases resolve the status in SQL against newer jobs sharing the key.
	mock.ExpectExec(`SET status = CASE WHEN EXISTS \(\s*SELECT 1 FROM scheduled_jobs n\s*WHERE n.dedupe_key = j.dedupe_key AND n.id > j.id AND n.status IN \(\$1, \$3\)\s*\) THEN \$2 ELSE \$1 END`).
		WithArgs("pending", "replaced", "processing", "contract unavailable", retryAt, int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET status = CASE WHEN EXISTS \(\s*SELECT 1 FROM scheduled_jobs n\s*WHERE n.dedupe_key = j.dedupe_key AND n.id > j.id AND n.status IN \(\$1, \$3\)\s*\) THEN \$2 ELSE \$1 END`).
		WithArgs("pending", "replaced", "processing", retryAt).
		WillReturnResult(sqlmock.NewResult(0, 3))

	ctx := context.Background()
	require.NoError(t, store.MarkRetry(ctx, 10, "contract unavailable", retryAt))
	n, err := store.UnlockStale(ctx, retryAt)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
