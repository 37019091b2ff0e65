package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-lifecycle/internal/errors"
	"github.com/unclebandit/campaign-lifecycle/internal/lock"
	"github.com/unclebandit/campaign-lifecycle/internal/repository"
	"github.com/unclebandit/campaign-lifecycle/internal/service"
)

// rendezvousLocker holds every caller after it took its lock until all
// expected callers hold theirs.
type rendezvousLocker struct {
	lock.Locker
	all *sync.WaitGroup
}

func (l rendezvousLocker) Lock(ctx context.Context, key string) (func(), error) {
	unlock, err := l.Locker.Lock(ctx, key)
	l.all.Done()
	l.all.Wait()
	return unlock, err
}

func TestClose_LockHoldersStillReachTheDatabase(t *testing.T) {
	appDB, appMock, err := sqlmock.New()
	require.NoError(t, err)
	defer appDB.Close()
	appDB.SetMaxOpenConns(1)
	appMock.MatchExpectationsInOrder(false)

	lockDB, lockMock, err := sqlmock.New()
	require.NoError(t, err)
	defer lockDB.Close()
	lockDB.SetMaxOpenConns(2)
	lockMock.MatchExpectationsInOrder(false)

	for _, id := range []int64{1, 2} {
		key := lock.CampaignKey(id)
		lockMock.ExpectQuery("SELECT pg_try_advisory_lock").WithArgs(key).
			WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
		lockMock.ExpectExec("SELECT pg_advisory_unlock").WithArgs(key).
			WillReturnResult(sqlmock.NewResult(0, 0))
		appMock.ExpectQuery("FROM campaigns c").WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
	}

	var all sync.WaitGroup
	all.Add(2)
	settlement := &service.SettlementCoordinator{
		Deps: service.Deps{
			CampaignRepo: &repository.CampaignRepository{DB: appDB},
			Locker:       rendezvousLocker{Locker: lock.NewPostgresLocker(lockDB, nil), all: &all},
		},
		Scheduler:     &MockScheduler{},
		ClaimDuration: time.Hour,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	errs := make(chan error, 2)
	for _, id := range []int64{1, 2} {
		go func(id int64) { errs <- settlement.CloseCampaign(ctx, id) }(id)
	}

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			assert.True(t, appErrors.IsNotFound(err), "got %v", err)
		case <-time.After(3 * time.Second):
			t.Fatal("close stalled while holding campaign locks")
		}
	}
	assert.NoError(t, appMock.ExpectationsWereMet())
	assert.NoError(t, lockMock.ExpectationsWereMet())
}
