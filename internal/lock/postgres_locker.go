package lock

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

const defaultRetryInterval = 50 * time.Millisecond

// PostgresLocker uses session-level advisory locks taken with
// pg_try_advisory_lock. Each held lock pins one connection of db until
// unlock, so db should be a pool reserved for locking: work guarded by the
// lock must never need a connection from it.
//
// A busy key releases its connection before waiting, so waiters never hold
// connections the current holder might need.
type PostgresLocker struct {
	db     *sql.DB
	logger *slog.Logger
	retry  time.Duration
}

func NewPostgresLocker(db *sql.DB, logger *slog.Logger) *PostgresLocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresLocker{db: db, logger: logger, retry: defaultRetryInterval}
}

// WithRetryInterval sets how long Lock waits between attempts on a busy key.
func (l *PostgresLocker) WithRetryInterval(d time.Duration) *PostgresLocker {
	if d > 0 {
		l.retry = d
	}
	return l
}

func (l *PostgresLocker) Lock(ctx context.Context, key string) (func(), error) {
	for {
		conn, ok, err := l.tryLock(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}
		if ok {
			return l.unlocker(conn, key), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to acquire lock: %w", ctx.Err())
		case <-time.After(l.retry):
		}
	}
}

func (l *PostgresLocker) tryLock(ctx context.Context, key string) (*sql.Conn, bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, err
	}

	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock(hashtext($1))", key).Scan(&ok); err != nil {
		conn.Close()
		return nil, false, err
	}
	if !ok {
		conn.Close()
		return nil, false, nil
	}
	return conn, true, nil
}

func (l *PostgresLocker) unlocker(conn *sql.Conn, key string) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock(hashtext($1))", key); err != nil {
			l.logger.Error("failed to release lock", "key", key, "err", err)
		}
		conn.Close()
	}
}

var _ Locker = (*PostgresLocker)(nil)
