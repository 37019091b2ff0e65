package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-lifecycle/internal/errors"
	"github.com/unclebandit/campaign-lifecycle/internal/ratebudget"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV", "DATABASE_URL", "DB_USER", "DB_PASSWORD", "DB_HOST", "DB_PORT", "DB_NAME", "DB_SSLMODE",
		"HTTP_ADDR", "EVENT_BUS", "AMQP_URL", "AMQP_EXCHANGE", "AMQP_QUEUE", "LOCK_DRIVER", "LOCK_POOL_SIZE",
		"REDIS_ADDR", "REDIS_PASSWORD", "CLAIM_DURATION_MINUTES", "WORKER_COUNT",
		"SCHEDULER_BATCH_SIZE", "INSTANCE_ID", "QUOTA_FILE", "COLLECTION_INTERVAL_MINUTES",
		"COLLECTION_CALLS_PER_CYCLE", "SAFETY_MARGIN",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_NAME", "campaigns")
	t.Setenv("DB_USER", "app")
	t.Setenv("DB_PASSWORD", "s3cret")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://app:s3cret@db:5432/campaigns?sslmode=disable", c.DatabaseURL)
	assert.Equal(t, BusMemory, c.EventBus)
	assert.Equal(t, LockPostgres, c.LockDriver)
	assert.Equal(t, 10, c.LockPoolSize)
	assert.Equal(t, 24*time.Hour, c.ClaimDuration)
	assert.Equal(t, 30*time.Minute, c.CollectionInterval)
	assert.NotEmpty(t, c.InstanceID)

	b := c.Budget()
	assert.Equal(t, 75, b.Quota.Calls)
	assert.Equal(t, 120, b.AdmissionLimit())
}

func TestLoad_EnvOverridesAndOptions(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://x@y/z")
	t.Setenv("CLAIM_DURATION_MINUTES", "5")
	t.Setenv("EVENT_BUS", "amqp")
	t.Setenv("INSTANCE_ID", "worker-1")

	c, err := Load(WithWorkerCount(9), WithLockDriver(LockRedis))
	require.NoError(t, err)
	assert.Equal(t, "postgres://x@y/z", c.DatabaseURL)
	assert.Equal(t, 5*time.Minute, c.ClaimDuration)
	assert.Equal(t, BusAMQP, c.EventBus)
	assert.Equal(t, "worker-1", c.InstanceID)
	assert.Equal(t, 9, c.WorkerCount)
	assert.Equal(t, LockRedis, c.LockDriver)
}

func TestLoad_AggregatesErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("WORKER_COUNT", "many")
	t.Setenv("EVENT_BUS", "kafka")
	t.Setenv("SAFETY_MARGIN", "1.5")
	t.Setenv("LOCK_POOL_SIZE", "0")

	_, err := Load()
	var v *appErrors.ValidationError
	require.ErrorAs(t, err, &v)
	// missing database, bad integer, bad bus, bad margin, empty lock pool
	assert.Len(t, v.Errors, 5)
}

func TestLoad_QuotaFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "quotas.yaml")
	require.NoError(t, os.WriteFile(path, []byte("liked_by:\n  calls: 150\n  window: 15m\nreplies_to:\n  calls: 75\n  window: 15m\n"), 0o600))
	t.Setenv("QUOTA_FILE", path)

	c, err := Load(WithDatabaseURL("postgres://x@y/z"))
	require.NoError(t, err)
	name, q, ok := c.Quotas.Binding()
	require.True(t, ok)
	assert.Equal(t, ratebudget.EndpointRepliesTo, name)
	assert.Equal(t, 75, q.Calls)
}

func TestLoad_MissingQuotaFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("QUOTA_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load(WithDatabaseURL("postgres://x@y/z"))
	assert.ErrorContains(t, err, "QUOTA_FILE")
}
