package lease

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Lllllllleong/pdfrasterflow/internal/config"
	"github.com/Lllllllleong/pdfrasterflow/internal/ledger"
)

func openLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	cfg := ledger.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "conversion.db")
	l, err := ledger.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func exerciseLocker(t *testing.T, locker Locker) {
	t.Helper()
	ctx := context.Background()
	key := Key{Stage: "convert", Day: "2024-03-01"}

	first, err := locker.Acquire(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, key, first.Key())
	assert.NotEmpty(t, first.Token())

	_, err = locker.Acquire(ctx, key)
	assert.ErrorIs(t, err, ErrHeld)

	other, err := locker.Acquire(ctx, Key{Stage: "convert", Day: "2024-03-02"})
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, first.Release(ctx))
	require.NoError(t, first.Release(ctx))

	second, err := locker.Acquire(ctx, key)
	require.NoError(t, err)
	assert.NotEqual(t, first.Token(), second.Token())
	require.NoError(t, second.Release(ctx))
}

func TestLedgerLocker(t *testing.T) {
	exerciseLocker(t, NewLedgerLocker(openLedger(t), time.Hour))
}

func TestLedgerLockerStaleReleaseKeepsNewHolder(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t)
	key := Key{Stage: "retain", Day: "2024-03-01"}

	expired, err := NewLedgerLocker(l, -time.Minute).Acquire(ctx, key)
	require.NoError(t, err)

	locker := NewLedgerLocker(l, time.Hour)
	fresh, err := locker.Acquire(ctx, key)
	require.NoError(t, err)

	// The crashed holder coming back must not drop the new lease.
	require.NoError(t, expired.Release(ctx))
	_, err = locker.Acquire(ctx, key)
	assert.ErrorIs(t, err, ErrHeld)

	require.NoError(t, fresh.Release(ctx))
}

func TestNopLocker(t *testing.T) {
	ctx := context.Background()
	var locker Locker = NopLocker{}
	key := Key{Stage: "report", Day: "2024-03-01"}

	a, err := locker.Acquire(ctx, key)
	require.NoError(t, err)
	b, err := locker.Acquire(ctx, key)
	require.NoError(t, err)
	assert.NoError(t, a.Release(ctx))
	assert.NoError(t, b.Release(ctx))
	assert.NoError(t, locker.Close())
}

func TestNewSelectsDriver(t *testing.T) {
	ctx := context.Background()

	locker, err := New(ctx, config.LeaseConfig{Driver: "none"}, nil)
	require.NoError(t, err)
	assert.IsType(t, NopLocker{}, locker)

	locker, err = New(ctx, config.LeaseConfig{Driver: "ledger"}, openLedger(t))
	require.NoError(t, err)
	assert.IsType(t, &LedgerLocker{}, locker)
	assert.Equal(t, DefaultTTL, locker.(*LedgerLocker).ttl)

	_, err = New(ctx, config.LeaseConfig{Driver: "ledger"}, nil)
	assert.Error(t, err)

	_, err = New(ctx, config.LeaseConfig{Driver: "zookeeper"}, nil)
	assert.Error(t, err)

	_, err = New(ctx, config.LeaseConfig{Driver: "firestore"}, nil)
	assert.Error(t, err)
}

func TestRedisLocker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx,
		"redis:7.4-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate redis container: %v", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)

	locker, err := NewRedisLocker(ctx, RedisConfig{Addr: opts.Addr}, time.Minute)
	require.NoError(t, err)
	defer locker.Close()

	exerciseLocker(t, locker)

	// A token mismatch leaves the key alone.
	held, err := locker.Acquire(ctx, Key{Stage: "promote", Day: "2024-03-01"})
	require.NoError(t, err)
	key := locker.prefix + held.Key().String()
	require.NoError(t, releaseScript.Run(ctx, locker.client, []string{key}, "someone-else").Err())
	assert.Equal(t, held.Token(), locker.client.Get(ctx, key).Val())
	require.NoError(t, held.Release(ctx))
	assert.Zero(t, locker.client.Exists(ctx, key).Val())
}
