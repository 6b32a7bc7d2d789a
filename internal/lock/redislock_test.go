package lock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/brennholz-api/internal/lock"
)

func newLocker(t *testing.T) (lock.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return lock.Locker{R: rdb, RetryBackoff: 5 * time.Millisecond}, mr
}

func TestCheckoutKeyNormalisesEmail(t *testing.T) {
	require.Equal(t, "lock:checkout:kunde@example.com", lock.CheckoutKey(" Kunde@Example.com "))
}

func TestTryWithLockRejectsSecondHolder(t *testing.T) {
	locker, mr := newLocker(t)
	key := lock.CheckoutKey("anna.berg@example.de")

	err := locker.TryWithLock(context.Background(), key, time.Second, func(ctx context.Context) error {
		require.True(t, mr.Exists(key))
		return locker.TryWithLock(ctx, key, time.Second, func(context.Context) error { return nil })
	})
	require.ErrorIs(t, err, lock.ErrHeld)
	require.False(t, mr.Exists(key), "released after callback error")
}

func TestWithLockWaitsForRelease(t *testing.T) {
	locker, _ := newLocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	lease, err := locker.Acquire(ctx, "stock:oak-split", time.Second)
	require.NoError(t, err)
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = lease.Release(context.Background())
	}()

	ran := false
	require.NoError(t, locker.WithLock(ctx, "stock:oak-split", time.Second, func(context.Context) error {
		ran = true
		return nil
	}))
	require.True(t, ran)
}

func TestWithLockHonoursContext(t *testing.T) {
	locker, _ := newLocker(t)
	_, err := locker.Acquire(context.Background(), "busy", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = locker.WithLock(ctx, "busy", time.Second, func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLeaseOwnership(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	mr.FastForward(800 * time.Millisecond)
	ok, err := lease.Renew(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Greater(t, mr.TTL("k"), 900*time.Millisecond)

	require.NoError(t, mr.Set("k", "someone-else"))
	ok, err = lease.Renew(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, lease.Release(ctx))
	require.True(t, mr.Exists("k"), "foreign key survives release")
}

func TestHoldCancelsCallbackWhenLeaseLost(t *testing.T) {
	locker, mr := newLocker(t)
	err := locker.TryWithLock(context.Background(), "k", 60*time.Millisecond, func(ctx context.Context) error {
		mr.Del("k")
		<-ctx.Done()
		return context.Cause(ctx)
	})
	require.True(t, errors.Is(err, lock.ErrLost))
}
