// Package lock implements a single-key Redis lease used to serialise checkout
// submissions per customer.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrHeld is returned when another holder owns the key.
	ErrHeld = errors.New("lock: already held")
	// ErrLost cancels the callback context when the lease could not be renewed.
	ErrLost = errors.New("lock: lease lost")
)

const defaultTTL = 30 * time.Second

var (
	releaseScript = redis.NewScript(`if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)
	renewScript = redis.NewScript(`if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Locker hands out leases on Redis keys. A lease is renewed every third of
// its TTL while the callback runs.
type Locker struct {
	R            redis.UniversalClient
	RetryBackoff time.Duration
}

// Lease is a held key. Only the holder's token can renew or release it.
type Lease struct {
	r     redis.UniversalClient
	key   string
	token string
	ttl   time.Duration
}

// Acquire takes key once, returning ErrHeld when it is taken.
func (l Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if l.R == nil {
		return nil, errors.New("lock: redis client not configured")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	token := uuid.NewString()
	ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &Lease{r: l.R, key: key, token: token, ttl: ttl}, nil
}

// Renew extends the lease by its TTL. It reports false once the key expired
// or changed hands.
func (ls *Lease) Renew(ctx context.Context) (bool, error) {
	n, err := renewScript.Run(ctx, ls.r, []string{ls.key}, ls.token, ls.ttl.Milliseconds()).Int()
	return n == 1, err
}

// Release drops the key if it is still ours.
func (ls *Lease) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, ls.r, []string{ls.key}, ls.token).Err()
}

// TryWithLock runs fn while holding key, or returns ErrHeld without waiting.
func (l Locker) TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	lease, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	return lease.hold(ctx, fn)
}

// WithLock waits for key, polling every RetryBackoff, then runs fn.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	ticker := time.NewTicker(retry)
	defer ticker.Stop()
	for {
		lease, err := l.Acquire(ctx, key, ttl)
		if err == nil {
			return lease.hold(ctx, fn)
		}
		if !errors.Is(err, ErrHeld) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (ls *Lease) hold(ctx context.Context, fn func(context.Context) error) error {
	if fn == nil {
		_ = ls.Release(context.WithoutCancel(ctx))
		return errors.New("lock: callback not provided")
	}
	fnCtx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(max(ls.ttl/3, time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-fnCtx.Done():
				return
			case <-ticker.C:
				if ok, err := ls.Renew(fnCtx); err == nil && !ok {
					cancel(ErrLost)
					return
				}
			}
		}
	}()
	defer func() {
		close(done)
		cancel(nil)
		_ = ls.Release(context.WithoutCancel(ctx))
	}()
	return fn(fnCtx)
}

// CheckoutKey is the lock key guarding submissions for one customer email.
func CheckoutKey(email string) string {
	return "lock:checkout:" + strings.ToLower(strings.TrimSpace(email))
}
