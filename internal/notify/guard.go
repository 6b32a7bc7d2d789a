package notify

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// SendGuard suppresses a second confirmation mail for the same key.
type SendGuard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisSendGuard keeps one "mail:<key>" marker per sent message. A nil
// Client lets every send through.
type RedisSendGuard struct {
	Client *redis.Client
}

func (g RedisSendGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if g.Client == nil {
		return true, nil
	}
	return g.Client.SetNX(ctx, guardKey(key), time.Now().UTC().Unix(), ttl).Result()
}

// Release drops the marker after a failed send so a retry can go out.
func (g RedisSendGuard) Release(ctx context.Context, key string) error {
	if g.Client == nil {
		return nil
	}
	return g.Client.Del(ctx, guardKey(key)).Err()
}

func guardKey(key string) string { return "mail:" + key }
