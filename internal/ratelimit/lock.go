package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// lockNamespace keeps our lock keys out of the way of other tenants
// sharing the same redis instance.
const lockNamespace = "posbridge:lock:"

// releaseScript deletes the lock only when the caller still owns it, so a
// holder that outlived its TTL cannot release somebody else's lock.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Locker hands out single-holder leases backed by redis SET NX. Every key
// passed in is namespaced under lockNamespace before it touches redis.
type Locker struct {
	client  *redis.Client
	release *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client:  client,
		release: redis.NewScript(releaseScript),
	}
}

// TryLock attempts to acquire the lease without blocking. The returned token
// must be passed back to Release; it proves ownership.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, lockNamespace+key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, acquired, nil
}

// Release is a no-op when the lease already expired or the token does not
// match the current holder.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.release.Run(ctx, l.client, []string{lockNamespace + key}, token).Err()
}
