// Package lock provides a Redis-backed mutex so concurrent sync triggers for
// the same project cannot interleave their log replays.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotAcquired means another holder currently owns the lock.
	ErrNotAcquired = errors.New("lock not acquired")
	// ErrNotOwner means the lock exists but belongs to someone else.
	ErrNotOwner = errors.New("lock held by another owner")
)

// Locker hands out per-name locks with a TTL. The TTL bounds how long a
// crashed holder can block others.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	return &Locker{client: client, ttl: ttl}
}

// Lock is one acquired lock. Release it when done.
type Lock struct {
	client *redis.Client
	key    string
	owner  string
}

func key(name string) string {
	return "lock:sync:" + name
}

// Acquire takes the named lock, failing fast with ErrNotAcquired when it is
// already held.
func (l *Locker) Acquire(ctx context.Context, name string) (*Lock, error) {
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key(name), owner, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &Lock{client: l.client, key: key(name), owner: owner}, nil
}

// releaseScript deletes the key only when the caller still owns it, so an
// expired-and-reacquired lock is never released by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Release frees the lock. ErrNotOwner means it expired and someone else took
// it in the meantime.
func (lk *Lock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, lk.client, []string{lk.key}, lk.owner).Int()
	if err != nil {
		return fmt.Errorf("unlock %s: %w", lk.key, err)
	}
	if n == 0 {
		return ErrNotOwner
	}
	return nil
}
