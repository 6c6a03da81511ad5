package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when a lock is already held by another owner.
var ErrHeld = errors.New("lock already held")

// releaseScript deletes the key only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0
`)

// Locker provides best-effort distributed locks backed by Redis SET NX.
type Locker struct {
	Client *redis.Client
	Prefix string
}

// TryAcquire attempts to take the lock without blocking. On success it
// returns a release function; if the lock is held it returns ErrHeld.
func (l *Locker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	key := l.key(name)
	token := uuid.NewString()
	ok, err := l.Client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.Client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release lock %s: %w", name, err)
		}
		return nil
	}
	return release, nil
}

// WithLock runs fn while holding the lock, polling until acquisition or
// context cancellation. The lock is released when fn returns.
func (l *Locker) WithLock(ctx context.Context, name string, ttl time.Duration, fn func(context.Context) error) error {
	var release func(context.Context) error
	for {
		var err error
		release, err = l.TryAcquire(ctx, name, ttl)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrHeld) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = release(releaseCtx)
	}()
	return fn(ctx)
}

func (l *Locker) key(name string) string {
	prefix := l.Prefix
	if prefix == "" {
		prefix = "lock"
	}
	return prefix + ":" + name
}
