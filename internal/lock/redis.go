// Package lock serializes updates to the same form across API instances.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"onboarding/api/internal/util"
)

// ErrLocked is returned when the lock stayed held for the whole retry budget.
var ErrLocked = errors.New("lock is held by another update")

// releaseScript deletes the key only while it still holds our owner value, so
// a lease that outlived its TTL cannot drop a newer holder's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements a per-key mutex with SET NX PX.
type RedisLocker struct {
	client     *redis.Client
	prefix     string
	ttl        time.Duration
	attempts   int
	retryDelay time.Duration
}

// NewRedisLocker connects to redisURL and verifies the connection.
func NewRedisLocker(redisURL string, ttl time.Duration) (*RedisLocker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisLockerWithClient(client, ttl), nil
}

// NewRedisLockerWithClient creates a locker from an existing Redis client
func NewRedisLockerWithClient(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{
		client:     client,
		prefix:     "form-lock:",
		ttl:        ttl,
		attempts:   40,
		retryDelay: 50 * time.Millisecond,
	}
}

// WithRetry overrides how long Acquire waits for a held lock.
func (l *RedisLocker) WithRetry(attempts int, delay time.Duration) *RedisLocker {
	if attempts > 0 {
		l.attempts = attempts
	}
	if delay > 0 {
		l.retryDelay = delay
	}
	return l
}

func (l *RedisLocker) key(name string) string {
	return l.prefix + name
}

// Acquire blocks until the lock for name is held, the retry budget runs out
// (ErrLocked), or ctx is done. The returned func releases the lock.
func (l *RedisLocker) Acquire(ctx context.Context, name string) (func(), error) {
	key := l.key(name)
	owner := util.NewID("lease")

	for attempt := 0; attempt < l.attempts; attempt++ {
		ok, err := l.client.SetNX(ctx, key, owner, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		if ok {
			return func() { l.release(key, owner) }, nil
		}

		timer := time.NewTimer(l.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, ErrLocked
}

func (l *RedisLocker) release(key, owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client, []string{key}, owner).Err(); err != nil {
		log.Printf("lock: release %s: %v", key, err)
	}
}

// Close closes the Redis connection
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// Ping checks if Redis is reachable
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
