// Package lock provides short-lived per-key mutual exclusion used to keep a
// single approval decision in flight per event.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"grievance/api/internal/util"
)

// ErrHeld is returned when another holder owns the key.
var ErrHeld = errors.New("lock: held by another holder")

type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Dial parses a redis:// URL and verifies the server is reachable.
func Dial(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// releaseScript deletes the key only while it still carries our token, so a
// holder whose TTL lapsed cannot release a newer holder's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{client: client, prefix: "lock:", ttl: ttl}
}

func (l *RedisLocker) key(name string) string {
	return l.prefix + name
}

// Lock takes the key with SET NX PX. It does not wait: a held key yields
// ErrHeld immediately.
func (l *RedisLocker) Lock(ctx context.Context, name string) (func(), error) {
	token := util.NewID("")
	key := l.key(name)

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrHeld
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
	}, nil
}

// Noop never contends. Used when Redis is not configured; the optimistic
// version check in the store still rejects racing writers.
type Noop struct{}

func (Noop) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}
