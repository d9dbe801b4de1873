package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker guards an entrypoint so overlapping triggers skip instead of
// racing. Acquire reports ok=false when someone else holds name.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// RedisLocker is a single-instance Redis lock (SET NX PX with a random
// token, released only by its owner).
type RedisLocker struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisLocker connects to redisURL, e.g. "redis://localhost:6379/0".
func NewRedisLocker(redisURL string) (*RedisLocker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return &RedisLocker{rdb: redis.NewClient(opts), prefix: "budgetbell:lock:"}, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	key := l.prefix + name
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// The caller's context may already be done when releasing.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		releaseScript.Run(ctx, l.rdb, []string{key}, token)
	}
	return release, true, nil
}

func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

func (l *RedisLocker) Close() error {
	return l.rdb.Close()
}

// LocalLocker is an in-process Locker for single-instance deployments.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time)}
}

func (l *LocalLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if until, ok := l.held[name]; ok && now.Before(until) {
		return nil, false, nil
	}
	until := now.Add(ttl)
	l.held[name] = until
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[name].Equal(until) {
			delete(l.held, name)
		}
	}, true, nil
}
