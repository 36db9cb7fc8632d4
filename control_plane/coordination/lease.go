package coordination

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/itskum47/fleetops/control_plane/observability"
)

// Lease is a TTL-bound exclusive claim on a key. Renew and Release only
// succeed for the value that acquired the lease.
type Lease interface {
	Acquire(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Renew(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, value string) error
}

// RedisLease implements Lease with SET NX and owner-checked Lua scripts.
type RedisLease struct {
	client *redis.Client
}

func NewRedisLease(client *redis.Client) *RedisLease {
	return &RedisLease{client: client}
}

// Returns 1 when extended, 0 when the key is missing or owned by someone else.
var renewScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], tonumber(ARGV[2]))
	end
	return 0
`)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

func observe(start time.Time) {
	observability.RedisLatency.Observe(time.Since(start).Seconds())
}

func (l *RedisLease) Acquire(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	defer observe(time.Now())
	return l.client.SetNX(ctx, key, value, ttl).Result()
}

func (l *RedisLease) Renew(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	defer observe(time.Now())
	res, err := renewScript.Run(ctx, l.client, []string{key}, value, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (l *RedisLease) Release(ctx context.Context, key, value string) error {
	defer observe(time.Now())
	err := releaseScript.Run(ctx, l.client, []string{key}, value).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// MemoryLease is a process-local Lease for single-replica deployments and tests.
type MemoryLease struct {
	mu     sync.Mutex
	leases map[string]memoryEntry
	now    func() time.Time
}

type memoryEntry struct {
	value   string
	expires time.Time
}

func NewMemoryLease() *MemoryLease {
	return &MemoryLease{leases: make(map[string]memoryEntry), now: time.Now}
}

func (l *MemoryLease) Acquire(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.leases[key]; ok && l.now().Before(e.expires) {
		return false, nil
	}
	l.leases[key] = memoryEntry{value: value, expires: l.now().Add(ttl)}
	return true, nil
}

func (l *MemoryLease) Renew(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.leases[key]
	if !ok || e.value != value || !l.now().Before(e.expires) {
		return false, nil
	}
	e.expires = l.now().Add(ttl)
	l.leases[key] = e
	return true, nil
}

func (l *MemoryLease) Release(ctx context.Context, key, value string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.leases[key]; ok && e.value == value {
		delete(l.leases, key)
	}
	return nil
}
