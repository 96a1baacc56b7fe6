// Package concurrency provides cross-process coordination backed by Redis.
package concurrency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// Lock is a lease-based mutual exclusion lock shared by all scheduler
// replicas. A lease expires on its own if the holder dies.
type Lock struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Lease is a held lock. Only its holder can release or extend it.
type Lease struct {
	key   string
	token string
}

// NewLock constructs a lock with the given key prefix and lease duration.
func NewLock(client *redis.Client, prefix string, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if prefix == "" {
		prefix = "outreach:lock"
	}
	return &Lock{client: client, prefix: prefix, ttl: ttl}
}

// Acquire tries to take the named lock without waiting. A nil lease with a
// nil error means another holder has it.
func (l *Lock) Acquire(ctx context.Context, name string) (*Lease, error) {
	lease := &Lease{key: l.key(name), token: uuid.NewString()}
	err := l.client.SetArgs(ctx, lease.key, lease.token, redis.SetArgs{Mode: "NX", TTL: l.ttl}).Err()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock acquire: %w", err)
	}
	return lease, nil
}

// Release frees the lease if it is still held by the caller.
func (l *Lock) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	if _, err := releaseScript.Run(ctx, l.client, []string{lease.key}, lease.token).Int(); err != nil {
		return fmt.Errorf("lock release: %w", err)
	}
	return nil
}

// Extend renews the lease. It reports false once the lease was lost.
func (l *Lock) Extend(ctx context.Context, lease *Lease) (bool, error) {
	if lease == nil {
		return false, nil
	}
	res, err := extendScript.Run(ctx, l.client, []string{lease.key}, lease.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("lock extend: %w", err)
	}
	return res == 1, nil
}

func (l *Lock) key(name string) string {
	return fmt.Sprintf("%s:%s", l.prefix, name)
}
