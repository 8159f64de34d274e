// Package cache provides the shared key/value store and distributed lock
// that back the buffers and pause state.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMiss is returned by Get when the key is absent or expired.
	ErrMiss = errors.New("cache miss")

	// ErrLockTimeout is returned when a lock could not be acquired within the wait.
	ErrLockTimeout = errors.New("lock wait timed out")
)

// Store is a TTL-aware key/value store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Locker hands out mutual exclusion on a key. The lock expires after ttl
// even if never released. Lock waits at most wait before failing with
// ErrLockTimeout.
type Locker interface {
	Lock(ctx context.Context, key string, ttl, wait time.Duration) (unlock func(), err error)
}

// Cache is a Store that can also lock.
type Cache interface {
	Store
	Locker
}

// lockPollInterval is how often a waiting Lock retries.
const lockPollInterval = 20 * time.Millisecond

// acquire polls try until it succeeds, ctx ends, or wait elapses.
func acquire(ctx context.Context, wait time.Duration, try func() (bool, error)) error {
	deadline := time.Now().Add(wait)
	for {
		ok, err := try()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}
