// Package lock provides per-key mutual exclusion backed by a durable
// conditional-write store.
//
// Locks serialize mutations of a user's knowledge index across concurrently
// running workers. Contention is an expected outcome, reported as a value:
// Acquire returns false when another holder currently holds the key. Every
// lock carries a lease so a holder that crashes before releasing does not
// leave the key locked forever.
package lock

import (
	"context"
	"time"
)

// DefaultTTL is the default lease duration for an acquired lock.
const DefaultTTL = 2 * time.Minute

// Service acquires and releases per-key mutual-exclusion flags.
type Service interface {
	// Acquire attempts to take the lock for key. It returns true if the lock
	// was acquired, false if another holder currently holds it. Errors are
	// reserved for store failures; contention is not an error.
	Acquire(ctx context.Context, key string) (bool, error)

	// Release unconditionally marks the lock for key as not held. Releasing a
	// lock that is not held is a no-op.
	Release(ctx context.Context, key string) error
}

// Record is the durable state of one lock key. Records are created on first
// acquisition and reused; they are never deleted.
type Record struct {
	Key        string    `dynamodbav:"Id"`
	Held       bool      `dynamodbav:"Held"`
	AcquiredAt time.Time `dynamodbav:"AcquiredAt,unixtime"`
	ExpiresAt  time.Time `dynamodbav:"ExpiresAt,unixtime"`
}
