package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker is an in-memory Service with the same semantics as the
// DynamoDB implementation, including lease expiry. Used in tests and local
// single-process runs.
type MemoryLocker struct {
	mu      sync.Mutex
	records map[string]*Record
	ttl     time.Duration

	now func() time.Time
}

// NewMemoryLocker creates an in-memory lock service.
func NewMemoryLocker(ttl time.Duration) *MemoryLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryLocker{
		records: make(map[string]*Record),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Acquire takes the lock for key unless it is held with an unexpired lease.
func (l *MemoryLocker) Acquire(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	record, ok := l.records[key]
	if ok && record.Held && !record.ExpiresAt.Before(now) {
		return false, nil
	}
	l.records[key] = &Record{
		Key:        key,
		Held:       true,
		AcquiredAt: now,
		ExpiresAt:  now.Add(l.ttl),
	}
	return true, nil
}

// Release marks the key as not held. Records are kept for reuse.
func (l *MemoryLocker) Release(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[key]
	if !ok {
		l.records[key] = &Record{Key: key, Held: false}
		return nil
	}
	record.Held = false
	return nil
}

// SetClock overrides the time source. Test helper.
func (l *MemoryLocker) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}
