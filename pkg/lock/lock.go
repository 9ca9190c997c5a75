// Package lock provides keyed mutual exclusion with expiring leases.
//
// A lease is identified by a random token, so only the holder can release
// it. Leases expire after their TTL so a crashed holder cannot block a
// key forever.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrLocked is returned when the key is held by someone else
var ErrLocked = errors.New("lock is held")

// ErrNotHeld is returned when releasing a lease that expired or was taken over
var ErrNotHeld = errors.New("lock not held")

// Locker acquires leases on keys
type Locker interface {
	// Acquire returns ErrLocked when another holder has the key
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error)
}

// Lease is a held lock
type Lease struct {
	Key     string
	Token   string
	release func(ctx context.Context) error
	extend  func(ctx context.Context, ttl time.Duration) error
}

// Release gives up the lease. Releasing twice returns ErrNotHeld.
func (l *Lease) Release(ctx context.Context) error {
	return l.release(ctx)
}

// Extend resets the lease to expire ttl from now. It returns ErrNotHeld when
// the lease already expired or was taken over.
func (l *Lease) Extend(ctx context.Context, ttl time.Duration) error {
	return l.extend(ctx, ttl)
}

func newToken() string {
	return uuid.NewString()
}

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker is a process-local Locker
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]memoryEntry
	now  func() time.Time
}

// NewMemoryLocker creates a MemoryLocker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held: make(map[string]memoryEntry),
		now:  time.Now,
	}
}

// Acquire implements Locker.Acquire
func (m *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.held[key]; ok && now.Before(e.expiresAt) {
		return nil, ErrLocked
	}

	token := newToken()
	m.held[key] = memoryEntry{token: token, expiresAt: now.Add(ttl)}

	return &Lease{
		Key:   key,
		Token: token,
		release: func(ctx context.Context) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			if e, ok := m.held[key]; !ok || e.token != token {
				return ErrNotHeld
			}
			delete(m.held, key)
			return nil
		},
		extend: func(ctx context.Context, ttl time.Duration) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			now := m.now()
			e, ok := m.held[key]
			if !ok || e.token != token || !now.Before(e.expiresAt) {
				return ErrNotHeld
			}
			m.held[key] = memoryEntry{token: token, expiresAt: now.Add(ttl)}
			return nil
		},
	}, nil
}
