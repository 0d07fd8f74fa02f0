// Package locker provides the per-job advisory lock the orchestrator
// acquires before advancing a job. Acquisition is bounded: a held lock
// yields ErrLockTimeout instead of blocking forever, and the caller
// performs no mutation before acquisition succeeds.
package locker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned when a lock could not be acquired within the
// configured bound. Safe for the caller to retry.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// Handle represents a held lock. Release is idempotent and must be safe
// to call on every exit path (typically deferred).
type Handle interface {
	Release() error
}

// Manager hands out exclusive advisory locks by key.
type Manager interface {
	// Acquire obtains the lock for key, waiting at most the manager's
	// configured timeout (and no longer than ctx allows). Returns
	// ErrLockTimeout if the lock is held elsewhere for the whole bound.
	Acquire(ctx context.Context, key string) (Handle, error)
}

// Memory is an in-process Manager backed by per-key channel mutexes.
// Suitable for a single orchestrator process; use the lease-based manager
// when multiple processes share a run store.
type Memory struct {
	timeout time.Duration

	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewMemory creates an in-process lock manager with the given acquisition
// timeout. A non-positive timeout means acquisition fails immediately when
// the lock is held.
func NewMemory(timeout time.Duration) *Memory {
	return &Memory{
		timeout: timeout,
		slots:   make(map[string]chan struct{}),
	}
}

func (m *Memory) slot(key string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[key]
	if !ok {
		s = make(chan struct{}, 1)
		m.slots[key] = s
	}
	return s
}

// Acquire implements Manager.
func (m *Memory) Acquire(ctx context.Context, key string) (Handle, error) {
	s := m.slot(key)

	select {
	case s <- struct{}{}:
		return &memoryHandle{slot: s}, nil
	default:
	}

	if m.timeout <= 0 {
		return nil, ErrLockTimeout
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case s <- struct{}{}:
		return &memoryHandle{slot: s}, nil
	case <-timer.C:
		return nil, ErrLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type memoryHandle struct {
	slot     chan struct{}
	released sync.Once
}

func (h *memoryHandle) Release() error {
	h.released.Do(func() { <-h.slot })
	return nil
}
