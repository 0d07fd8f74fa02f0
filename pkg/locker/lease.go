package locker

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/costscope/costscope/pkg/runstore"
)

// Lease is a Manager backed by a lease table in the run store database.
// It serializes advances for the same job across orchestrator processes
// that share the database file.
//
// A lease row is (lock_key, holder, acquired_at, expires_at). Acquisition
// inserts the row, or steals it when the previous lease has expired —
// expiry guards against a crashed holder wedging its job forever. The lock
// hold is expected to span a full stage invocation, so TTL should exceed
// the per-stage timeout.
type Lease struct {
	db      *sql.DB
	timeout time.Duration
	ttl     time.Duration

	// pollEvery controls how often a blocked acquire re-checks the row.
	pollEvery time.Duration
}

// LeaseOptions configures a lease lock manager.
type LeaseOptions struct {
	// AcquireTimeout bounds how long Acquire waits for a held lock.
	AcquireTimeout time.Duration

	// TTL is the lease lifetime. Must exceed the longest stage timeout.
	TTL time.Duration

	// PollInterval is the re-check cadence while waiting. Default 50ms.
	PollInterval time.Duration
}

// NewLease creates a lease lock manager over the run store database.
func NewLease(db *sql.DB, opts LeaseOptions) *Lease {
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Lease{
		db:        db,
		timeout:   opts.AcquireTimeout,
		ttl:       ttl,
		pollEvery: poll,
	}
}

// Acquire implements Manager.
func (l *Lease) Acquire(ctx context.Context, key string) (Handle, error) {
	holder := uuid.New().String()

	deadline := time.Now().Add(l.timeout)
	for {
		ok, err := l.tryAcquire(ctx, key, holder, time.Now())
		if err != nil {
			return nil, err
		}
		if ok {
			return &leaseHandle{db: l.db, key: key, holder: holder}, nil
		}
		if l.timeout <= 0 || time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}

		select {
		case <-time.After(l.pollEvery):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *Lease) tryAcquire(ctx context.Context, key, holder string, now time.Time) (bool, error) {
	now = now.UTC()
	expires := now.Add(l.ttl)

	// Insert a fresh lease, or take over a row whose lease has expired.
	// The conditional update makes the steal atomic under SQLite's
	// single-writer model. Timestamps use the store's fixed-width layout
	// so the TEXT comparison below matches temporal order.
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO job_leases (lock_key, holder, acquired_at, expires_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(lock_key) DO UPDATE SET
			holder = excluded.holder,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		 WHERE job_leases.expires_at < ?`,
		key, holder, now.Format(runstore.TimeFormat), expires.Format(runstore.TimeFormat),
		now.Format(runstore.TimeFormat))
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return n > 0, nil
}

type leaseHandle struct {
	db       *sql.DB
	key      string
	holder   string
	released sync.Once
	err      error
}

// Release drops the lease row if this handle still holds it. Releasing a
// lease already stolen after expiry is a no-op.
func (h *leaseHandle) Release() error {
	h.released.Do(func() {
		_, err := h.db.Exec(
			`DELETE FROM job_leases WHERE lock_key = ? AND holder = ?`,
			h.key, h.holder)
		if err != nil {
			h.err = fmt.Errorf("release lease: %w", err)
		}
	})
	return h.err
}
