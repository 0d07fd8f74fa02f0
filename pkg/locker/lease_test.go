package locker

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costscope/costscope/pkg/runstore"
)

func newLeaseDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	db, err := runstore.Open(ctx, runstore.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, runstore.Migrate(ctx, db))
	return db
}

func TestLeaseAcquireAndRelease(t *testing.T) {
	db := newLeaseDB(t)
	l := NewLease(db, LeaseOptions{AcquireTimeout: 100 * time.Millisecond, TTL: time.Minute})
	ctx := context.Background()

	h, err := l.Acquire(ctx, "job-1")
	require.NoError(t, err)
	require.NoError(t, h.Release())

	h2, err := l.Acquire(ctx, "job-1")
	require.NoError(t, err)
	require.NoError(t, h2.Release())
}

func TestLeaseHeldLockTimesOut(t *testing.T) {
	db := newLeaseDB(t)
	l := NewLease(db, LeaseOptions{
		AcquireTimeout: 50 * time.Millisecond,
		TTL:            time.Minute,
		PollInterval:   10 * time.Millisecond,
	})
	ctx := context.Background()

	h, err := l.Acquire(ctx, "job-1")
	require.NoError(t, err)
	defer func() { _ = h.Release() }()

	_, err = l.Acquire(ctx, "job-1")
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestLeaseExpiredLockIsStolen(t *testing.T) {
	db := newLeaseDB(t)
	ctx := context.Background()

	// Short TTL: the first holder's lease lapses without a release.
	short := NewLease(db, LeaseOptions{AcquireTimeout: 50 * time.Millisecond, TTL: 20 * time.Millisecond})
	h, err := short.Acquire(ctx, "job-1")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	normal := NewLease(db, LeaseOptions{AcquireTimeout: 100 * time.Millisecond, TTL: time.Minute})
	h2, err := normal.Acquire(ctx, "job-1")
	require.NoError(t, err, "expired lease should be stolen")
	defer func() { _ = h2.Release() }()

	// The stale handle's release must not drop the new holder's lease.
	require.NoError(t, h.Release())

	var holders int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM job_leases WHERE lock_key = ?`, "job-1").Scan(&holders))
	assert.Equal(t, 1, holders)
}

func TestLeaseLiveSubsecondExpiryIsNotStolen(t *testing.T) {
	db := newLeaseDB(t)
	ctx := context.Background()

	// A lease expiring 50ms after "now", inside the same wall-clock
	// second. The steal predicate compares timestamps as TEXT, so the
	// stored layout must keep lexical and temporal order aligned even
	// for fractions whose nanosecond rendering would trim zeros.
	base := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	_, err := db.ExecContext(ctx,
		`INSERT INTO job_leases (lock_key, holder, acquired_at, expires_at) VALUES (?, ?, ?, ?)`,
		"job-1", "holder-a",
		base.Format(runstore.TimeFormat),
		base.Add(150*time.Millisecond).Format(runstore.TimeFormat))
	require.NoError(t, err)

	l := NewLease(db, LeaseOptions{TTL: time.Minute})
	ok, err := l.tryAcquire(ctx, "job-1", "holder-b", base.Add(100*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, ok, "live lease must not be stolen")

	var holder string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT holder FROM job_leases WHERE lock_key = ?`, "job-1").Scan(&holder))
	assert.Equal(t, "holder-a", holder)

	// Past expiry the same steal succeeds.
	ok, err = l.tryAcquire(ctx, "job-1", "holder-b", base.Add(200*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLeaseKeysAreIndependent(t *testing.T) {
	db := newLeaseDB(t)
	l := NewLease(db, LeaseOptions{AcquireTimeout: 50 * time.Millisecond, TTL: time.Minute})
	ctx := context.Background()

	h1, err := l.Acquire(ctx, "job-1")
	require.NoError(t, err)
	defer func() { _ = h1.Release() }()

	h2, err := l.Acquire(ctx, "job-2")
	require.NoError(t, err)
	defer func() { _ = h2.Release() }()
}

func TestLeaseWaiterGetsLockAfterRelease(t *testing.T) {
	db := newLeaseDB(t)
	l := NewLease(db, LeaseOptions{
		AcquireTimeout: time.Second,
		TTL:            time.Minute,
		PollInterval:   5 * time.Millisecond,
	})
	ctx := context.Background()

	h, err := l.Acquire(ctx, "job-1")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		h2, err := l.Acquire(ctx, "job-1")
		if err == nil {
			_ = h2.Release()
		}
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, h.Release())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never acquired the released lease")
	}
}

func TestLeaseReleaseIsIdempotent(t *testing.T) {
	db := newLeaseDB(t)
	l := NewLease(db, LeaseOptions{AcquireTimeout: 50 * time.Millisecond, TTL: time.Minute})
	ctx := context.Background()

	h, err := l.Acquire(ctx, "job-1")
	require.NoError(t, err)
	require.NoError(t, h.Release())
	require.NoError(t, h.Release())
}
