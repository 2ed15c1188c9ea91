package storage

import (
	"context"
	"fmt"
)

// Advisory lock ids per cycle kind. Overlapping cycles are safe because all
// writes are keyed upserts; the locks only avoid duplicated work when a cycle
// overruns its schedule interval.
const (
	LockDetection = int64(4101)
	LockDispatch  = int64(4102)
)

// TryAcquireAdvisoryLock attempts a session advisory lock without blocking.
func (db *DB) TryAcquireAdvisoryLock(ctx context.Context, lockID int64) (bool, error) {
	var acquired bool
	if err := db.Pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired); err != nil {
		return false, fmt.Errorf("try acquire advisory lock: %w", err)
	}

	return acquired, nil
}

// ReleaseAdvisoryLock releases a previously acquired advisory lock.
func (db *DB) ReleaseAdvisoryLock(ctx context.Context, lockID int64) error {
	if _, err := db.Pool.Exec(ctx, `SELECT pg_advisory_unlock($1)`, lockID); err != nil {
		return fmt.Errorf("release advisory lock: %w", err)
	}

	return nil
}
