package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// migrationLockID is an arbitrary application-wide advisory lock key. Only
// one instance runs migrations at a time.
const migrationLockID = 74_101

// AdvisoryLock is a Postgres session-level advisory lock.
type AdvisoryLock struct {
	db *sql.DB
}

func NewAdvisoryLock(db *sql.DB) *AdvisoryLock {
	return &AdvisoryLock{db: db}
}

func (l *AdvisoryLock) Acquire(lockID int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := l.db.ExecContext(ctx, "SELECT pg_advisory_lock($1)", lockID); err != nil {
		return fmt.Errorf("acquire advisory lock %d: %w", lockID, err)
	}
	return nil
}

func (l *AdvisoryLock) Release(lockID int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", lockID); err != nil {
		return fmt.Errorf("release advisory lock %d: %w", lockID, err)
	}
	return nil
}
