package store

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	errors "github.com/Laisky/errors/v2"

	"github.com/Laisky/codepatch/internal/patch"
)

// LockProvider serializes writers within a project.
type LockProvider interface {
	WithProjectLock(ctx context.Context, db *sql.DB, isPostgres bool, project string, timeout time.Duration, fn func(tx *sql.Tx) error) error
}

// DefaultLockProvider takes a PostgreSQL advisory transaction lock. Other
// databases rely on their own writer lock.
type DefaultLockProvider struct{}

// WithProjectLock acquires a scoped lock and executes the callback within a transaction.
func (p DefaultLockProvider) WithProjectLock(ctx context.Context, db *sql.DB, isPostgres bool, project string, timeout time.Duration, fn func(tx *sql.Tx) error) (err error) {
	if db == nil {
		return errors.New("db is required")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if isPostgres {
		if err = acquireProjectLock(ctx, tx, project, timeout); err != nil {
			return err
		}
	}
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit transaction")
	}
	return nil
}

// acquireProjectLock polls pg_try_advisory_xact_lock until timeout.
func acquireProjectLock(ctx context.Context, tx *sql.Tx, project string, timeout time.Duration) error {
	key := hashLockKey(project)
	deadline := time.Now().Add(timeout)
	for {
		var locked bool
		if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1)", key).Scan(&locked); err != nil {
			return errors.Wrap(err, "acquire advisory lock")
		}
		if locked {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.WithStack(patch.NewApplyError(patch.ErrCodeResourceBusy, "project is locked by another writer", true, nil))
		}

		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// hashLockKey derives a stable int64 key from the project id.
func hashLockKey(project string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("codepatch:"))
	_, _ = h.Write([]byte(project))
	return int64(h.Sum64())
}
