// Package counter is a small expiring key-value and counter table on
// database/sql, shared by the rate limiter and the circuit breaker.
package counter

import (
	"context"
	"database/sql"
	"regexp"
	"time"

	errors "github.com/Laisky/errors/v2"
)

var regexpTableName = regexp.MustCompile(`^[a-zA-Z0-9_]{1,64}$`)

// Counter stores counters and string values in one table.
type Counter struct {
	opt *option
	db  *sql.DB
}

type option struct {
	tableName string
	clock     func() time.Time
}

// Option is a function that configures the counter
type Option func(*option) error

// WithTableName sets the table name.
func WithTableName(tableName string) Option {
	return func(o *option) error {
		if !regexpTableName.MatchString(tableName) {
			return errors.Errorf("invalid table name: %s", tableName)
		}
		o.tableName = tableName
		return nil
	}
}

// WithClock replaces the wall clock used for expiry.
func WithClock(clock func() time.Time) Option {
	return func(o *option) error {
		if clock == nil {
			return errors.New("clock cannot be nil")
		}
		o.clock = clock
		return nil
	}
}

// New creates the table when absent and returns a Counter.
func New(ctx context.Context, db *sql.DB, opts ...Option) (*Counter, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}

	o := &option{
		tableName: "codepatch_counters",
		clock:     time.Now,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errors.Wrap(err, "apply opts")
		}
	}

	c := &Counter{opt: o, db: db}
	stmt := `
CREATE TABLE IF NOT EXISTS ` + o.tableName + ` (
  key TEXT PRIMARY KEY,
  count BIGINT NOT NULL,
  value TEXT NOT NULL,
  expire_at TIMESTAMP NOT NULL
)`
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return nil, errors.Wrap(err, "create counter table")
	}

	return c, nil
}

func (c *Counter) now() time.Time {
	return c.opt.clock().UTC()
}

// Incr adds one to key and returns the new count. A missing or expired key
// restarts at 1 and expires after ttl.
func (c *Counter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, errors.Errorf("ttl must be greater than 0: %s", ttl)
	}

	now := c.now()
	stmt := `
INSERT INTO ` + c.opt.tableName + ` (key, count, value, expire_at)
VALUES ($1, 1, '', $2)
ON CONFLICT(key)
DO UPDATE SET
  count = CASE WHEN ` + c.opt.tableName + `.expire_at <= $3 THEN 1 ELSE ` + c.opt.tableName + `.count + 1 END,
  expire_at = CASE WHEN ` + c.opt.tableName + `.expire_at <= $3 THEN EXCLUDED.expire_at ELSE ` + c.opt.tableName + `.expire_at END
RETURNING count`

	var count int64
	if err := c.db.QueryRowContext(ctx, stmt, key, now.Add(ttl), now).Scan(&count); err != nil {
		return 0, errors.Wrapf(err, "incr %s", key)
	}
	return count, nil
}

// Get returns the value of key. ok is false for missing or expired keys.
func (c *Counter) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	var expireAt time.Time
	stmt := `SELECT value, expire_at FROM ` + c.opt.tableName + ` WHERE key = $1 LIMIT 1`
	err = c.db.QueryRowContext(ctx, stmt, key).Scan(&value, &expireAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, errors.Wrapf(err, "get %s", key)
	}

	if !c.now().Before(expireAt) {
		_ = c.Del(ctx, key)
		return "", false, nil
	}
	return value, true, nil
}

// Set stores value under key until ttl elapses.
func (c *Counter) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.Errorf("ttl must be greater than 0: %s", ttl)
	}

	stmt := `
INSERT INTO ` + c.opt.tableName + ` (key, count, value, expire_at)
VALUES ($1, 0, $2, $3)
ON CONFLICT(key)
DO UPDATE SET value = EXCLUDED.value, expire_at = EXCLUDED.expire_at`
	if _, err := c.db.ExecContext(ctx, stmt, key, value, c.now().Add(ttl)); err != nil {
		return errors.Wrapf(err, "set %s", key)
	}
	return nil
}

// Del removes key.
func (c *Counter) Del(ctx context.Context, key string) error {
	stmt := `DELETE FROM ` + c.opt.tableName + ` WHERE key = $1`
	if _, err := c.db.ExecContext(ctx, stmt, key); err != nil {
		return errors.Wrapf(err, "del %s", key)
	}
	return nil
}
