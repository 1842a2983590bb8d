package counter

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupTestCounter(t *testing.T) (*Counter, *fakeClock) {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+strings.ReplaceAll(t.Name(), "/", "_")+"?mode=memory&cache=shared")
	require.NoError(t, err, "failed to connect to in-memory db")
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	c, err := New(context.Background(), db, WithTableName("test_counters"), WithClock(clock.Now))
	require.NoError(t, err, "failed to create counter")
	return c, clock
}

func TestIncrWindow(t *testing.T) {
	c, clock := setupTestCounter(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := c.Incr(ctx, "user_1", time.Minute)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	// the window restarts once the key expired
	clock.Advance(time.Minute)
	got, err := c.Incr(ctx, "user_1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), got)

	got, err = c.Incr(ctx, "user_2", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), got)

	_, err = c.Incr(ctx, "user_1", 0)
	require.Error(t, err)
}

func TestSetGetDel(t *testing.T) {
	c, clock := setupTestCounter(t)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "breaker")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, "breaker", "open", 10*time.Second))
	value, ok, err := c.Get(ctx, "breaker")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "open", value)

	clock.Advance(10 * time.Second)
	_, ok, err = c.Get(ctx, "breaker")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, "breaker", "open", time.Minute))
	require.NoError(t, c.Del(ctx, "breaker"))
	_, ok, err = c.Get(ctx, "breaker")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWithTableNameValidation(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:validation?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	_, err = New(context.Background(), db, WithTableName("bad-name;"))
	require.Error(t, err)

	_, err = New(context.Background(), nil)
	require.Error(t, err)
}
