package throttle

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	errors "github.com/Laisky/errors/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/codepatch/library/db/sql/counter"
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

func setupTestStore(t *testing.T) (Store, *fakeClock) {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+strings.ReplaceAll(t.Name(), "/", "_")+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store, err := counter.New(context.Background(), db, counter.WithClock(clock.Now))
	require.NoError(t, err)
	return store, clock
}

func TestLimiter(t *testing.T) {
	store, clock := setupTestStore(t)
	ctx := context.Background()

	limiter, err := NewLimiter(store, LimiterCfg{Limit: 2, Window: time.Minute}, clock.Now)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, "alice")
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := limiter.Allow(ctx, "alice")
	require.NoError(t, err)
	require.False(t, ok)

	// other subjects have their own budget
	ok, err = limiter.Allow(ctx, "bob")
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(time.Minute)
	ok, err = limiter.Allow(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLimiterValidation(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := NewLimiter(nil, LimiterCfg{Limit: 1, Window: time.Minute}, nil)
	require.Error(t, err)
	_, err = NewLimiter(store, LimiterCfg{Limit: 0, Window: time.Minute}, nil)
	require.Error(t, err)
	_, err = NewLimiter(store, LimiterCfg{Limit: 1, Window: time.Millisecond}, nil)
	require.Error(t, err)
}

func TestBreaker(t *testing.T) {
	store, clock := setupTestStore(t)
	ctx := context.Background()

	breaker, err := NewBreaker(store, "llm", BreakerCfg{Threshold: 3, Cooldown: 30 * time.Second})
	require.NoError(t, err)
	require.NoError(t, breaker.Allow(ctx))

	for i := 0; i < 2; i++ {
		opened, err := breaker.Failure(ctx)
		require.NoError(t, err)
		require.False(t, opened)
	}
	// a success resets the streak
	require.NoError(t, breaker.Success(ctx))
	opened, err := breaker.Failure(ctx)
	require.NoError(t, err)
	require.False(t, opened)
	require.NoError(t, breaker.Allow(ctx))

	for i := 0; i < 2; i++ {
		opened, err = breaker.Failure(ctx)
		require.NoError(t, err)
	}
	require.True(t, opened)
	require.True(t, errors.Is(breaker.Allow(ctx), ErrOpen))

	clock.Advance(30 * time.Second)
	require.NoError(t, breaker.Allow(ctx))
}
