package throttle

import (
	"context"
	"fmt"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
)

// LimiterCfg configures a Limiter.
type LimiterCfg struct {
	// Limit is the number of calls allowed per window.
	Limit  int
	Window time.Duration
}

// Limiter allows Limit calls per subject in each fixed window.
type Limiter struct {
	store Store
	cfg   LimiterCfg
	clock Clock
}

// NewLimiter creates a Limiter. clock is optional.
func NewLimiter(store Store, cfg LimiterCfg, clock Clock) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Limit <= 0 {
		return nil, errors.Errorf("limit must be greater than 0: %d", cfg.Limit)
	}
	if cfg.Window < time.Second {
		return nil, errors.Errorf("window must be at least 1s: %s", cfg.Window)
	}
	if clock == nil {
		clock = time.Now
	}

	return &Limiter{store: store, cfg: cfg, clock: clock}, nil
}

// Allow counts a call by subject and reports whether it fits the current window.
func (l *Limiter) Allow(ctx context.Context, subject string) (bool, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}

	windowStart := l.clock().UTC().Truncate(l.cfg.Window)
	key := fmt.Sprintf("ratelimit:%s:%d", subject, windowStart.Unix())
	count, err := l.store.Incr(ctx, key, l.cfg.Window)
	if err != nil {
		return false, errors.Wrap(err, "count call")
	}

	return count <= int64(l.cfg.Limit), nil
}
