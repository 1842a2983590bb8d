package throttle

import (
	"context"
	"time"

	errors "github.com/Laisky/errors/v2"
)

// BreakerCfg configures a Breaker.
type BreakerCfg struct {
	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold int
	// Cooldown is how long the breaker stays open. After it a trial call passes.
	Cooldown time.Duration
}

// ErrOpen is returned by Breaker.Allow while the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// Breaker stops calling a failing dependency for a cooldown period.
type Breaker struct {
	store Store
	name  string
	cfg   BreakerCfg
}

// NewBreaker creates a Breaker for the dependency called name.
func NewBreaker(store Store, name string, cfg BreakerCfg) (*Breaker, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if name == "" {
		return nil, errors.New("name is required")
	}
	if cfg.Threshold <= 0 {
		return nil, errors.Errorf("threshold must be greater than 0: %d", cfg.Threshold)
	}
	if cfg.Cooldown < time.Second {
		return nil, errors.Errorf("cooldown must be at least 1s: %s", cfg.Cooldown)
	}

	return &Breaker{store: store, name: name, cfg: cfg}, nil
}

func (b *Breaker) openKey() string     { return "breaker:" + b.name + ":open" }
func (b *Breaker) failuresKey() string { return "breaker:" + b.name + ":failures" }

// Allow returns ErrOpen while the breaker is open.
func (b *Breaker) Allow(ctx context.Context) error {
	_, open, err := b.store.Get(ctx, b.openKey())
	if err != nil {
		return errors.Wrap(err, "read breaker state")
	}
	if open {
		return errors.WithStack(ErrOpen)
	}
	return nil
}

// Success resets the failure count.
func (b *Breaker) Success(ctx context.Context) error {
	if err := b.store.Del(ctx, b.failuresKey()); err != nil {
		return errors.Wrap(err, "reset breaker failures")
	}
	return nil
}

// Failure counts a failed call and opens the breaker at the threshold.
// It reports whether this call opened it.
func (b *Breaker) Failure(ctx context.Context) (opened bool, err error) {
	count, err := b.store.Incr(ctx, b.failuresKey(), b.cfg.Cooldown)
	if err != nil {
		return false, errors.Wrap(err, "count breaker failure")
	}
	if count < int64(b.cfg.Threshold) {
		return false, nil
	}

	if err := b.store.Set(ctx, b.openKey(), "open", b.cfg.Cooldown); err != nil {
		return false, errors.Wrap(err, "open breaker")
	}
	if err := b.store.Del(ctx, b.failuresKey()); err != nil {
		return true, errors.Wrap(err, "reset breaker failures")
	}
	return true, nil
}
