package orderdesk

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 10 * time.Second
)

// Policy describes how a single call site retries a remote operation.
// The zero value is normalized to three attempts of capped exponential
// backoff. Retryable decides whether an error is worth another attempt;
// nil means every error is.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	FullJitter  bool
	Retryable   func(error) bool
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// delay computes the backoff before the given attempt (1-based count of
// failures so far): capped exponential, optionally with full jitter.
func (p Policy) delay(attempt int, rnd func() float64) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.FullJitter && rnd != nil {
		d = time.Duration(rnd() * float64(d))
	}
	return d
}

// Retrier wraps remote calls with bounded retry. Sleep and rand are
// injectable so policies can be unit-tested without wall-clock waits.
type Retrier struct {
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	rand   func() float64
}

func NewRetrier(logger *zap.Logger) *Retrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{
		logger: logger,
		sleep:  sleepContext,
		rand:   rand.Float64,
	}
}

// Do runs op up to policy.MaxAttempts times. Failed attempts are logged
// with the target label. Errors rejected by policy.Retryable, and the
// last error once attempts are exhausted, are returned to the caller;
// swallowing is the caller's decision, never this layer's.
func (r *Retrier) Do(ctx context.Context, policy Policy, label string, op func(ctx context.Context) error) error {
	policy = policy.normalized()
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		r.logger.Warn("attempt failed",
			zap.String("target", label),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Error(err))
		if policy.Retryable != nil && !policy.Retryable(err) {
			return err
		}
		if attempt == policy.MaxAttempts {
			break
		}
		if waitErr := r.sleep(ctx, policy.delay(attempt, r.rand)); waitErr != nil {
			return waitErr
		}
	}
	return lastErr
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
