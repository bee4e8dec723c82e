package ai

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Limiter spaces AI requests across every client sharing it.
type Limiter struct {
	rl *rate.Limiter
}

// NewLimiter allows perMinute requests per minute with a burst of one.
// A non-positive rate returns nil, which disables limiting.
func NewLimiter(perMinute int) *Limiter {
	if perMinute <= 0 {
		return nil
	}
	return &Limiter{rl: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1)}
}

func (l *Limiter) wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.rl.Wait(ctx)
}

type policyClient struct {
	provider Provider
	next     Client
	policy   Policy
	limiter  *Limiter
	logger   *slog.Logger
	observe  Observer
	sleep    func(ctx context.Context, d time.Duration) error
}

func (c *policyClient) Chat(ctx context.Context, system, user string) (string, error) {
	attempts := c.policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := backoff(c.policy.BackoffBase, c.policy.BackoffMax, attempt-1)
			c.logger.Warn("retrying ai request", "attempt", attempt, "delay", delay, "err", lastErr)
			if err := c.sleep(ctx, delay); err != nil {
				return "", lastErr
			}
		}
		if err := c.limiter.wait(ctx); err != nil {
			return "", err
		}
		content, err := c.once(ctx, system, user)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

func (c *policyClient) once(ctx context.Context, system, user string) (string, error) {
	if c.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.policy.Timeout)
		defer cancel()
	}
	start := time.Now()
	content, err := c.next.Chat(ctx, system, user)
	if c.observe != nil {
		c.observe(c.provider, err, time.Since(start))
	}
	return content, err
}

// backoff returns base*2^(n-1) capped at max.
func backoff(base, max time.Duration, n int) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
