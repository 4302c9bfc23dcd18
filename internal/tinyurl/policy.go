package tinyurl

import (
	"context"
	"errors"
	"time"

	"github.com/MrSnakeDoc/tinyman/internal/errs"
	"github.com/MrSnakeDoc/tinyman/internal/logger"
)

const defaultAttemptTimeout = 3 * time.Second

// UpdatePolicy decides how an update call reacts to failures.
// The two implementations are BoundedRetry and Backoff.
type UpdatePolicy interface {
	validatesTarget() bool
	execute(ctx context.Context, log logger.Logger, call func(context.Context) error) error
}

// BoundedRetry retries remote rejections back to back, up to Attempts calls
// in total, then returns the last UpdateError. A timeout fails at once.
type BoundedRetry struct {
	Attempts int           // total remote calls; values below 1 mean 1
	Timeout  time.Duration // per call (default: 3s)
}

func (p BoundedRetry) validatesTarget() bool { return false }

func (p BoundedRetry) execute(ctx context.Context, log logger.Logger, call func(context.Context) error) error {
	budget := max(p.Attempts, 1)

	var last error
	for attempt := 1; attempt <= budget; attempt++ {
		err := attemptWithTimeout(ctx, p.Timeout, call)
		if err == nil {
			return nil
		}

		var updErr *errs.UpdateError
		if !errors.As(err, &updErr) {
			// Timeouts and transport failures are not retried by this policy.
			return err
		}

		last = err
		log.Debug("update rejected",
			logger.Int("attempt", attempt),
			logger.Int("budget", budget),
			logger.Error(err))
	}

	return last
}

// Backoff validates the target first, then retries timeouts with a doubling
// delay starting at Initial. Remote rejections are not transient and fail at
// once.
type Backoff struct {
	Attempts int           // total remote calls (default: 3)
	Initial  time.Duration // first wait between calls (default: 1s)
	Timeout  time.Duration // per call (default: 3s)
}

// DefaultBackoff is the policy used for user-issued updates.
func DefaultBackoff() Backoff {
	return Backoff{Attempts: 3, Initial: time.Second, Timeout: defaultAttemptTimeout}
}

func (p Backoff) validatesTarget() bool { return true }

func (p Backoff) execute(ctx context.Context, log logger.Logger, call func(context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 3
	}
	wait := p.Initial
	if wait <= 0 {
		wait = time.Second
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := attemptWithTimeout(ctx, p.Timeout, call)
		if err == nil {
			return nil
		}

		var netErr *errs.NetworkError
		if !errors.As(err, &netErr) || !netErr.Timeout() {
			return err
		}
		last = err

		if attempt == attempts {
			break
		}

		log.Warn("update timed out, backing off",
			logger.Int("attempt", attempt),
			logger.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait *= 2
	}

	return last
}

func attemptWithTimeout(ctx context.Context, timeout time.Duration, call func(context.Context) error) error {
	if timeout <= 0 {
		timeout = defaultAttemptTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return call(attemptCtx)
}
