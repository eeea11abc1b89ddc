// Package enhance runs the remote upscaling call under a bounded,
// classification-aware retry policy.
package enhance

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Enhancer is a single remote image transformation.
type Enhancer interface {
	Enhance(ctx context.Context, image []byte) ([]byte, error)
}

// EnhancerFunc adapts a function to Enhancer.
type EnhancerFunc func(ctx context.Context, image []byte) ([]byte, error)

// Enhance calls f.
func (f EnhancerFunc) Enhance(ctx context.Context, image []byte) ([]byte, error) {
	return f(ctx, image)
}

// Policy bounds the retries of one remote call.
type Policy struct {
	MaxAttempts    int           // total attempts, including the first
	RetryDelay     time.Duration // wait after a transient failure
	RateLimitDelay time.Duration // wait after a rate-limit signal
}

// Attempt records one failed try.
type Attempt struct {
	Index int // 1-based
	Class Class
	Wait  time.Duration // zero when no wait followed
	Err   error
}

// Report lists the failed attempts preceding the final outcome.
type Report struct {
	Attempts []Attempt
	Calls    int
}

// Sink persists a successful result.
type Sink func(r io.Reader) error

// Controller executes remote calls under a Policy.
type Controller struct {
	enhancer Enhancer
	policy   Policy
	sleep    func(ctx context.Context, d time.Duration) error
	onRetry  func(Attempt)
}

// Option configures the controller.
type Option func(*Controller)

// WithSleep replaces the wait function (primarily for tests).
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithRetryHook is called after every failed attempt that is followed by a wait.
func WithRetryHook(fn func(Attempt)) Option {
	return func(c *Controller) {
		c.onRetry = fn
	}
}

// NewController constructs a Controller around enhancer.
func NewController(enhancer Enhancer, policy Policy, opts ...Option) *Controller {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	c := &Controller{
		enhancer: enhancer,
		policy:   policy,
		sleep:    Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends payload to the enhancer and hands the result to sink.
//
// Transient failures are retried after RetryDelay while attempts remain.
// Rate-limit failures always wait RateLimitDelay, then retry if attempts
// remain or give up otherwise. Any other failure stops at once. Sink errors
// are local and are never retried. The sink only runs after a fully
// successful call.
func (c *Controller) Do(ctx context.Context, payload []byte, sink Sink) (Report, error) {
	var report Report

	for i := 0; i < c.policy.MaxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		report.Calls++
		out, err := c.enhancer.Enhance(ctx, payload)
		if err == nil {
			if err := sink(bytes.NewReader(out)); err != nil {
				return report, fmt.Errorf("failed to store result: %w", err)
			}
			return report, nil
		}

		last := i == c.policy.MaxAttempts-1
		attempt := Attempt{Index: i + 1, Class: Classify(err), Err: err}

		switch {
		case attempt.Class == Transient && !last:
			attempt.Wait = c.policy.RetryDelay
		case attempt.Class == RateLimited:
			// Rate limits wait even on the last attempt.
			attempt.Wait = c.policy.RateLimitDelay
		default:
			report.Attempts = append(report.Attempts, attempt)
			return report, fmt.Errorf("attempt %d/%d: %w", attempt.Index, c.policy.MaxAttempts, err)
		}

		report.Attempts = append(report.Attempts, attempt)
		if c.onRetry != nil {
			c.onRetry(attempt)
		}
		if err := c.sleep(ctx, attempt.Wait); err != nil {
			return report, errors.Join(err, fmt.Errorf("attempt %d/%d: %w", attempt.Index, c.policy.MaxAttempts, attempt.Err))
		}

		if last {
			return report, fmt.Errorf("attempt %d/%d: %w", attempt.Index, c.policy.MaxAttempts, err)
		}
	}

	// Unreachable with MaxAttempts >= 1.
	return report, errors.New("no attempts made")
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
