package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"stratis-backend/internal/logger"
)

const (
	DefaultMaxAttempts = 3
	baseDelay          = 2 * time.Second
	maxJitter          = time.Second
)

// Error is the only failure shape that leaves the executor. Error() is the
// classified, user-presentable message; Unwrap exposes the raw cause for logs.
type Error struct {
	Kind     Kind
	Message  string
	Attempts int
	Cause    error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Cause }

// Executor runs one external call with bounded exponential backoff.
type Executor struct {
	MaxAttempts int
	// Sleep waits for d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
	// Jitter returns a value in [0, maxJitter).
	Jitter  func() time.Duration
	OnRetry func(attempt int, delay time.Duration, c Classification)
	Log     *logger.Logger
}

func NewExecutor(maxAttempts int, log *logger.Logger) *Executor {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Executor{
		MaxAttempts: maxAttempts,
		Sleep:       sleepContext,
		Jitter:      func() time.Duration { return time.Duration(rand.Int64N(int64(maxJitter))) },
		Log:         log,
	}
}

// Backoff is the wait after the failed attempt with 0-based index attempt.
func Backoff(attempt int, jitter time.Duration) time.Duration {
	return (1<<attempt)*baseDelay + jitter
}

// Do calls op until it succeeds, fails terminally or MaxAttempts calls have
// been made. Any failure it returns is an *Error.
func Do[T any](ctx context.Context, ex *Executor, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := ex.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var lastErr error
	attempts := 0
	for i := 0; i < maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}

		attempts++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		c := Classify(err)
		if !c.Retryable || i == maxAttempts-1 {
			break
		}

		var jitter time.Duration
		if ex.Jitter != nil {
			jitter = ex.Jitter()
		}
		delay := Backoff(i, jitter)

		if ex.Log != nil {
			ex.Log.Warn("AI call failed, retrying",
				"attempt", i+1,
				"max_attempts", maxAttempts,
				"kind", string(c.Kind),
				"sleep", delay.String(),
				"error", err.Error(),
			)
		}
		if ex.OnRetry != nil {
			ex.OnRetry(i+1, delay, c)
		}

		sleep := ex.Sleep
		if sleep == nil {
			sleep = sleepContext
		}
		if err := sleep(ctx, delay); err != nil {
			break
		}
	}

	return zero, finalError(lastErr, attempts)
}

// Run is Do for operations without a result.
func (ex *Executor) Run(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Do(ctx, ex, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Terminal classifies a failure that did not pass through an executor.
// An existing *Error in the chain is returned as is.
func Terminal(err error) *Error {
	if err == nil {
		return nil
	}
	var final *Error
	if errors.As(err, &final) {
		return final
	}
	return finalError(err, 1)
}

func finalError(err error, attempts int) *Error {
	c := Classify(err)
	return &Error{Kind: c.Kind, Message: c.Message, Attempts: attempts, Cause: err}
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
