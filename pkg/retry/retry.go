package retry

import (
	"context"
	"math"
	"time"
)

// RetryableFunc is a function that can be retried
type RetryableFunc func() error

// ErrorClassifier determines if an error is retryable
type ErrorClassifier func(error) bool

// RetryOptions defines the configuration for retries
type RetryOptions struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Classifier      ErrorClassifier
}

// DefaultOptions returns exponential backoff suited to reopening streams
func DefaultOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts:     5,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		Classifier: func(err error) bool {
			return true
		},
	}
}

// Once allows exactly one immediate extra attempt for errors accepted by classifier
func Once(classifier ErrorClassifier) RetryOptions {
	return RetryOptions{
		MaxAttempts: 2,
		Multiplier:  1.0,
		Classifier:  classifier,
	}
}

// Checkpoint is a short policy for checkpoint commits. Waits at most 300ms in
// total; a missed commit is covered by the next one.
func Checkpoint() RetryOptions {
	return RetryOptions{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     400 * time.Millisecond,
		Multiplier:      2.0,
	}
}

// Never runs the function a single time
func Never() RetryOptions {
	return RetryOptions{MaxAttempts: 1}
}

// Do executes the function with exponential backoff retries
func Do(ctx context.Context, fn RetryableFunc, opts RetryOptions) error {
	var lastErr error

	attempts := opts.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if opts.Classifier != nil && !opts.Classifier(err) {
			return err
		}

		if attempt == attempts {
			break
		}

		interval := CalculateBackoff(attempt, opts)
		if interval <= 0 {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

// CalculateBackoff returns the wait after the given failed attempt. A zero
// MaxInterval means uncapped.
func CalculateBackoff(attempt int, opts RetryOptions) time.Duration {
	if attempt <= 1 {
		return opts.InitialInterval
	}

	interval := float64(opts.InitialInterval) * math.Pow(opts.Multiplier, float64(attempt-1))
	if opts.MaxInterval > 0 && interval > float64(opts.MaxInterval) {
		return opts.MaxInterval
	}
	return time.Duration(interval)
}
