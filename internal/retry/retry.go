// Package retry provides bounded retries with exponential backoff for the
// suspension points of the pipeline: model calls, tool execution, and
// outbound sends.
package retry

import (
	"context"
	"errors"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts including the first.
	MaxAttempts int
	// InitialDelay is the delay after the first failure.
	InitialDelay time.Duration
	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration
	// Factor is the multiplier for exponential backoff.
	Factor float64
	// Jitter randomizes delays within [0.5, 1.5] of the computed value.
	Jitter bool
}

// DefaultConfig returns the harness default: three attempts with
// exponential backoff and jitter.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Factor:       2.0,
		Jitter:       true,
	}
}

func (c Config) normalized() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 200 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Factor <= 0 {
		c.Factor = 2.0
	}
	return c
}

// Result is the outcome of a retried operation.
type Result struct {
	// Attempts is the number of attempts made.
	Attempts int
	// Err is the last error, nil on success.
	Err error
}

// Do executes op with retries. Permanent errors stop retrying immediately;
// context cancellation is honored between attempts.
func Do(ctx context.Context, config Config, op func() error) Result {
	config = config.normalized()

	var result Result
	for attempt := 1; ; attempt++ {
		result.Attempts = attempt

		if ctx.Err() != nil {
			result.Err = ctx.Err()
			return result
		}

		if result.Err = op(); result.Err == nil {
			return result
		}
		if IsPermanent(result.Err) || attempt == config.MaxAttempts {
			return result
		}

		select {
		case <-ctx.Done():
			result.Err = ctx.Err()
			return result
		case <-time.After(config.delay(attempt)):
		}
	}
}

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps an error to stop retries.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether an error was marked permanent.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}
