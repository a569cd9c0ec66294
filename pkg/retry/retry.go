package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config controls the backoff schedule
type Config struct {
	// MaxRetries is the number of retries after the initial attempt
	MaxRetries int
	// InitialInterval is the wait before the first retry
	InitialInterval time.Duration
	// MaxInterval caps the backoff growth
	MaxInterval time.Duration
	// Multiplier scales the interval after each retry
	Multiplier float64
	// JitterFactor randomizes each interval by up to the given fraction
	JitterFactor float64
}

// DefaultConfig returns the backoff used for infrastructure connects:
// 3 retries, 1s doubling up to 30s, 10% jitter
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:      3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		JitterFactor:    0.1,
	}
}

// Operation is the retried unit of work
type Operation func(ctx context.Context) error

// PermanentError stops the retry loop immediately
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent marks an error as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Do runs op until it succeeds, the retry budget is exhausted, op
// returns a permanent error, or ctx ends. It returns nil on success and
// the last attempt's error otherwise, so callers wrap it with their own
// context.
func Do(ctx context.Context, cfg *Config, op Operation) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(cfg.interval(attempt)):
		}
	}
	return lastErr
}

// interval computes the wait before the retry following the given
// zero-based attempt: exponential growth, jittered, capped
func (c *Config) interval(attempt int) time.Duration {
	initial := c.InitialInterval
	if initial <= 0 {
		initial = time.Second
	}
	multiplier := c.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	interval := float64(initial) * math.Pow(multiplier, float64(attempt))

	if c.JitterFactor > 0 {
		jitter := interval * math.Min(c.JitterFactor, 1)
		interval += (rand.Float64()*2 - 1) * jitter
	}

	if max := float64(c.MaxInterval); max > 0 && interval > max {
		interval = max
	}
	if interval < 0 {
		interval = float64(initial)
	}
	return time.Duration(interval)
}
