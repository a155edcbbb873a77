// Package retry wraps provider calls with exponential backoff and tracks
// per-provider health in a circuit breaker.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hayahq/haya/internal/errdefs"
)

// Defaults for Options.
const (
	DefaultMaxRetries   = 3
	DefaultInitialDelay = 1000 * time.Millisecond
	DefaultMaxDelay     = 8000 * time.Millisecond
	DefaultMultiplier   = 2.0
)

// Options shapes the backoff schedule. Delay after the attempt-N failure is
// min(InitialDelay × Multiplier^N, MaxDelay); a server Retry-After hint
// overrides the computed delay, capped by MaxDelay.
type Options struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// Sleep is swapped out in tests. Nil means SleepWithContext.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultOptions matches the provider drivers' standard schedule.
func DefaultOptions() Options {
	return Options{
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		Multiplier:   DefaultMultiplier,
	}
}

func (o Options) normalized() Options {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.Multiplier <= 1 {
		o.Multiplier = DefaultMultiplier
	}
	if o.Sleep == nil {
		o.Sleep = SleepWithContext
	}
	return o
}

// TransientError marks one failed attempt as retryable. Drivers wrap 429 and
// 503 responses (and anything else worth retrying) in it; RetryAfter carries
// the server's hint when present.
type TransientError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("transient: status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried: an explicit
// TransientError, a rate-limit error, or a connection-level network failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	var rate *errdefs.RateLimitError
	if errors.As(err, &rate) {
		return true
	}
	for _, errno := range []syscall.Errno{syscall.ECONNRESET, syscall.ETIMEDOUT, syscall.ECONNREFUSED} {
		if errors.Is(err, errno) {
			return true
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// SDKs sometimes flatten network causes into message text.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection timeout") || strings.Contains(msg, "socket")
}

func retryAfterHint(err error) (time.Duration, bool) {
	var transient *TransientError
	if errors.As(err, &transient) && transient.RetryAfter > 0 {
		return transient.RetryAfter, true
	}
	var rate *errdefs.RateLimitError
	if errors.As(err, &rate) && rate.RetryAfter > 0 {
		return rate.RetryAfter, true
	}
	return 0, false
}

// Do runs op until it succeeds, fails permanently, or exhausts
// opts.MaxRetries retries (MaxRetries+1 invocations total). The last error
// is returned unwrapped so the caller can classify it.
func Do[T any](ctx context.Context, opts Options, op func(context.Context) (T, error)) (T, error) {
	opts = opts.normalized()
	delay := opts.InitialDelay

	var zero T
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		if !IsTransient(err) || attempt >= opts.MaxRetries {
			return zero, err
		}

		wait := delay
		if hint, ok := retryAfterHint(err); ok {
			wait = hint
			if wait > opts.MaxDelay {
				wait = opts.MaxDelay
			}
		}
		if err := opts.Sleep(ctx, wait); err != nil {
			return zero, err
		}
		delay = time.Duration(float64(delay) * opts.Multiplier)
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
	}
}

// SleepWithContext sleeps for d or until ctx is done, whichever comes first.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ParseRetryAfter reads a Retry-After header value: either delta seconds or
// an HTTP date.
func ParseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		d := time.Until(at)
		if d < 0 {
			return 0, false
		}
		return d, true
	}
	return 0, false
}
