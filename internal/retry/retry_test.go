package retry

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/hayahq/haya/internal/errdefs"
)

// recordingSleep collects requested delays without waiting.
func recordingSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestDoRetriesConnectionResetsThenSucceeds(t *testing.T) {
	var delays []time.Duration
	opts := DefaultOptions()
	opts.Sleep = recordingSleep(&delays)

	calls := 0
	value, err := Do(context.Background(), opts, func(context.Context) (string, error) {
		calls++
		if calls <= opts.MaxRetries {
			return "", syscall.ECONNRESET
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if value != "ok" {
		t.Fatalf("value = %q", value)
	}
	if calls != opts.MaxRetries+1 {
		t.Fatalf("calls = %d, want %d", calls, opts.MaxRetries+1)
	}
	// 1s, 2s, 4s: doubling from the initial delay.
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("sleeps = %v", delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("sleep %d = %s, want %s", i, delays[i], want[i])
		}
	}
}

func TestDoHonorsRetryAfterCappedByMaxDelay(t *testing.T) {
	var delays []time.Duration
	opts := DefaultOptions()
	opts.Sleep = recordingSleep(&delays)

	calls := 0
	_, err := Do(context.Background(), opts, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", &TransientError{Status: 429, RetryAfter: 7 * time.Second}
		}
		if calls == 2 {
			return "", &TransientError{Status: 429, RetryAfter: 60 * time.Second}
		}
		return "done", nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if delays[0] != 7*time.Second {
		t.Errorf("first sleep = %s, want 7s from Retry-After", delays[0])
	}
	if delays[1] != opts.MaxDelay {
		t.Errorf("second sleep = %s, want capped at %s", delays[1], opts.MaxDelay)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	opts := DefaultOptions()
	opts.Sleep = func(context.Context, time.Duration) error {
		t.Fatal("permanent errors must not sleep")
		return nil
	}

	calls := 0
	perm := &errdefs.ProviderHTTPError{Provider: "openai", Status: 400, Body: "bad request"}
	_, err := Do(context.Background(), opts, func(context.Context) (int, error) {
		calls++
		return 0, perm
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, perm) {
		t.Fatalf("err = %v, want the permanent error back", err)
	}
}

func TestDoExhaustionReturnsLastError(t *testing.T) {
	var delays []time.Duration
	opts := DefaultOptions()
	opts.Sleep = recordingSleep(&delays)

	calls := 0
	last := &TransientError{Status: 503, Body: "unavailable"}
	_, err := Do(context.Background(), opts, func(context.Context) (int, error) {
		calls++
		return 0, last
	})
	if calls != opts.MaxRetries+1 {
		t.Fatalf("calls = %d, want %d", calls, opts.MaxRetries+1)
	}
	var transient *TransientError
	if !errors.As(err, &transient) || transient.Status != 503 {
		t.Fatalf("err = %v", err)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := DefaultOptions()
	opts.Sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := Do(ctx, opts, func(context.Context) (int, error) {
		return 0, &TransientError{Status: 503}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestIsTransientClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient 429", &TransientError{Status: 429}, true},
		{"rate limit", &errdefs.RateLimitError{RetryAfter: time.Second}, true},
		{"econnreset", syscall.ECONNRESET, true},
		{"econnrefused wrapped", errors.Join(errors.New("dial"), syscall.ECONNREFUSED), true},
		{"etimedout", syscall.ETIMEDOUT, true},
		{"provider http 400", &errdefs.ProviderHTTPError{Status: 400}, false},
		{"socket text", errors.New("socket hang up"), true},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Fatalf("IsTransient = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d, ok := ParseRetryAfter("7"); !ok || d != 7*time.Second {
		t.Errorf("seconds parse = %s, %v", d, ok)
	}
	future := time.Now().Add(30 * time.Second).UTC().Format(time.RFC1123)
	if d, ok := ParseRetryAfter(future); !ok || d <= 0 || d > 31*time.Second {
		t.Errorf("date parse = %s, %v", d, ok)
	}
	if _, ok := ParseRetryAfter("garbage"); ok {
		t.Error("garbage should not parse")
	}
	if _, ok := ParseRetryAfter(""); ok {
		t.Error("empty should not parse")
	}
}
