package retry

import (
	"testing"
	"time"
)

func newTestBreaker() (*Breaker, *time.Time) {
	b := NewBreaker(0, 0)
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return current }
	return b, &current
}

func TestBreakerOpensAfterThresholdFailures(t *testing.T) {
	b, _ := newTestBreaker()

	for i := 0; i < DefaultFailureThreshold-1; i++ {
		b.RecordFailure("openai")
		if !b.Allow("openai") {
			t.Fatalf("circuit opened after %d failures", i+1)
		}
	}
	b.RecordFailure("openai")
	if b.State("openai") != StateOpen {
		t.Fatalf("state = %s, want open", b.State("openai"))
	}
	if b.Allow("openai") {
		t.Fatal("open circuit should not allow calls")
	}
}

func TestBreakerHalfOpenAfterRecoveryWindow(t *testing.T) {
	b, now := newTestBreaker()
	for i := 0; i < DefaultFailureThreshold; i++ {
		b.RecordFailure("openai")
	}

	*now = now.Add(DefaultRecoveryTime - time.Second)
	if b.Allow("openai") {
		t.Fatal("allowed before the recovery window elapsed")
	}

	*now = now.Add(2 * time.Second)
	if !b.Allow("openai") {
		t.Fatal("recovery window elapsed, probe should be allowed")
	}
	if b.State("openai") != StateHalfOpen {
		t.Fatalf("state = %s, want half-open", b.State("openai"))
	}
}

func TestBreakerHalfOpenSuccessCloses(t *testing.T) {
	b, now := newTestBreaker()
	for i := 0; i < DefaultFailureThreshold; i++ {
		b.RecordFailure("openai")
	}
	*now = now.Add(DefaultRecoveryTime)
	b.Allow("openai")

	b.RecordSuccess("openai")
	stats := b.Stats("openai")
	if stats.State != StateClosed {
		t.Fatalf("state = %s, want closed", stats.State)
	}
	if stats.ConsecutiveFailures != 0 {
		t.Fatalf("consecutive failures = %d, want 0", stats.ConsecutiveFailures)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker()
	for i := 0; i < DefaultFailureThreshold; i++ {
		b.RecordFailure("openai")
	}
	*now = now.Add(DefaultRecoveryTime)
	b.Allow("openai")

	b.RecordFailure("openai")
	if b.State("openai") != StateOpen {
		t.Fatalf("state = %s, want open after half-open failure", b.State("openai"))
	}
	if b.Allow("openai") {
		t.Fatal("reopened circuit should block")
	}
}

func TestBreakerIsolatesProviders(t *testing.T) {
	b, _ := newTestBreaker()
	for i := 0; i < DefaultFailureThreshold; i++ {
		b.RecordFailure("openai")
	}
	if !b.Allow("anthropic") {
		t.Fatal("unrelated provider should stay closed")
	}
}

func TestBreakerResetOneOrAll(t *testing.T) {
	b, _ := newTestBreaker()
	for _, name := range []string{"openai", "anthropic"} {
		for i := 0; i < DefaultFailureThreshold; i++ {
			b.RecordFailure(name)
		}
	}

	b.Reset("openai")
	if !b.Allow("openai") {
		t.Fatal("reset circuit should allow calls")
	}
	if b.Allow("anthropic") {
		t.Fatal("other circuit should remain open")
	}

	b.Reset("")
	if !b.Allow("anthropic") {
		t.Fatal("full reset should clear every circuit")
	}
}

func TestBreakerStatsTotals(t *testing.T) {
	b, _ := newTestBreaker()
	b.RecordSuccess("openai")
	b.RecordFailure("openai")
	b.RecordSuccess("openai")

	stats := b.Stats("openai")
	if stats.TotalSuccesses != 2 || stats.TotalFailures != 1 {
		t.Fatalf("totals = %d/%d, want 2/1", stats.TotalSuccesses, stats.TotalFailures)
	}
	if stats.LastSuccess.IsZero() || stats.LastFailure.IsZero() {
		t.Fatal("timestamps not recorded")
	}

	snap := b.Snapshot()
	if _, ok := snap["openai"]; !ok {
		t.Fatal("snapshot missing provider entry")
	}
}
