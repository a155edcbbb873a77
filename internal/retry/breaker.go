package retry

import (
	"sync"
	"time"
)

// Breaker defaults.
const (
	DefaultFailureThreshold = 3
	DefaultRecoveryTime     = 30 * time.Second
)

// BreakerState is one of the three circuit states.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
)

// BreakerStats is a point-in-time snapshot of one provider's circuit.
type BreakerStats struct {
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	TotalSuccesses      int64        `json:"total_successes"`
	TotalFailures       int64        `json:"total_failures"`
	LastSuccess         time.Time    `json:"last_success,omitempty"`
	LastFailure         time.Time    `json:"last_failure,omitempty"`
	OpenedAt            time.Time    `json:"opened_at,omitempty"`
}

type breakerEntry struct {
	state               BreakerState
	consecutiveFailures int
	totalSuccesses      int64
	totalFailures       int64
	lastSuccess         time.Time
	lastFailure         time.Time
	openedAt            time.Time
}

// Breaker tracks provider health. After threshold consecutive failures the
// circuit opens; after the recovery window the next availability check moves
// it to half-open, where one success closes it and one failure reopens it.
type Breaker struct {
	mu        sync.Mutex
	entries   map[string]*breakerEntry
	threshold int
	recovery  time.Duration
	now       func() time.Time
}

// NewBreaker builds a breaker; zero arguments take the defaults.
func NewBreaker(threshold int, recovery time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if recovery <= 0 {
		recovery = DefaultRecoveryTime
	}
	return &Breaker{
		entries:   make(map[string]*breakerEntry),
		threshold: threshold,
		recovery:  recovery,
		now:       time.Now,
	}
}

func (b *Breaker) entry(name string) *breakerEntry {
	e := b.entries[name]
	if e == nil {
		e = &breakerEntry{state: StateClosed}
		b.entries[name] = e
	}
	return e
}

// Allow reports whether a call to name may proceed, transitioning
// open→half-open once the recovery window has elapsed.
func (b *Breaker) Allow(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entry(name)
	if e.state == StateOpen {
		if b.now().Sub(e.openedAt) >= b.recovery {
			e.state = StateHalfOpen
			return true
		}
		return false
	}
	return true
}

// RecordSuccess notes a successful call: half-open closes, consecutive
// failures reset.
func (b *Breaker) RecordSuccess(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entry(name)
	e.totalSuccesses++
	e.lastSuccess = b.now()
	e.consecutiveFailures = 0
	if e.state != StateClosed {
		e.state = StateClosed
		e.openedAt = time.Time{}
	}
}

// RecordFailure notes a failed call: threshold consecutive failures open
// the circuit, and a half-open failure reopens it immediately.
func (b *Breaker) RecordFailure(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entry(name)
	e.totalFailures++
	e.lastFailure = b.now()
	e.consecutiveFailures++
	if e.state == StateHalfOpen || e.consecutiveFailures >= b.threshold {
		e.state = StateOpen
		e.openedAt = b.now()
	}
}

// State returns the current state for name without side effects.
func (b *Breaker) State(name string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e := b.entries[name]; e != nil {
		return e.state
	}
	return StateClosed
}

// Stats snapshots one provider's circuit.
func (b *Breaker) Stats(name string) BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entries[name]
	if e == nil {
		return BreakerStats{State: StateClosed}
	}
	return statsOf(e)
}

// Snapshot returns stats for every provider the breaker has seen.
func (b *Breaker) Snapshot() map[string]BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]BreakerStats, len(b.entries))
	for name, e := range b.entries {
		out[name] = statsOf(e)
	}
	return out
}

// Reset clears one provider's circuit, or every circuit when name is empty.
func (b *Breaker) Reset(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if name == "" {
		b.entries = make(map[string]*breakerEntry)
		return
	}
	delete(b.entries, name)
}

func statsOf(e *breakerEntry) BreakerStats {
	return BreakerStats{
		State:               e.state,
		ConsecutiveFailures: e.consecutiveFailures,
		TotalSuccesses:      e.totalSuccesses,
		TotalFailures:       e.totalFailures,
		LastSuccess:         e.lastSuccess,
		LastFailure:         e.lastFailure,
		OpenedAt:            e.openedAt,
	}
}
