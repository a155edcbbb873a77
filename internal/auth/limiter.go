package auth

import (
	"net/netip"
	"sync"
	"time"
)

// Limiter defaults per the gateway's auth policy.
const (
	DefaultWindow      = 60 * time.Second
	DefaultMaxAttempts = 10
	DefaultLockout     = 5 * time.Minute

	// pruneInterval is how often empty limiter entries are dropped.
	pruneInterval = 60 * time.Second
)

// Decision is the limiter's answer for one auth attempt.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration // 0 when allowed
}

// LimiterOptions tune the sliding window.
type LimiterOptions struct {
	Window      time.Duration
	MaxAttempts int
	Lockout     time.Duration
}

func (o LimiterOptions) normalized() LimiterOptions {
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Lockout <= 0 {
		o.Lockout = DefaultLockout
	}
	return o
}

type ipState struct {
	failures    []time.Time
	lockedUntil time.Time
}

// Limiter tracks auth failures per client IP in a sliding window and locks
// out an IP that exceeds the attempt budget. Loopback addresses are exempt.
// Safe for concurrent use; one instance is shared across connections.
type Limiter struct {
	mu    sync.Mutex
	state map[string]*ipState
	opts  LimiterOptions
	now   func() time.Time
	stop  chan struct{}
	once  sync.Once
}

// NewLimiter builds a limiter with the given options.
func NewLimiter(opts LimiterOptions) *Limiter {
	return &Limiter{
		state: make(map[string]*ipState),
		opts:  opts.normalized(),
		now:   time.Now,
		stop:  make(chan struct{}),
	}
}

// Check reports whether an auth attempt from ip may proceed. A locked-out
// IP is rejected with the remaining lockout as RetryAfter, regardless of
// credential validity.
func (l *Limiter) Check(ip string) Decision {
	if IsLoopback(ip) {
		return Decision{Allowed: true}
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.state[ip]
	if !ok {
		return Decision{Allowed: true}
	}
	if now.Before(s.lockedUntil) {
		return Decision{Allowed: false, RetryAfter: s.lockedUntil.Sub(now)}
	}
	return Decision{Allowed: true}
}

// RecordFailure notes a failed auth attempt. Crossing the attempt budget
// within the window locks the IP out.
func (l *Limiter) RecordFailure(ip string) {
	if IsLoopback(ip) {
		return
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.state[ip]
	if !ok {
		s = &ipState{}
		l.state[ip] = s
	}
	s.failures = append(s.failures, now)
	s.failures = trimWindow(s.failures, now.Add(-l.opts.Window))
	if len(s.failures) >= l.opts.MaxAttempts {
		s.lockedUntil = now.Add(l.opts.Lockout)
	}
}

// RecordSuccess clears the failure window for ip. An active lockout stays:
// success inside a lockout cannot happen through the gateway, but callers
// may invoke this from other paths.
func (l *Limiter) RecordSuccess(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.state[ip]; ok {
		s.failures = nil
		if !l.now().Before(s.lockedUntil) {
			delete(l.state, ip)
		}
	}
}

// StartPruning launches the periodic cleanup of idle entries. Stop ends it.
func (l *Limiter) StartPruning() {
	go func() {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.prune()
			case <-l.stop:
				return
			}
		}
	}()
}

// Stop ends the pruning task.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

func (l *Limiter) prune() {
	now := l.now()
	cutoff := now.Add(-l.opts.Window)

	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, s := range l.state {
		s.failures = trimWindow(s.failures, cutoff)
		if len(s.failures) == 0 && !now.Before(s.lockedUntil) {
			delete(l.state, ip)
		}
	}
}

// trimWindow drops timestamps at or before cutoff. Failures arrive in
// order, so the first retained index splits the slice.
func trimWindow(ts []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(ts) && !ts[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return ts
	}
	return append(ts[:0], ts[idx:]...)
}

// IsLoopback reports whether ip is a loopback address, including the
// IPv4-mapped ::ffff:127.x forms.
func IsLoopback(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return addr.Unmap().IsLoopback()
}
