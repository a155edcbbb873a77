// Package cron is the persistent scheduler: a JSON store of jobs, 5-field
// cron schedules, in-memory one-shot timers, and named action dispatch.
package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// MaxLookahead bounds the next-fire search. A schedule with no fire time
// within it (e.g. February 30) never arms.
const MaxLookahead = 400 * 24 * time.Hour

// standard 5-field parser: minute hour dom month dow.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule is a parsed cron expression.
type Schedule struct {
	expr  string
	sched cron.Schedule
}

// ParseSchedule validates a standard 5-field cron expression.
func ParseSchedule(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Schedule{}, fmt.Errorf("schedule is required")
	}
	if len(strings.Fields(expr)) != 5 {
		return Schedule{}, fmt.Errorf("invalid cron expression %q: want 5 fields (minute hour day month weekday)", expr)
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return Schedule{expr: expr, sched: sched}, nil
}

// String returns the original expression.
func (s Schedule) String() string { return s.expr }

// Next computes the first fire time strictly after now, in wall-clock time.
// Minutes that do not exist on a DST transition are skipped naturally. The
// second return is false when no fire time exists within MaxLookahead.
func (s Schedule) Next(now time.Time) (time.Time, bool) {
	if s.sched == nil {
		return time.Time{}, false
	}
	next := s.sched.Next(now)
	if next.IsZero() || next.Sub(now) > MaxLookahead {
		return time.Time{}, false
	}
	return next, true
}

// ISOToCronExpression converts a future RFC 3339 timestamp to a one-shot
// cron expression (minute hour day month *). The timestamp is interpreted
// in its own zone; past or unparsable timestamps are rejected.
func ISOToCronExpression(iso string, now time.Time) (string, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(iso))
	if err != nil {
		// Tolerate a bare datetime without zone, interpreted locally.
		t, err = time.ParseInLocation("2006-01-02T15:04:05", strings.TrimSpace(iso), now.Location())
		if err != nil {
			return "", fmt.Errorf("invalid timestamp %q: %w", iso, err)
		}
	}
	if !t.After(now) {
		return "", fmt.Errorf("timestamp %q is in the past", iso)
	}
	return fmt.Sprintf("%d %d %d %d *", t.Minute(), t.Hour(), t.Day(), int(t.Month())), nil
}
