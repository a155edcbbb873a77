// Package usage records per-request token consumption to a day-partitioned
// JSONL ledger and aggregates it by session, day, and model.
package usage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hayahq/haya/pkg/models"
)

const (
	dirPerm  = 0o700
	filePerm = 0o600
)

// Record is one provider round trip.
type Record struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Channel   string            `json:"channel,omitempty"`
	Provider  string            `json:"provider"`
	Model     string            `json:"model"`
	Usage     models.TokenUsage `json:"usage"`
	CostUSD   float64           `json:"cost_usd"`
	Timestamp int64             `json:"timestamp"` // unix milliseconds
}

// Tracker appends records to <dir>/<YYYY-MM-DD>.jsonl and serves queries
// over the ledger. Appends serialize under one lock; day files only ever
// grow.
type Tracker struct {
	dir    string
	costs  CostTable
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewTracker creates the ledger directory (0700) if needed.
func NewTracker(dir string, costs CostTable, logger *slog.Logger) (*Tracker, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("usage directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if costs == nil {
		costs = DefaultCosts()
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create usage dir: %w", err)
	}
	return &Tracker{
		dir:    dir,
		costs:  costs,
		logger: logger.With("component", "usage"),
		now:    time.Now,
	}, nil
}

// Record stamps, prices, and appends r to today's ledger file. Ledger
// failures are logged, never fatal: usage accounting must not break a
// conversation.
func (t *Tracker) Record(r Record) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp == 0 {
		r.Timestamp = t.now().UnixMilli()
	}
	if r.CostUSD == 0 {
		r.CostUSD = t.costs.Estimate(r.Model, r.Usage)
	}
	line, err := json.Marshal(r)
	if err != nil {
		t.logger.Warn("usage record dropped", "error", err)
		return
	}

	day := time.UnixMilli(r.Timestamp).UTC().Format("2006-01-02")
	path := filepath.Join(t.dir, day+".jsonl")

	t.mu.Lock()
	defer t.mu.Unlock()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, filePerm)
	if err != nil {
		t.logger.Warn("usage ledger open failed", "path", path, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		t.logger.Warn("usage ledger write failed", "path", path, "error", err)
	}
}

// Filter narrows Query results.
type Filter struct {
	SessionID string
	Since     time.Time
}

// Query streams the ledger oldest-day first and returns matching records.
// Unparseable lines are skipped with a warning.
func (t *Tracker) Query(filter Filter) ([]Record, error) {
	dirEntries, err := os.ReadDir(t.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read usage dir: %w", err)
	}

	var names []string
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".jsonl") {
			continue
		}
		if !filter.Since.IsZero() {
			day, err := time.Parse("2006-01-02", strings.TrimSuffix(de.Name(), ".jsonl"))
			if err == nil && day.Before(filter.Since.UTC().Truncate(24*time.Hour)) {
				continue
			}
		}
		names = append(names, de.Name())
	}
	sort.Strings(names)

	var records []Record
	for _, name := range names {
		if err := t.scanFile(filepath.Join(t.dir, name), filter, &records); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (t *Tracker) scanFile(path string, filter Filter, out *[]Record) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open usage ledger: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var r Record
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			t.logger.Warn("skipping bad usage line", "path", path, "error", err)
			continue
		}
		if filter.SessionID != "" && r.SessionID != filter.SessionID {
			continue
		}
		if !filter.Since.IsZero() && time.UnixMilli(r.Timestamp).Before(filter.Since) {
			continue
		}
		*out = append(*out, r)
	}
	return scanner.Err()
}

// Bucket is one aggregation row.
type Bucket struct {
	Key      string            `json:"key"`
	Requests int               `json:"requests"`
	Usage    models.TokenUsage `json:"usage"`
	CostUSD  float64           `json:"cost_usd"`
}

// Summary groups records three ways for reporting.
type Summary struct {
	Total     Bucket   `json:"total"`
	BySession []Bucket `json:"by_session"`
	ByDay     []Bucket `json:"by_day"`
	ByModel   []Bucket `json:"by_model"`
}

// Aggregate folds records into a Summary with deterministic bucket order.
func Aggregate(records []Record) Summary {
	bySession := map[string]*Bucket{}
	byDay := map[string]*Bucket{}
	byModel := map[string]*Bucket{}
	total := Bucket{Key: "total"}

	fold := func(m map[string]*Bucket, key string, r Record) {
		b := m[key]
		if b == nil {
			b = &Bucket{Key: key}
			m[key] = b
		}
		b.Requests++
		b.Usage.Add(r.Usage)
		b.CostUSD += r.CostUSD
	}

	for _, r := range records {
		total.Requests++
		total.Usage.Add(r.Usage)
		total.CostUSD += r.CostUSD
		fold(bySession, r.SessionID, r)
		fold(byDay, time.UnixMilli(r.Timestamp).UTC().Format("2006-01-02"), r)
		fold(byModel, r.Model, r)
	}

	return Summary{
		Total:     total,
		BySession: sortBuckets(bySession),
		ByDay:     sortBuckets(byDay),
		ByModel:   sortBuckets(byModel),
	}
}

func sortBuckets(m map[string]*Bucket) []Bucket {
	out := make([]Bucket, 0, len(m))
	for _, b := range m {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
