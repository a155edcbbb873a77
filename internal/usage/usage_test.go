package usage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hayahq/haya/pkg/models"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tr, err := NewTracker(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	return tr
}

func TestRecordAppendsToDayFile(t *testing.T) {
	tr := newTestTracker(t)
	fixed := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	tr.now = func() time.Time { return fixed }

	tr.Record(Record{
		SessionID: "main",
		Provider:  "openai",
		Model:     "gpt-4o",
		Usage:     models.TokenUsage{InputTokens: 1000, OutputTokens: 500},
	})

	path := filepath.Join(tr.dir, "2026-03-14.jsonl")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("day file missing: %v", err)
	}

	records, err := tr.Query(Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	r := records[0]
	if r.ID == "" {
		t.Error("record id not assigned")
	}
	if r.Timestamp != fixed.UnixMilli() {
		t.Errorf("timestamp = %d, want %d", r.Timestamp, fixed.UnixMilli())
	}
	// gpt-4o: $2.50/M input, $10/M output.
	want := (1000*2.50 + 500*10.00) / 1_000_000
	if diff := r.CostUSD - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("cost = %v, want %v", r.CostUSD, want)
	}
}

func TestQueryFilters(t *testing.T) {
	tr := newTestTracker(t)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		tr.Record(Record{
			SessionID: map[bool]string{true: "a", false: "b"}[i%2 == 0],
			Provider:  "openai",
			Model:     "gpt-4o",
			Usage:     models.TokenUsage{InputTokens: 10, OutputTokens: 5},
			Timestamp: base.AddDate(0, 0, i).UnixMilli(),
		})
	}

	bySession, err := tr.Query(Filter{SessionID: "a"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(bySession) != 2 {
		t.Fatalf("session-a records = %d, want 2", len(bySession))
	}

	since, err := tr.Query(Filter{Since: base.AddDate(0, 0, 2)})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(since) != 1 {
		t.Fatalf("since records = %d, want 1", len(since))
	}
}

func TestQueryEmptyLedger(t *testing.T) {
	tr, err := NewTracker(filepath.Join(t.TempDir(), "never-created"), nil, nil)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	records, err := tr.Query(Filter{})
	if err != nil || len(records) != 0 {
		t.Fatalf("Query = %v, %v; want empty, nil", records, err)
	}
}

func TestAggregateBuckets(t *testing.T) {
	day1 := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC).UnixMilli()
	day2 := time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC).UnixMilli()
	records := []Record{
		{SessionID: "a", Model: "gpt-4o", Usage: models.TokenUsage{InputTokens: 100, OutputTokens: 50}, CostUSD: 0.01, Timestamp: day1},
		{SessionID: "a", Model: "claude-sonnet-4", Usage: models.TokenUsage{InputTokens: 200, OutputTokens: 100}, CostUSD: 0.02, Timestamp: day2},
		{SessionID: "b", Model: "gpt-4o", Usage: models.TokenUsage{InputTokens: 300, OutputTokens: 150}, CostUSD: 0.03, Timestamp: day2},
	}

	s := Aggregate(records)
	if s.Total.Requests != 3 {
		t.Fatalf("total requests = %d, want 3", s.Total.Requests)
	}
	if s.Total.Usage.Total() != 900 {
		t.Fatalf("total tokens = %d, want 900", s.Total.Usage.Total())
	}
	if len(s.BySession) != 2 || s.BySession[0].Key != "a" || s.BySession[0].Requests != 2 {
		t.Fatalf("by_session = %+v", s.BySession)
	}
	if len(s.ByDay) != 2 || s.ByDay[0].Key != "2026-03-10" {
		t.Fatalf("by_day = %+v", s.ByDay)
	}
	if len(s.ByModel) != 2 {
		t.Fatalf("by_model = %+v", s.ByModel)
	}
}

func TestCostTableLongestPrefixWins(t *testing.T) {
	table := DefaultCosts()
	usage := models.TokenUsage{InputTokens: 1_000_000}

	mini := table.Estimate("gpt-4o-mini-2024-07-18", usage)
	if mini != 0.15 {
		t.Errorf("gpt-4o-mini cost = %v, want 0.15", mini)
	}
	full := table.Estimate("gpt-4o-2024-08-06", usage)
	if full != 2.50 {
		t.Errorf("gpt-4o cost = %v, want 2.50", full)
	}
	if got := table.Estimate("unknown-model", usage); got != 0 {
		t.Errorf("unknown model cost = %v, want 0", got)
	}
}

func TestFormatHelpers(t *testing.T) {
	tests := []struct {
		count int
		want  string
	}{
		{0, "0"},
		{999, "999"},
		{1500, "1.5k"},
		{25000, "25k"},
		{2_500_000, "2.5m"},
	}
	for _, tt := range tests {
		if got := FormatTokenCount(tt.count); got != tt.want {
			t.Errorf("FormatTokenCount(%d) = %q, want %q", tt.count, got, tt.want)
		}
	}

	if got := FormatUSD(1.234); got != "$1.23" {
		t.Errorf("FormatUSD(1.234) = %q", got)
	}
	if got := FormatUSD(0.0012); got != "$0.0012" {
		t.Errorf("FormatUSD(0.0012) = %q", got)
	}
	if got := FormatUSD(0); got != "" {
		t.Errorf("FormatUSD(0) = %q, want empty", got)
	}
}
