package usage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nugget/ha-config-assistant/internal/llm"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	// One connection keeps every query on the same in-memory database.
	db.SetMaxOpenConns(1)
	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecord_And_Summary(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	recs := []Record{
		{Timestamp: now, Operation: llm.OpGenerate, Provider: "anthropic", Model: "claude-sonnet-4-20250514", Tokens: 1500, DurationMS: 3000},
		{Timestamp: now, Operation: llm.OpValidate, Provider: "anthropic", Model: "claude-sonnet-4-20250514", Tokens: 500, DurationMS: 1000},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.Summary(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 2 {
		t.Errorf("TotalRecords = %d, want 2", sum.TotalRecords)
	}
	if sum.TotalTokens != 2000 {
		t.Errorf("TotalTokens = %d, want 2000", sum.TotalTokens)
	}
	if sum.AvgMS != 2000 {
		t.Errorf("AvgMS = %d, want 2000", sum.AvgMS)
	}
}

func TestRecordUsage(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	err := s.RecordUsage(ctx, llm.Usage{
		Operation:  llm.OpExplain,
		Provider:   "ollama",
		Model:      "llama3",
		TokensUsed: 42,
		Duration:   1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}

	byOp, err := s.SummaryByOperation(ctx, time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("SummaryByOperation: %v", err)
	}
	got := byOp[llm.OpExplain]
	if got == nil {
		t.Fatalf("missing %q group in %v", llm.OpExplain, byOp)
	}
	if got.TotalTokens != 42 || got.AvgMS != 1500 {
		t.Errorf("explain summary = %+v, want 42 tokens / 1500ms", got)
	}
}

func TestSummaryGrouping(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	recs := []Record{
		{Timestamp: now, Operation: "generate", Provider: "anthropic", Model: "sonnet", Tokens: 100},
		{Timestamp: now, Operation: "generate", Provider: "anthropic", Model: "sonnet", Tokens: 200},
		{Timestamp: now, Operation: "validate", Provider: "openai", Model: "gpt-4o", Tokens: 50},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	start, end := now.Add(-time.Minute), now.Add(time.Minute)

	tests := []struct {
		name   string
		fn     func(context.Context, time.Time, time.Time) (map[string]*Summary, error)
		key    string
		groups int
		tokens int64
	}{
		{"by provider", s.SummaryByProvider, "anthropic", 2, 300},
		{"by model", s.SummaryByModel, "gpt-4o", 2, 50},
		{"by operation", s.SummaryByOperation, "generate", 2, 300},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.fn(ctx, start, end)
			if err != nil {
				t.Fatalf("summary: %v", err)
			}
			if len(result) != tt.groups {
				t.Fatalf("got %d groups, want %d", len(result), tt.groups)
			}
			g := result[tt.key]
			if g == nil {
				t.Fatalf("missing %q group", tt.key)
			}
			if g.TotalTokens != tt.tokens {
				t.Errorf("%s tokens = %d, want %d", tt.key, g.TotalTokens, tt.tokens)
			}
		})
	}
}

func TestSummary_PeriodFilter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	recs := []Record{
		{Timestamp: base.Add(-2 * time.Hour), Operation: "generate", Provider: "p", Model: "m", Tokens: 1},
		{Timestamp: base, Operation: "generate", Provider: "p", Model: "m", Tokens: 2},
		{Timestamp: base.Add(2 * time.Hour), Operation: "generate", Provider: "p", Model: "m", Tokens: 3},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.Summary(ctx, base.Add(-time.Minute), base.Add(time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 1 || sum.TotalTokens != 2 {
		t.Errorf("Summary = %+v, want only the in-range record", sum)
	}
}

func TestSummary_IncludesCurrentSecond(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.RecordUsage(ctx, llm.Usage{Operation: llm.OpGenerate, Provider: "ollama", Model: "llama3", TokensUsed: 7}); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}

	now := time.Now()
	sum, err := s.Summary(ctx, now.Add(-time.Hour), now)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 1 || sum.TotalTokens != 7 {
		t.Errorf("Summary = %+v, want 1 record with 7 tokens", sum)
	}

	byOp, err := s.SummaryByOperation(ctx, now.Add(-time.Hour), now)
	if err != nil {
		t.Fatalf("SummaryByOperation: %v", err)
	}
	if byOp[llm.OpGenerate] == nil || byOp[llm.OpGenerate].TotalTokens != 7 {
		t.Errorf("byOp = %v", byOp)
	}
}

func TestSummary_SubSecondBounds(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	for i, ts := range []time.Time{base.Add(100 * time.Millisecond), base.Add(900 * time.Millisecond)} {
		if err := s.Record(ctx, Record{Timestamp: ts, Operation: "generate", Provider: "p", Model: "m", Tokens: i + 1}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.Summary(ctx, base, base.Add(500*time.Millisecond))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 1 || sum.TotalTokens != 1 {
		t.Errorf("Summary = %+v, want only the first record", sum)
	}
}

func TestSummary_EmptyDB(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sum, err := s.Summary(ctx, time.Now().Add(-24*time.Hour), time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 0 || sum.TotalTokens != 0 {
		t.Errorf("Summary = %+v, want zero", sum)
	}

	byModel, err := s.SummaryByModel(ctx, time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("SummaryByModel: %v", err)
	}
	if byModel == nil || len(byModel) != 0 {
		t.Errorf("SummaryByModel = %v, want empty map", byModel)
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	if _, err := Open("/nonexistent/path/usage.db"); err == nil {
		t.Error("Open() should fail for invalid path")
	}
}
