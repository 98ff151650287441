package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "usage_test.db")
	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecord_And_Summary(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	recs := []Record{
		{
			Timestamp:    now,
			RequestID:    "req-001",
			Mode:         ModeChat,
			Model:        "llama-3.3-70b-versatile",
			Provider:     "groq",
			InputTokens:  1000,
			OutputTokens: 500,
			Chunks:       42,
			Duration:     1200 * time.Millisecond,
			OK:           true,
		},
		{
			Timestamp:    now,
			RequestID:    "req-002",
			Mode:         ModeSearch,
			Model:        "llama-3.3-70b-versatile",
			Provider:     "groq",
			InputTokens:  2000,
			OutputTokens: 1000,
			OK:           true,
		},
		{
			Timestamp: now,
			RequestID: "req-003",
			Mode:      ModeSearch,
			Model:     "retired-model",
			Provider:  "groq",
			Error:     "model decommissioned",
		},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.Summary(now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 3 {
		t.Errorf("TotalRecords = %d, want 3", sum.TotalRecords)
	}
	if sum.FailedRecords != 1 {
		t.Errorf("FailedRecords = %d, want 1", sum.FailedRecords)
	}
	if sum.TotalInputTokens != 3000 {
		t.Errorf("TotalInputTokens = %d, want 3000", sum.TotalInputTokens)
	}
	if sum.TotalOutputTokens != 1500 {
		t.Errorf("TotalOutputTokens = %d, want 1500", sum.TotalOutputTokens)
	}
}

func TestSummaryByModeAndModel(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, rec := range []Record{
		{Timestamp: now, RequestID: "a", Mode: ModeChat, Model: "m1", Provider: "groq", InputTokens: 10, OK: true},
		{Timestamp: now, RequestID: "b", Mode: ModeChat, Model: "m2", Provider: "groq", InputTokens: 20, OK: true},
		{Timestamp: now, RequestID: "c", Mode: ModeSearch, Model: "m1", Provider: "groq", InputTokens: 30},
	} {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	byMode, err := s.SummaryByMode(now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("SummaryByMode: %v", err)
	}
	if byMode[ModeChat] == nil || byMode[ModeChat].TotalRecords != 2 {
		t.Errorf("chat summary = %+v, want 2 records", byMode[ModeChat])
	}
	if byMode[ModeSearch] == nil || byMode[ModeSearch].FailedRecords != 1 {
		t.Errorf("search summary = %+v, want 1 failure", byMode[ModeSearch])
	}

	byModel, err := s.SummaryByModel(now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("SummaryByModel: %v", err)
	}
	if byModel["m1"] == nil || byModel["m1"].TotalInputTokens != 40 {
		t.Errorf("m1 summary = %+v, want 40 input tokens", byModel["m1"])
	}
}

func TestQueryByPeriod_Filters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	recs := []Record{
		{Timestamp: base.Add(-2 * time.Hour), RequestID: "old", Mode: ModeChat, Model: "m", Provider: "p", InputTokens: 1},
		{Timestamp: base, RequestID: "in-range", Mode: ModeChat, Model: "m", Provider: "p", InputTokens: 2},
		{Timestamp: base.Add(2 * time.Hour), RequestID: "future", Mode: ModeChat, Model: "m", Provider: "p", InputTokens: 3},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	// Only "in-range" should match.
	sum, err := s.Summary(base.Add(-time.Minute), base.Add(time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 1 {
		t.Errorf("TotalRecords = %d, want 1 (only in-range)", sum.TotalRecords)
	}
	if sum.TotalInputTokens != 2 {
		t.Errorf("TotalInputTokens = %d, want 2", sum.TotalInputTokens)
	}
}

func TestSummary_EmptyDB(t *testing.T) {
	s := testStore(t)

	sum, err := s.Summary(time.Now().Add(-24*time.Hour), time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum == nil {
		t.Fatal("Summary returned nil, want non-nil zero-value Summary")
	}
	if sum.TotalRecords != 0 || sum.FailedRecords != 0 {
		t.Errorf("Summary = %+v, want zero", sum)
	}

	byModel, err := s.SummaryByModel(time.Now().Add(-24*time.Hour), time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("SummaryByModel: %v", err)
	}
	if byModel == nil || len(byModel) != 0 {
		t.Errorf("SummaryByModel = %v, want empty map", byModel)
	}
}

func TestRecordBatch_AndRecent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, prompt := range []string{"a cat", "a dog", "a red fox"} {
		err := s.RecordBatch(ctx, Batch{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Prompt:    prompt,
			Requested: 4,
			Saved:     4 - i,
			Duration:  time.Duration(i+1) * time.Second,
		})
		if err != nil {
			t.Fatalf("RecordBatch: %v", err)
		}
	}

	batches, err := s.RecentBatches(ctx, 2)
	if err != nil {
		t.Fatalf("RecentBatches: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(batches))
	}
	if batches[0].Prompt != "a red fox" || batches[0].Saved != 2 {
		t.Errorf("newest batch = %+v", batches[0])
	}
	if batches[0].Duration != 3*time.Second {
		t.Errorf("Duration = %v, want 3s", batches[0].Duration)
	}
	if !batches[0].Timestamp.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("Timestamp = %v", batches[0].Timestamp)
	}
	if batches[0].ID == "" {
		t.Error("batch ID should be generated")
	}
}

func TestRecord_AutoID(t *testing.T) {
	s := testStore(t)

	rec := Record{RequestID: "req-test", Mode: ModeChat, Model: "m", Provider: "p"}
	if err := s.Record(context.Background(), rec); err != nil {
		t.Fatalf("Record: %v", err)
	}

	sum, err := s.Summary(time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 1 {
		t.Errorf("TotalRecords = %d, want 1", sum.TotalRecords)
	}
}

func TestNewStore_InvalidPath(t *testing.T) {
	_, err := NewStore("/nonexistent/path/usage.db")
	if err == nil {
		t.Error("NewStore() should fail for invalid path")
	}
}
