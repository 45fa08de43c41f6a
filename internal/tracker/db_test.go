package tracker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInsertAndGetCalls(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	now := time.Now()
	records := []CallRecord{
		{
			Provider:         "together",
			Model:            "deepseek-v3",
			Caller:           "jd_agent",
			ConversationID:   "conv-1",
			PromptTokens:     500,
			CompletionTokens: 200,
			TotalTokens:      700,
			EstimatedCostUSD: 0.000165,
			DurationMs:       1200.5,
			Success:          true,
			Timestamp:        now.Add(-2 * time.Hour),
		},
		{
			Provider:   "anthropic",
			Model:      "claude-sonnet-4",
			Caller:     "judge",
			DurationMs: 30000,
			Success:    false,
			Timestamp:  now.Add(-1 * time.Hour),
		},
	}

	if err := db.InsertCalls(ctx, "run-1", records); err != nil {
		t.Fatalf("InsertCalls() error = %v", err)
	}

	calls, err := db.GetCalls(ctx, time.Time{})
	if err != nil {
		t.Fatalf("GetCalls() error = %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("len(calls) = %d; want 2", len(calls))
	}

	got := calls[0]
	if got.Caller != "jd_agent" || got.ConversationID != "conv-1" || got.TotalTokens != 700 {
		t.Errorf("calls[0] = %+v", got)
	}
	if got.DurationMs != 1200.5 {
		t.Errorf("DurationMs = %v; want 1200.5", got.DurationMs)
	}
	if !got.Success {
		t.Error("calls[0].Success = false; want true")
	}
	if !got.Timestamp.Equal(records[0].Timestamp) {
		t.Errorf("Timestamp = %v; want %v", got.Timestamp, records[0].Timestamp)
	}
	if calls[1].Success {
		t.Error("calls[1].Success = true; want false")
	}

	// Filter by time
	recent, err := db.GetCalls(ctx, now.Add(-90*time.Minute))
	if err != nil {
		t.Fatalf("GetCalls(since) error = %v", err)
	}
	if len(recent) != 1 || recent[0].Caller != "judge" {
		t.Errorf("GetCalls(since) = %+v; want only judge", recent)
	}
}

func TestGetCallsBeforeEpoch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	old := time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []CallRecord{
		{Provider: "openai", Model: "gpt-4o", Caller: "a", Success: true, Timestamp: old},
		{Provider: "openai", Model: "gpt-4o", Caller: "b", Success: true, Timestamp: time.Now()},
	}
	if err := db.InsertCalls(ctx, "run-1", records); err != nil {
		t.Fatal(err)
	}

	calls, err := db.GetCalls(ctx, time.Time{})
	if err != nil {
		t.Fatalf("GetCalls() error = %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("len(calls) = %d; want 2", len(calls))
	}
	if !calls[0].Timestamp.Equal(old) {
		t.Errorf("calls[0].Timestamp = %v; want %v", calls[0].Timestamp, old)
	}
}

func TestCountCalls(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	rec := CallRecord{Provider: "openai", Model: "gpt-4o", Caller: "a", Success: true, Timestamp: time.Now()}
	if err := db.InsertCalls(ctx, "run-1", []CallRecord{rec, rec}); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertCalls(ctx, "run-2", []CallRecord{rec}); err != nil {
		t.Fatal(err)
	}

	total, err := db.CountCalls(ctx, "")
	if err != nil {
		t.Fatalf("CountCalls() error = %v", err)
	}
	if total != 3 {
		t.Errorf("CountCalls(all) = %d; want 3", total)
	}

	run1, err := db.CountCalls(ctx, "run-1")
	if err != nil {
		t.Fatalf("CountCalls(run-1) error = %v", err)
	}
	if run1 != 2 {
		t.Errorf("CountCalls(run-1) = %d; want 2", run1)
	}
}

func TestLastArchiveTime(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	ts, runID, err := db.GetLastArchiveTime(ctx)
	if err != nil {
		t.Fatalf("GetLastArchiveTime() error = %v", err)
	}
	if !ts.IsZero() || runID != "" {
		t.Errorf("GetLastArchiveTime() on empty db = %v, %q; want zero", ts, runID)
	}

	when := time.Unix(1767225600, 0)
	if err := db.SetLastArchiveTime(ctx, "run-9", when); err != nil {
		t.Fatalf("SetLastArchiveTime() error = %v", err)
	}

	ts, runID, err = db.GetLastArchiveTime(ctx)
	if err != nil {
		t.Fatalf("GetLastArchiveTime() error = %v", err)
	}
	if !ts.Equal(when) || runID != "run-9" {
		t.Errorf("GetLastArchiveTime() = %v, %q; want %v, run-9", ts, runID, when)
	}
}

func TestArchiverFlushesOnClose(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a := NewArchiver(db, nil)
	l := newTestLedger()
	for i := 0; i < 100; i++ {
		a.Archive(l.Record("openai", "gpt-4o", "a", WithTokens(i, i)))
	}
	a.Close()
	// Archiving after Close is a no-op
	a.Archive(CallRecord{})

	count, err := db.CountCalls(ctx, a.RunID())
	if err != nil {
		t.Fatal(err)
	}
	if count+int64(a.Dropped()) != 100 {
		t.Errorf("archived %d + dropped %d; want 100", count, a.Dropped())
	}
}

func TestExportAndLoadArchive(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	src := newTestLedger()
	src.Record("openai", "gpt-4o", "a", WithTokens(1000, 0), WithDuration(10))
	src.Record("openai", "gpt-4o", "b", WithTokens(10, 10), WithDuration(20), WithSuccess(false))

	runID, err := ExportSnapshot(ctx, src, db)
	if err != nil {
		t.Fatalf("ExportSnapshot() error = %v", err)
	}
	if runID == "" {
		t.Error("ExportSnapshot() returned empty run id")
	}

	dst := newTestLedger()
	n, err := LoadArchive(ctx, dst, db, time.Time{})
	if err != nil {
		t.Fatalf("LoadArchive() error = %v", err)
	}
	if n != 2 {
		t.Errorf("LoadArchive() = %d; want 2", n)
	}
	if src.SessionSummary() != dst.SessionSummary() {
		t.Errorf("loaded summary %+v != exported %+v", dst.SessionSummary(), src.SessionSummary())
	}
}

func TestArchiveHelpersWithoutDB(t *testing.T) {
	l := newTestLedger()
	if _, err := ExportSnapshot(context.Background(), l, nil); !errors.Is(err, ErrNoArchive) {
		t.Errorf("ExportSnapshot(nil db) error = %v; want ErrNoArchive", err)
	}
	if _, err := LoadArchive(context.Background(), l, nil, time.Time{}); !errors.Is(err, ErrNoArchive) {
		t.Errorf("LoadArchive(nil db) error = %v; want ErrNoArchive", err)
	}
}
