package calt_test

import (
	"context"
	"testing"
	"time"

	"github.com/quorumforge/aiorch/internal/calt"
	"github.com/quorumforge/aiorch/internal/storage"
)

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), t.TempDir()+"/test.db")
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestLedger_RecordAndSummarize(t *testing.T) {
	db := openTestDB(t)
	ledger := calt.New(storage.NewCostRepo(db))
	ctx := context.Background()

	now := time.Now().UTC()
	day := now.Format("2006-01-02")

	if err := ledger.Record(ctx, "llm.generate", 120*time.Millisecond, 100, 50, 0.002, map[string]interface{}{"model": "m1"}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := ledger.Record(ctx, "llm.generate", 80*time.Millisecond, 200, 75, 0.004, nil); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	summary, err := ledger.Summarize(ctx, day)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}

	if summary.Operations != 2 {
		t.Errorf("Operations = %d, want 2", summary.Operations)
	}
	if summary.TokensIn != 300 || summary.TokensOut != 125 {
		t.Errorf("tokens in/out = %d/%d, want 300/125", summary.TokensIn, summary.TokensOut)
	}
	if summary.String() == "" {
		t.Error("String() should not be empty")
	}
}

func TestLedger_SummarizeEmptyDay(t *testing.T) {
	db := openTestDB(t)
	ledger := calt.New(storage.NewCostRepo(db))

	summary, err := ledger.Summarize(context.Background(), "2000-01-01")
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if summary.Operations != 0 {
		t.Errorf("Operations = %d, want 0", summary.Operations)
	}
}
