package llm_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quorumforge/aiorch/internal/calt"
	"github.com/quorumforge/aiorch/internal/core"
	"github.com/quorumforge/aiorch/internal/llm"
	"github.com/quorumforge/aiorch/internal/storage"
	"github.com/quorumforge/aiorch/internal/testutil"
)

// fakeBackend lets each test script per-model success/failure without a
// real HTTP endpoint, mirroring the teacher's fake-adapter test style.
type fakeBackend struct {
	failModels map[string]int32 // model -> remaining failures before success
	calls      int32
}

func (f *fakeBackend) ChatCompletion(ctx context.Context, req core.ChatRequest) (*core.ChatResponse, error) {
	atomic.AddInt32(&f.calls, 1)
	if n, ok := f.failModels[req.Model]; ok && n > 0 {
		f.failModels[req.Model] = n - 1
		return nil, core.ErrExternal("BACKEND_DOWN", "simulated backend failure")
	}
	return &core.ChatResponse{Text: "ok:" + req.Model, TokensIn: 3, TokensOut: 2}, nil
}

func (f *fakeBackend) StreamChatCompletion(ctx context.Context, req core.ChatRequest) (<-chan core.StreamChunk, error) {
	ch := make(chan core.StreamChunk, 2)
	ch <- core.StreamChunk{Text: "hello "}
	ch <- core.StreamChunk{Text: "world", Done: true}
	close(ch)
	return ch, nil
}

func newLedger(t *testing.T) *calt.Ledger {
	t.Helper()
	dir := testutil.TempDir(t)
	db, err := storage.Open(dir + "/calt.db")
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return calt.New(storage.NewCostRepo(db))
}

func oneModelCatalog() llm.Catalog {
	return llm.Catalog{
		core.TierBalanced: {
			{ID: "primary", Tier: core.TierBalanced, Family: "fam-a", Capabilities: []core.Capability{core.CapCode}, Loaded: true},
			{ID: "secondary", Tier: core.TierBalanced, Family: "fam-b", Capabilities: []core.Capability{core.CapCode}, Loaded: true},
		},
	}
}

func runPool(t *testing.T, pool *llm.Pool) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go pool.Run(ctx)
	return cancel
}

func TestGenerate_UsesPrimaryWhenHealthy(t *testing.T) {
	backend := &fakeBackend{failModels: map[string]int32{}}
	ledger := newLedger(t)
	pool := llm.New(backend, oneModelCatalog(), llm.Config{Tier: core.TierBalanced, BatchWindow: 5 * time.Millisecond, MaxBatch: 5}, ledger, nil)
	cancel := runPool(t, pool)
	defer cancel()

	text, err := pool.Generate(context.Background(), "hi", "", llm.GenParams{})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, text, "ok:primary")

	summary, err := ledger.Summarize(context.Background(), time.Now().Format("2006-01-02"))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, summary.Operations, 1)
}

func TestGenerate_FallsBackOnceOnFailure(t *testing.T) {
	backend := &fakeBackend{failModels: map[string]int32{"primary": 1}}
	ledger := newLedger(t)
	pool := llm.New(backend, oneModelCatalog(), llm.Config{Tier: core.TierBalanced, BatchWindow: 5 * time.Millisecond, MaxBatch: 5}, ledger, nil)
	cancel := runPool(t, pool)
	defer cancel()

	text, err := pool.Generate(context.Background(), "hi", "", llm.GenParams{})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, text, "ok:secondary")

	summary, err := ledger.Summarize(context.Background(), time.Now().Format("2006-01-02"))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, summary.Operations, 2)
}

func TestGenerate_UnknownModelIsPrecondition(t *testing.T) {
	backend := &fakeBackend{}
	ledger := newLedger(t)
	pool := llm.New(backend, oneModelCatalog(), llm.Config{Tier: core.TierBalanced, BatchWindow: 5 * time.Millisecond, MaxBatch: 5}, ledger, nil)
	cancel := runPool(t, pool)
	defer cancel()

	_, err := pool.Generate(context.Background(), "hi", "does-not-exist", llm.GenParams{})
	testutil.AssertError(t, err)
	de, ok := err.(*core.DomainError)
	testutil.AssertTrue(t, ok, "expected a DomainError")
	testutil.AssertEqual(t, de.Kind, core.KindPrecondition)
}

func TestStream_YieldsChunksThenCloses(t *testing.T) {
	backend := &fakeBackend{}
	pool := llm.New(backend, oneModelCatalog(), llm.Config{Tier: core.TierBalanced}, nil, nil)

	ch, err := pool.Stream(context.Background(), "hi", "", llm.GenParams{})
	testutil.AssertNoError(t, err)
	var texts []string
	for chunk := range ch {
		texts = append(texts, chunk.Text)
	}
	testutil.AssertLen(t, texts, 2)
	testutil.AssertEqual(t, texts[0]+texts[1], "hello world")
}

func TestCatalog_FallbackPrefersSameFamilyThenPrimary(t *testing.T) {
	cat := llm.Catalog{
		core.TierBalanced: {
			{ID: "a1", Family: "fam-a", Loaded: true},
			{ID: "a2", Family: "fam-a", Loaded: true},
			{ID: "b1", Family: "fam-b", Loaded: true},
		},
	}
	fb, ok := cat.Fallback(cat[core.TierBalanced][0], core.TierBalanced)
	testutil.AssertTrue(t, ok, "expected a fallback")
	testutil.AssertEqual(t, fb.ID, "a2")

	fb, ok = cat.Fallback(core.ModelHandle{ID: "unknown", Family: "fam-z"}, core.TierBalanced)
	testutil.AssertTrue(t, ok, "expected primary fallback")
	testutil.AssertEqual(t, fb.ID, "a1")
}
