package llm

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/quorumforge/aiorch/internal/calt"
	"github.com/quorumforge/aiorch/internal/core"
	"github.com/quorumforge/aiorch/internal/logging"
)

// GenParams are the per-call sampling parameters forwarded to the backend
// (spec §6: temperature, top_p, top_k, max_tokens).
type GenParams struct {
	Temperature float64
	TopP        float64
	TopK        int
	MaxTokens   int
}

// Config bounds the Pool's batching worker (spec §4.8/§6).
type Config struct {
	Tier          core.ModelTier
	BatchWindow   time.Duration // BATCH_WINDOW_MS, default 50ms
	MaxBatch      int           // MAX_BATCH, default 5
	RateLimitRPS  float64       // token-bucket rate gating dispatch, 0 disables
}

// Pool is the LLM Client Pool (spec §4.8): tiered model selection,
// in-memory batching, fallback-chain-of-one retries, and exactly-one
// CostRecord per Generate call (P7).
type Pool struct {
	backend core.LLMBackend
	catalog Catalog
	cfg     Config
	ledger  *calt.Ledger
	logger  *logging.Logger
	limiter *rate.Limiter

	breakersMu sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker

	queueMu sync.Mutex
	queue   []*pendingRequest
	wake    chan struct{}
}

type pendingRequest struct {
	ctx    context.Context
	prompt string
	model  string
	params GenParams
	done   chan genResult
}

type genResult struct {
	text string
	err  error
}

// New constructs a Pool. Call Run in a background goroutine to start the
// batching worker before issuing Generate calls.
func New(backend core.LLMBackend, catalog Catalog, cfg Config, ledger *calt.Ledger, logger *logging.Logger) *Pool {
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = 50 * time.Millisecond
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 5
	}
	if cfg.Tier == "" {
		cfg.Tier = core.TierBalanced
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.MaxBatch)
	}
	return &Pool{
		backend:  backend,
		catalog:  catalog,
		cfg:      cfg,
		ledger:   ledger,
		logger:   logger,
		limiter:  limiter,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		wake:     make(chan struct{}, 1),
	}
}

func (p *Pool) breakerFor(modelID string) *gobreaker.CircuitBreaker {
	p.breakersMu.Lock()
	defer p.breakersMu.Unlock()
	b, ok := p.breakers[modelID]
	if !ok {
		b = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    modelID,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		})
		p.breakers[modelID] = b
	}
	return b
}

// Run drives the batching worker until ctx is cancelled: pops the queue
// every BatchWindow, or sooner when MaxBatch is reached, dispatching
// every queued request concurrently (spec §4.8: "For backends without
// true batching, queued requests are issued concurrently to the
// endpoint").
func (p *Pool) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.BatchWindow)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx)
		case <-p.wake:
			p.drain(ctx)
		}
	}
}

func (p *Pool) drain(ctx context.Context) {
	for {
		batch := p.popBatch()
		if len(batch) == 0 {
			return
		}
		for _, req := range batch {
			go p.dispatch(ctx, req)
		}
	}
}

func (p *Pool) popBatch() []*pendingRequest {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()
	if len(p.queue) == 0 {
		return nil
	}
	n := len(p.queue)
	if n > p.cfg.MaxBatch {
		n = p.cfg.MaxBatch
	}
	batch := p.queue[:n]
	p.queue = p.queue[n:]
	return batch
}

// Generate queues prompt for the batching worker and blocks for this
// caller's own result; ordering between concurrent callers is not
// preserved (spec §4.8/§5). If model is empty, the active tier's primary
// is used.
func (p *Pool) Generate(ctx context.Context, prompt, model string, params GenParams) (string, error) {
	req := &pendingRequest{ctx: ctx, prompt: prompt, model: model, params: params, done: make(chan genResult, 1)}
	p.queueMu.Lock()
	p.queue = append(p.queue, req)
	n := len(p.queue)
	p.queueMu.Unlock()
	if n >= p.cfg.MaxBatch {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}

	select {
	case res := <-req.done:
		return res.text, res.err
	case <-ctx.Done():
		return "", core.ErrCancelled("generate cancelled")
	}
}

func (p *Pool) resolveModel(requested string) (core.ModelHandle, error) {
	if requested != "" {
		if m, ok := p.catalog.Find(requested); ok {
			return m, nil
		}
		return core.ModelHandle{}, core.ErrPrecondition("UNKNOWN_MODEL", "requested model not in catalog: "+requested)
	}
	if m, ok := p.catalog.Primary(p.cfg.Tier); ok {
		return m, nil
	}
	return core.ModelHandle{}, core.ErrPrecondition("NO_PRIMARY_MODEL", "no primary model configured for active tier")
}

// dispatch resolves a model, calls the backend through its circuit
// breaker, falls back to the next entry once on failure, and records
// exactly one CostRecord per Generate call (P7) before delivering the
// result to the waiting caller.
func (p *Pool) dispatch(ctx context.Context, req *pendingRequest) {
	if p.limiter != nil {
		_ = p.limiter.Wait(ctx)
	}

	model, err := p.resolveModel(req.model)
	if err != nil {
		req.done <- genResult{err: err}
		return
	}

	attemptStart := time.Now()
	text, tokensIn, tokensOut, callErr := p.call(ctx, model, req.prompt, req.params)
	p.recordAttempt(model, attemptStart, tokensIn, tokensOut, callErr != nil)

	if callErr != nil {
		if fb, ok := p.catalog.Fallback(model, p.cfg.Tier); ok {
			attemptStart = time.Now()
			text, tokensIn, tokensOut, callErr = p.call(ctx, fb, req.prompt, req.params)
			p.recordAttempt(fb, attemptStart, tokensIn, tokensOut, callErr != nil)
		}
	}

	req.done <- genResult{text: text, err: callErr}
}

// recordAttempt appends exactly one CostRecord per underlying backend
// call attempt (P7), regardless of whether the attempt succeeded — a
// failed primary attempt followed by a successful fallback attempt yields
// two records, the first tagged failed (spec §8 scenario 4).
func (p *Pool) recordAttempt(model core.ModelHandle, start time.Time, tokensIn, tokensOut int, failed bool) {
	if p.ledger == nil {
		return
	}
	_ = p.ledger.Record(context.Background(), "llm.generate", time.Since(start), tokensIn, tokensOut, estimateCostUsd(model, tokensIn, tokensOut), map[string]interface{}{
		"model": model.ID, "tier": string(p.cfg.Tier), "failed": failed,
	})
}

func (p *Pool) call(ctx context.Context, model core.ModelHandle, prompt string, params GenParams) (text string, tokensIn, tokensOut int, err error) {
	breaker := p.breakerFor(model.ID)
	res, cbErr := breaker.Execute(func() (interface{}, error) {
		cctx, cancel := context.WithTimeout(ctx, 120*time.Second)
		defer cancel()
		resp, err := p.backend.ChatCompletion(cctx, core.ChatRequest{
			Model:       model.ID,
			Messages:    []core.ChatMessage{{Role: "user", Content: prompt}},
			Temperature: params.Temperature,
			TopP:        params.TopP,
			TopK:        params.TopK,
			MaxTokens:   params.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		return resp, nil
	})
	if cbErr != nil {
		if cctxErr := ctx.Err(); cctxErr != nil {
			return "", 0, 0, core.ErrCancelled("generate cancelled")
		}
		return "", 0, 0, core.ErrExternal("LLM_CALL_FAILED", "llm call failed").WithCause(cbErr)
	}
	resp := res.(*core.ChatResponse)
	return resp.Text, resp.TokensIn, resp.TokensOut, nil
}

// Stream issues a streaming generation, bypassing the batching queue
// since a stream is inherently long-lived and cancellable (spec §4.8).
func (p *Pool) Stream(ctx context.Context, prompt, model string, params GenParams) (<-chan core.StreamChunk, error) {
	m, err := p.resolveModel(model)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	ch, err := p.backend.StreamChatCompletion(ctx, core.ChatRequest{
		Model:       m.ID,
		Messages:    []core.ChatMessage{{Role: "user", Content: prompt}},
		Stream:      true,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		TopK:        params.TopK,
		MaxTokens:   params.MaxTokens,
	})
	if err != nil {
		return nil, core.ErrExternal("LLM_STREAM_FAILED", "llm stream request failed").WithCause(err)
	}
	out := make(chan core.StreamChunk)
	go func() {
		defer close(out)
		tokensOut := 0
		var full []byte
		for chunk := range ch {
			if chunk.Text != "" {
				tokensOut += countWords(chunk.Text)
				full = append(full, []byte(chunk.Text)...)
			}
			out <- chunk
			if chunk.Done || chunk.Err != nil {
				break
			}
		}
		if p.ledger != nil {
			_ = p.ledger.Record(context.Background(), "llm.stream", time.Since(start), countWords(prompt), tokensOut, estimateCostUsd(m, countWords(prompt), tokensOut), map[string]interface{}{
				"model": m.ID, "tier": string(p.cfg.Tier),
			})
		}
	}()
	return out, nil
}

// estimateCostUsd is a coarse virtual cost model (the source's actual
// provider pricing is a non-goal, spec §1: "exact wire format of any
// third-party LLM API"); it scales by tier to make the ledger's totals
// meaningfully ordered across tiers.
func estimateCostUsd(model core.ModelHandle, tokensIn, tokensOut int) float64 {
	perKTok := map[core.ModelTier]float64{
		core.TierMinimal:  0.0001,
		core.TierBalanced: 0.0005,
		core.TierFull:     0.002,
		core.TierUltra:    0.01,
	}[model.Tier]
	if perKTok == 0 {
		perKTok = 0.0005
	}
	return float64(tokensIn+tokensOut) / 1000.0 * perKTok
}
