// Package calt implements the Cost/Latency Ledger (spec §4.10): an
// append-only log of every LLM call, tool call, and agent operation,
// persisted through the same SQLite layer as the Project/Workflow tables
// (internal/storage.CostRepo) and grounded on the token-count fields
// already carried by core.Workflow's step results.
package calt

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/quorumforge/aiorch/internal/core"
	"github.com/quorumforge/aiorch/internal/storage"
)

// Ledger appends CostRecords and renders them for logs/summaries.
// Aggregation queries beyond per-day totals are out of scope (spec §4.10).
type Ledger struct {
	repo *storage.CostRepo
}

// New constructs a Ledger over repo.
func New(repo *storage.CostRepo) *Ledger {
	return &Ledger{repo: repo}
}

// Record appends one CostRecord (P7: exactly one per LLM call, written
// before control returns to the caller of generate).
func (l *Ledger) Record(ctx context.Context, operation string, duration time.Duration, tokensIn, tokensOut int, virtualCostUsd float64, metadata map[string]interface{}) error {
	return l.repo.Append(ctx, core.CostRecord{
		Timestamp:      time.Now(),
		Operation:      operation,
		DurationMs:     duration.Milliseconds(),
		TokensIn:       tokensIn,
		TokensOut:      tokensOut,
		VirtualCostUsd: virtualCostUsd,
		Metadata:       metadata,
	})
}

// DaySummary aggregates every CostRecord logged on day (YYYY-MM-DD, UTC)
// into totals, for operational reporting — not a spec-mandated query, but
// the natural read-side of an append-only day-partitioned log.
type DaySummary struct {
	Day         string
	Operations  int
	TokensIn    int
	TokensOut   int
	TotalCostUsd float64
	TotalDuration time.Duration
}

// String renders a human-readable one-line summary using go-humanize for
// token counts and elapsed duration.
func (s DaySummary) String() string {
	return humanize.Comma(int64(s.Operations)) + " ops, " +
		humanize.Comma(int64(s.TokensIn)) + " in / " + humanize.Comma(int64(s.TokensOut)) + " out tokens, " +
		"$" + humanize.FormatFloat("#,###.####", s.TotalCostUsd) + ", " +
		humanize.RelTime(time.Now().Add(-s.TotalDuration), time.Now(), "elapsed", "")
}

// Summarize reads every CostRecord for day and totals them.
func (l *Ledger) Summarize(ctx context.Context, day string) (DaySummary, error) {
	records, err := l.repo.ForDay(ctx, day)
	if err != nil {
		return DaySummary{}, err
	}
	s := DaySummary{Day: day}
	for _, r := range records {
		s.Operations++
		s.TokensIn += r.TokensIn
		s.TokensOut += r.TokensOut
		s.TotalCostUsd += r.VirtualCostUsd
		s.TotalDuration += time.Duration(r.DurationMs) * time.Millisecond
	}
	return s, nil
}
