package core

import "time"

// BlackboardEntry is one keyed value in the shared Blackboard (spec §3).
// Keys are unique; the last write wins; values are opaque JSON-like data.
type BlackboardEntry struct {
	Key         string
	Value       interface{}
	WriterAgent string
	Timestamp   time.Time
}

// CostRecord is one append-only ledger entry for an LLM call, tool call,
// or agent operation (spec §3/§4.10).
type CostRecord struct {
	Timestamp      time.Time
	Operation      string
	DurationMs     int64
	TokensIn       int
	TokensOut      int
	VirtualCostUsd float64
	Metadata       map[string]interface{}
}
