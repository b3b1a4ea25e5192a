// Package blackboard implements the shared Blackboard keyed store and the
// message Bus the Agent Swarm Dispatcher and Workflow Engine coordinate
// through (spec §4.9). Per spec §9's explicit redesign note, the
// Blackboard is a local read-many/write-one mutex-guarded map, not the
// source's Redis HSET — the envelope shape in core.BlackboardEntry already
// matches spec §3, so no field is added here.
package blackboard

import (
	"sync"
	"time"

	"github.com/quorumforge/aiorch/internal/core"
)

// Blackboard is the shared keyed store agents publish intermediate
// artifacts to (spec §4.9). Keys are unique; the last write wins; there is
// no TTL.
type Blackboard struct {
	mu      sync.RWMutex
	entries map[string]core.BlackboardEntry
}

// New constructs an empty Blackboard.
func New() *Blackboard {
	return &Blackboard{entries: make(map[string]core.BlackboardEntry)}
}

// Write stores value under key, overwriting any prior entry (last write
// wins). writer identifies the agent or node that produced the value.
func (b *Blackboard) Write(key string, value interface{}, writer string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = core.BlackboardEntry{
		Key:         key,
		Value:       value,
		WriterAgent: writer,
		Timestamp:   time.Now(),
	}
}

// Read returns the entry stored under key, if any.
func (b *Blackboard) Read(key string) (core.BlackboardEntry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[key]
	return e, ok
}

// Snapshot returns a copy of every entry currently held.
func (b *Blackboard) Snapshot() map[string]core.BlackboardEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]core.BlackboardEntry, len(b.entries))
	for k, v := range b.entries {
		out[k] = v
	}
	return out
}
