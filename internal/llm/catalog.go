// Package llm implements the LLM Client Pool (spec §4.8): tiered model
// selection, batching, streaming, and retries against an OpenAI-compatible
// backend. Replaces the teacher's subprocess-CLI adapters
// (internal/adapters/cli/*) with an HTTP/SSE client, keeping the base
// adapter's streaming-line-parse and error-classification idiom.
package llm

import "github.com/quorumforge/aiorch/internal/core"

// Catalog is the static {tier -> ordered list of models} map spec §4.8
// describes. Order matters: index 0 of a tier is its primary model; the
// remainder is the fallback chain.
type Catalog map[core.ModelTier][]core.ModelHandle

// Primary returns the first (primary) model of tier, if any.
func (c Catalog) Primary(tier core.ModelTier) (core.ModelHandle, bool) {
	models := c[tier]
	if len(models) == 0 {
		return core.ModelHandle{}, false
	}
	return models[0], true
}

// PreferredFor returns the first loaded model in tier whose capabilities
// include cap (spec §4.7 routing step 2: "task-type -> preferred
// capability -> first loaded model in the active tier whose capabilities
// include that").
func (c Catalog) PreferredFor(tier core.ModelTier, cap core.Capability) (core.ModelHandle, bool) {
	for _, m := range c[tier] {
		if m.Loaded && m.HasCapability(cap) {
			return m, true
		}
	}
	return core.ModelHandle{}, false
}

// Find returns the ModelHandle for id across every tier.
func (c Catalog) Find(id string) (core.ModelHandle, bool) {
	for _, models := range c {
		for _, m := range models {
			if m.ID == id {
				return m, true
			}
		}
	}
	return core.ModelHandle{}, false
}

// Fallback returns the next model to try after failed fails: the first
// other entry sharing failed's family (any tier), else the active tier's
// primary (grounded on original_source/core/router.py's get_fallback():
// "search models sharing the failed model's family for an alternative
// recommended runtime before falling back to a hardcoded default").
func (c Catalog) Fallback(failed core.ModelHandle, activeTier core.ModelTier) (core.ModelHandle, bool) {
	for _, models := range c {
		for _, m := range models {
			if m.ID != failed.ID && m.Family == failed.Family && m.Loaded {
				return m, true
			}
		}
	}
	if p, ok := c.Primary(activeTier); ok && p.ID != failed.ID {
		return p, true
	}
	return core.ModelHandle{}, false
}
