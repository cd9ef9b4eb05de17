package engine

import (
	"sync"
	"time"
)

type cooldownEntry struct {
	invoked   bool
	invokedAt time.Time
}

// cooldownTable holds the per-rule cooldown flags of one engine, keyed by
// rule id. It lives beside the cached rules, never inside them, so the
// flags cannot leak into a stored rule.
type cooldownTable struct {
	mu      sync.RWMutex
	entries map[int64]*cooldownEntry
}

func newCooldownTable() *cooldownTable {
	return &cooldownTable{entries: make(map[int64]*cooldownEntry)}
}

// Reset replaces the table with one entry per rule id, none invoked
func (t *cooldownTable) Reset(ruleIDs []int64) {
	entries := make(map[int64]*cooldownEntry, len(ruleIDs))
	for _, id := range ruleIDs {
		entries[id] = &cooldownEntry{}
	}

	t.mu.Lock()
	t.entries = entries
	t.mu.Unlock()
}

// IsInvoked reports whether the rule is cooling down
func (t *cooldownTable) IsInvoked(ruleID int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.entries[ruleID]
	return ok && entry.invoked
}

// MarkInvoked engages cooldown for the rule until the next Reset
func (t *cooldownTable) MarkInvoked(ruleID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[ruleID]
	if !ok {
		entry = &cooldownEntry{}
		t.entries[ruleID] = entry
	}
	entry.invoked = true
	entry.invokedAt = time.Now()
}

// Snapshot returns a copy of the flags
func (t *cooldownTable) Snapshot() map[int64]bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[int64]bool, len(t.entries))
	for id, entry := range t.entries {
		out[id] = entry.invoked
	}
	return out
}

// Active returns how many rules are cooling down
func (t *cooldownTable) Active() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, entry := range t.entries {
		if entry.invoked {
			n++
		}
	}
	return n
}
