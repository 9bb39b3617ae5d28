package schedule

import "sync"

// Cursor is the round-robin rotation pointer into the configured-provider
// list. It remembers the position of the last assignment; Next advances
// exactly once per task assignment and never on a retry of the same task.
//
// The admission loop peeks before it commits, so Peek computes the
// would-be next provider without persisting and only Next stores the
// advance, so a peek followed by a Next cannot double-advance.
type Cursor struct {
	mu  sync.Mutex
	pos int
}

// Next advances the cursor modulo len(providers) and returns the provider
// at the new position. A single-provider set short-circuits without
// mutating the cursor. Returns false for an empty set.
func (c *Cursor) Next(providers []string) (string, bool) {
	if len(providers) == 0 {
		return "", false
	}
	if len(providers) == 1 {
		return providers[0], true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = (c.pos + 1) % len(providers)
	return providers[c.pos], true
}

// Peek returns the provider Next would return, without persisting.
func (c *Cursor) Peek(providers []string) (string, bool) {
	if len(providers) == 0 {
		return "", false
	}
	if len(providers) == 1 {
		return providers[0], true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return providers[(c.pos+1)%len(providers)], true
}

// Current returns the provider at the cursor's present position. Used by
// rate-limit retries, which re-resolve their assignment against fresh
// settings but do not re-rotate.
func (c *Cursor) Current(providers []string) (string, bool) {
	if len(providers) == 0 {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return providers[c.pos%len(providers)], true
}

// Position returns the raw cursor index, for diagnostics.
func (c *Cursor) Position() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}
