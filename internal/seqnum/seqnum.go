// Package seqnum owns the process-global outbound sequence counter
// spec.md §4.5/§5 describes: the only cross-session writable state,
// atomic-monotonic across every session on the worker.
package seqnum

import "sync/atomic"

// Counter is a strictly-increasing, process-wide sequence generator.
type Counter struct {
	value atomic.Uint64
}

// Global is the single process-scoped counter every ProviderSession shares.
var Global = &Counter{}

// Next returns the next sequence number, starting at 1.
func (c *Counter) Next() uint64 {
	return c.value.Add(1)
}

// Current returns the most recently issued value without advancing it.
func (c *Counter) Current() uint64 {
	return c.value.Load()
}
