package jwtvalidation

import "sync/atomic"

// SecurityEventCounter tracks every validation outcome by EventType. The
// enumeration is closed (eventTypeCount values), so counters live in a
// fixed-size array of atomics rather than a concurrent map: the hot path
// is a single atomic add with no insertion, no locking, ever.
type SecurityEventCounter struct {
	counters [eventTypeCount]atomic.Uint64
}

// NewSecurityEventCounter returns a counter with every event type at zero.
func NewSecurityEventCounter() *SecurityEventCounter {
	return &SecurityEventCounter{}
}

// Increment bumps the counter for t and returns its new value.
func (c *SecurityEventCounter) Increment(t EventType) uint64 {
	if t < 0 || t >= eventTypeCount {
		return 0
	}
	return c.counters[t].Add(1)
}

// Count returns the current value for t.
func (c *SecurityEventCounter) Count(t EventType) uint64 {
	if t < 0 || t >= eventTypeCount {
		return 0
	}
	return c.counters[t].Load()
}

// Snapshot returns a point-in-time copy of every non-zero counter. Reading
// is not linearizable across the whole map, matching §5's "consistent but
// not linearizable snapshot" guarantee.
func (c *SecurityEventCounter) Snapshot() map[EventType]uint64 {
	out := make(map[EventType]uint64)
	for i := EventType(0); i < eventTypeCount; i++ {
		if v := c.counters[i].Load(); v != 0 {
			out[i] = v
		}
	}
	return out
}

// Reset zeros a single event type. Test-only per the component contract.
func (c *SecurityEventCounter) Reset(t EventType) {
	if t < 0 || t >= eventTypeCount {
		return
	}
	c.counters[t].Store(0)
}
