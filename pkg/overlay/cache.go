package overlay

import "sync"

// EventCache is the bounded FIFO cache of {seq, event} pairs kept by both
// roles (Host ≤ 100, Node default 20), per spec.md §4.4. Entries are
// appended in strictly increasing seq order; once full, the oldest entry
// is evicted. A zero-capacity cache (NodeEventCacheSize configured to 0,
// per spec.md §3) never retains anything: GetEventsAfter returns no
// entries, GetMinSeq returns 0, and Truncated therefore reports false.
type EventCache struct {
	mu       sync.Mutex
	capacity int
	entries  []CachedEvent
	digests  map[uint64]Digest
}

// NewEventCache creates a cache bounded to capacity entries.
func NewEventCache(capacity int) *EventCache {
	return &EventCache{capacity: capacity, digests: make(map[uint64]Digest)}
}

// Put appends a new cached event, evicting the oldest if full. It is a
// no-op if seq is not strictly greater than the last cached seq —
// callers are expected to already have deduped by lastGameSeq, so this is
// a defensive invariant check (I4: sequences are monotonic end-to-end).
func (c *EventCache) Put(seq uint64, event GameEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capacity <= 0 {
		return
	}
	if len(c.entries) > 0 && seq <= c.entries[len(c.entries)-1].Seq {
		return
	}
	c.entries = append(c.entries, CachedEvent{Seq: seq, Event: event})
	c.digests[seq] = DigestEvent(event)
	if len(c.entries) > c.capacity {
		stale := c.entries[0].Seq
		c.entries = c.entries[1:]
		delete(c.digests, stale)
	}
}

// GetEventsAfter returns all cached entries with seq > fromSeq, in order.
func (c *EventCache) GetEventsAfter(fromSeq uint64) []CachedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CachedEvent, 0, len(c.entries))
	for _, e := range c.entries {
		if e.Seq > fromSeq {
			out = append(out, e)
		}
	}
	return out
}

// GetMinSeq returns the smallest cached seq, or 0 if the cache is empty.
func (c *EventCache) GetMinSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return 0
	}
	return c.entries[0].Seq
}

// Truncated reports whether a STATE response built from fromSeq would be
// missing entries, per spec.md §4.4: "truncated iff getMinSeq() > fromSeq+1".
func (c *EventCache) Truncated(fromSeq uint64) bool {
	min := c.GetMinSeq()
	return min > fromSeq+1
}

// DigestFor returns the content digest stamped on a cached entry, or the
// zero Digest if seq is not currently cached.
func (c *EventCache) DigestFor(seq uint64) Digest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.digests[seq]
}

// Len reports the number of currently cached entries.
func (c *EventCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
