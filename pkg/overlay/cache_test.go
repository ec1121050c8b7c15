package overlay

import (
	"encoding/json"
	"testing"
)

func ev(t *testing.T, body string) GameEvent {
	t.Helper()
	return GameEvent{Type: "tick", Data: json.RawMessage(body)}
}

func TestEventCachePutEvictsOldest(t *testing.T) {
	c := NewEventCache(3)
	for seq := uint64(1); seq <= 5; seq++ {
		c.Put(seq, ev(t, "{}"))
	}
	if got := c.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}
	if got := c.GetMinSeq(); got != 3 {
		t.Fatalf("GetMinSeq() = %d, want 3 (1 and 2 evicted)", got)
	}
}

func TestEventCachePutRejectsNonIncreasingSeq(t *testing.T) {
	c := NewEventCache(10)
	c.Put(5, ev(t, "{}"))
	c.Put(5, ev(t, "{}"))
	c.Put(3, ev(t, "{}"))
	if got := c.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1 (equal/lower seq must be rejected)", got)
	}
}

func TestEventCacheZeroCapacityNeverRetains(t *testing.T) {
	c := NewEventCache(0)
	c.Put(1, ev(t, "{}"))
	if got := c.Len(); got != 0 {
		t.Fatalf("Len() = %d, want 0 for zero-capacity cache", got)
	}
	if c.Truncated(0) {
		t.Error("Truncated(0) = true, want false for an empty cache (min seq 0 is not > 0+1)")
	}
}

func TestEventCacheGetEventsAfter(t *testing.T) {
	c := NewEventCache(10)
	for seq := uint64(1); seq <= 4; seq++ {
		c.Put(seq, ev(t, "{}"))
	}
	out := c.GetEventsAfter(2)
	if len(out) != 2 {
		t.Fatalf("GetEventsAfter(2) returned %d entries, want 2", len(out))
	}
	if out[0].Seq != 3 || out[1].Seq != 4 {
		t.Fatalf("GetEventsAfter(2) = %v, want seqs [3 4]", out)
	}
}

func TestEventCacheTruncated(t *testing.T) {
	c := NewEventCache(2)
	for seq := uint64(1); seq <= 4; seq++ {
		c.Put(seq, ev(t, "{}")) // evicts 1, then 2; min becomes 3
	}
	if !c.Truncated(1) {
		t.Error("Truncated(1) = false, want true: seq 2 was evicted")
	}
	if c.Truncated(2) {
		t.Error("Truncated(2) = true, want false: nothing between 2 and min(3) is missing")
	}
}

func TestEventCacheDigestFor(t *testing.T) {
	c := NewEventCache(10)
	e := ev(t, `{"x":1}`)
	c.Put(1, e)
	d := c.DigestFor(1)
	if d.Hex == "" {
		t.Fatal("DigestFor(1) returned a zero digest for a cached entry")
	}
	if got := c.DigestFor(99); got.Hex != "" {
		t.Errorf("DigestFor(99) = %+v, want zero value for an uncached seq", got)
	}
}
