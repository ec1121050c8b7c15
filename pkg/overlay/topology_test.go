package overlay

import (
	"testing"
	"time"
)

func TestHostTopologyUpsertAndGet(t *testing.T) {
	top := NewHostTopology()
	now := time.Now()
	top.Upsert("peer-a", "child-1", 2, 3, now)

	entry, ok := top.Get("peer-a")
	if !ok {
		t.Fatal("Get(\"peer-a\") not found after Upsert")
	}
	if entry.NextHop != "child-1" || entry.Depth != 2 || entry.FreeSlots != 3 {
		t.Fatalf("entry = %+v, want NextHop=child-1 Depth=2 FreeSlots=3", entry)
	}
	if entry.State != "OK" {
		t.Errorf("State = %q, want OK", entry.State)
	}
}

func TestHostTopologyEvictByNextHop(t *testing.T) {
	top := NewHostTopology()
	now := time.Now()
	top.Upsert("descendant-1", "child-1", 2, 1, now)
	top.Upsert("descendant-2", "child-1", 2, 1, now)
	top.Upsert("descendant-3", "child-2", 2, 1, now)

	top.EvictByNextHop("child-1")

	if _, ok := top.Get("descendant-1"); ok {
		t.Error("descendant-1 still present after evicting its nextHop child-1")
	}
	if _, ok := top.Get("descendant-2"); ok {
		t.Error("descendant-2 still present after evicting its nextHop child-1")
	}
	if _, ok := top.Get("descendant-3"); !ok {
		t.Error("descendant-3 routed through a different child was evicted too")
	}
}

func TestSelectSeedsFiltersFullAndTooDeep(t *testing.T) {
	top := NewHostTopology()
	now := time.Now()
	top.Upsert("full", "c1", 1, 0, now)   // no free slots: excluded
	top.Upsert("deep", "c1", 5, 2, now)   // too deep: excluded
	top.Upsert("good", "c1", 1, 2, now)   // eligible

	seeds := top.SelectSeeds(nil, 3 /* maxDepth */, 0, 10, func(n int) int { return 0 })

	if len(seeds) != 1 || seeds[0] != "good" {
		t.Fatalf("SelectSeeds = %v, want only [good]", seeds)
	}
}

func TestSelectSeedsTopsUpFromDirectChildren(t *testing.T) {
	top := NewHostTopology()
	// No eligible topology entries at all.
	seeds := top.SelectSeeds([]PeerID{"c1", "c2"}, 3, 2, 10, func(n int) int { return 0 })
	if len(seeds) != 2 {
		t.Fatalf("SelectSeeds = %v, want 2 entries topped up from direct children", seeds)
	}
}

func TestSelectSeedsRespectsMaxCount(t *testing.T) {
	top := NewHostTopology()
	now := time.Now()
	for i := 0; i < 5; i++ {
		top.Upsert(PeerID(string(rune('a'+i))), "c1", 1, 1, now)
	}
	seeds := top.SelectSeeds(nil, 3, 0, 2, func(n int) int { return 0 })
	if len(seeds) != 2 {
		t.Fatalf("SelectSeeds returned %d entries, want capped at maxCount=2", len(seeds))
	}
}

func TestNodeTopologyRecordAndDropChild(t *testing.T) {
	nt := NewNodeTopology()
	nt.RecordChildStatus("child-1", 3, []DescendantInfo{{ID: "gc-1", Hops: 1, FreeSlots: 2}})

	if hop, ok := nt.NextHopFor("gc-1"); !ok || hop != "child-1" {
		t.Fatalf("NextHopFor(gc-1) = (%v, %v), want (child-1, true)", hop, ok)
	}

	nt.DropChild("child-1")
	if _, ok := nt.NextHopFor("gc-1"); ok {
		t.Error("NextHopFor(gc-1) still resolves after DropChild(child-1)")
	}
}

func TestNodeTopologySubtreeCount(t *testing.T) {
	nt := NewNodeTopology()
	nt.RecordChildStatus("child-1", 3, []DescendantInfo{
		{ID: "gc-1", Hops: 1, FreeSlots: 2},
		{ID: "gc-2", Hops: 1, FreeSlots: 2},
	})
	nt.RecordChildStatus("child-2", 1, nil)

	count := nt.SubtreeCount([]PeerID{"child-1", "child-2"})
	// self(1) + direct children(2) + child-1's descendants(2) = 5
	if count != 5 {
		t.Fatalf("SubtreeCount = %d, want 5", count)
	}
}

func TestNodeTopologyBuildDescendants(t *testing.T) {
	nt := NewNodeTopology()
	nt.RecordChildStatus("child-1", 3, []DescendantInfo{{ID: "gc-1", Hops: 1, FreeSlots: 2}})

	out := nt.BuildDescendants([]PeerID{"child-1"}, map[PeerID]int{"child-1": 3})
	if len(out) != 2 {
		t.Fatalf("BuildDescendants returned %d entries, want 2 (direct child + its descendant)", len(out))
	}
	if out[0].ID != "child-1" || out[0].Hops != 1 {
		t.Errorf("out[0] = %+v, want {ID:child-1 Hops:1}", out[0])
	}
	if out[1].ID != "gc-1" || out[1].Hops != 2 {
		t.Errorf("out[1] = %+v, want {ID:gc-1 Hops:2} (nested one hop deeper)", out[1])
	}
}
