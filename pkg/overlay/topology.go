package overlay

import (
	"sort"
	"time"
)

// TopologyEntry is one row of the Host's flat topology map, per spec.md
// §3: peerId -> {nextHop, depth, freeSlots, lastSeen}. Invariant I5:
// nextHop must be a current direct-children key.
type TopologyEntry struct {
	NextHop   PeerID
	Depth     int
	FreeSlots int
	LastSeen  time.Time
	State     string // "OK" | "SUSPECT" | "OFFLINE" — spec.md §9: only "OK" is emitted today.
}

// HostTopology is the Host's aggregated view of the whole tree, rebuilt
// incrementally from each child's SUBTREE_STATUS (spec.md §4.2). It may
// lag real state by up to one reporting interval.
type HostTopology struct {
	entries map[PeerID]*TopologyEntry
}

// NewHostTopology creates an empty topology map.
func NewHostTopology() *HostTopology {
	return &HostTopology{entries: make(map[PeerID]*TopologyEntry)}
}

// Upsert records or refreshes a descendant's topology entry.
func (t *HostTopology) Upsert(id PeerID, nextHop PeerID, depth, freeSlots int, now time.Time) {
	t.entries[id] = &TopologyEntry{NextHop: nextHop, Depth: depth, FreeSlots: freeSlots, LastSeen: now, State: "OK"}
}

// Get returns the entry for id, if any.
func (t *HostTopology) Get(id PeerID) (TopologyEntry, bool) {
	e, ok := t.entries[id]
	if !ok {
		return TopologyEntry{}, false
	}
	return *e, true
}

// EvictByNextHop removes every entry routed through nextHop — called when
// that direct child's connection closes (spec.md §4.2: "Evict entries
// whose nextHop connection closes").
func (t *HostTopology) EvictByNextHop(nextHop PeerID) {
	for id, e := range t.entries {
		if e.NextHop == nextHop || id == nextHop {
			delete(t.entries, id)
		}
	}
}

// Delete removes a single entry (used when a specific descendant is known
// to have left, e.g. via a rebind).
func (t *HostTopology) Delete(id PeerID) {
	delete(t.entries, id)
}

// Len reports the number of tracked descendants.
func (t *HostTopology) Len() int {
	return len(t.entries)
}

// candidate is an internal view used by SelectSeeds.
type candidate struct {
	id        PeerID
	depth     int
	freeSlots int
}

// SelectSeeds implements spec.md §4.1's "Seed/redirect selection (Host)":
// filter to {freeSlots>0 ∧ depth<maxDepth}, sort by (depth asc, freeSlots
// desc), weighted-shuffle so earlier (shallower/freer) entries are more
// likely to lead, then top up with a plain shuffle of direct children if
// fewer than minCount remain. Returns at most maxCount entries.
func (t *HostTopology) SelectSeeds(directChildren []PeerID, maxDepth, minCount, maxCount int, rng func(n int) int) []PeerID {
	var cands []candidate
	for id, e := range t.entries {
		if e.FreeSlots > 0 && e.Depth < maxDepth {
			cands = append(cands, candidate{id: id, depth: e.Depth, freeSlots: e.FreeSlots})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].depth != cands[j].depth {
			return cands[i].depth < cands[j].depth
		}
		return cands[i].freeSlots > cands[j].freeSlots
	})

	out := weightedShuffle(cands, rng)

	if len(out) < minCount {
		extra := shuffleStrings(directChildren, rng)
		for _, id := range extra {
			if len(out) >= minCount {
				break
			}
			if !containsID(out, id) {
				out = append(out, id)
			}
		}
	}
	if len(out) > maxCount {
		out = out[:maxCount]
	}
	return out
}

func containsID(list []PeerID, id PeerID) bool {
	for _, x := range list {
		if x == id {
			return true
		}
	}
	return false
}

// weightedShuffle gives earlier (shallower, freer) candidates higher
// weight while still shuffling, avoiding hotspots where every new peer is
// redirected to the single best-ranked candidate.
func weightedShuffle(cands []candidate, rng func(n int) int) []PeerID {
	pool := append([]candidate{}, cands...)
	out := make([]PeerID, 0, len(pool))
	for len(pool) > 0 {
		// Weight i-th remaining candidate (by rank) as (n-i); pick with
		// probability proportional to weight by drawing over the
		// triangular total and walking the cumulative sum.
		n := len(pool)
		total := n * (n + 1) / 2
		r := rng(total)
		cum := 0
		chosen := n - 1
		for i := 0; i < n; i++ {
			cum += n - i
			if r < cum {
				chosen = i
				break
			}
		}
		out = append(out, pool[chosen].id)
		pool = append(pool[:chosen], pool[chosen+1:]...)
	}
	return out
}

func shuffleStrings(in []PeerID, rng func(n int) int) []PeerID {
	out := append([]PeerID{}, in...)
	for i := len(out) - 1; i > 0; i-- {
		j := rng(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// --- Node-side subtree knowledge (spec.md §3, §4.2) ---

// NodeTopology tracks what a Node knows about its own subtree: each
// direct child's reported descendants and free-slot count, plus the
// derived descendant -> next-hop-child mapping used by the Router.
type NodeTopology struct {
	childDescendants map[PeerID][]DescendantInfo
	childCapacities  map[PeerID]int
	descendantToHop  map[PeerID]PeerID
}

// NewNodeTopology creates empty subtree bookkeeping.
func NewNodeTopology() *NodeTopology {
	return &NodeTopology{
		childDescendants: make(map[PeerID][]DescendantInfo),
		childCapacities:  make(map[PeerID]int),
		descendantToHop:  make(map[PeerID]PeerID),
	}
}

// RecordChildStatus ingests one child's SUBTREE_STATUS report.
func (nt *NodeTopology) RecordChildStatus(childID PeerID, freeSlots int, descendants []DescendantInfo) {
	nt.childDescendants[childID] = descendants
	nt.childCapacities[childID] = freeSlots
	for id, hop := range nt.descendantToHop {
		if hop == childID {
			delete(nt.descendantToHop, id)
		}
	}
	for _, d := range descendants {
		nt.descendantToHop[d.ID] = childID
	}
}

// DropChild removes all bookkeeping for a child whose connection closed.
func (nt *NodeTopology) DropChild(childID PeerID) {
	delete(nt.childDescendants, childID)
	delete(nt.childCapacities, childID)
	for id, hop := range nt.descendantToHop {
		if hop == childID {
			delete(nt.descendantToHop, id)
		}
	}
}

// NextHopFor returns the direct child through which descendantID is
// reachable, if known.
func (nt *NodeTopology) NextHopFor(descendantID PeerID) (PeerID, bool) {
	hop, ok := nt.descendantToHop[descendantID]
	return hop, ok
}

// BuildDescendants flattens this node's subtree knowledge into the
// descendants list a SUBTREE_STATUS report sends upward: each direct
// child at hops=1, plus every descendant of that child at hops+1.
func (nt *NodeTopology) BuildDescendants(children []PeerID, childFreeSlots map[PeerID]int) []DescendantInfo {
	var out []DescendantInfo
	for _, c := range children {
		out = append(out, DescendantInfo{ID: c, Hops: 1, FreeSlots: childFreeSlots[c]})
		for _, d := range nt.childDescendants[c] {
			out = append(out, DescendantInfo{ID: d.ID, Hops: d.Hops + 1, FreeSlots: d.FreeSlots})
		}
	}
	return out
}

// SubtreeCount computes "1 + reportedDirectChildren + Σ|childDescendants|"
// (spec.md §4.2 / P7), or for REBIND_REQUEST, "1 + |children| +
// Σ|childDescendants|" (spec.md §4.7 / P8) — both are the same formula
// from this node's own perspective.
func (nt *NodeTopology) SubtreeCount(children []PeerID) int {
	count := 1 + len(children)
	for _, c := range children {
		count += len(nt.childDescendants[c])
	}
	return count
}

// DescendantsOfChild returns the raw reported descendant list for one
// direct child, used by the Cousin Manager to find same-hop candidates.
func (nt *NodeTopology) DescendantsOfChild(childID PeerID) []DescendantInfo {
	return nt.childDescendants[childID]
}

// Children returns the set of known direct-child keys (those with a
// recorded report), used by buildRedirectList and the TopologySize metric.
func (nt *NodeTopology) Children() []PeerID {
	out := make([]PeerID, 0, len(nt.childDescendants))
	for c := range nt.childDescendants {
		out = append(out, c)
	}
	return out
}
