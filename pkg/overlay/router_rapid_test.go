package overlay

import (
	"testing"

	"pgregory.net/rapid"
)

// TestReversePathInvolution checks I7's reverse(reverse(path)) == path
// invariant over arbitrarily shaped path vectors, rather than a handful
// of hand-picked cases.
func TestReversePathInvolution(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 12).Draw(rt, "n")
		path := make([]string, n)
		for i := range path {
			path[i] = rapid.StringMatching(`[a-z]{1,8}`).Draw(rt, "hop")
		}
		roundTripped := ReversePath(ReversePath(path))
		if len(roundTripped) != len(path) {
			rt.Fatalf("length changed: got %d, want %d", len(roundTripped), len(path))
		}
		for i := range path {
			if roundTripped[i] != path[i] {
				rt.Fatalf("ReversePath(ReversePath(%v))[%d] = %q, want %q", path, i, roundTripped[i], path[i])
			}
		}
	})
}

// TestResolveDownstreamNeverPicksAnUnownedChild asserts ResolveDownstream
// only ever returns RouteForwardChild for a hop hasChild actually reports
// true for — across randomly generated route vectors, child sets, and
// destinations — since forwardToChild, handed a child the peer doesn't
// hold, silently falls back to the parent instead of reaching dest.
func TestResolveDownstreamNeverPicksAnUnownedChild(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		self := PeerID("self")
		dest := rapid.StringMatching(`[a-z]{1,6}`).Draw(rt, "dest")

		routeLen := rapid.IntRange(0, 6).Draw(rt, "routeLen")
		route := make([]string, routeLen)
		for i := range route {
			route[i] = rapid.StringMatching(`self|[a-z]{1,6}`).Draw(rt, "hop")
		}

		childCount := rapid.IntRange(0, 4).Draw(rt, "childCount")
		children := make(map[PeerID]bool, childCount)
		for i := 0; i < childCount; i++ {
			children[PeerID(rapid.StringMatching(`[a-z]{1,6}`).Draw(rt, "child"))] = true
		}
		hasChild := func(id PeerID) bool { return children[id] }

		descHop := rapid.StringMatching(`[a-z]{1,6}`).Draw(rt, "descHop")
		descOK := rapid.Bool().Draw(rt, "descOK")
		nextHopFor := func(PeerID) (PeerID, bool) { return PeerID(descHop), descOK }

		action, hop := ResolveDownstream(self, route, PeerID(dest), hasChild, nextHopFor)
		if action == RouteForwardChild && !hasChild(hop) {
			rt.Fatalf("ResolveDownstream returned RouteForwardChild to %q, which hasChild reports false for", hop)
		}
	})
}
