package overlay

import "golang.org/x/sync/errgroup"

// newBoundedGroup wraps errgroup.Group with a concurrency cap, used
// anywhere the engine fans a send out to several connections at once
// (broadcastToChildren, RAIN, GAME_EVENT) so a slow or wedged transport
// write on one connection can't serialize behind an unbounded goroutine
// burst.
func newBoundedGroup(limit int) *errgroup.Group {
	var g errgroup.Group
	g.SetLimit(limit)
	return &g
}
