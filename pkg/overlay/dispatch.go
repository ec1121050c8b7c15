package overlay

// handleEnvelope is the single entry point for every inbound message,
// always running on the actor loop. It applies the universal drop rules
// of spec.md §4.3 before any kind-specific handling: (a) gameId mismatch,
// (b) duplicate msgId.
func (p *Peer) handleEnvelope(c Conn, env Envelope) {
	if env.GameID != p.gameID {
		p.logSometimes.Do(func() {
			p.log.Warn("dropping envelopes with mismatched gameId", "kind", env.T, "src", env.Src)
		})
		return
	}
	if p.dedup.CheckAndAdd(env.MsgID) {
		p.metrics.DedupDrops.Inc()
		return
	}

	switch env.T {
	case KindJoinRequest:
		p.handleJoinRequest(c, env)
	case KindJoinAccept:
		p.handleJoinAccept(c, env)
	case KindJoinReject:
		p.handleJoinReject(c, env)
	case KindAttachRequest:
		p.handleAttachRequest(c, env)
	case KindAttachAccept:
		p.handleAttachAccept(c, env)
	case KindAttachReject:
		p.handleAttachReject(c, env)
	case KindRain:
		p.handleRain(c, env)
	case KindSubtreeStatus:
		p.handleSubtreeStatus(c, env)
	case KindReqCousins:
		p.handleReqCousins(c, env)
	case KindCousins:
		p.routeOrDeliver(c, env, p.handleCousins)
	case KindReqState:
		p.routeOrDeliver(c, env, p.handleReqState)
	case KindState:
		p.routeOrDeliver(c, env, p.handleState)
	case KindRebindRequest:
		p.routeOrDeliver(c, env, p.handleRebindRequest)
	case KindRebindAssign:
		p.routeOrDeliver(c, env, p.handleRebindAssign)
	case KindGameEvent:
		p.handleGameEvent(c, env)
	case KindGameCmd:
		p.routeOrDeliver(c, env, p.handleGameCmd)
	case KindGameAck:
		// Reserved per spec.md §6.1; no behavior defined.
	case KindReqPayload:
		p.routeOrDeliver(c, env, p.handleReqPayload)
	case KindPayload:
		p.routeOrDeliver(c, env, p.handlePayload)
	case KindPing:
		p.routeOrDeliver(c, env, p.handlePing)
	case KindPong:
		p.routeOrDeliver(c, env, p.handlePong)
	case KindAck:
		p.routeOrDeliver(c, env, p.handleAck)
	default:
		p.log.Debug("dropping envelope with unknown kind", "kind", env.T)
	}
}

func (p *Peer) hasChild(id PeerID) bool {
	_, ok := p.children[id]
	return ok
}

func (p *Peer) nextHopFor(dest PeerID) (PeerID, bool) {
	if p.isHost {
		e, ok := p.hostTopology.Get(dest)
		return e.NextHop, ok
	}
	if p.nodeTopology == nil {
		return "", false
	}
	return p.nodeTopology.NextHopFor(dest)
}

func (p *Peer) connRole(c Conn) (fromParent, fromChild, fromCousin bool) {
	if p.parent != nil && p.parent == c {
		return true, false, false
	}
	if existing, ok := p.children[c.RemoteID()]; ok && existing == c {
		return false, true, false
	}
	if existing, ok := p.cousins[c.RemoteID()]; ok && existing == c {
		return false, false, true
	}
	return false, false, false
}

// routeOrDeliver implements spec.md §4.3's addressing rules for any
// message carrying an explicit dest (unicast or HostSentinel): resolve
// whether this peer is the final recipient, a forwarder toward a child,
// or a forwarder toward the parent, and act accordingly. Cousin-sourced
// messages are never relayed further (I7-adjacent rule).
//
// Replies built by BuildReplyRoute (STATE, REBIND_ASSIGN, PAYLOAD, PONG,
// ACK, COUSINS) carry no dest at all, only a route vector to retrace —
// so before treating a dest-less envelope as addressed to self, check
// whether self still has a next hop to forward it to.
func (p *Peer) routeOrDeliver(c Conn, env Envelope, deliver func(Envelope)) {
	fromParent, _, fromCousin := p.connRole(c)

	if env.Dest == "" {
		if hop, ok := nextHopInRoute(env.Route, p.id); ok {
			p.sendToRouteHop(hop, env)
			return
		}
		deliver(env)
		return
	}

	if fromParent {
		action, hop := ResolveDownstream(p.id, env.Route, env.Dest, p.hasChild, p.nextHopFor)
		switch action {
		case RouteDeliverLocal:
			deliver(env)
		case RouteForwardChild:
			p.forwardToChild(hop, env)
		default:
			p.forwardToParent(env)
		}
		return
	}

	action := ResolveUpstream(p.id, env.Dest, fromCousin, p.isHost)
	switch action {
	case RouteDeliverLocal:
		deliver(env)
	case RouteForwardParent:
		p.forwardToParent(env)
	default:
		p.log.Debug("dropping cousin-sourced unicast", "dest", env.Dest, "src", env.Src)
	}
}

func (p *Peer) forwardToChild(hop PeerID, env Envelope) {
	c, ok := p.children[hop]
	if !ok {
		p.forwardToParent(env)
		return
	}
	env.AppendPath(p.id)
	if err := p.send(c, env); err != nil {
		p.log.Warn("forward to child failed", "hop", hop, "error", err)
	}
}

func (p *Peer) forwardToParent(env Envelope) {
	if p.parent == nil {
		p.log.Debug("dropping unroutable message, no parent fallback", "kind", env.T, "dest", env.Dest)
		return
	}
	env.AppendPath(p.id)
	if err := p.send(p.parent, env); err != nil {
		p.log.Warn("forward to parent failed", "error", err)
	}
}

// broadcastToChildren fans a link-local or freshly-originated message out
// to every direct child concurrently, bounded the same way the teacher
// bounds concurrent dials in peermanager.go (maxConcurrentDials).
func (p *Peer) broadcastToChildren(build func(childID PeerID) Envelope) {
	if len(p.children) == 0 {
		return
	}
	g := newBoundedGroup(4)
	for id, c := range p.children {
		id, c := id, c
		g.Go(func() error {
			return p.send(c, build(id))
		})
	}
	if err := g.Wait(); err != nil {
		p.log.Warn("broadcast to children had failures", "error", err)
	}
}
