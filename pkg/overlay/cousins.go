package overlay

import "context"

// sendReqCousins implements spec.md §4.6 "Discovery": after attaching at
// depth > 1, ask the parent for up to two same-depth candidates in a
// disjoint subtree.
func (p *Peer) sendReqCousins() {
	if p.parent == nil {
		return
	}
	env := p.envelope(KindReqCousins, "")
	body, _ := EncodeBody(ReqCousinsBody{RequesterDepth: p.myDepth, DesiredCount: p.cfg.MaxCousins})
	env.Body = body
	env.AppendPath(p.id)
	p.send(p.parent, env)
}

// handleReqCousins runs on an ancestor A asked by descendant R (at depth
// requesterDepth) for lateral candidates, per spec.md §4.6. The path so
// far tells A which of its children's subtrees R is attached under (the
// first entry after A's own position once path is reversed would be that
// child, but more directly: it's whichever child relayed this message to
// A, i.e. env.Src if A has no grandchildren forwarding, or simpler — the
// sender c.RemoteID() when this arrived from a direct child).
func (p *Peer) handleReqCousins(c Conn, env Envelope) {
	var body ReqCousinsBody
	if err := env.DecodeBody(&body); err != nil {
		return
	}

	requesterHops := body.RequesterDepth - p.myDepth
	excludeChild := c.RemoteID()

	candidates := p.collectCousinCandidates(requesterHops, body.DesiredCount, excludeChild)
	if len(candidates) > 0 {
		reply := p.envelope(KindCousins, "")
		reply.Route = BuildReplyRoute(p.id, env.Path)
		rb, _ := EncodeBody(CousinsBody{Candidates: candidates})
		reply.Body = rb
		p.send(c, reply)
		return
	}

	if p.parent == nil {
		// A is Host: no candidates anywhere above it.
		reply := p.envelope(KindCousins, "")
		reply.Route = BuildReplyRoute(p.id, env.Path)
		rb, _ := EncodeBody(CousinsBody{Candidates: nil})
		reply.Body = rb
		p.send(c, reply)
		return
	}

	// Strict-forward per spec.md §9's resolved Open Question: relay
	// upward rather than merging local (empty) results with ancestors'.
	fwd := env
	fwd.AppendPath(p.id)
	p.send(p.parent, fwd)
}

// collectCousinCandidates implements the per-uncle-branch grouping rule:
// for each child other than excludeChild, gather its reported descendants
// at the matching hop count (plus the child itself at hops==1), pick one
// random candidate per branch, shuffle, and cap at desiredCount.
func (p *Peer) collectCousinCandidates(requesterHops, desiredCount int, excludeChild PeerID) []CousinCandidate {
	if p.nodeTopology == nil && !p.isHost {
		return nil
	}

	var perBranch []PeerID
	children := p.childIDs()
	for _, child := range children {
		if child == excludeChild {
			continue
		}
		var branchCands []PeerID
		if requesterHops == 1 {
			branchCands = append(branchCands, child)
		}
		if p.nodeTopology != nil {
			for _, d := range p.nodeTopology.DescendantsOfChild(child) {
				if d.Hops == requesterHops {
					branchCands = append(branchCands, d.ID)
				}
			}
		}
		if len(branchCands) > 0 {
			perBranch = append(perBranch, branchCands[p.rng.Intn(len(branchCands))])
		}
	}

	perBranch = shuffleStrings(perBranch, p.rng.Intn)
	if len(perBranch) > desiredCount {
		perBranch = perBranch[:desiredCount]
	}

	out := make([]CousinCandidate, 0, len(perBranch))
	for _, id := range perBranch {
		out = append(out, CousinCandidate{ID: id, Hops: requesterHops})
	}
	return out
}

// handleCousins runs on the original requester once candidates arrive
// (possibly several hops later, relayed verbatim by every intermediate
// ancestor through routeOrDeliver rather than consumed by them). It
// dials each candidate as a cousin connection, capped at MaxCousins
// concurrent links.
func (p *Peer) handleCousins(env Envelope) {
	var body CousinsBody
	if err := env.DecodeBody(&body); err != nil {
		return
	}
	for _, cand := range body.Candidates {
		if len(p.cousins) >= p.cfg.MaxCousins {
			return
		}
		p.dialCousin(cand.ID)
	}
}

func (p *Peer) dialCousin(target PeerID) {
	if _, ok := p.cousins[target]; ok {
		return
	}
	go func() {
		// singleflight collapses the case where COUSINS answers from two
		// different ancestors both name the same candidate before the
		// first dial resolves, so it's attempted once rather than twice.
		v, err, _ := p.sf.Do("cousin-dial:"+target, func() (any, error) {
			return p.transport.Connect(context.Background(), target, ConnMetadata{GameID: p.gameID, Secret: p.secret, Role: "COUSIN"})
		})
		var conn Conn
		if err == nil {
			conn = v.(Conn)
		}
		p.post(func() {
			if err != nil {
				p.log.Debug("dial cousin failed", "candidate", target, "error", err)
				return
			}
			if p.stopped || len(p.cousins) >= p.cfg.MaxCousins {
				conn.Close()
				return
			}
			p.wireOutboundConn(conn)
			p.cousins[target] = conn
			p.metrics.CousinsCount.Set(float64(len(p.cousins)))
		})
	}()
}
