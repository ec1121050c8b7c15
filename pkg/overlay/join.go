package overlay

import (
	"context"
	"crypto/subtle"
	"time"
)

// beginBootstrap starts a Node's very first attach attempt: dial the
// configured Host directly and send JOIN_REQUEST (spec.md §4.1
// "Bootstrap"). Later attempts, once seeds have been learned, go through
// attemptJoinOrAttach instead.
func (p *Peer) beginBootstrap(ctx context.Context) {
	p.dialAndJoinHost(ctx)
}

func (p *Peer) dialAndJoinHost(ctx context.Context) {
	target := p.hostID
	go func() {
		c, err := p.transport.Connect(ctx, target, ConnMetadata{GameID: p.gameID, Secret: p.secret})
		p.post(func() {
			if p.stopped {
				return
			}
			if err != nil {
				p.log.Warn("dial host failed", "host", target, "error", err)
				p.metrics.AttachAttempts.WithLabelValues("timeout").Inc()
				p.scheduleAttachRetry(p.nextBackoff())
				return
			}
			p.wireOutboundConn(c)
			env := p.envelope(KindJoinRequest, "")
			body, _ := EncodeBody(JoinRequestBody{Secret: p.secret})
			env.Body = body
			if err := p.send(c, env); err != nil {
				p.log.Warn("send JOIN_REQUEST failed", "error", err)
				c.Close()
				p.scheduleAttachRetry(p.nextBackoff())
			}
		})
	}()
}

// wireOutboundConn wires an actor-safe OnData/OnClose pair for a
// connection this peer dialed itself. Inbound connections get the same
// treatment in handleIncoming; outbound ones never pass through there.
func (p *Peer) wireOutboundConn(c Conn) {
	c.OnData(func(env Envelope) { p.post(func() { p.handleEnvelope(c, env) }) })
	c.OnClose(func(err error) { p.post(func() { p.handleConnClose(c, err) }) })
}

// scheduleAttachRetry arms (or re-arms) the single attach-retry timer.
func (p *Peer) scheduleAttachRetry(delay time.Duration) {
	if p.attachRetryTimer != nil {
		p.attachRetryTimer.Stop()
	}
	p.attachRetryTimer = time.AfterFunc(delay, func() {
		p.post(p.attemptJoinOrAttach)
	})
}

// nextBackoff implements spec.md §4.1's exponential backoff:
// min(500·2^(n-1), 5000) ms, keyed on the current attachAttempts count.
func (p *Peer) nextBackoff() time.Duration {
	n := p.attachAttempts
	if n < 1 {
		n = 1
	}
	ms := 500 * (1 << uint(n-1))
	if ms > 5000 {
		ms = 5000
	}
	return time.Duration(ms) * time.Millisecond
}

// attemptJoinOrAttach picks the next candidate — a seed if any remain, or
// the Host directly — and dials it. Called by the retry timer and by
// onParentLost's immediate (0-delay) retry.
func (p *Peer) attemptJoinOrAttach() {
	if p.stopped || p.parent != nil {
		return
	}

	p.attachAttempts++
	if p.attachAttempts > p.cfg.MaxAttachAttempts {
		p.log.Info("max attach attempts exceeded, re-authenticating with host")
		p.attachAttempts = 0
		p.redirectDepth = 0
		p.seeds = nil
		p.beginBootstrap(context.Background())
		return
	}

	if len(p.seeds) == 0 {
		p.beginBootstrap(context.Background())
		return
	}

	i := p.rng.Intn(len(p.seeds))
	candidate := p.seeds[i]
	p.seeds = append(append([]PeerID{}, p.seeds[:i]...), p.seeds[i+1:]...)
	p.dialAndAttach(context.Background(), candidate)
}

func (p *Peer) dialAndAttach(ctx context.Context, candidate PeerID) {
	go func() {
		c, err := p.transport.Connect(ctx, candidate, ConnMetadata{GameID: p.gameID, Secret: p.secret, Role: "CHILD"})
		p.post(func() {
			if p.stopped || p.parent != nil {
				if err == nil {
					c.Close()
				}
				return
			}
			if err != nil {
				p.log.Debug("dial attach candidate failed", "candidate", candidate, "error", err)
				p.scheduleAttachRetry(p.nextBackoff())
				return
			}
			p.wireOutboundConn(c)
			depth := p.redirectDepth
			env := p.envelope(KindAttachRequest, "")
			body, _ := EncodeBody(AttachRequestBody{WantRole: "CHILD", Depth: depth})
			env.Body = body
			if err := p.send(c, env); err != nil {
				p.log.Warn("send ATTACH_REQUEST failed", "error", err)
				c.Close()
				p.scheduleAttachRetry(p.nextBackoff())
			}
		})
	}()
}

// --- Host/peer-side JOIN/ATTACH request handlers ---

// handleJoinRequest runs only on Host. It authenticates by comparing a
// keyed digest of {gameId, secret} rather than the plaintext value.
func (p *Peer) handleJoinRequest(c Conn, env Envelope) {
	if !p.isHost {
		return
	}
	var body JoinRequestBody
	if err := env.DecodeBody(&body); err != nil {
		c.Close()
		return
	}
	if subtle.ConstantTimeCompare(secretDigest(p.gameID, body.Secret), secretDigest(p.gameID, p.secret)) != 1 {
		reply := p.envelope(KindJoinReject, "")
		rb, _ := EncodeBody(JoinRejectBody{Reason: "BAD_SECRET"})
		reply.Body = rb
		p.send(c, reply)
		c.Close()
		return
	}

	keepAlive := len(p.children) < p.cfg.MaxHostChildren
	seeds := p.hostTopology.SelectSeeds(p.childIDs(), 4, 5, 10, p.rng.Intn)

	p.qrSeq++
	reply := p.envelope(KindJoinAccept, "")
	rb, _ := EncodeBody(JoinAcceptBody{
		PlayerID:  newMsgID(),
		Payload:   "welcome",
		Seeds:     seeds,
		KeepAlive: keepAlive,
		RainSeq:   p.rainSeq,
		GameSeq:   p.gameSeq,
	})
	reply.Body = rb
	p.send(c, reply)

	if keepAlive {
		p.promoteToChild(c)
	} else {
		time.AfterFunc(100*time.Millisecond, func() { c.Close() })
	}
}

func (p *Peer) childIDs() []PeerID {
	out := make([]PeerID, 0, len(p.children))
	for id := range p.children {
		out = append(out, id)
	}
	return out
}

func (p *Peer) promoteToChild(c Conn) {
	id := c.RemoteID()
	p.children[id] = c
	p.metrics.ChildrenCount.Set(float64(len(p.children)))
	if p.isHost {
		p.hostTopology.Upsert(id, id, 1, p.cfg.MaxNodeChildren, time.Now())
		return
	}
	// spec.md §4.2: report immediately on child join, not just periodically.
	p.sendSubtreeStatus()
}

// handleJoinAccept runs on the dialing Node after bootstrapping against
// Host directly.
func (p *Peer) handleJoinAccept(c Conn, env Envelope) {
	if p.isHost {
		return
	}
	var body JoinAcceptBody
	if err := env.DecodeBody(&body); err != nil {
		return
	}
	p.seeds = body.Seeds
	p.lastGameSeq = body.GameSeq
	p.rainSeq = body.RainSeq

	if body.KeepAlive {
		p.attachAs(c, p.hostID, 0)
		return
	}
	// Host will close this connection after its own grace period; proceed
	// immediately using the learned seeds rather than waiting for it.
	p.attachAttempts = 0
	p.attemptJoinOrAttach()
}

func (p *Peer) handleJoinReject(c Conn, env Envelope) {
	c.Close()
	p.scheduleAttachRetry(p.nextBackoff())
}

// handleAttachRequest runs on any already-attached peer (Host or Node)
// that another Node has dialed as a candidate parent.
func (p *Peer) handleAttachRequest(c Conn, env Envelope) {
	var body AttachRequestBody
	if err := env.DecodeBody(&body); err != nil {
		c.Close()
		return
	}

	if len(p.children) >= p.maxChildren {
		redirect := p.buildRedirectList()
		reply := p.envelope(KindAttachReject, "")
		rb, _ := EncodeBody(AttachRejectBody{Reason: "FULL", Redirect: redirect, DepthHint: p.myDepth + 1})
		reply.Body = rb
		p.send(c, reply)
		p.metrics.AttachAttempts.WithLabelValues("reject").Inc()
		return
	}

	p.promoteToChild(c)
	var cousinCandidates []string
	reply := p.envelope(KindAttachAccept, "")
	rb, _ := EncodeBody(AttachAcceptBody{
		ParentID:         p.id,
		Level:            p.myDepth,
		CousinCandidates: cousinCandidates,
		ChildrenMax:      p.maxChildren,
		ChildrenUsed:     len(p.children),
	})
	reply.Body = rb
	p.send(c, reply)
	p.metrics.AttachAttempts.WithLabelValues("accept").Inc()
}

// buildRedirectList implements spec.md §4.1: candidates drawn from this
// peer's own known descendants with freeSlots>0, shuffled, capped at 10.
func (p *Peer) buildRedirectList() []string {
	if p.isHost {
		return p.hostTopology.SelectSeeds(p.childIDs(), 4, 0, 10, p.rng.Intn)
	}
	if p.nodeTopology == nil {
		return nil
	}
	var cands []PeerID
	for _, childID := range p.nodeTopology.Children() {
		for _, d := range p.nodeTopology.DescendantsOfChild(childID) {
			if d.FreeSlots > 0 {
				cands = append(cands, d.ID)
			}
		}
	}
	cands = shuffleStrings(cands, p.rng.Intn)
	if len(cands) > 10 {
		cands = cands[:10]
	}
	return cands
}

func (p *Peer) handleAttachAccept(c Conn, env Envelope) {
	if p.parent != nil {
		c.Close()
		return
	}
	var body AttachAcceptBody
	if err := env.DecodeBody(&body); err != nil {
		c.Close()
		return
	}
	p.attachAs(c, body.ParentID, body.Level)
	// A Host parent (Level 0) reports its own larger cap; keep MaxNodeChildren then.
	if body.ChildrenMax > 0 && body.Level > 0 {
		p.maxChildren = body.ChildrenMax
	}
	p.metrics.AttachAttempts.WithLabelValues("accept").Inc()
}

// attachAs finalizes an attach: promote conn to parent, set depth, reset
// join bookkeeping, and — per spec.md §4.1 — request cousins once depth
// exceeds 1.
func (p *Peer) attachAs(c Conn, parentID PeerID, parentLevel int) {
	p.parent = c
	p.myDepth = parentLevel + 1
	p.attachAttempts = 0
	p.redirectDepth = 0
	p.lastParentRainTime = time.Now()
	p.lastRainTime = time.Now()
	p.setState(StateNormal, "attached")

	if p.myDepth > 1 {
		p.sendReqCousins()
	}
}

func (p *Peer) handleAttachReject(c Conn, env Envelope) {
	c.Close()
	p.metrics.AttachAttempts.WithLabelValues("reject").Inc()

	var body AttachRejectBody
	if err := env.DecodeBody(&body); err == nil && len(body.Redirect) > 0 {
		p.seeds = append(body.Redirect, p.seeds...)
	}
	p.redirectDepth++
	if p.redirectDepth > p.cfg.MaxRedirectDepth {
		p.redirectDepth = 0
		p.seeds = nil
		p.attachAttempts = 0
		p.beginBootstrap(context.Background())
		return
	}
	p.scheduleAttachRetry(p.nextBackoff())
}
