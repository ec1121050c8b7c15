package overlay

// handleIncoming is the Transport's OnIncoming callback. It always runs on
// whatever goroutine the transport chooses, so it only validates metadata
// synchronously (cheap) and then posts everything else onto the actor.
func (p *Peer) handleIncoming(c Conn) {
	md := c.Metadata()
	if md.GameID != p.gameID {
		p.log.Debug("closing connection with mismatched gameId", "peer", c.RemoteID())
		c.Close()
		return
	}
	if !p.rateLimiter.Allow(c.RemoteID()) {
		p.metrics.RateLimitDrops.Inc()
		p.log.Debug("rate limit rejected inbound connection", "peer", c.RemoteID())
		c.Close()
		return
	}

	c.OnData(func(env Envelope) { p.post(func() { p.handleEnvelope(c, env) }) })
	c.OnClose(func(err error) { p.post(func() { p.handleConnClose(c, err) }) })

	p.post(func() { p.handleNewConnection(c, md) })
}

// handleNewConnection runs on the actor loop once metadata has cleared.
// A connection whose metadata declares Role "COUSIN" is registered as a
// cousin here, or closed if MaxCousins links already exist. Any other
// connection is only promoted to a child later, when its JOIN_REQUEST or
// ATTACH_REQUEST is accepted against this side's own capacity.
func (p *Peer) handleNewConnection(c Conn, md ConnMetadata) {
	if md.Role == "COUSIN" {
		if len(p.cousins) >= p.cfg.MaxCousins {
			c.Close()
			return
		}
		p.cousins[c.RemoteID()] = c
		p.metrics.CousinsCount.Set(float64(len(p.cousins)))
	}
}

// handleConnClose removes a closed connection from whichever set owns it
// and triggers the appropriate recovery per spec.md §4.1/§4.7.
func (p *Peer) handleConnClose(c Conn, _ error) {
	id := c.RemoteID()

	if p.parent == c {
		p.parent = nil
		p.log.Info("parent connection closed", "parent", id)
		p.onParentLost()
		return
	}
	if existing, ok := p.children[id]; ok && existing == c {
		delete(p.children, id)
		p.metrics.ChildrenCount.Set(float64(len(p.children)))
		if p.isHost {
			p.hostTopology.EvictByNextHop(id)
		} else {
			p.nodeTopology.DropChild(id)
			// spec.md §4.2: report immediately on child leave too.
			p.sendSubtreeStatus()
		}
		return
	}
	if existing, ok := p.cousins[id]; ok && existing == c {
		delete(p.cousins, id)
		p.metrics.CousinsCount.Set(float64(len(p.cousins)))
	}
}

// onParentLost implements spec.md §4.7 "Crash of a parent": prompt
// downstream reattachment without waiting for stall thresholds.
func (p *Peer) onParentLost() {
	if p.isHost {
		return
	}
	p.seeds = nil
	p.setState(StateWaitingForHost, "parent-closed")
	p.scheduleAttachRetry(0)
}

// send transmits an envelope on a connection, compressing the body first
// for the two message kinds whose payload scales with tree/cache size
// (spec.md §11 domain stack: STATE, SUBTREE_STATUS).
func (p *Peer) send(c Conn, env Envelope) error {
	if shouldCompress(env.T) {
		if err := compressBody(&env); err != nil {
			p.log.Warn("compress failed, sending uncompressed", "kind", env.T, "error", err)
		}
	}
	return c.Send(env)
}

// sendAndAck sends env and, if ack is requested, registers a pending ACK
// future resolved/rejected per spec.md §5 (10s timeout default).
func (p *Peer) sendAndAck(c Conn, env Envelope, ack bool) <-chan ackResult {
	ch := make(chan ackResult, 1)
	if ack {
		env.Ack = true
	}
	if err := p.send(c, env); err != nil {
		ch <- ackResult{err: err}
		return ch
	}
	if !ack {
		ch <- ackResult{ok: true}
		return ch
	}
	p.registerFuture(p.pendingAcks, env.MsgID, p.cfg.ackTimeout(), ErrAckTimeout,
		func(Envelope) { ch <- ackResult{ok: true} },
		func(err error) { ch <- ackResult{err: err} },
	)
	return ch
}

type ackResult struct {
	ok  bool
	err error
}
