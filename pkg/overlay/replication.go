package overlay

import (
	"encoding/json"
	"time"
)

// emitRain runs on Host's 1s ticker: bump rainSeq and broadcast to every
// direct child (spec.md §4.4).
func (p *Peer) emitRain() {
	p.rainSeq++
	p.broadcastToChildren(func(PeerID) Envelope {
		env := p.envelope(KindRain, "")
		body, _ := EncodeBody(RainBody{RainSeq: p.rainSeq})
		env.Body = body
		return env
	})
	p.metrics.RainEmitted.Inc()
}

// handleRain implements spec.md §4.4's RAIN receipt rule. It only
// advances state when the message arrived from the parent link; RAIN
// arriving from a cousin or child is link-local noise and ignored for
// freshness purposes (cousins never carry RAIN per I7, and children never
// send RAIN upward at all).
func (p *Peer) handleRain(c Conn, env Envelope) {
	if p.isHost || p.parent != c {
		p.metrics.RainDropped.WithLabelValues("not-from-parent").Inc()
		return
	}
	var body RainBody
	if err := env.DecodeBody(&body); err != nil {
		return
	}
	if body.RainSeq <= p.rainSeq {
		p.metrics.RainDropped.WithLabelValues("stale").Inc()
		return
	}

	p.rainSeq = body.RainSeq
	p.lastRainTime = time.Now()
	p.lastParentRainTime = p.lastRainTime
	p.setState(StateNormal, "rain from parent")

	fwd := env
	fwd.AppendPath(p.id)
	p.broadcastToChildren(func(PeerID) Envelope { return fwd })
}

// sendSubtreeStatus runs on a Node's 5s ticker (and should also be called
// immediately on child join/leave by callers that mutate p.children).
func (p *Peer) sendSubtreeStatus() {
	if p.isHost || p.parent == nil {
		return
	}

	children := p.childIDs()
	childFreeSlots := make(map[PeerID]int, len(children))
	statuses := make([]ChildStatus, 0, len(children))
	for _, id := range children {
		free := p.maxChildren // unknown until that child reports; default optimistic
		if f, ok := p.nodeTopology.childCapacities[id]; ok {
			free = f
		}
		childFreeSlots[id] = free
		statuses = append(statuses, ChildStatus{ID: id, State: "OK", LastRainSeq: p.rainSeq, FreeSlots: free})
	}

	descendants := p.nodeTopology.BuildDescendants(children, childFreeSlots)
	subtreeCount := p.nodeTopology.SubtreeCount(children)

	env := p.envelope(KindSubtreeStatus, "")
	body, _ := EncodeBody(SubtreeStatusBody{
		LastRainSeq:  p.rainSeq,
		State:        "OK",
		Children:     statuses,
		SubtreeCount: subtreeCount,
		Descendants:  descendants,
		FreeSlots:    p.maxChildren - len(children),
	})
	env.Body = body
	p.send(p.parent, env)
}

// handleSubtreeStatus runs on any peer (Host or Node) receiving a report
// from a direct child, per spec.md §4.2.
func (p *Peer) handleSubtreeStatus(c Conn, env Envelope) {
	childID := c.RemoteID()
	if _, ok := p.children[childID]; !ok {
		return
	}
	var body SubtreeStatusBody
	if err := env.DecodeBody(&body); err != nil {
		return
	}

	if p.isHost {
		now := time.Now()
		p.hostTopology.Upsert(childID, childID, 1, body.FreeSlots, now)
		for _, d := range body.Descendants {
			p.hostTopology.Upsert(d.ID, childID, 1+d.Hops, d.FreeSlots, now)
		}
		p.metrics.TopologySize.Set(float64(p.hostTopology.Len()))
		return
	}

	p.nodeTopology.RecordChildStatus(childID, body.FreeSlots, body.Descendants)
	p.metrics.TopologySize.Set(float64(len(p.nodeTopology.Children())))
}

// BroadcastGameEvent is Host's public fan-out API (spec.md §6.3).
func (p *Peer) BroadcastGameEvent(eventType string, data json.RawMessage) uint64 {
	var seq uint64
	done := make(chan struct{})
	p.post(func() {
		p.gameSeq++
		seq = p.gameSeq
		event := GameEvent{Type: eventType, Data: data}
		p.eventCache.Put(seq, event)
		p.broadcastToChildren(func(PeerID) Envelope {
			env := p.envelope(KindGameEvent, "")
			body, _ := EncodeBody(GameEventBody{GameSeq: seq, Event: event})
			env.Body = body
			return env
		})
		p.metrics.GameEventsEmitted.Inc()
		close(done)
	})
	<-done
	return seq
}

// SendToPeer is Host's unicast API (spec.md §6.3). It returns a channel
// that yields once, resolving to nil on ACK or a non-nil error on
// timeout/closure when ack is requested; when ack is false it resolves
// immediately.
func (p *Peer) SendToPeer(dest PeerID, eventType string, data json.RawMessage, ack bool) <-chan error {
	out := make(chan error, 1)
	p.post(func() {
		hop, ok := p.nextHopFor(dest)
		if !ok {
			hop, ok = dest, p.hasChild(dest)
		}
		if !ok {
			out <- ErrUnroutable
			return
		}
		c, ok := p.children[hop]
		if !ok {
			out <- ErrUnroutable
			return
		}

		p.gameSeq++
		seq := p.gameSeq
		event := GameEvent{Type: eventType, Data: data}
		p.eventCache.Put(seq, event)

		env := p.envelope(KindGameEvent, dest)
		env.Route = HostDownstreamRoute(p.id, dest, hop)
		env.AppendPath(p.id)
		body, _ := EncodeBody(GameEventBody{GameSeq: seq, Event: event})
		env.Body = body
		p.metrics.GameEventsEmitted.Inc()

		res := p.sendAndAck(c, env, ack)
		if !ack {
			out <- nil
			return
		}
		go func() {
			r := <-res
			out <- r.err
		}()
	})
	return out
}

// SendGameEvent is a Node's upstream command API (spec.md §6.3).
func (p *Peer) SendGameEvent(eventType string, data json.RawMessage, ack bool) <-chan error {
	out := make(chan error, 1)
	p.post(func() {
		if p.parent == nil {
			out <- ErrNoParent
			return
		}
		env := p.envelope(KindGameCmd, HostSentinel)
		body, _ := EncodeBody(GameCmdBody{Cmd: GameEvent{Type: eventType, Data: data}})
		env.Body = body
		env.AppendPath(p.id)

		res := p.sendAndAck(p.parent, env, ack)
		if !ack {
			out <- nil
			return
		}
		go func() {
			r := <-res
			out <- r.err
		}()
	})
	return out
}

// handleGameEvent implements spec.md §4.4's broadcast/unicast receipt
// rule. Unicast deliveries (dest==self) already had routing resolved by
// dispatch.go before reaching here for the HostDownstreamRoute path, but
// a broadcast GAME_EVENT has no dest at all and is handled link-locally
// like RAIN.
func (p *Peer) handleGameEvent(c Conn, env Envelope) {
	if env.Dest != "" {
		p.routeOrDeliver(c, env, p.applyGameEvent)
		return
	}
	if p.isHost || p.parent != c {
		return
	}
	p.applyGameEvent(env)
}

func (p *Peer) applyGameEvent(env Envelope) {
	var body GameEventBody
	if err := env.DecodeBody(&body); err != nil {
		return
	}
	if body.GameSeq <= p.lastGameSeq {
		return
	}
	p.lastGameSeq = body.GameSeq
	p.eventCache.Put(body.GameSeq, body.Event)
	if p.onGameEvent != nil {
		p.onGameEvent(body.Event.Type, body.Event.Data, env.Src)
	}
	p.metrics.GameEventsApplied.WithLabelValues("parent").Inc()

	if env.Ack {
		reply := p.envelope(KindAck, "")
		reply.ReplyTo = env.MsgID
		reply.Route = BuildReplyRoute(p.id, env.Path)
		p.sendAlongRoute(reply)
	}

	if env.Dest == "" {
		fwd := env
		fwd.AppendPath(p.id)
		p.broadcastToChildren(func(PeerID) Envelope { return fwd })
	}
}

// handleGameCmd delivers an upstream command to the application at Host,
// ACKing if requested (spec.md §4.4).
func (p *Peer) handleGameCmd(env Envelope) {
	if !p.isHost {
		return
	}
	var body GameCmdBody
	if err := env.DecodeBody(&body); err != nil {
		return
	}
	if p.onGameCmd != nil {
		p.onGameCmd(body.Cmd.Type, body.Cmd.Data, env.Src)
	}
	if env.Ack {
		reply := p.envelope(KindAck, "")
		reply.ReplyTo = env.MsgID
		reply.Route = BuildReplyRoute(p.id, env.Path)
		p.sendAlongRoute(reply)
	}
}

// OnGameEventReceived registers the application callback for broadcast
// and unicast GAME_EVENT delivery (spec.md §6.3).
func (p *Peer) OnGameEventReceived(cb GameEventCallback) {
	p.post(func() { p.onGameEvent = cb })
}

// OnGameCmdReceived registers Host's upstream-command callback.
func (p *Peer) OnGameCmdReceived(cb GameEventCallback) {
	p.post(func() { p.onGameCmd = cb })
}
