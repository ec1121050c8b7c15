package overlay

import (
	"encoding/json"
	"time"
)

// issueReqState sends REQ_STATE per spec.md §4.7: prefer a random cousin;
// fall back to dest=HOST no more than once per 5s if cousins are empty.
func (p *Peer) issueReqState() {
	body := ReqStateBody{FromRainSeq: p.rainSeq, FromGameSeq: p.lastGameSeq}

	if len(p.cousins) > 0 {
		ids := make([]PeerID, 0, len(p.cousins))
		for id := range p.cousins {
			ids = append(ids, id)
		}
		target := ids[p.rng.Intn(len(ids))]
		env := p.envelope(KindReqState, "")
		b, _ := EncodeBody(body)
		env.Body = b
		env.AppendPath(p.id)
		p.send(p.cousins[target], env)
		p.stampReqState()
		return
	}

	if time.Since(p.lastHostFallbackReq) < 5*time.Second {
		p.stampReqState()
		return
	}
	if p.parent == nil {
		return
	}
	env := p.envelope(KindReqState, HostSentinel)
	b, _ := EncodeBody(body)
	env.Body = b
	env.AppendPath(p.id)
	p.send(p.parent, env)
	p.lastHostFallbackReq = time.Now()
	p.stampReqState()
}

func (p *Peer) stampReqState() {
	p.reqStateCount++
	p.lastReqStateTime = time.Now()
	p.metrics.ReqStateSent.Inc()
}

// handleReqState answers with this peer's cached events, whether asked by
// a cousin or (falling back) by a descendant reaching up toward Host.
func (p *Peer) handleReqState(env Envelope) {
	var body ReqStateBody
	if err := env.DecodeBody(&body); err != nil {
		return
	}

	events := p.eventCache.GetEventsAfter(body.FromGameSeq)
	reply := p.envelope(KindState, "")
	reply.ReplyTo = env.MsgID
	reply.Route = BuildReplyRoute(p.id, env.Path)
	b, _ := EncodeBody(StateBody{
		LatestRainSeq:       p.rainSeq,
		LatestGameSeq:       p.latestGameSeq(),
		Events:              events,
		MinGameSeqAvailable: p.eventCache.GetMinSeq(),
		Truncated:           p.eventCache.Truncated(body.FromGameSeq),
	})
	reply.Body = b

	// The request arrived over whichever connection; route via cousins map
	// or parent/children rather than re-deriving the source conn here,
	// since handleReqState is invoked through routeOrDeliver which already
	// resolved this peer as the final recipient — reply on the conn the
	// message's path says it came from isn't directly available, so reply
	// travels the standard route-vector path back through parent/children.
	p.sendAlongRoute(reply)
}

func (p *Peer) latestGameSeq() uint64 {
	if p.isHost {
		return p.gameSeq
	}
	return p.lastGameSeq
}

// sendAlongRoute picks the hop immediately following this peer's own id
// in env.Route (built by BuildReplyRoute) and sends there. Used by the
// peer that originates a reply, where self is Route[0].
func (p *Peer) sendAlongRoute(env Envelope) {
	hop, ok := nextHopInRoute(env.Route, p.id)
	if !ok {
		return
	}
	p.sendToRouteHop(hop, env)
}

// sendToRouteHop sends on whatever connection owns hop — parent, a
// child, or a cousin — so a route vector can be retraced hop by hop
// without re-deriving it from dest at every intermediate peer.
func (p *Peer) sendToRouteHop(hop PeerID, env Envelope) {
	if p.parent != nil && p.parent.RemoteID() == hop {
		p.send(p.parent, env)
		return
	}
	if c, ok := p.children[hop]; ok {
		p.send(c, env)
		return
	}
	if c, ok := p.cousins[hop]; ok {
		p.send(c, env)
		return
	}
	// No fallback to the connection the request arrived on: the reply is
	// dropped.
	p.log.Debug("reply route hop not connected, dropping", "next", hop)
}

// handleState implements spec.md §4.7's STATE application: repair the
// cache/callback for every newly-seen event, fast-forward lastGameSeq,
// and synthesize a downstream RAIN if the responder's rainSeq is ahead.
func (p *Peer) handleState(env Envelope) {
	var body StateBody
	if err := env.DecodeBody(&body); err != nil {
		return
	}

	var repaired []CachedEvent
	for _, ce := range body.Events {
		if ce.Seq <= p.lastGameSeq {
			continue
		}
		p.eventCache.Put(ce.Seq, ce.Event)
		if p.onGameEvent != nil {
			p.onGameEvent(ce.Event.Type, ce.Event.Data, env.Src)
		}
		p.metrics.GameEventsApplied.WithLabelValues("cousin-repair").Inc()
		repaired = append(repaired, ce)
	}
	if body.LatestGameSeq > p.lastGameSeq {
		p.lastGameSeq = body.LatestGameSeq
	}

	for _, ce := range repaired {
		out := p.envelope(KindGameEvent, "")
		b, _ := EncodeBody(GameEventBody{GameSeq: ce.Seq, Event: ce.Event})
		out.Body = b
		p.broadcastToChildren(func(PeerID) Envelope { return out })
	}

	if body.LatestRainSeq > p.rainSeq {
		p.rainSeq = body.LatestRainSeq
		p.lastRainTime = time.Now()
		p.lastParentRainTime = p.lastRainTime
		rainOut := p.envelope(KindRain, "")
		rb, _ := EncodeBody(RainBody{RainSeq: p.rainSeq})
		rainOut.Body = rb
		p.broadcastToChildren(func(PeerID) Envelope { return rainOut })
	}
}

// beginRebind implements spec.md §4.5's PATCHING → REBINDING escalation.
func (p *Peer) beginRebind(reason string) {
	p.setState(StateRebinding, reason)
	p.metrics.RebindsTriggered.Inc()

	if p.parent == nil {
		p.setState(StateWaitingForHost, "no parent at rebind time")
		return
	}

	children := p.childIDs()
	env := p.envelope(KindRebindRequest, HostSentinel)
	b, _ := EncodeBody(RebindRequestBody{
		LastRainSeq:  p.rainSeq,
		LastGameSeq:  p.lastGameSeq,
		SubtreeCount: p.nodeTopology.SubtreeCount(children),
		Reason:       reason,
	})
	env.Body = b
	env.AppendPath(p.id)
	p.send(p.parent, env)
}

// handleRebindRequest runs on Host: compute redirect candidates and
// assign them in priority order.
func (p *Peer) handleRebindRequest(env Envelope) {
	if !p.isHost {
		return
	}
	candidates := p.hostTopology.SelectSeeds(p.childIDs(), 4, 1, 10, p.rng.Intn)
	reply := p.envelope(KindRebindAssign, "")
	reply.ReplyTo = env.MsgID
	reply.Route = BuildReplyRoute(p.id, env.Path)
	b, _ := EncodeBody(RebindAssignBody{NewParentCandidates: candidates, Priority: "TRY_IN_ORDER"})
	reply.Body = b
	p.sendAlongRoute(reply)
}

// handleRebindAssign runs on the Node that requested the rebind: drop the
// (already-stalled) parent, adopt the candidate list as new seeds, and
// retry immediately.
func (p *Peer) handleRebindAssign(env Envelope) {
	var body RebindAssignBody
	if err := env.DecodeBody(&body); err != nil {
		return
	}
	if p.parent != nil {
		p.parent.Close()
		p.parent = nil
	}
	p.setState(StateNormal, "rebind assigned")
	p.seeds = body.NewParentCandidates
	p.attachAttempts = 0
	p.scheduleAttachRetry(0)
}

// RequestPayload is a Node's future-returning API (spec.md §6.3).
func (p *Peer) RequestPayload(payloadType string) <-chan PayloadResult {
	out := make(chan PayloadResult, 1)
	p.post(func() {
		if p.parent == nil {
			out <- PayloadResult{Err: ErrNoParent}
			return
		}
		env := p.envelope(KindReqPayload, HostSentinel)
		b, _ := EncodeBody(ReqPayloadBody{PayloadType: payloadType})
		env.Body = b
		env.AppendPath(p.id)
		p.send(p.parent, env)

		p.registerFuture(p.pendingPayloads, env.MsgID, p.cfg.ackTimeout(), ErrPayloadTimeout,
			func(reply Envelope) {
				var pb PayloadBody
				if err := reply.DecodeBody(&pb); err != nil {
					out <- PayloadResult{Err: err}
					return
				}
				out <- PayloadResult{Data: pb.Data}
			},
			func(err error) { out <- PayloadResult{Err: err} },
		)
	})
	return out
}

// PayloadResult is the resolved value of requestPayload's future.
type PayloadResult struct {
	Data json.RawMessage
	Err  error
}

func (p *Peer) handleReqPayload(env Envelope) {
	if !p.isHost {
		return
	}
	var body ReqPayloadBody
	if err := env.DecodeBody(&body); err != nil {
		return
	}
	reply := p.envelope(KindPayload, "")
	reply.ReplyTo = env.MsgID
	reply.Route = BuildReplyRoute(p.id, env.Path)
	data, _ := json.Marshal(map[string]string{"type": body.PayloadType})
	b, _ := EncodeBody(PayloadBody{PayloadType: body.PayloadType, Data: data})
	reply.Body = b
	p.sendAlongRoute(reply)
}

func (p *Peer) handlePayload(env Envelope) {
	resolveFuture(p.pendingPayloads, env.ReplyTo, env)
}

// PingHost is a Node's latency-probe API (spec.md §6.3).
func (p *Peer) PingHost() <-chan error {
	out := make(chan error, 1)
	p.post(func() {
		if p.parent == nil {
			out <- ErrNoParent
			return
		}
		env := p.envelope(KindPing, HostSentinel)
		env.AppendPath(p.id)
		p.send(p.parent, env)
		p.registerFuture(p.pendingPings, env.MsgID, p.cfg.ackTimeout(), ErrAckTimeout,
			func(Envelope) { out <- nil },
			func(err error) { out <- err },
		)
	})
	return out
}

func (p *Peer) handlePing(env Envelope) {
	if !p.isHost {
		return
	}
	reply := p.envelope(KindPong, "")
	reply.ReplyTo = env.MsgID
	reply.Route = BuildReplyRoute(p.id, env.Path)
	p.sendAlongRoute(reply)
}

func (p *Peer) handlePong(env Envelope) {
	resolveFuture(p.pendingPings, env.ReplyTo, env)
}

func (p *Peer) handleAck(env Envelope) {
	resolveFuture(p.pendingAcks, env.ReplyTo, env)
}
