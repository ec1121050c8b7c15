package overlay

import "time"

// setState transitions the Node state machine, recording the metric and
// logging the edge. Called from many sites (RAIN receipt, tick, rebind
// reply, connection loss) so it centralizes the bookkeeping every edge
// needs: clearing patch counters on the way back to NORMAL, stamping
// patchStartTime and rebindJitter on the way into PATCHING.
func (p *Peer) setState(next NodeState, reason string) {
	if p.isHost || p.state == next {
		return
	}
	prev := p.state
	p.state = next
	p.metrics.StateTransitions.WithLabelValues(prev.String(), next.String()).Inc()
	p.log.Info("state transition", "from", prev, "to", next, "reason", reason)

	switch next {
	case StateNormal:
		p.reqStateCount = 0
		p.patchStartTime = time.Time{}
	case StatePatching:
		p.patchStartTime = time.Now()
		p.rebindJitter = time.Duration(p.rng.Int63n(int64(p.cfg.rebindJitterMax()) + 1))
		p.reqStateCount = 0
		p.lastReqStateTime = time.Time{}
	}
}

// stateMachineTick runs once per second (spec.md §4.5 "periodic tick")
// and drives the time-based transitions that aren't reactions to an
// incoming message: stall detection and the patch-to-rebind escalation.
func (p *Peer) stateMachineTick() {
	if p.isHost || p.parent == nil {
		return
	}

	switch p.state {
	case StateNormal:
		if time.Since(p.lastParentRainTime) > p.cfg.stallThreshold() {
			p.setState(StateSuspectUpstream, "parent rain stalled")
		}
	case StateSuspectUpstream:
		p.setState(StatePatching, "suspect upstream tick")
		p.issueReqState()
	case StatePatching:
		if time.Since(p.patchStartTime) > p.cfg.patchToRebind()+p.rebindJitter {
			p.beginRebind("patch timeout")
			return
		}
		if p.dueForReqState() {
			p.issueReqState()
		}
	case StateRebinding:
		if p.parent == nil {
			p.setState(StateWaitingForHost, "rebinding with no parent")
		}
	}
}

// dueForReqState implements spec.md §4.5's pacing schedule for REQ_STATE
// while PATCHING: 1/s for the first 5, ≥2s for the next 3, ≥5s for the
// next 4, ≥10s thereafter.
func (p *Peer) dueForReqState() bool {
	var spacing time.Duration
	switch {
	case p.reqStateCount < 5:
		spacing = time.Second
	case p.reqStateCount < 8:
		spacing = 2 * time.Second
	case p.reqStateCount < 12:
		spacing = 5 * time.Second
	default:
		spacing = 10 * time.Second
	}
	return time.Since(p.lastReqStateTime) >= spacing
}
