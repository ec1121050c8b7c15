package overlay

// Snapshot is the role-specific state view exposed by Observe, per
// spec.md §6.3/§7: "the subscribe() snapshot (current parent, children,
// rainSeq, depth, state, attached flag)". The application never sees
// routing or dedup internals beyond this.
type Snapshot struct {
	ID       PeerID
	IsHost   bool
	Depth    int
	Parent   PeerID
	Attached bool
	Children []PeerID
	Cousins  []PeerID
	RainSeq  uint64
	GameSeq  uint64
	State    NodeState
}

// JoinInfo is the Host-only state a connection-string generator needs:
// enough to let a new Node bootstrap directly against Host, plus a handful
// of already-attached seeds so the join can fan out onto the tree right
// away instead of funnelling everyone through Host first.
type JoinInfo struct {
	HostID        PeerID
	GameID        string
	Secret        string
	Seeds         []PeerID
	QRSeq         uint64
	LatestRainSeq uint64
	LatestGameSeq uint64
}

// JoinInfo synchronously snapshots bootstrap state. ok is false when
// called on a Node, since only Host issues connection strings.
func (p *Peer) JoinInfo() (info JoinInfo, ok bool) {
	done := make(chan struct{})
	p.post(func() {
		if !p.isHost {
			close(done)
			return
		}
		p.qrSeq++
		info = JoinInfo{
			HostID:        p.id,
			GameID:        p.gameID,
			Secret:        p.secret,
			Seeds:         p.hostTopology.SelectSeeds(p.childIDs(), 4, 5, 10, p.rng.Intn),
			QRSeq:         p.qrSeq,
			LatestRainSeq: p.rainSeq,
			LatestGameSeq: p.gameSeq,
		}
		ok = true
		close(done)
	})
	<-done
	return info, ok
}

// Observe synchronously snapshots the peer's current state. Safe to call
// from any goroutine; it hops onto the actor loop and blocks for the
// (sub-microsecond) read.
func (p *Peer) Observe() Snapshot {
	done := make(chan Snapshot, 1)
	p.post(func() {
		s := Snapshot{
			ID:       p.id,
			IsHost:   p.isHost,
			Depth:    p.myDepth,
			Children: p.childIDs(),
			RainSeq:  p.rainSeq,
			State:    p.state,
		}
		if p.isHost {
			s.GameSeq = p.gameSeq
		} else {
			s.GameSeq = p.lastGameSeq
		}
		if p.parent != nil {
			s.Parent = p.parent.RemoteID()
			s.Attached = true
		}
		for id := range p.cousins {
			s.Cousins = append(s.Cousins, id)
		}
		done <- s
	})
	return <-done
}
