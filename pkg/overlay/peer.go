package overlay

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// NodeState is the Node state machine of spec.md §4.5. It is the zero
// value (StateNormal) for a Host, which has no state machine of its own.
type NodeState int

const (
	StateNormal NodeState = iota
	StateSuspectUpstream
	StatePatching
	StateRebinding
	StateWaitingForHost
)

func (s NodeState) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateSuspectUpstream:
		return "SUSPECT_UPSTREAM"
	case StatePatching:
		return "PATCHING"
	case StateRebinding:
		return "REBINDING"
	case StateWaitingForHost:
		return "WAITING_FOR_HOST"
	default:
		return "UNKNOWN"
	}
}

// GameEventCallback is the application hook registered via
// onGameEventReceived (spec.md §6.3).
type GameEventCallback func(eventType string, data json.RawMessage, from PeerID)

// Peer implements both of spec.md's roles — Host (depth 0) and Node
// (depth ≥ 1) — as one engine, exactly as spec.md §2's component table
// describes each subsystem in terms of "Both" or per-role behavior. Every
// field is touched only from the single goroutine backing actorTasks, per
// spec.md §5's single-threaded cooperative event loop model; transport
// callbacks (which may fire on arbitrary goroutines) never touch Peer
// state directly — they post a closure and return.
type Peer struct {
	id      PeerID
	gameID  string
	secret  string
	isHost  bool
	myDepth int

	cfg       *EngineConfig
	transport Transport
	metrics   *Metrics
	log       *slog.Logger
	rng       *rand.Rand

	actorTasks chan func()
	stopCh     chan struct{}
	stopped    bool
	wg         sync.WaitGroup

	parent      Conn
	children    map[PeerID]Conn
	cousins     map[PeerID]Conn
	maxChildren int

	// rainSeq is the authoritative Host counter on a Host and the last
	// observed value on a Node (advanced only by RAIN/STATE from parent).
	rainSeq uint64
	// gameSeq is the authoritative Host counter; Nodes track their own
	// applied watermark in lastGameSeq instead.
	gameSeq uint64

	// Host-only.
	hostTopology *HostTopology
	qrSeq        uint64

	// Node-only.
	nodeTopology        *NodeTopology
	hostID              PeerID
	seeds               []PeerID
	attachAttempts      int
	redirectDepth       int
	attachRetryTimer    *time.Timer
	state               NodeState
	patchStartTime      time.Time
	rebindJitter        time.Duration
	reqStateCount       int
	lastReqStateTime    time.Time
	lastHostFallbackReq time.Time
	lastParentRainTime  time.Time
	lastRainTime        time.Time
	lastGameSeq         uint64

	eventCache  *EventCache
	dedup       *DedupSet
	rateLimiter *RateLimiter

	pendingAcks     map[string]*pendingFuture
	pendingPings    map[string]*pendingFuture
	pendingPayloads map[string]*pendingFuture

	sf           singleflight.Group
	logSometimes rate.Sometimes

	onGameEvent GameEventCallback
	onGameCmd   GameEventCallback

	rainTicker   *time.Ticker
	subtreeTicker *time.Ticker
	tickTicker   *time.Ticker
	sweepTicker  *time.Ticker
}

// NewHost constructs the root peer (depth 0).
func NewHost(id PeerID, gameID, secret string, transport Transport, cfg *EngineConfig, logger *slog.Logger) *Peer {
	if cfg == nil {
		cfg = DefaultEngineConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := newPeer(id, gameID, secret, transport, cfg, logger)
	p.isHost = true
	p.myDepth = 0
	p.maxChildren = cfg.MaxHostChildren
	p.hostTopology = NewHostTopology()
	p.eventCache = NewEventCache(cfg.HostEventCacheSize)
	return p
}

// NewNode constructs a non-root peer that will bootstrap against hostID.
func NewNode(id PeerID, gameID, secret string, hostID PeerID, transport Transport, cfg *EngineConfig, logger *slog.Logger) *Peer {
	if cfg == nil {
		cfg = DefaultEngineConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := newPeer(id, gameID, secret, transport, cfg, logger)
	p.isHost = false
	p.myDepth = -1 // unattached
	p.maxChildren = cfg.MaxNodeChildren
	p.hostID = hostID
	p.nodeTopology = NewNodeTopology()
	p.eventCache = NewEventCache(cfg.NodeEventCacheSize)
	p.state = StateNormal
	return p
}

func newPeer(id PeerID, gameID, secret string, transport Transport, cfg *EngineConfig, logger *slog.Logger) *Peer {
	p := &Peer{
		id:              id,
		gameID:          gameID,
		secret:          secret,
		cfg:             cfg,
		transport:       transport,
		log:             logger,
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		actorTasks:      make(chan func(), 256),
		stopCh:          make(chan struct{}),
		children:        make(map[PeerID]Conn),
		cousins:         make(map[PeerID]Conn),
		dedup:           NewDedupSet(cfg.DedupSetMax),
		rateLimiter:     NewRateLimiter(cfg.rateLimitWindow(), cfg.RateLimitMaxAttempts),
		pendingAcks:     make(map[string]*pendingFuture),
		pendingPings:    make(map[string]*pendingFuture),
		pendingPayloads: make(map[string]*pendingFuture),
		logSometimes:    rate.Sometimes{Interval: 10 * time.Second},
	}
	p.metrics = NewMetrics(roleLabel(p))
	return p
}

func roleLabel(p *Peer) string {
	if p.isHost {
		return "host"
	}
	return "node"
}

// Start wires the transport and begins the peer's background timers. For
// a Node this also kicks off the bootstrap join sequence.
func (p *Peer) Start(ctx context.Context) {
	p.transport.OnIncoming(func(c Conn) { p.handleIncoming(c) })

	p.wg.Add(1)
	go p.actorLoop()

	p.sweepTicker = time.NewTicker(p.cfg.rateLimitSweep())
	go p.tickerLoop(p.sweepTicker, func() { p.rateLimiter.Sweep() })

	if p.isHost {
		p.rainTicker = time.NewTicker(p.cfg.rainInterval())
		go p.tickerLoop(p.rainTicker, func() { p.post(p.emitRain) })
	} else {
		p.subtreeTicker = time.NewTicker(p.cfg.subtreeStatusInterval())
		go p.tickerLoop(p.subtreeTicker, func() { p.post(p.sendSubtreeStatus) })

		p.tickTicker = time.NewTicker(p.cfg.tickInterval())
		go p.tickerLoop(p.tickTicker, func() { p.post(p.stateMachineTick) })

		p.post(func() { p.beginBootstrap(ctx) })
	}
}

func (p *Peer) tickerLoop(t *time.Ticker, fn func()) {
	for {
		select {
		case <-t.C:
			fn()
		case <-p.stopCh:
			return
		}
	}
}

// post enqueues a closure onto the actor loop. Safe to call from any
// goroutine, including transport callbacks.
func (p *Peer) post(fn func()) {
	select {
	case p.actorTasks <- fn:
	case <-p.stopCh:
	}
}

func (p *Peer) actorLoop() {
	defer p.wg.Done()
	for {
		select {
		case fn := <-p.actorTasks:
			fn()
		case <-p.stopCh:
			// Drain without blocking so any already-queued sends/resolves
			// still happen before the loop exits.
			for {
				select {
				case fn := <-p.actorTasks:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Close tears the peer down: stop all timers, reject every pending
// future, close every open connection, and clear dedup/caches (spec.md §5
// Cancellation). After Close, no further messages are accepted.
func (p *Peer) Close() {
	done := make(chan struct{})
	p.post(func() {
		if p.stopped {
			close(done)
			return
		}
		p.stopped = true
		rejectAllFutures(p.pendingAcks, ErrClosing)
		rejectAllFutures(p.pendingPings, ErrClosing)
		rejectAllFutures(p.pendingPayloads, ErrClosing)
		if p.parent != nil {
			p.parent.Close()
			p.parent = nil
		}
		for id, c := range p.children {
			c.Close()
			delete(p.children, id)
		}
		for id, c := range p.cousins {
			c.Close()
			delete(p.cousins, id)
		}
		if p.attachRetryTimer != nil {
			p.attachRetryTimer.Stop()
		}
		p.dedup = NewDedupSet(p.cfg.DedupSetMax)
		p.eventCache = NewEventCache(p.eventCache.capacity)
		close(done)
	})
	<-done
	close(p.stopCh)
	p.wg.Wait()
	if p.rainTicker != nil {
		p.rainTicker.Stop()
	}
	if p.subtreeTicker != nil {
		p.subtreeTicker.Stop()
	}
	if p.tickTicker != nil {
		p.tickTicker.Stop()
	}
	if p.sweepTicker != nil {
		p.sweepTicker.Stop()
	}
	p.transport.Close()
}

// ID returns this peer's transport identifier.
func (p *Peer) ID() PeerID { return p.id }

// newMsgID mints a fresh message identifier.
func newMsgID() string { return uuid.NewString() }

// envelope builds a fresh outbound envelope with the common fields filled
// in; per-kind body must be set by the caller via EncodeBody.
func (p *Peer) envelope(t Kind, dest string) Envelope {
	return Envelope{
		T:      t,
		V:      ProtocolVersion,
		GameID: p.gameID,
		Src:    p.id,
		MsgID:  newMsgID(),
		Dest:   dest,
	}
}
