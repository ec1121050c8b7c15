// Package faketransport is an in-process overlay.Transport used by tests
// (spec.md §9: "Testing substitutes the transport with an in-process
// fake"). Multiple Transports share a Network, which plays the role a
// real wire would: Connect on one side resolves the target by PeerID and
// hands the other side's half of the pair to its OnIncoming callback.
package faketransport

import (
	"context"
	"errors"
	"sync"

	"github.com/shurlinet/skytree/pkg/overlay"
)

// ErrNoSuchPeer is returned by Connect when the target PeerID has no
// registered Transport on the Network, or has already closed.
var ErrNoSuchPeer = errors.New("faketransport: no such peer")

// Network is the shared registry a set of fake Transports connect through.
type Network struct {
	mu         sync.Mutex
	transports map[overlay.PeerID]*Transport
}

// NewNetwork creates an empty registry.
func NewNetwork() *Network {
	return &Network{transports: make(map[overlay.PeerID]*Transport)}
}

func (n *Network) register(t *Transport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transports[t.id] = t
}

func (n *Network) unregister(id overlay.PeerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.transports, id)
}

func (n *Network) lookup(id overlay.PeerID) (*Transport, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.transports[id]
	return t, ok
}

// Transport is one peer's handle onto the shared Network.
type Transport struct {
	id  overlay.PeerID
	net *Network

	mu         sync.Mutex
	onIncoming func(overlay.Conn)
	closed     bool
}

// New registers and returns a fake Transport identified by id.
func New(net *Network, id overlay.PeerID) *Transport {
	t := &Transport{id: id, net: net}
	net.register(t)
	return t
}

func (t *Transport) ID() overlay.PeerID { return t.id }

// Connect synchronously wires a connected pair of fakeConns and invokes
// the target's OnIncoming callback with its half before returning.
func (t *Transport) Connect(_ context.Context, target overlay.PeerID, md overlay.ConnMetadata) (overlay.Conn, error) {
	remote, ok := t.net.lookup(target)
	if !ok {
		return nil, ErrNoSuchPeer
	}
	remote.mu.Lock()
	cb := remote.onIncoming
	closed := remote.closed
	remote.mu.Unlock()
	if closed || cb == nil {
		return nil, ErrNoSuchPeer
	}

	local := &fakeConn{remoteID: target, md: md}
	peerSide := &fakeConn{remoteID: t.id, md: md}
	local.peer = peerSide
	peerSide.peer = local

	cb(peerSide)
	return local, nil
}

// OnIncoming registers the callback fired for each connection dialed
// toward this transport's id.
func (t *Transport) OnIncoming(fn func(overlay.Conn)) {
	t.mu.Lock()
	t.onIncoming = fn
	t.mu.Unlock()
}

// Close removes this transport from the network; further Connects aimed
// at it fail with ErrNoSuchPeer.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.net.unregister(t.id)
	return nil
}
