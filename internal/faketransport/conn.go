package faketransport

import (
	"sync"

	"github.com/shurlinet/skytree/pkg/overlay"
)

// fakeConn is one half of an in-process connected pair. Send on one half
// invokes the other half's registered data callback directly on a fresh
// goroutine, so neither side can deadlock waiting on the other's actor
// loop to drain.
type fakeConn struct {
	remoteID overlay.PeerID
	md       overlay.ConnMetadata
	peer     *fakeConn

	mu      sync.Mutex
	dataCb  func(overlay.Envelope)
	closeCb func(error)
	closed  bool

	closeOnce sync.Once
}

func (c *fakeConn) RemoteID() overlay.PeerID       { return c.remoteID }
func (c *fakeConn) Metadata() overlay.ConnMetadata { return c.md }

func (c *fakeConn) Send(env overlay.Envelope) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrNoSuchPeer
	}
	peer := c.peer
	c.mu.Unlock()

	peer.mu.Lock()
	cb := peer.dataCb
	peer.mu.Unlock()
	if cb != nil {
		go cb(env)
	}
	return nil
}

func (c *fakeConn) OnData(fn func(overlay.Envelope)) {
	c.mu.Lock()
	c.dataCb = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnClose(fn func(error)) {
	c.mu.Lock()
	c.closeCb = fn
	c.mu.Unlock()
}

// Close marks this half closed and notifies the peer's close callback —
// mirroring a real stream, where closing your end surfaces as the other
// side's close event, not your own.
func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		if c.peer != nil {
			c.peer.remoteClosed()
		}
	})
	return nil
}

func (c *fakeConn) remoteClosed() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		cb := c.closeCb
		c.mu.Unlock()
		if cb != nil {
			go cb(nil)
		}
	})
}
