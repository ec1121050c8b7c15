package p2ptransport

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/libp2p/go-libp2p/core/network"

	"github.com/shurlinet/skytree/pkg/overlay"
)

// conn adapts one libp2p stream into overlay.Conn. Envelopes are framed
// simply: one JSON value per Encode/Decode call, relying on json.Decoder's
// own value-boundary tracking rather than a length prefix or delimiter,
// mirroring how little ceremony the teacher's service.go gives its
// stream-backed io.ReadWriteCloser wrapper.
type conn struct {
	stream   network.Stream
	remoteID overlay.PeerID
	md       overlay.ConnMetadata
	metrics  *Metrics

	enc *json.Encoder
	mu  sync.Mutex // guards writes and callback registration

	dataCb  func(overlay.Envelope)
	closeCb func(error)

	closeOnce sync.Once
}

func newConn(s network.Stream, remoteID overlay.PeerID, md overlay.ConnMetadata, m *Metrics, dec *json.Decoder) *conn {
	c := &conn{
		stream:   s,
		remoteID: remoteID,
		md:       md,
		metrics:  m,
		enc:      json.NewEncoder(s),
	}
	go c.readLoop(dec)
	return c
}

func (c *conn) RemoteID() overlay.PeerID        { return c.remoteID }
func (c *conn) Metadata() overlay.ConnMetadata  { return c.md }

func (c *conn) Send(env overlay.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Encode(env)
}

func (c *conn) OnData(fn func(overlay.Envelope)) {
	c.mu.Lock()
	c.dataCb = fn
	c.mu.Unlock()
}

func (c *conn) OnClose(fn func(error)) {
	c.mu.Lock()
	c.closeCb = fn
	c.mu.Unlock()
}

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.stream.Reset()
	})
	return err
}

// readLoop decodes envelopes off the stream until it closes or errors,
// invoking whichever dataCb/closeCb is registered at the time. Decode
// blocks on stream I/O, which gives the caller ample time to register
// both callbacks immediately after construction before the first message
// can possibly arrive. dec is the same decoder used to read the initial
// handshake, so no buffered bytes are lost by swapping decoders mid-stream.
func (c *conn) readLoop(dec *json.Decoder) {
	var readErr error
	for {
		var env overlay.Envelope
		if err := dec.Decode(&env); err != nil {
			if err != io.EOF {
				readErr = err
			}
			break
		}
		c.mu.Lock()
		cb := c.dataCb
		c.mu.Unlock()
		if cb != nil {
			cb(env)
		}
	}
	c.mu.Lock()
	cb := c.closeCb
	c.mu.Unlock()
	if cb != nil {
		cb(readErr)
	}
}
