// Package p2ptransport is the concrete overlay.Transport implementation
// built on go-libp2p, mirroring the layered style of the teacher's
// pkg/p2pnet (a libp2p host wrapped behind a narrow service-shaped
// abstraction) but purpose-built for the single overlay protocol stream
// spec.md §6.2 describes rather than a general service registry.
package p2ptransport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	libp2pquic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	ws "github.com/libp2p/go-libp2p/p2p/transport/websocket"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/shurlinet/skytree/pkg/overlay"
)

// ProtocolID is the libp2p protocol every overlay stream speaks.
const ProtocolID = protocol.ID("/skytree/overlay/1.0.0")

// peerstoreTTL is how long AddPeerAddr's addresses are trusted before
// libp2p forgets them, matching the relay-address TTL pattern in the
// teacher's network.go (peerstore.PermanentAddrTTL scaled down here since
// connection-string addresses are meant to be used once, promptly).
const peerstoreTTL = 10 * time.Minute

// Config configures Transport construction.
type Config struct {
	// KeyFile persists this peer's identity across restarts. Empty means
	// generate a fresh, unpersisted identity.
	KeyFile string
	// ListenAddrs are multiaddr strings the host listens on. Defaults to
	// an ephemeral TCP and QUIC port on all interfaces when empty.
	ListenAddrs []string
}

// Transport implements overlay.Transport over a libp2p host.Host.
type Transport struct {
	host    host.Host
	metrics *Metrics

	onIncoming func(overlay.Conn)
}

// New constructs a libp2p host and wires its overlay protocol handler.
// Call OnIncoming before any peer connects, same as overlay.Peer.Start does
// immediately after constructing the transport.
func New(cfg Config) (*Transport, error) {
	opts := []libp2p.Option{
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Transport(libp2pquic.NewTransport),
		libp2p.Transport(ws.New),
	}
	if cfg.KeyFile != "" {
		priv, err := LoadOrCreateIdentity(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load identity: %w", err)
		}
		opts = append(opts, libp2p.Identity(priv))
	}
	if len(cfg.ListenAddrs) > 0 {
		opts = append(opts, libp2p.ListenAddrStrings(cfg.ListenAddrs...))
	} else {
		opts = append(opts, libp2p.ListenAddrStrings(
			"/ip4/0.0.0.0/tcp/0",
			"/ip4/0.0.0.0/udp/0/quic-v1",
		))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create libp2p host: %w", err)
	}

	t := &Transport{host: h, metrics: NewMetrics()}
	h.SetStreamHandler(ProtocolID, t.handleStream)
	return t, nil
}

// ID returns this host's peer ID string.
func (t *Transport) ID() overlay.PeerID {
	return t.host.ID().String()
}

// Addrs returns this host's listen multiaddrs as strings, for printing into
// a connection string (pkg/connstring).
func (t *Transport) Addrs() []string {
	out := make([]string, 0, len(t.host.Addrs()))
	for _, a := range t.host.Addrs() {
		out = append(out, a.String())
	}
	return out
}

// AddPeerAddr records a target peer's dialable multiaddrs in the
// peerstore before Connect is attempted, since overlay.Transport.Connect
// only carries an opaque PeerID. Callers learn these addresses out of
// band — from a connection string (pkg/connstring) or from a prior
// identify exchange — and feed them in here.
func (t *Transport) AddPeerAddr(id overlay.PeerID, addrs []string) error {
	pid, err := peer.Decode(id)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBadPeerID, id)
	}
	mas := make([]ma.Multiaddr, 0, len(addrs))
	for _, s := range addrs {
		m, err := ma.NewMultiaddr(s)
		if err != nil {
			return fmt.Errorf("invalid multiaddr %s: %w", s, err)
		}
		mas = append(mas, m)
	}
	t.host.Peerstore().AddAddrs(pid, mas, peerstoreTTL)
	return nil
}

// Connect opens one overlay protocol stream to target and completes the
// metadata handshake, per spec.md §6.2's "metadata available before the
// first Data event" contract.
func (t *Transport) Connect(ctx context.Context, target overlay.PeerID, md overlay.ConnMetadata) (overlay.Conn, error) {
	pid, err := peer.Decode(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadPeerID, target)
	}

	s, err := t.host.NewStream(ctx, pid, ProtocolID)
	if err != nil {
		t.metrics.DialTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("open stream to %s: %w", target, err)
	}

	dec := json.NewDecoder(s)
	if err := json.NewEncoder(s).Encode(md); err != nil {
		s.Reset()
		t.metrics.HandshakeErrors.WithLabelValues("outgoing").Inc()
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	t.metrics.DialTotal.WithLabelValues("ok").Inc()
	t.metrics.StreamsOpened.WithLabelValues("outgoing").Inc()
	return newConn(s, target, md, t.metrics, dec), nil
}

// OnIncoming registers the callback invoked for every accepted incoming
// stream, once its handshake has been read.
func (t *Transport) OnIncoming(fn func(overlay.Conn)) {
	t.onIncoming = fn
}

// handleStream is libp2p's stream handler for ProtocolID. It reads the
// metadata handshake synchronously (cheap, bounded) before handing a
// ready-to-use Conn to the registered OnIncoming callback.
func (t *Transport) handleStream(s network.Stream) {
	dec := json.NewDecoder(s)
	var md overlay.ConnMetadata
	if err := dec.Decode(&md); err != nil {
		t.metrics.HandshakeErrors.WithLabelValues("incoming").Inc()
		s.Reset()
		return
	}

	remoteID := s.Conn().RemotePeer().String()
	t.metrics.StreamsOpened.WithLabelValues("incoming").Inc()
	c := newConn(s, remoteID, md, t.metrics, dec)
	if t.onIncoming != nil {
		t.onIncoming(c)
	} else {
		c.Close()
	}
}

// Close shuts the underlying libp2p host down.
func (t *Transport) Close() error {
	return t.host.Close()
}
