package p2ptransport

import "errors"

var (
	// ErrBadPeerID is returned when a PeerID string does not decode to a
	// valid libp2p peer.ID.
	ErrBadPeerID = errors.New("p2ptransport: invalid peer id")
	// ErrHandshakeFailed is returned when the metadata handshake framing a
	// new stream could not be read or did not decode.
	ErrHandshakeFailed = errors.New("p2ptransport: handshake failed")
	// ErrClosed names a transport that has been closed. No function in
	// this package returns it.
	ErrClosed = errors.New("p2ptransport: transport closed")
)
