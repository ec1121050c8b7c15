package overlay

import "errors"

var (
	// ErrBadMetadata names an incoming connection whose metadata fails
	// gameId/secret validation. The engine does not return it: such a
	// connection is closed silently and nothing reaches the application.
	ErrBadMetadata = errors.New("invalid connection metadata")

	// ErrGameIDMismatch names a message whose gameId does not match the
	// local engine's gameId. The engine does not return it: such messages
	// are dropped silently.
	ErrGameIDMismatch = errors.New("gameId mismatch")

	// ErrHostFull names the case where the Host has no spare direct child
	// slots. The engine does not return it: the Host answers JOIN_ACCEPT
	// with keepAlive=false instead.
	ErrHostFull = errors.New("host has no free child slots")

	// ErrNoParent is returned by operations that require an attached
	// parent link (e.g. sendGameEvent) when the Node is unattached.
	ErrNoParent = errors.New("node has no parent connection")

	// ErrAckTimeout is returned when a pending ACK future is not resolved
	// within the configured timeout.
	ErrAckTimeout = errors.New("ack timed out")

	// ErrPayloadTimeout is returned when requestPayload's future is not
	// resolved within the configured timeout.
	ErrPayloadTimeout = errors.New("payload request timed out")

	// ErrClosing is the rejection reason given to every pending future
	// when a peer tears itself down.
	ErrClosing = errors.New("peer is closing")

	// ErrRateLimited names an inbound connection that exceeds the
	// configured rate-limit window. The engine does not return it: the
	// connection is closed and the RateLimitDrops metric is incremented.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrMaxAttachAttempts names a Node exhausting its attach attempt
	// budget. The engine does not return it: the Node logs the event and
	// re-authenticates directly with the Host.
	ErrMaxAttachAttempts = errors.New("max attach attempts exceeded")

	// ErrUnroutable is returned internally when a downstream message has
	// neither a route entry nor a descendant mapping nor a parent
	// fallback, per spec.md §4.3 drop rule (c).
	ErrUnroutable = errors.New("no route to destination")
)
