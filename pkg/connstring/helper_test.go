package connstring

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shurlinet/skytree/internal/faketransport"
	"github.com/shurlinet/skytree/pkg/overlay"
)

// testNetwork gives connstring's tests a live Host and Node to exercise
// Generate/Decode against, without spinning up a real transport.
type testNetwork struct {
	host *overlay.Peer
	node *overlay.Peer
}

func newTestNetwork(t *testing.T) *testNetwork {
	t.Helper()
	net := faketransport.NewNetwork()
	hostTransport := faketransport.New(net, "host-1")
	nodeTransport := faketransport.New(net, "node-1")

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	cfg := overlay.DefaultEngineConfig()

	host := overlay.NewHost("host-1", "my-game", "s3cr3t", hostTransport, cfg, logger)
	node := overlay.NewNode("node-1", "my-game", "s3cr3t", "host-1", nodeTransport, cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	host.Start(ctx)
	node.Start(ctx)

	t.Cleanup(func() {
		cancel()
		host.Close()
		node.Close()
	})

	return &testNetwork{host: host, node: node}
}
