package overlay_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/shurlinet/skytree/internal/faketransport"
	"github.com/shurlinet/skytree/pkg/overlay"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(slogDiscard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

// slogDiscard is an io.Writer that throws everything away, keeping test
// output focused on actual failures rather than engine chatter.
type slogDiscard struct{}

func (slogDiscard) Write(p []byte) (int, error) { return len(p), nil }

func fastConfig() *overlay.EngineConfig {
	cfg := overlay.DefaultEngineConfig()
	cfg.RainIntervalMS = 20
	cfg.SubtreeStatusIntervalMS = 30
	cfg.TickIntervalMS = 20
	cfg.AckTimeoutMS = 2000
	cfg.RateLimitSweepMS = 500
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// TestNodeJoinsHostDirectly exercises the bootstrap JOIN_REQUEST/ACCEPT
// flow over the in-process fake transport: a single Node dials a Host
// directly and should end up attached at depth 1.
func TestNodeJoinsHostDirectly(t *testing.T) {
	net := faketransport.NewNetwork()
	hostTransport := faketransport.New(net, "host-1")
	nodeTransport := faketransport.New(net, "node-1")

	cfg := fastConfig()
	host := overlay.NewHost("host-1", "my-game", "s3cr3t", hostTransport, cfg, quietLogger())
	node := overlay.NewNode("node-1", "my-game", "s3cr3t", "host-1", nodeTransport, cfg, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	host.Start(ctx)
	node.Start(ctx)
	defer host.Close()
	defer node.Close()

	waitFor(t, 2*time.Second, func() bool {
		return node.Observe().Attached
	})

	snap := node.Observe()
	if snap.Depth != 1 {
		t.Errorf("node depth = %d, want 1 (direct child of host)", snap.Depth)
	}
	if snap.Parent != "host-1" {
		t.Errorf("node parent = %q, want host-1", snap.Parent)
	}

	hostSnap := host.Observe()
	if len(hostSnap.Children) != 1 || hostSnap.Children[0] != "node-1" {
		t.Errorf("host children = %v, want [node-1]", hostSnap.Children)
	}
}

// TestGameEventReplicatesToChild confirms a Host-broadcast game event
// reaches an attached child's onGameEventReceived callback.
func TestGameEventReplicatesToChild(t *testing.T) {
	net := faketransport.NewNetwork()
	hostTransport := faketransport.New(net, "host-1")
	nodeTransport := faketransport.New(net, "node-1")

	cfg := fastConfig()
	host := overlay.NewHost("host-1", "my-game", "s3cr3t", hostTransport, cfg, quietLogger())
	node := overlay.NewNode("node-1", "my-game", "s3cr3t", "host-1", nodeTransport, cfg, quietLogger())

	received := make(chan string, 1)
	node.OnGameEventReceived(func(eventType string, data json.RawMessage, from overlay.PeerID) {
		received <- eventType
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	host.Start(ctx)
	node.Start(ctx)
	defer host.Close()
	defer node.Close()

	waitFor(t, 2*time.Second, func() bool { return node.Observe().Attached })

	host.BroadcastGameEvent("player-moved", json.RawMessage(`{"x":1,"y":2}`))

	select {
	case eventType := <-received:
		if eventType != "player-moved" {
			t.Errorf("received event type %q, want player-moved", eventType)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the game event to reach the child")
	}
}

// TestRainAdvancesNodeRainSeq confirms the periodic RAIN heartbeat alone
// (no game events) advances an attached Node's observed rainSeq.
func TestRainAdvancesNodeRainSeq(t *testing.T) {
	net := faketransport.NewNetwork()
	hostTransport := faketransport.New(net, "host-1")
	nodeTransport := faketransport.New(net, "node-1")

	cfg := fastConfig()
	host := overlay.NewHost("host-1", "my-game", "s3cr3t", hostTransport, cfg, quietLogger())
	node := overlay.NewNode("node-1", "my-game", "s3cr3t", "host-1", nodeTransport, cfg, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	host.Start(ctx)
	node.Start(ctx)
	defer host.Close()
	defer node.Close()

	waitFor(t, 2*time.Second, func() bool { return node.Observe().Attached })
	waitFor(t, 2*time.Second, func() bool { return node.Observe().RainSeq > 0 })
}
