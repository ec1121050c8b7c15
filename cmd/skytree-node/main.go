// Command skytree-node joins an existing overlay tree as a non-root peer,
// either by dialing a host directly or by pasting in the connection
// string a host printed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/shurlinet/skytree/internal/termcolor"
	"github.com/shurlinet/skytree/internal/validate"
	"github.com/shurlinet/skytree/internal/watchdog"
	"github.com/shurlinet/skytree/pkg/connstring"
	"github.com/shurlinet/skytree/pkg/overlay"
	"github.com/shurlinet/skytree/pkg/p2ptransport"
)

var (
	version = "dev"
	commit  = "unknown"
)

var osExit = os.Exit

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	osExit(1)
}

func main() {
	fs := flag.NewFlagSet("skytree-node", flag.ExitOnError)
	connStr := fs.String("connect", "", "connection string printed by a host")
	gameID := fs.String("game-id", "", "game id to join (ignored if --connect is set)")
	secret := fs.String("secret", "", "shared join secret (ignored if --connect is set)")
	hostID := fs.String("host-id", "", "host's peer id (ignored if --connect is set)")
	hostAddr := fs.String("host-addr", "", "comma-separated multiaddrs for the host (required unless already in the peerstore)")
	keyFile := fs.String("key-file", "node.key", "path to the persisted libp2p identity")
	configFile := fs.String("config", "", "path to an EngineConfig YAML file (optional)")
	listen := fs.String("listen", "", "comma-separated multiaddrs to listen on (optional)")
	jsonLog := fs.Bool("json-log", false, "emit structured JSON logs instead of text")
	fs.Parse(os.Args[1:])

	var handler slog.Handler
	if *jsonLog {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	gid, secretVal, hid, err := resolveJoinParams(*connStr, *gameID, *secret, *hostID)
	if err != nil {
		fatal("%v", err)
	}
	if err := validate.GameID(gid); err != nil {
		fatal("invalid game id: %v", err)
	}

	cfg := overlay.DefaultEngineConfig()
	if *configFile != "" {
		loaded, err := overlay.LoadEngineConfig(*configFile)
		if err != nil {
			fatal("load config: %v", err)
		}
		cfg = loaded
	}

	tcfg := p2ptransport.Config{KeyFile: *keyFile}
	if *listen != "" {
		tcfg.ListenAddrs = strings.Split(*listen, ",")
	}

	transport, err := p2ptransport.New(tcfg)
	if err != nil {
		fatal("start transport: %v", err)
	}

	if *hostAddr != "" {
		if err := transport.AddPeerAddr(hid, strings.Split(*hostAddr, ",")); err != nil {
			fatal("register host address: %v", err)
		}
	}

	node := overlay.NewNode(transport.ID(), gid, secretVal, hid, transport, cfg, logger)

	node.OnGameEventReceived(func(eventType string, data json.RawMessage, from overlay.PeerID) {
		logger.Info("game event", "type", eventType, "from", from, "bytes", len(data))
	})

	ctx, cancel := context.WithCancel(context.Background())
	node.Start(ctx)

	termcolor.Green("skytree-node %s (%s)", version, commit)
	fmt.Printf("peer id:  %s\n", transport.ID())
	fmt.Printf("game id:  %s\n", gid)
	fmt.Printf("host id:  %s\n", hid)

	watchdog.Ready()
	go watchdog.Run(ctx, watchdog.Config{}, []watchdog.HealthCheck{
		{
			Name: "node-attached",
			Check: func() error {
				if snap := node.Observe(); !snap.Attached {
					return fmt.Errorf("not attached to a parent")
				}
				return nil
			},
		},
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Printf("\nreceived %s, shutting down...\n", sig)

	watchdog.Stopping()
	cancel()
	node.Close() // also closes transport
}

// resolveJoinParams prefers an explicit --connect string over the
// individual --game-id/--secret/--host-id flags, since a connection
// string already carries everything needed to bootstrap.
func resolveJoinParams(connStr, gameID, secret, hostID string) (gid, sec, hid string, err error) {
	if connStr != "" {
		rec, err := connstring.Decode(connStr)
		if err != nil {
			return "", "", "", fmt.Errorf("decode connection string: %w", err)
		}
		return rec.GameID, rec.Secret, rec.HostID, nil
	}
	if gameID == "" || secret == "" || hostID == "" {
		return "", "", "", fmt.Errorf("either --connect or all of --game-id/--secret/--host-id must be set")
	}
	return gameID, secret, hostID, nil
}
