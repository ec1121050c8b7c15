// Command skytree-host runs the root peer of an overlay tree: it accepts
// joins and attaches, drives the RAIN heartbeat, and replicates game
// events to every descendant.
package main

import (
	"context"
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

// osExit is a var so tests can intercept process termination the way
// the client binaries in this module family already do.
var osExit = os.Exit

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	osExit(1)
}

func main() {
	fs := flag.NewFlagSet("skytree-host", flag.ExitOnError)
	gameID := fs.String("game-id", "", "game id this host serves (required, DNS-label format)")
	secret := fs.String("secret", "", "shared join secret (required)")
	keyFile := fs.String("key-file", "host.key", "path to the persisted libp2p identity")
	configFile := fs.String("config", "", "path to an EngineConfig YAML file (optional)")
	listen := fs.String("listen", "", "comma-separated multiaddrs to listen on (optional)")
	jsonLog := fs.Bool("json-log", false, "emit structured JSON logs instead of text")
	fs.Parse(os.Args[1:])

	logLevel := slog.LevelInfo
	var handler slog.Handler
	if *jsonLog {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	if err := validate.GameID(*gameID); err != nil {
		fatal("invalid --game-id: %v", err)
	}
	if *secret == "" {
		fatal("--secret is required")
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

	host := overlay.NewHost(transport.ID(), *gameID, *secret, transport, cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	host.Start(ctx)

	termcolor.Green("skytree-host %s (%s)", version, commit)
	fmt.Printf("peer id:  %s\n", transport.ID())
	fmt.Printf("game id:  %s\n", *gameID)
	fmt.Println("addrs:")
	for _, a := range transport.Addrs() {
		fmt.Printf("  %s\n", a)
	}

	printConnString(host)

	watchdog.Ready()
	go watchdog.Run(ctx, watchdog.Config{}, []watchdog.HealthCheck{
		{
			Name: "host-attached-children",
			Check: func() error {
				host.Observe()
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
	host.Close() // also closes transport
}

// printConnString prints the out-of-band bootstrap payload a Node pastes
// in to join directly, per the join-flow this engine intentionally
// leaves unopinionated about the exchange channel.
func printConnString(host *overlay.Peer) {
	rec, err := connstring.Generate(host)
	if err != nil {
		slog.Warn("connection string unavailable", "error", err)
		return
	}
	s, err := connstring.Encode(rec)
	if err != nil {
		slog.Warn("encode connection string", "error", err)
		return
	}
	fmt.Println()
	termcolor.Faint("connection string (qrSeq=%d):\n", rec.QRSeq)
	fmt.Println(s)
	fmt.Println()
}

