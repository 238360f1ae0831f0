// Knuckle CLI entry point.
//
// Runs a headless peer of a small multiplayer session: one process hosts
// (or runs a dedicated relay) and others join it over WebRTC DataChannels,
// using WebSocket only for signaling. Avatars are scripted and every peer
// sees every other peer's avatar move.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-role, -listen, -url, -name, -config). Once running, session
// commands are read from stdin (type "help").
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/knuckle/internal/config"
	"github.com/1ureka/knuckle/internal/console"
	"github.com/1ureka/knuckle/internal/geom"
	"github.com/1ureka/knuckle/internal/session"
	"github.com/1ureka/knuckle/internal/signaling"
	"github.com/1ureka/knuckle/internal/util"
	"github.com/1ureka/knuckle/internal/world"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	role := flag.String("role", "", "Role: host, server or client")
	configPath := flag.String("config", "", "Path to a TOML config file")
	listen := flag.String("listen", "", "Signaling listen address (host/server), e.g. :7777")
	serverURL := flag.String("url", "", "Host address or WebSocket URL to join (client only)")
	name := flag.String("name", "", "Username shown to other players")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Knuckle — v%s", version))
	pterm.Println()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *role != "" {
		cfg.Role = config.Role(strings.ToLower(*role))
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}
	if *name != "" {
		cfg.Username = *name
	}
	if cfg.Version == config.Default().Version && version != "dev" {
		cfg.Version = version
	}
	if err := cfg.Validate(); err != nil {
		util.LogError("invalid configuration: %v", err)
		os.Exit(1)
	}

	// No role from flags or file: interactive mode.
	if cfg.Role == config.RoleNone {
		cfg = askRole(cfg)
	}

	run(ctx, cfg)
	util.LogInfo("successfully closed session")
}

// ---------------------------------------------------------------------------
// Run loop
// ---------------------------------------------------------------------------

// run wires the session to the webrtc network and the headless world, starts
// the configured role, then ticks the session and executes console commands
// on the same goroutine until ctx is cancelled or "quit" is entered.
func run(ctx context.Context, cfg config.Config) {
	counters := &util.Counters{}
	network := &signaling.Network{Stun: cfg.StunServers, Counters: counters}

	templates := world.NewTemplates(cfg.AvatarTemplate, cfg.AvatarTemplate)
	wanderer := world.NewWanderer(geom.Vec3{}, 2, 0.6, colorFor(cfg.Username))
	scenes := world.NewScenes(func(string) { wanderer.Teleport(geom.Vec3{}) })

	sess := session.New(cfg, session.Deps{
		Network:  network,
		Factory:  templates,
		Source:   wanderer,
		Scenes:   scenes,
		Counters: counters,
	})
	sess.Subscribe(eventLogger{})
	defer func() {
		if err := sess.Close(); err != nil {
			util.LogWarning("close: %v", err)
		}
	}()

	con := console.New(sess, os.Stdout)
	if err := startRole(ctx, con, cfg); err != nil {
		console.Report(err)
	}

	util.StartStatsReporter(ctx, counters, cfg.StatsInterval)
	util.LogInfo("type \"help\" for commands")

	lines := readLines(os.Stdin)
	ticker := time.NewTicker(cfg.TickInterval())
	defer ticker.Stop()
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return

		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			err := con.Execute(ctx, line)
			if errors.Is(err, console.ErrQuit) {
				return
			}
			console.Report(err)

		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			wanderer.Advance(dt)
			sess.Tick(dt)
		}
	}
}

// startRole issues the console command matching the configured role.
func startRole(ctx context.Context, con *console.Console, cfg config.Config) error {
	switch cfg.Role {
	case config.RoleHost:
		return con.Execute(ctx, "host")
	case config.RoleServer:
		return con.Execute(ctx, "server")
	case config.RoleClient:
		if cfg.ServerURL == "" {
			return errors.New("missing server address for client role (-url)")
		}
		return con.Execute(ctx, "join "+cfg.ServerURL)
	}
	return nil
}

// readLines forwards stdin lines to a channel, closing it on EOF.
func readLines(r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			out <- sc.Text()
		}
	}()
	return out
}

// eventLogger prints session events that are not already logged elsewhere.
type eventLogger struct{}

func (eventLogger) OnSessionEvent(ev session.Event) {
	switch ev.Kind {
	case session.PeerConnected:
		util.LogInfo("peer %d connected", ev.Peer)
	case session.PeerDisconnected:
		util.LogInfo("peer %d disconnected", ev.Peer)
	case session.AvatarSpawned:
		if !ev.Local {
			util.LogDebug("avatar %d spawned", ev.Peer)
		}
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// askRole prompts for a role and whatever that role still needs.
func askRole(cfg config.Config) config.Config {
	choice, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{
			"Host   — Host a session and play",
			"Server — Run a dedicated relay",
			"Client — Join a host",
			"None   — Start idle, use commands",
		}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	switch {
	case strings.HasPrefix(choice, "Host"):
		cfg.Role = config.RoleHost
	case strings.HasPrefix(choice, "Server"):
		cfg.Role = config.RoleServer
	case strings.HasPrefix(choice, "Client"):
		cfg.Role = config.RoleClient
		if cfg.ServerURL == "" {
			cfg.ServerURL = askAddress()
		}
	}
	return cfg
}

// askAddress prompts for a host address until a usable one is entered.
func askAddress() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Host address (e.g. 192.168.1.5:7777 or wss://***.devtunnels.ms/ws)").
			Show()

		addr, err := console.JoinAddress(raw)
		if err == nil {
			pterm.Println()
			return addr
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a host address or URL")
	}
}

// colorFor derives a stable hand tint from the username.
func colorFor(name string) geom.Color {
	h := fnv.New32a()
	h.Write([]byte(name))
	v := h.Sum32()
	return geom.Color{
		R: float32(v&0xff) / 255,
		G: float32(v>>8&0xff) / 255,
		B: float32(v>>16&0xff) / 255,
		A: 1,
	}
}
