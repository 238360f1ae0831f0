// Package console maps text commands onto session operations.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/knuckle/internal/session"
	"github.com/1ureka/knuckle/internal/util"
)

// ErrQuit is returned by Execute for the quit command.
var ErrQuit = errors.New("console: quit")

// Controller is the part of a session the console drives.
type Controller interface {
	StartHost(ctx context.Context) error
	StartServer(ctx context.Context) error
	StartClient(ctx context.Context, addr string) error
	Disconnect() error
	ListPeers() []session.PeerInfo
	Info() session.Info
	ChangeScene(name string) error
}

type command struct {
	usage string
	help  string
	run   func(ctx context.Context, args []string) error
}

// Console executes one command line at a time. It must be driven from the
// same goroutine as the session.
type Console struct {
	ctl      Controller
	out      io.Writer
	commands map[string]command
}

// New creates a console writing its output to out.
func New(ctl Controller, out io.Writer) *Console {
	c := &Console{ctl: ctl, out: out}
	c.commands = map[string]command{
		"host": {
			usage: "host",
			help:  "host a session and play as peer 1",
			run:   c.host,
		},
		"server": {
			usage: "server",
			help:  "run a dedicated relay without a local avatar",
			run:   c.server,
		},
		"join": {
			usage: "join <address> [port]",
			help:  "join the session hosted at address",
			run:   c.join,
		},
		"disconnect": {
			usage: "disconnect",
			help:  "leave the current session",
			run:   c.disconnect,
		},
		"players": {
			usage: "players",
			help:  "list known peers",
			run:   c.players,
		},
		"netinfo": {
			usage: "netinfo",
			help:  "show role, transport and traffic",
			run:   c.netinfo,
		},
		"scene": {
			usage: "scene <name>",
			help:  "load a scene on every peer",
			run:   c.scene,
		},
		"help": {
			usage: "help",
			help:  "show this list",
			run:   c.help,
		},
		"quit": {
			usage: "quit",
			help:  "leave and exit",
			run:   func(context.Context, []string) error { return ErrQuit },
		},
	}
	return c
}

// Execute runs one command line. Blank lines are ignored.
func (c *Console) Execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name := strings.ToLower(fields[0])
	if name == "exit" {
		name = "quit"
	}
	cmd, ok := c.commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", fields[0])
	}
	return cmd.run(ctx, fields[1:])
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func (c *Console) host(ctx context.Context, args []string) error {
	if len(args) != 0 {
		return usageError(c.commands["host"])
	}
	return c.ctl.StartHost(ctx)
}

func (c *Console) server(ctx context.Context, args []string) error {
	if len(args) != 0 {
		return usageError(c.commands["server"])
	}
	return c.ctl.StartServer(ctx)
}

func (c *Console) join(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return usageError(c.commands["join"])
	}
	addr, err := JoinAddress(args[0], args[1:]...)
	if err != nil {
		return err
	}
	return c.ctl.StartClient(ctx, addr)
}

func (c *Console) disconnect(_ context.Context, args []string) error {
	if len(args) != 0 {
		return usageError(c.commands["disconnect"])
	}
	return c.ctl.Disconnect()
}

func (c *Console) players(_ context.Context, _ []string) error {
	peers := c.ctl.ListPeers()
	if len(peers) == 0 {
		fmt.Fprintln(c.out, "no players")
		return nil
	}

	data := pterm.TableData{{"ID", "Name", "Role", "State", "Connected"}}
	for _, p := range peers {
		name := p.Username
		if name == "" {
			name = "-"
		}
		if p.Local {
			name += " (you)"
		}
		role := p.Role
		if role == "" {
			role = "-"
		}
		data = append(data, []string{
			strconv.Itoa(int(p.ID)), name, role, p.State, strconv.FormatBool(p.Connected),
		})
	}
	return c.render(data)
}

func (c *Console) netinfo(_ context.Context, _ []string) error {
	info := c.ctl.Info()
	role := string(info.Role)
	if role == "" {
		role = "none"
	}

	data := pterm.TableData{
		{"Role", role},
		{"Session", orDash(info.SessionID)},
		{"Transport", orDash(info.Transport)},
		{"Address", orDash(info.Addr)},
		{"Local ID", strconv.Itoa(int(info.LocalID))},
		{"Peers", strconv.Itoa(info.Peers)},
		{"Avatars", strconv.Itoa(info.Avatars)},
		{"Scene", orDash(info.Scene)},
		{"Uptime", info.Uptime.String()},
		{"Traffic", info.Traffic.String()},
	}
	return c.render(data)
}

func (c *Console) scene(_ context.Context, args []string) error {
	if len(args) != 1 {
		return usageError(c.commands["scene"])
	}
	return c.ctl.ChangeScene(args[0])
}

func (c *Console) help(_ context.Context, _ []string) error {
	names := make([]string, 0, len(c.commands))
	for n := range c.commands {
		names = append(names, n)
	}
	slices.Sort(names)

	data := pterm.TableData{{"Command", "Description"}}
	for _, n := range names {
		cmd := c.commands[n]
		data = append(data, []string{cmd.usage, cmd.help})
	}
	return c.render(data)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// JoinAddress builds a dial address from the join arguments. A separate port
// replaces any port on the address; URLs are passed through untouched.
func JoinAddress(addr string, port ...string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", errors.New("empty address")
	}
	if len(port) == 0 {
		return addr, nil
	}
	if strings.Contains(addr, "://") {
		return "", errors.New("give the port inside the URL, not separately")
	}

	p, err := strconv.Atoi(port[0])
	if err != nil || p < 1 || p > 65535 {
		return "", fmt.Errorf("invalid port %q: must be 1 ~ 65535", port[0])
	}
	if h, _, err := net.SplitHostPort(addr); err == nil {
		addr = h
	}
	return net.JoinHostPort(addr, strconv.Itoa(p)), nil
}

func (c *Console) render(data pterm.TableData) error {
	s, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, s)
	return err
}

func usageError(cmd command) error {
	return fmt.Errorf("usage: %s", cmd.usage)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Report logs a command error the way the interactive prompt shows it.
// Duplicate starts were already warned about by the session.
func Report(err error) {
	switch {
	case err == nil, errors.Is(err, ErrQuit):
	case errors.Is(err, session.ErrDuplicateOperation):
	default:
		util.LogError("%v", err)
	}
}
