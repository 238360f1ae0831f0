// Package session is the top-level coordinator. A Session owns the
// connection registry, spawn manager, replicator and (when authoritative) the
// relay router for one run, and drives them from a single tick goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/1ureka/knuckle/internal/config"
	"github.com/1ureka/knuckle/internal/protocol"
	"github.com/1ureka/knuckle/internal/registry"
	"github.com/1ureka/knuckle/internal/relay"
	"github.com/1ureka/knuckle/internal/replicator"
	"github.com/1ureka/knuckle/internal/spawn"
	"github.com/1ureka/knuckle/internal/transport"
	"github.com/1ureka/knuckle/internal/util"
)

// SceneLoader switches the host application to another scene.
type SceneLoader interface {
	LoadScene(name string) error
}

// Deps are the collaborators a Session drives. Network and Factory are
// required; the rest are optional.
type Deps struct {
	Network  transport.Network
	Factory  spawn.Factory
	Source   replicator.PoseSource // local avatar pose; nil means nothing to send
	Scenes   SceneLoader
	Counters *util.Counters
}

// Session is not safe for concurrent use: every method, Tick included, must
// be called from the same goroutine.
type Session struct {
	cfg  config.Config
	deps Deps

	id        uuid.UUID
	role      config.Role
	ch        transport.Channel
	addr      string
	startedAt time.Time
	scene     string

	reg      *registry.Registry
	spawns   *spawn.Manager
	repl     *replicator.Replicator
	router   *relay.Router
	once     *util.OnceLogger
	counters *util.Counters

	handlers  map[dispatchKey]handler
	loopback  []protocol.Message
	observers []Observer
}

// New builds an idle session.
func New(cfg config.Config, deps Deps) *Session {
	if deps.Counters == nil {
		deps.Counters = &util.Counters{}
	}

	s := &Session{
		cfg:      cfg,
		deps:     deps,
		reg:      registry.New(),
		once:     util.NewOnceLogger(0, nil),
		counters: deps.Counters,
	}
	s.spawns = spawn.NewManager(deps.Factory, s.once)
	s.spawns.SetHooks(spawn.Hooks{
		Spawned: func(id protocol.PeerID, kind spawn.Kind) {
			s.notify(Event{Kind: AvatarSpawned, Peer: id, Local: kind == spawn.Local})
		},
		Despawned: func(id protocol.PeerID, kind spawn.Kind) {
			s.notify(Event{Kind: AvatarDespawned, Peer: id, Local: kind == spawn.Local})
		},
	})
	s.repl = replicator.New(replicator.Options{
		SendInterval:      cfg.SendInterval,
		MinSendGap:        cfg.MinSendGap,
		MoveThreshold:     cfg.MoveThreshold,
		SmoothingRate:     cfg.SmoothingRate,
		TeleportThreshold: cfg.TeleportThreshold,
	}, s.spawns, s.once)
	s.repl.SetSource(deps.Source)
	s.handlers = s.buildDispatch()
	return s
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// StartHost listens for peers and plays as peer 1.
func (s *Session) StartHost(ctx context.Context) error {
	return s.startAuthority(ctx, config.RoleHost)
}

// StartServer listens for peers without a local avatar.
func (s *Session) StartServer(ctx context.Context) error {
	return s.startAuthority(ctx, config.RoleServer)
}

func (s *Session) startAuthority(ctx context.Context, role config.Role) error {
	if err := s.checkIdle(role); err != nil {
		return err
	}

	ch, err := s.deps.Network.Listen(ctx, s.cfg.ListenAddr)
	if err != nil {
		util.LogError("failed to listen on %s: %v", s.cfg.ListenAddr, err)
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}

	s.begin(role, ch, s.cfg.ListenAddr)

	host := protocol.NoPeer
	if role == config.RoleHost {
		host = protocol.HostPeer
		s.spawns.SetSelf(host)
		s.reg.OnConnect(host, registry.RoleHost)
	}
	s.router = relay.New(outbox{s}, s.spawns, relay.Options{
		Host:     host,
		Version:  s.cfg.Version,
		Once:     s.once,
		Counters: s.counters,
	})

	s.started()

	if role == config.RoleHost {
		if _, err := s.spawns.Spawn(host); err != nil {
			util.LogWarning("hosting without a local avatar: %v", err)
		}
		s.repl.SetPublisher(func(state protocol.AvatarState) error {
			return s.router.Broadcast(state)
		})
	}
	return nil
}

// StartClient connects to the host at addr and sends JoinRequest. It blocks
// until the connection is established or fails.
func (s *Session) StartClient(ctx context.Context, addr string) error {
	if err := s.checkIdle(config.RoleClient); err != nil {
		return err
	}

	ch, err := s.deps.Network.Dial(ctx, addr)
	if err != nil {
		util.LogError("failed to connect to %s: %v", addr, err)
		if errors.Is(err, transport.ErrConnectFailed) {
			return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}

	s.begin(config.RoleClient, ch, addr)
	s.spawns.SetSelf(ch.LocalID())
	s.reg.OnConnect(protocol.HostPeer, registry.RoleHost)
	s.repl.SetPublisher(func(state protocol.AvatarState) error {
		return s.sendTo(protocol.HostPeer, state)
	})

	s.started()
	s.notify(Event{Kind: PeerConnected, Peer: protocol.HostPeer})

	join := protocol.JoinRequest{Username: s.cfg.Username, Version: s.cfg.Version}
	if err := s.sendTo(protocol.HostPeer, join); err != nil {
		util.LogError("failed to send JoinRequest: %v", err)
	}
	return nil
}

func (s *Session) checkIdle(want config.Role) error {
	if s.role == config.RoleNone {
		return nil
	}
	util.LogWarning("cannot start %s: already running as %s", want, s.role)
	return ErrDuplicateOperation
}

func (s *Session) begin(role config.Role, ch transport.Channel, addr string) {
	s.id = uuid.New()
	s.role = role
	s.ch = ch
	s.addr = addr
	s.startedAt = time.Now()
	s.scene = ""
	s.loopback = nil
	s.once.Reset()
}

func (s *Session) started() {
	util.LogSuccess("session %s started as %s over %s (local id %d)",
		s.shortID(), s.role, s.ch.Name(), s.spawns.Self())
	s.notify(Event{Kind: Started})
}

// Disconnect leaves the session: remote avatars are destroyed first, then
// the local one, then the registry is cleared and the transport closed.
func (s *Session) Disconnect() error {
	if s.role == config.RoleNone {
		return ErrNotRunning
	}
	return s.teardown("disconnected")
}

// Close is Disconnect that tolerates an idle session.
func (s *Session) Close() error {
	if s.role == config.RoleNone {
		return nil
	}
	return s.teardown("shutting down")
}

func (s *Session) teardown(reason string) error {
	role := s.role

	destroyed := s.spawns.DespawnRemotes()
	s.spawns.Reset()
	if s.router != nil {
		s.router.Reset()
	}
	s.reg.Clear()

	var err error
	if s.ch != nil {
		err = multierr.Append(err, s.ch.Close())
	}

	s.repl.SetPublisher(nil)
	s.router = nil
	s.ch = nil
	s.loopback = nil
	s.role = config.RoleNone

	util.LogInfo("session %s %s (%d remote avatars destroyed)", s.shortID(), reason, destroyed)
	s.notify(Event{Kind: Stopped, Role: role})
	return err
}

// ---------------------------------------------------------------------------
// Tick
// ---------------------------------------------------------------------------

// Tick runs one simulation step: every pending transport event is handled
// first, then the local pose is published, then remote avatars are smoothed.
func (s *Session) Tick(dt time.Duration) {
	if dt < 0 {
		dt = 0
	}
	if s.ch != nil {
		for _, ev := range s.ch.Pump() {
			s.handleEvent(ev)
			s.drainLoopback()
			if s.ch == nil {
				break
			}
		}
	}
	if s.ch != nil {
		s.repl.Outbound(dt)
	}
	s.repl.Smooth(dt)
}

func (s *Session) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnected:
		s.onConnected(ev.Peer)
	case transport.EventDisconnected:
		s.onDisconnected(ev.Peer)
	case transport.EventMessage:
		s.onMessage(ev.Peer, ev.Data)
	}
}

func (s *Session) onConnected(peer protocol.PeerID) {
	if s.role == config.RoleClient {
		// Registered by StartClient already.
		return
	}
	if !s.reg.OnConnect(peer, registry.RoleRemote) {
		return
	}
	s.router.OnConnect(peer)
	util.LogInfo("peer %d connected, awaiting JoinRequest", peer)
	s.notify(Event{Kind: PeerConnected, Peer: peer})
}

func (s *Session) onDisconnected(peer protocol.PeerID) {
	if s.role == config.RoleClient {
		if peer != protocol.HostPeer {
			return
		}
		util.LogWarning("lost connection to host")
		s.notify(Event{Kind: PeerDisconnected, Peer: peer})
		if err := s.teardown("ended by host"); err != nil {
			util.LogDebug("teardown: %v", err)
		}
		return
	}
	if !s.reg.OnDisconnect(peer) {
		return
	}
	s.router.OnDisconnect(peer)
	s.notify(Event{Kind: PeerDisconnected, Peer: peer})
}

func (s *Session) onMessage(from protocol.PeerID, data []byte) {
	s.counters.AddMsgRecv()

	msg, err := protocol.Decode(data)
	if err != nil {
		s.counters.AddDropped()
		s.once.Log(util.OnceKey{Class: "decode", ID: uint32(from)}, "bad message from peer %d: %v", from, err)
		return
	}

	sd := sideClient
	if s.role == config.RoleHost || s.role == config.RoleServer {
		sd = sideServer
	}
	s.dispatch(sd, from, msg, data)
}

// ---------------------------------------------------------------------------
// Sending
// ---------------------------------------------------------------------------

// outbox adapts the session for the relay router.
type outbox struct{ s *Session }

func (o outbox) Send(to protocol.PeerID, msg protocol.Message) error { return o.s.sendTo(to, msg) }

func (o outbox) Forward(to protocol.PeerID, mode protocol.Delivery, payload []byte) error {
	return o.s.sendRaw(to, mode, payload)
}

func (o outbox) Local(msg protocol.Message) { o.s.loopback = append(o.s.loopback, msg) }

// sendTo encodes msg and sends it on the stream its kind travels on.
func (s *Session) sendTo(to protocol.PeerID, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return s.sendRaw(to, msg.Kind().Delivery(), data)
}

func (s *Session) sendRaw(to protocol.PeerID, mode protocol.Delivery, payload []byte) error {
	if s.ch == nil {
		return ErrTransportUnavailable
	}
	if err := s.ch.Send(to, mode, payload); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	s.counters.AddMsgSent()
	return nil
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

// ChangeScene asks every peer to load scene. On a client the request goes
// to the host, which relays it to everyone, this client included.
func (s *Session) ChangeScene(scene string) error {
	if s.role == config.RoleNone {
		return ErrNotRunning
	}
	if scene == "" {
		return errors.New("session: empty scene name")
	}

	msg := protocol.SceneChange{Scene: scene}
	if s.role == config.RoleClient {
		return s.sendTo(protocol.HostPeer, msg)
	}
	s.router.RelayScene(protocol.NoPeer, msg)
	s.drainLoopback()
	return nil
}

// Role returns the current role, RoleNone when idle.
func (s *Session) Role() config.Role { return s.role }

// LocalID returns this process's avatar id, NoPeer when it has none.
func (s *Session) LocalID() protocol.PeerID { return s.spawns.Self() }

// Avatars returns every spawned avatar id, local included.
func (s *Session) Avatars() []protocol.PeerID { return s.spawns.IDs() }

func (s *Session) shortID() string {
	return s.id.String()[:8]
}
