package session

import (
	"errors"

	"github.com/1ureka/knuckle/internal/protocol"
	"github.com/1ureka/knuckle/internal/spawn"
	"github.com/1ureka/knuckle/internal/util"
)

// side selects which half of the dispatch table handles a message: the
// authoritative relay (host or dedicated server) or the avatar-owning peer.
// A host runs both, reaching its own client side through loopback.
type side uint8

const (
	sideServer side = iota
	sideClient
)

func (s side) String() string {
	if s == sideServer {
		return "server"
	}
	return "client"
}

type dispatchKey struct {
	kind protocol.Kind
	side side
}

// handler processes one decoded message. payload is the original encoding
// when the message came off the wire, and nil for loopback.
type handler func(from protocol.PeerID, msg protocol.Message, payload []byte)

// buildDispatch populates the table once. Kinds without an entry for a side
// are dropped there.
func (s *Session) buildDispatch() map[dispatchKey]handler {
	return map[dispatchKey]handler{
		{protocol.KindJoinRequest, sideServer}:     s.serverJoin,
		{protocol.KindAvatarStateSync, sideServer}: s.serverState,
		{protocol.KindSceneChange, sideServer}:     s.serverScene,

		{protocol.KindSpawnAvatar, sideClient}:     s.clientSpawn,
		{protocol.KindDespawnAvatar, sideClient}:   s.clientDespawn,
		{protocol.KindAvatarStateSync, sideClient}: s.clientState,
		{protocol.KindSceneChange, sideClient}:     s.clientScene,
	}
}

// dispatch routes msg through the table.
func (s *Session) dispatch(sd side, from protocol.PeerID, msg protocol.Message, payload []byte) {
	h, ok := s.handlers[dispatchKey{msg.Kind(), sd}]
	if !ok {
		s.counters.AddDropped()
		s.once.Log(util.OnceKey{Class: "no-handler:" + sd.String() + ":" + msg.Kind().String(), ID: uint32(from)},
			"no %s-side handler for %s from peer %d, dropping", sd, msg.Kind(), from)
		return
	}
	h(from, msg, payload)
}

// drainLoopback dispatches queued local messages through the client side.
// Handlers may queue more; they are processed in order before returning.
func (s *Session) drainLoopback() {
	for len(s.loopback) > 0 {
		msg := s.loopback[0]
		s.loopback = s.loopback[1:]
		s.dispatch(sideClient, s.spawns.Self(), msg, nil)
	}
	s.loopback = nil
}

// ---------------------------------------------------------------------------
// Server side
// ---------------------------------------------------------------------------

func (s *Session) serverJoin(from protocol.PeerID, msg protocol.Message, _ []byte) {
	s.router.HandleJoin(from, msg.(protocol.JoinRequest))
}

func (s *Session) serverState(from protocol.PeerID, msg protocol.Message, payload []byte) {
	s.router.RelayState(from, msg.(protocol.AvatarState), payload)
}

func (s *Session) serverScene(from protocol.PeerID, msg protocol.Message, _ []byte) {
	s.router.RelayScene(from, msg.(protocol.SceneChange))
}

// ---------------------------------------------------------------------------
// Client side
// ---------------------------------------------------------------------------

func (s *Session) clientSpawn(_ protocol.PeerID, msg protocol.Message, _ []byte) {
	m := msg.(protocol.SpawnAvatar)
	// Failures are logged by the manager and leave the registry unchanged.
	_, _ = s.spawns.Spawn(m.Peer)
}

func (s *Session) clientDespawn(_ protocol.PeerID, msg protocol.Message, _ []byte) {
	m := msg.(protocol.DespawnAvatar)
	if m.Peer == s.spawns.Self() {
		util.LogWarning("host asked to despawn our own avatar %d, ignoring", m.Peer)
		return
	}
	s.spawns.Despawn(m.Peer)
}

func (s *Session) clientState(_ protocol.PeerID, msg protocol.Message, _ []byte) {
	m := msg.(protocol.AvatarState)
	err := s.spawns.ApplyState(m.Peer, m)
	switch {
	case err == nil:
	case errors.Is(err, spawn.ErrUnknownPeer):
		s.counters.AddDropped()
	case errors.Is(err, spawn.ErrLocalAuthority):
		s.counters.AddDropped()
		s.once.Log(util.OnceKey{Class: "echo", ID: uint32(m.Peer)}, "received state for our own avatar %d, ignoring", m.Peer)
	}
}

func (s *Session) clientScene(_ protocol.PeerID, msg protocol.Message, _ []byte) {
	m := msg.(protocol.SceneChange)
	s.scene = m.Scene
	util.LogInfo("loading scene %q", m.Scene)
	if s.deps.Scenes == nil {
		return
	}
	if err := s.deps.Scenes.LoadScene(m.Scene); err != nil {
		util.LogError("failed to load scene %q: %v", m.Scene, err)
	}
}
