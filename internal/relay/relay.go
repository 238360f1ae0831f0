// Package relay is the host-side message router. It runs the join protocol,
// rebroadcasts pose updates with sender exclusion, relays scene changes and
// announces departures.
package relay

import (
	"fmt"
	"slices"
	"time"

	"github.com/1ureka/knuckle/internal/protocol"
	"github.com/1ureka/knuckle/internal/spawn"
	"github.com/1ureka/knuckle/internal/util"
)

// State is a connected peer's progress through the join protocol. Peers that
// are still handshaking or already gone are not members at all.
type State uint8

const (
	// AwaitingJoin peers are connected but have not sent JoinRequest. They
	// receive no spawns and their pose updates are ignored.
	AwaitingJoin State = iota + 1
	// Spawned peers completed the join protocol.
	Spawned
)

func (s State) String() string {
	switch s {
	case AwaitingJoin:
		return "awaiting-join"
	case Spawned:
		return "spawned"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Member is the router's view of one connected remote peer.
type Member struct {
	ID       protocol.PeerID
	State    State
	Username string
	Version  string
	JoinedAt time.Time
}

// Outbox is how the router talks to peers. Send and Forward address remote
// peers only; Local delivers to this process's own client-side handlers.
type Outbox interface {
	Send(to protocol.PeerID, msg protocol.Message) error
	Forward(to protocol.PeerID, mode protocol.Delivery, payload []byte) error
	Local(msg protocol.Message)
}

// Router is owned by the tick goroutine.
type Router struct {
	out      Outbox
	spawns   *spawn.Manager
	host     protocol.PeerID // the host's own avatar id, NoPeer for a dedicated server
	version  string
	once     *util.OnceLogger
	counters *util.Counters
	now      func() time.Time

	members map[protocol.PeerID]*Member
}

// Options configure a Router.
type Options struct {
	Host     protocol.PeerID // HostPeer when the host plays, NoPeer for a dedicated server
	Version  string          // joiners reporting another version are warned about
	Once     *util.OnceLogger
	Counters *util.Counters
}

// New creates a router. spawns is the host's own registry and is consulted
// for the catch-up burst.
func New(out Outbox, spawns *spawn.Manager, opts Options) *Router {
	if opts.Once == nil {
		opts.Once = util.NewOnceLogger(0, nil)
	}
	if opts.Counters == nil {
		opts.Counters = &util.Counters{}
	}
	return &Router{
		out:      out,
		spawns:   spawns,
		host:     opts.Host,
		version:  opts.Version,
		once:     opts.Once,
		counters: opts.Counters,
		now:      time.Now,
		members:  make(map[protocol.PeerID]*Member),
	}
}

// ---------------------------------------------------------------------------
// Membership
// ---------------------------------------------------------------------------

// OnConnect admits peer in AwaitingJoin.
func (r *Router) OnConnect(peer protocol.PeerID) {
	if _, ok := r.members[peer]; ok {
		return
	}
	r.members[peer] = &Member{ID: peer, State: AwaitingJoin}
}

// OnDisconnect forgets peer. If it had spawned, its avatar is removed locally
// and every remaining peer is told to despawn it.
func (r *Router) OnDisconnect(peer protocol.PeerID) {
	m, ok := r.members[peer]
	if !ok {
		return
	}
	delete(r.members, peer)
	r.once.Forget(util.OnceKey{Class: "relay-unspawned", ID: uint32(peer)})
	r.once.Forget(util.OnceKey{Class: "relay-spoofed", ID: uint32(peer)})

	if m.State != Spawned {
		util.LogDebug("peer %d left before joining", peer)
		return
	}

	msg := protocol.DespawnAvatar{Peer: peer}
	r.out.Local(msg)
	for _, id := range r.ids(0) {
		r.send(id, msg)
	}
	util.LogInfo("player %q (peer %d) left", m.Username, peer)
}

// ---------------------------------------------------------------------------
// Join protocol
// ---------------------------------------------------------------------------

// HandleJoin spawns peer everywhere and brings it up to date:
//
//  1. SpawnAvatar{peer} to this process, every spawned peer, and peer itself
//  2. SpawnAvatar{host} to peer alone, when the host plays and its avatar exists
//  3. SpawnAvatar{e} to peer alone for every other avatar e already spawned here
//
// A second JoinRequest from the same peer is ignored.
func (r *Router) HandleJoin(peer protocol.PeerID, req protocol.JoinRequest) {
	m, ok := r.members[peer]
	if !ok {
		r.drop(util.OnceKey{Class: "relay-unknown", ID: uint32(peer)}, "join from unknown peer %d", peer)
		return
	}
	if m.State == Spawned {
		util.LogWarning("peer %d sent a second JoinRequest, ignoring", peer)
		return
	}
	if r.version != "" && req.Version != r.version {
		util.LogWarning("peer %d (%q) runs version %q, host runs %q", peer, req.Username, req.Version, r.version)
	}

	m.Username = req.Username
	m.Version = req.Version

	announce := protocol.SpawnAvatar{Peer: peer}
	r.out.Local(announce)
	for _, id := range r.ids(Spawned) {
		r.send(id, announce)
	}
	r.send(peer, announce)

	switch {
	case r.host.Valid() && r.spawns.Has(r.host):
		r.send(peer, protocol.SpawnAvatar{Peer: r.host})
	case r.host.Valid():
		util.LogWarning("host avatar %d is not spawned, not announcing it to peer %d", r.host, peer)
	}

	for _, id := range r.spawns.IDs() {
		if id == peer || id == r.host {
			continue
		}
		r.send(peer, protocol.SpawnAvatar{Peer: id})
	}

	m.State = Spawned
	m.JoinedAt = r.now()
	util.LogSuccess("player %q joined as peer %d", req.Username, peer)
}

// ---------------------------------------------------------------------------
// Relay
// ---------------------------------------------------------------------------

// RelayState applies a pose update from peer locally and forwards the
// original payload, unreliably, to every other spawned peer. Updates from
// peers that have not joined, or that claim another peer's identity, are
// dropped.
func (r *Router) RelayState(peer protocol.PeerID, state protocol.AvatarState, payload []byte) {
	m, ok := r.members[peer]
	if !ok || m.State != Spawned {
		r.drop(util.OnceKey{Class: "relay-unspawned", ID: uint32(peer)},
			"ignoring state from peer %d before it joined", peer)
		return
	}
	if state.Peer != peer {
		r.drop(util.OnceKey{Class: "relay-spoofed", ID: uint32(peer)},
			"peer %d sent state for peer %d, dropping", peer, state.Peer)
		return
	}

	r.out.Local(state)
	for _, id := range r.ids(Spawned) {
		if id == peer {
			continue
		}
		if err := r.out.Forward(id, protocol.Unreliable, payload); err != nil {
			util.LogDebug("relay to peer %d: %v", id, err)
			continue
		}
		r.counters.AddRelayed()
	}
}

// RelayScene delivers a scene change reliably to every connected peer and to
// this process. from is NoPeer when the host itself originates it.
func (r *Router) RelayScene(from protocol.PeerID, msg protocol.SceneChange) {
	if from.Valid() {
		if _, ok := r.members[from]; !ok {
			r.drop(util.OnceKey{Class: "relay-unknown", ID: uint32(from)}, "scene change from unknown peer %d", from)
			return
		}
	}
	r.out.Local(msg)
	for _, id := range r.ids(0) {
		r.send(id, msg)
	}
}

// Broadcast sends msg to every spawned peer. The host uses it to publish its
// own avatar's pose.
func (r *Router) Broadcast(msg protocol.Message) error {
	var firstErr error
	for _, id := range r.ids(Spawned) {
		if err := r.out.Send(id, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// Member returns a copy of peer's membership.
func (r *Router) Member(peer protocol.PeerID) (Member, bool) {
	m, ok := r.members[peer]
	if !ok {
		return Member{}, false
	}
	return *m, true
}

// Members returns copies of every member in ascending id order.
func (r *Router) Members() []Member {
	out := make([]Member, 0, len(r.members))
	for _, id := range r.ids(0) {
		out = append(out, *r.members[id])
	}
	return out
}

// Spawned returns the ids of members that completed the join protocol.
func (r *Router) Spawned() []protocol.PeerID { return r.ids(Spawned) }

// Reset forgets every member without sending anything.
func (r *Router) Reset() { clear(r.members) }

// ids lists member ids in ascending order, filtered by state when state is
// non-zero.
func (r *Router) ids(state State) []protocol.PeerID {
	ids := make([]protocol.PeerID, 0, len(r.members))
	for id, m := range r.members {
		if state == 0 || m.State == state {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func (r *Router) send(to protocol.PeerID, msg protocol.Message) {
	if err := r.out.Send(to, msg); err != nil {
		util.LogWarning("send %s to peer %d: %v", msg.Kind(), to, err)
	}
}

func (r *Router) drop(key util.OnceKey, format string, args ...interface{}) {
	r.counters.AddDropped()
	r.once.Log(key, format, args...)
}
