// Package registry tracks which peers are currently connected and in which
// role. It knows nothing about avatars; the session forwards its changes to
// the spawn manager and relay router.
package registry

import (
	"fmt"
	"slices"
	"time"

	"github.com/1ureka/knuckle/internal/protocol"
)

// Role is a connection's role as seen from this process.
type Role uint8

const (
	// RoleRemote is an ordinary joined peer.
	RoleRemote Role = iota
	// RoleHost is the authoritative host: the loopback connection of the
	// host's own avatar on the host, or the uplink on a client.
	RoleHost
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleRemote:
		return "remote"
	}
	return fmt.Sprintf("Role(%d)", uint8(r))
}

// Connection is one live peer connection.
type Connection struct {
	ID    protocol.PeerID
	Role  Role
	Since time.Time
}

// Registry is the set of connections the transport last reported as
// connected. It is owned by the tick goroutine and not safe for concurrent use.
type Registry struct {
	conns map[protocol.PeerID]Connection
	now   func() time.Time
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		conns: make(map[protocol.PeerID]Connection),
		now:   time.Now,
	}
}

// OnConnect records peer as connected. It returns false, leaving the
// registry unchanged, for the reserved id or a peer that is already present.
func (r *Registry) OnConnect(peer protocol.PeerID, role Role) bool {
	if !peer.Valid() {
		return false
	}
	if _, ok := r.conns[peer]; ok {
		return false
	}
	r.conns[peer] = Connection{ID: peer, Role: role, Since: r.now()}
	return true
}

// OnDisconnect removes peer. It returns false if peer was not connected.
func (r *Registry) OnDisconnect(peer protocol.PeerID) bool {
	if _, ok := r.conns[peer]; !ok {
		return false
	}
	delete(r.conns, peer)
	return true
}

// IsConnected reports whether peer is connected.
func (r *Registry) IsConnected(peer protocol.PeerID) bool {
	_, ok := r.conns[peer]
	return ok
}

// Count returns the number of connected peers.
func (r *Registry) Count() int { return len(r.conns) }

// Get returns the connection for peer.
func (r *Registry) Get(peer protocol.PeerID) (Connection, bool) {
	c, ok := r.conns[peer]
	return c, ok
}

// Peers returns every connected id in ascending order.
func (r *Registry) Peers() []protocol.PeerID {
	ids := make([]protocol.PeerID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Clear forgets every connection.
func (r *Registry) Clear() {
	clear(r.conns)
}
