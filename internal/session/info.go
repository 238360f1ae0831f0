package session

import (
	"slices"
	"time"

	"github.com/1ureka/knuckle/internal/config"
	"github.com/1ureka/knuckle/internal/protocol"
	"github.com/1ureka/knuckle/internal/registry"
	"github.com/1ureka/knuckle/internal/util"
)

// PeerInfo is one row of the players listing.
type PeerInfo struct {
	ID        protocol.PeerID
	Username  string // known for this process and, on an authority, every joined peer
	Connected bool   // has a live connection to this process
	Role      string // "host", "remote" or "" when not directly connected
	State     string // join progress on an authority, "spawned" or "connected" elsewhere
	Local     bool
}

// ListPeers returns every peer this process knows of, by id: connected peers
// and peers whose avatar is spawned here.
func (s *Session) ListPeers() []PeerInfo {
	byID := make(map[protocol.PeerID]*PeerInfo)
	get := func(id protocol.PeerID) *PeerInfo {
		p, ok := byID[id]
		if !ok {
			p = &PeerInfo{ID: id}
			byID[id] = p
		}
		return p
	}

	for _, id := range s.reg.Peers() {
		c, _ := s.reg.Get(id)
		p := get(id)
		p.Connected = true
		p.Role = c.Role.String()
		p.State = "connected"
	}
	for _, id := range s.spawns.IDs() {
		p := get(id)
		p.State = "spawned"
	}
	if s.router != nil {
		for _, m := range s.router.Members() {
			p := get(m.ID)
			p.Username = m.Username
			p.State = m.State.String()
		}
	}
	if self := s.spawns.Self(); self.Valid() {
		p := get(self)
		p.Local = true
		p.Username = s.cfg.Username
		if s.role == config.RoleHost {
			p.Role = registry.RoleHost.String()
		}
	}

	out := make([]PeerInfo, 0, len(byID))
	for _, p := range byID {
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b PeerInfo) int { return int(a.ID) - int(b.ID) })
	return out
}

// Info is the netinfo snapshot.
type Info struct {
	SessionID string
	Role      config.Role
	Transport string
	Addr      string
	LocalID   protocol.PeerID
	Peers     int // connected peers, loopback included on a host
	Avatars   int
	Scene     string
	Uptime    time.Duration
	Traffic   util.Snapshot
}

// Info reports the session's current state. It is valid while idle too.
func (s *Session) Info() Info {
	info := Info{
		Role:    s.role,
		LocalID: s.spawns.Self(),
		Peers:   s.reg.Count(),
		Avatars: s.spawns.Count(),
		Scene:   s.scene,
		Traffic: s.counters.Snapshot(),
	}
	if s.role == config.RoleNone {
		return info
	}

	info.SessionID = s.id.String()
	info.Transport = s.ch.Name()
	info.Addr = s.addr
	if a, ok := s.ch.(interface{ Addr() string }); ok {
		info.Addr = a.Addr()
	}
	info.Uptime = time.Since(s.startedAt).Truncate(time.Second)
	return info
}
