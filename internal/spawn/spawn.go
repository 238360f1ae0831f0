// Package spawn owns the mapping from PeerId to live avatar instance.
//
// Records are created only by Spawn (driven by SpawnAvatar) and destroyed
// only by Despawn or a cleanup sweep. Pose updates never create or destroy a
// record; they only retarget an existing Remote one.
package spawn

import (
	"errors"
	"fmt"
	"slices"

	"github.com/1ureka/knuckle/internal/geom"
	"github.com/1ureka/knuckle/internal/protocol"
	"github.com/1ureka/knuckle/internal/util"
)

var (
	// ErrMissingTemplate is returned when no avatar template can be
	// instantiated. The registry is left unchanged.
	ErrMissingTemplate = errors.New("spawn: avatar template missing")
	// ErrUnknownPeer is returned by ApplyState for an id with no record.
	ErrUnknownPeer = errors.New("spawn: unknown peer")
	// ErrLocalAuthority is returned by ApplyState for this process's own
	// avatar, which is never moved by the network.
	ErrLocalAuthority = errors.New("spawn: local avatar is not remotely driven")
	// ErrReservedPeer is returned when asked to spawn PeerId 0.
	ErrReservedPeer = errors.New("spawn: reserved peer id")
)

// Kind tells whether a record is this process's own avatar.
type Kind uint8

const (
	Remote Kind = iota
	Local
)

func (k Kind) String() string {
	if k == Local {
		return "local"
	}
	return "remote"
}

// Side selects an appendage.
type Side uint8

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	if s == Right {
		return "right"
	}
	return "left"
}

// Body is an instantiated avatar in the host application.
type Body interface {
	SetTransform(position geom.Vec3, rotation geom.Quat)
	SetHand(side Side, position geom.Vec3, color geom.Color)
	// SetHandState switches the appendage's visual state. An error means the
	// tag is not recognised by the body.
	SetHandState(side Side, tag string) error
	Destroy()
}

// Factory instantiates avatar bodies. Returning ErrMissingTemplate (or a nil
// Body) fails the spawn without touching the registry.
type Factory interface {
	Instantiate(id protocol.PeerID, kind Kind) (Body, error)
}

// Record is one live avatar. The smoothing fields are owned by the
// replicator; the manager only sets Target and Pending.
type Record struct {
	ID   protocol.PeerID
	Kind Kind
	Body Body

	Target  protocol.AvatarState // latest received pose
	Pending bool                 // Target changed since the last smoothing step

	Displayed protocol.AvatarState // pose currently shown
	Primed    bool                 // Displayed holds a real pose
	Applied   [2]string            // hand state tags last pushed to Body
}

// Hooks are invoked after a record is inserted or removed.
type Hooks struct {
	Spawned   func(id protocol.PeerID, kind Kind)
	Despawned func(id protocol.PeerID, kind Kind)
}

// Manager is the spawn registry. It is owned by the tick goroutine.
type Manager struct {
	factory Factory
	once    *util.OnceLogger
	hooks   Hooks

	self    protocol.PeerID
	local   *Record
	remotes map[protocol.PeerID]*Record
}

// NewManager creates an empty registry. once may be shared with other
// components; a private one is created when nil.
func NewManager(factory Factory, once *util.OnceLogger) *Manager {
	if once == nil {
		once = util.NewOnceLogger(0, nil)
	}
	return &Manager{
		factory: factory,
		once:    once,
		remotes: make(map[protocol.PeerID]*Record),
	}
}

// SetHooks replaces the insert/remove callbacks.
func (m *Manager) SetHooks(h Hooks) { m.hooks = h }

// SetSelf sets this process's own id. A later Spawn of that id creates the
// Local record. NoPeer means this process has no avatar.
func (m *Manager) SetSelf(id protocol.PeerID) { m.self = id }

// Self returns this process's own id.
func (m *Manager) Self() protocol.PeerID { return m.self }

// Spawn instantiates id's avatar. It reports false with a nil error when the
// record already exists.
func (m *Manager) Spawn(id protocol.PeerID) (bool, error) {
	if !id.Valid() {
		return false, fmt.Errorf("spawn %d: %w", id, ErrReservedPeer)
	}
	if m.Has(id) {
		return false, nil
	}

	kind := Remote
	if id == m.self {
		kind = Local
	}

	if m.factory == nil {
		util.LogError("spawn %d: no avatar factory", id)
		return false, fmt.Errorf("spawn %d: %w", id, ErrMissingTemplate)
	}
	body, err := m.factory.Instantiate(id, kind)
	if err == nil && body == nil {
		err = ErrMissingTemplate
	}
	if err != nil {
		util.LogError("spawn %d: %v", id, err)
		if !errors.Is(err, ErrMissingTemplate) {
			err = fmt.Errorf("%w: %v", ErrMissingTemplate, err)
		}
		return false, fmt.Errorf("spawn %d: %w", id, err)
	}

	rec := &Record{ID: id, Kind: kind, Body: body}
	if kind == Local {
		m.local = rec
	} else {
		m.remotes[id] = rec
	}
	m.once.Forget(unknownPeerKey(id))

	util.LogDebug("spawned %s avatar %d", kind, id)
	if m.hooks.Spawned != nil {
		m.hooks.Spawned(id, kind)
	}
	return true, nil
}

// Despawn destroys and removes id's record. It reports false when there is
// none.
func (m *Manager) Despawn(id protocol.PeerID) bool {
	var rec *Record
	if m.local != nil && m.local.ID == id {
		rec = m.local
		m.local = nil
	} else if r, ok := m.remotes[id]; ok {
		rec = r
		delete(m.remotes, id)
	}
	if rec == nil {
		return false
	}

	rec.Body.Destroy()
	util.LogDebug("despawned %s avatar %d", rec.Kind, id)
	if m.hooks.Despawned != nil {
		m.hooks.Despawned(id, rec.Kind)
	}
	return true
}

// ApplyState retargets id's Remote record. Unknown ids are dropped and
// logged once per id; the Local record refuses external state.
func (m *Manager) ApplyState(id protocol.PeerID, state protocol.AvatarState) error {
	if m.local != nil && m.local.ID == id {
		return ErrLocalAuthority
	}
	rec, ok := m.Remote(id)
	if !ok {
		m.once.Log(unknownPeerKey(id), "dropping state for unknown peer %d", id)
		return fmt.Errorf("apply state %d: %w", id, ErrUnknownPeer)
	}
	state.Peer = id
	rec.Target = state
	rec.Pending = true
	return nil
}

// Has reports whether id has a record, local or remote.
func (m *Manager) Has(id protocol.PeerID) bool {
	if m.local != nil && m.local.ID == id {
		return true
	}
	_, ok := m.Remote(id)
	return ok
}

// Local returns the Local record, or nil.
func (m *Manager) Local() *Record { return m.local }

// Remote returns id's Remote record.
func (m *Manager) Remote(id protocol.PeerID) (*Record, bool) {
	r, ok := m.remotes[id]
	return r, ok
}

// Remotes returns every Remote record in ascending id order.
func (m *Manager) Remotes() []*Record {
	out := make([]*Record, 0, len(m.remotes))
	for _, r := range m.remotes {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b *Record) int { return int(a.ID) - int(b.ID) })
	return out
}

// IDs returns every spawned id, local included, in ascending order.
func (m *Manager) IDs() []protocol.PeerID {
	ids := make([]protocol.PeerID, 0, len(m.remotes)+1)
	if m.local != nil {
		ids = append(ids, m.local.ID)
	}
	for id := range m.remotes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Count returns the number of records, local included.
func (m *Manager) Count() int {
	n := len(m.remotes)
	if m.local != nil {
		n++
	}
	return n
}

// DespawnRemotes destroys every Remote record and returns how many there were.
func (m *Manager) DespawnRemotes() int {
	n := 0
	for _, r := range m.Remotes() {
		if m.Despawn(r.ID) {
			n++
		}
	}
	return n
}

// Reset destroys every record, local included, and forgets this process's id.
func (m *Manager) Reset() {
	m.DespawnRemotes()
	if m.local != nil {
		m.Despawn(m.local.ID)
	}
	m.self = protocol.NoPeer
}

func unknownPeerKey(id protocol.PeerID) util.OnceKey {
	return util.OnceKey{Class: "unknown-peer", ID: uint32(id)}
}
