// Package protocol defines the wire messages exchanged between session peers
// and their fixed-width binary encoding.
package protocol

import (
	"fmt"

	"github.com/1ureka/knuckle/internal/geom"
)

// PeerID identifies one participant for the lifetime of a session.
// Zero is reserved and never names a live peer.
type PeerID uint16

const (
	// NoPeer is the reserved zero id.
	NoPeer PeerID = 0
	// HostPeer is the well-known id of the host's own local avatar.
	HostPeer PeerID = 1
)

// Valid reports whether id may name a live peer.
func (id PeerID) Valid() bool { return id != NoPeer }

// Kind is the message type carried in the 2-byte header.
type Kind uint16

const (
	KindJoinRequest     Kind = 0x0001 // client -> host, once after connect
	KindSpawnAvatar     Kind = 0x0002 // host -> peers
	KindDespawnAvatar   Kind = 0x0003 // host -> peers
	KindAvatarStateSync Kind = 0x0004 // owner -> host -> peers
	KindSceneChange     Kind = 0x0005 // any -> host -> all
)

func (k Kind) String() string {
	switch k {
	case KindJoinRequest:
		return "JoinRequest"
	case KindSpawnAvatar:
		return "SpawnAvatar"
	case KindDespawnAvatar:
		return "DespawnAvatar"
	case KindAvatarStateSync:
		return "AvatarStateSync"
	case KindSceneChange:
		return "SceneChange"
	}
	return fmt.Sprintf("Kind(0x%04x)", uint16(k))
}

// Known reports whether k is part of the message catalog.
func (k Kind) Known() bool {
	return k >= KindJoinRequest && k <= KindSceneChange
}

// Delivery selects which transport stream carries a message.
type Delivery uint8

const (
	Reliable   Delivery = iota // ordered, guaranteed
	Unreliable                 // unordered, best effort, may duplicate
)

func (d Delivery) String() string {
	if d == Unreliable {
		return "unreliable"
	}
	return "reliable"
}

// Delivery returns the stream a message of kind k travels on.
func (k Kind) Delivery() Delivery {
	if k == KindAvatarStateSync {
		return Unreliable
	}
	return Reliable
}

// Message is implemented by every wire message type.
type Message interface {
	Kind() Kind
}

// JoinRequest is sent once by a client after its connection opens.
type JoinRequest struct {
	Username string
	Version  string
}

// SpawnAvatar tells a peer that Peer's avatar exists.
type SpawnAvatar struct {
	Peer PeerID
}

// DespawnAvatar tells a peer that Peer's avatar is gone.
type DespawnAvatar struct {
	Peer PeerID
}

// SceneChange asks every peer to load the named scene.
type SceneChange struct {
	Scene string
}

// HandPose is the replicated state of one appendage.
type HandPose struct {
	Position geom.Vec3
	State    string // visual-state tag, e.g. "hands_idle"
	Color    geom.Color
}

// AvatarState is one snapshot of an avatar's pose, produced by its owner.
type AvatarState struct {
	Peer     PeerID
	Position geom.Vec3
	Rotation geom.Quat
	Left     HandPose
	Right    HandPose
}

func (JoinRequest) Kind() Kind   { return KindJoinRequest }
func (SpawnAvatar) Kind() Kind   { return KindSpawnAvatar }
func (DespawnAvatar) Kind() Kind { return KindDespawnAvatar }
func (SceneChange) Kind() Kind   { return KindSceneChange }
func (AvatarState) Kind() Kind   { return KindAvatarStateSync }
