package session

import (
	"fmt"

	"github.com/1ureka/knuckle/internal/config"
	"github.com/1ureka/knuckle/internal/protocol"
)

// EventKind classifies a session notification.
type EventKind uint8

const (
	Started EventKind = iota + 1
	Stopped
	PeerConnected
	PeerDisconnected
	AvatarSpawned
	AvatarDespawned
)

func (k EventKind) String() string {
	switch k {
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	case PeerConnected:
		return "peer-connected"
	case PeerDisconnected:
		return "peer-disconnected"
	case AvatarSpawned:
		return "avatar-spawned"
	case AvatarDespawned:
		return "avatar-despawned"
	}
	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

// Event is delivered to every subscribed Observer.
type Event struct {
	Kind  EventKind
	Role  config.Role
	Peer  protocol.PeerID // peer and avatar events only
	Local bool            // avatar events: the avatar is this process's own
}

// Observer receives session events on the tick goroutine. Observers are
// compared by identity, so implement it on a pointer type.
type Observer interface {
	OnSessionEvent(Event)
}

// Subscribe adds o. It reports false if o is already subscribed.
func (s *Session) Subscribe(o Observer) bool {
	for _, cur := range s.observers {
		if cur == o {
			return false
		}
	}
	s.observers = append(s.observers, o)
	return true
}

// Unsubscribe removes o. It reports false if o was not subscribed.
func (s *Session) Unsubscribe(o Observer) bool {
	for i, cur := range s.observers {
		if cur == o {
			s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Session) notify(e Event) {
	if e.Role == config.RoleNone {
		e.Role = s.role
	}
	// Observers may unsubscribe from inside the callback.
	for _, o := range append([]Observer(nil), s.observers...) {
		o.OnSessionEvent(e)
	}
}
