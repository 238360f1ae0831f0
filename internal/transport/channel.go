// Package transport is the boundary between the session core and the bytes
// on the wire. A Channel delivers one ordered-reliable and one
// unordered-unreliable stream per peer and reports connect/disconnect events.
//
// Implementations may do I/O on their own goroutines, but they hand events to
// the session only through Pump, which the tick goroutine calls once per tick.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/1ureka/knuckle/internal/protocol"
)

var (
	// ErrClosed is returned by Send/Disconnect after Close.
	ErrClosed = errors.New("transport: channel closed")
	// ErrUnknownPeer is returned when the target peer has no open link.
	ErrUnknownPeer = errors.New("transport: unknown peer")
	// ErrConnectFailed is returned by Dial when the handshake does not complete.
	ErrConnectFailed = errors.New("transport: connect failed")
)

// EventKind classifies a pumped Event.
type EventKind uint8

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	}
	return "unknown"
}

// Event is one thing that happened on a Channel since the previous Pump.
type Event struct {
	Kind EventKind
	Peer protocol.PeerID
	Mode protocol.Delivery // EventMessage only
	Data []byte            // EventMessage only
}

// Channel is a set of peer links owned by one process.
type Channel interface {
	// LocalID is the id this process was assigned by the host, or
	// protocol.NoPeer for a listening channel.
	LocalID() protocol.PeerID
	// Send queues payload to peer on the stream selected by mode.
	Send(peer protocol.PeerID, mode protocol.Delivery, payload []byte) error
	// Disconnect flushes pending reliable sends to peer, then closes its link.
	Disconnect(peer protocol.PeerID) error
	// Pump drains every event that completed since the previous call.
	Pump() []Event
	// Close tears down every link.
	Close() error
	// Name identifies the implementation for diagnostics.
	Name() string
}

// Network creates channels. Listen is the host side; Dial is the client side
// and blocks until the connection is established or fails, so callers never
// observe a half-open channel.
type Network interface {
	Listen(ctx context.Context, addr string) (Channel, error)
	Dial(ctx context.Context, addr string) (Channel, error)
	Name() string
}

// Queue is the mutex-guarded hand-off between I/O goroutines and Pump.
type Queue struct {
	mu     sync.Mutex
	events []Event
}

// Push appends e. Safe for concurrent use.
func (q *Queue) Push(e Event) {
	q.mu.Lock()
	q.events = append(q.events, e)
	q.mu.Unlock()
}

// Drain returns every queued event in arrival order and empties the queue.
func (q *Queue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}
