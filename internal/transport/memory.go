package transport

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/1ureka/knuckle/internal/protocol"
)

// firstRemoteID is the first id a host hands out; HostPeer is reserved for
// the host's own avatar. Ids are never reused within one listening channel.
const firstRemoteID = protocol.HostPeer + 1

// MemoryNetwork is an in-process Network. Sends are delivered straight into
// the receiver's queue, so every event becomes visible at the receiver's next
// Pump and tests fully control timing.
//
// The unreliable stream can be impaired to exercise reordering and
// duplication; the reliable stream is always delivered in order, once.
type MemoryNetwork struct {
	mu    sync.Mutex
	hosts map[string]*memHost

	// Shuffle, when set, permutes unreliable messages within each Pump batch.
	Shuffle *rand.Rand
	// Duplicate delivers every unreliable message twice.
	Duplicate bool
	// DropUnreliable discards every unreliable message.
	DropUnreliable bool
}

// NewMemoryNetwork creates an empty network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{hosts: make(map[string]*memHost)}
}

// Name implements Network.
func (n *MemoryNetwork) Name() string { return "memory" }

// Listen registers a host channel under addr.
func (n *MemoryNetwork) Listen(_ context.Context, addr string) (Channel, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if h, ok := n.hosts[addr]; ok && !h.closed {
		return nil, fmt.Errorf("listen %q: address in use", addr)
	}
	h := &memHost{
		net:    n,
		addr:   addr,
		peers:  make(map[protocol.PeerID]*memClient),
		nextID: firstRemoteID,
	}
	n.hosts[addr] = h
	return h, nil
}

// Dial connects to the host listening on addr. On success both sides have an
// EventConnected queued.
func (n *MemoryNetwork) Dial(ctx context.Context, addr string) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("dial %q: %w", addr, err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	h, ok := n.hosts[addr]
	if !ok || h.closed {
		return nil, fmt.Errorf("dial %q: %w", addr, ErrConnectFailed)
	}

	c := &memClient{net: n, host: h, id: h.nextID}
	h.nextID++
	h.peers[c.id] = c

	h.queue.Push(Event{Kind: EventConnected, Peer: c.id})
	c.queue.Push(Event{Kind: EventConnected, Peer: protocol.HostPeer})
	return c, nil
}

// deliver pushes a message event into q, applying impairments. Caller holds n.mu.
func (n *MemoryNetwork) deliver(q *Queue, from protocol.PeerID, mode protocol.Delivery, payload []byte) {
	if mode == protocol.Unreliable && n.DropUnreliable {
		return
	}
	data := append([]byte(nil), payload...)
	q.Push(Event{Kind: EventMessage, Peer: from, Mode: mode, Data: data})
	if mode == protocol.Unreliable && n.Duplicate {
		q.Push(Event{Kind: EventMessage, Peer: from, Mode: mode, Data: append([]byte(nil), payload...)})
	}
}

// drain empties q, shuffling unreliable messages among their own slots when
// the network is configured to.
func (n *MemoryNetwork) drain(q *Queue) []Event {
	events := q.Drain()

	n.mu.Lock()
	rng := n.Shuffle
	n.mu.Unlock()
	if rng == nil {
		return events
	}

	var slots []int
	for i, e := range events {
		if e.Kind == EventMessage && e.Mode == protocol.Unreliable {
			slots = append(slots, i)
		}
	}
	rng.Shuffle(len(slots), func(i, j int) {
		events[slots[i]], events[slots[j]] = events[slots[j]], events[slots[i]]
	})
	return events
}

// ---------------------------------------------------------------------------
// Host side
// ---------------------------------------------------------------------------

type memHost struct {
	net    *MemoryNetwork
	addr   string
	queue  Queue
	peers  map[protocol.PeerID]*memClient
	nextID protocol.PeerID
	closed bool
}

func (h *memHost) LocalID() protocol.PeerID { return protocol.NoPeer }
func (h *memHost) Name() string             { return "memory" }
func (h *memHost) Pump() []Event            { return h.net.drain(&h.queue) }

func (h *memHost) Send(peer protocol.PeerID, mode protocol.Delivery, payload []byte) error {
	h.net.mu.Lock()
	defer h.net.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	c, ok := h.peers[peer]
	if !ok {
		return fmt.Errorf("send to %d: %w", peer, ErrUnknownPeer)
	}
	h.net.deliver(&c.queue, protocol.HostPeer, mode, payload)
	return nil
}

// Disconnect drops peer. Delivery is synchronous, so nothing is pending.
func (h *memHost) Disconnect(peer protocol.PeerID) error {
	h.net.mu.Lock()
	defer h.net.mu.Unlock()

	c, ok := h.peers[peer]
	if !ok {
		return fmt.Errorf("disconnect %d: %w", peer, ErrUnknownPeer)
	}
	h.dropLocked(c)
	return nil
}

func (h *memHost) dropLocked(c *memClient) {
	delete(h.peers, c.id)
	c.closed = true
	c.queue.Push(Event{Kind: EventDisconnected, Peer: protocol.HostPeer})
	h.queue.Push(Event{Kind: EventDisconnected, Peer: c.id})
}

func (h *memHost) Close() error {
	h.net.mu.Lock()
	defer h.net.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	for _, c := range h.peers {
		c.closed = true
		c.queue.Push(Event{Kind: EventDisconnected, Peer: protocol.HostPeer})
	}
	h.peers = nil
	delete(h.net.hosts, h.addr)
	return nil
}

// ---------------------------------------------------------------------------
// Client side
// ---------------------------------------------------------------------------

type memClient struct {
	net    *MemoryNetwork
	host   *memHost
	id     protocol.PeerID
	queue  Queue
	closed bool
}

func (c *memClient) LocalID() protocol.PeerID { return c.id }
func (c *memClient) Name() string             { return "memory" }
func (c *memClient) Pump() []Event            { return c.net.drain(&c.queue) }

func (c *memClient) Send(peer protocol.PeerID, mode protocol.Delivery, payload []byte) error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if peer != protocol.HostPeer {
		return fmt.Errorf("send to %d: %w", peer, ErrUnknownPeer)
	}
	c.net.deliver(&c.host.queue, c.id, mode, payload)
	return nil
}

func (c *memClient) Disconnect(peer protocol.PeerID) error {
	if peer != protocol.HostPeer {
		return fmt.Errorf("disconnect %d: %w", peer, ErrUnknownPeer)
	}
	return c.Close()
}

// Close leaves the host. The host sees EventDisconnected; the client's own
// queue gets nothing, since it initiated the close.
func (c *memClient) Close() error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.host.peers != nil {
		delete(c.host.peers, c.id)
		c.host.queue.Push(Event{Kind: EventDisconnected, Peer: c.id})
	}
	return nil
}
