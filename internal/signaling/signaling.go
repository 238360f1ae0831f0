// Package signaling provides the WebRTC implementation of transport.Network.
// A host keeps a WebSocket server up for the whole session; every client that
// connects is given a PeerId, then SDP/ICE is exchanged over the socket until
// both DataChannels open, after which the socket is closed.
package signaling

import (
	"sync"
	"time"

	"github.com/1ureka/knuckle/internal/protocol"
	"github.com/1ureka/knuckle/internal/transport"
	"github.com/1ureka/knuckle/internal/util"
)

// defaultHandshakeTimeout bounds signaling plus ICE for a single peer.
const defaultHandshakeTimeout = 20 * time.Second

// Network dials and listens using WebSocket signaling and pion DataChannels.
type Network struct {
	Stun             []string       // STUN URLs; transport.DefaultStunServers when nil, host candidates only when empty
	Counters         *util.Counters // optional wire byte accounting
	HandshakeTimeout time.Duration  // per-peer; defaultHandshakeTimeout when zero
}

// Name implements transport.Network.
func (n *Network) Name() string { return "webrtc" }

func (n *Network) handshakeTimeout() time.Duration {
	if n.HandshakeTimeout > 0 {
		return n.HandshakeTimeout
	}
	return defaultHandshakeTimeout
}

// inbox is the event queue shared by both channel kinds. A peer is announced
// with EventConnected exactly once, before any of its messages, whichever of
// "link ready" or "first payload" is observed first. A retired peer stays
// silent: late payloads from its closing link are dropped.
type inbox struct {
	queue     transport.Queue
	mu        sync.Mutex
	announced map[protocol.PeerID]bool
	retired   map[protocol.PeerID]bool
}

func newInbox() *inbox {
	return &inbox{
		announced: make(map[protocol.PeerID]bool),
		retired:   make(map[protocol.PeerID]bool),
	}
}

func (b *inbox) announce(peer protocol.PeerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.announceLocked(peer)
}

func (b *inbox) announceLocked(peer protocol.PeerID) bool {
	if b.retired[peer] {
		return false
	}
	if !b.announced[peer] {
		b.announced[peer] = true
		b.queue.Push(transport.Event{Kind: transport.EventConnected, Peer: peer})
	}
	return true
}

func (b *inbox) deliver(peer protocol.PeerID, mode protocol.Delivery, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.announceLocked(peer) {
		return
	}
	b.queue.Push(transport.Event{
		Kind: transport.EventMessage,
		Peer: peer,
		Mode: mode,
		Data: append([]byte(nil), data...),
	})
}

// retire reports EventDisconnected for a peer that was announced. It
// returns false when the peer never made it to connected.
func (b *inbox) retire(peer protocol.PeerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retired[peer] = true
	if !b.announced[peer] {
		return false
	}
	delete(b.announced, peer)
	b.queue.Push(transport.Event{Kind: transport.EventDisconnected, Peer: peer})
	return true
}

func (b *inbox) isAnnounced(peer protocol.PeerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.announced[peer]
}
