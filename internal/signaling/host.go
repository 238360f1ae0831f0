package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"

	"github.com/1ureka/knuckle/internal/protocol"
	"github.com/1ureka/knuckle/internal/transport"
	"github.com/1ureka/knuckle/internal/util"
)

// firstRemoteID is the first PeerId handed to a joiner; HostPeer belongs to
// the host's own avatar.
const firstRemoteID = protocol.HostPeer + 1

// hostChannel accepts any number of clients for the lifetime of a session.
type hostChannel struct {
	net *Network
	srv *server
	in  *inbox

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	links  map[protocol.PeerID]*transport.Link
	nextID protocol.PeerID
	closed bool
}

// Listen starts the signaling server on addr and returns immediately. Peers
// appear as EventConnected on Pump as their links come up.
func (n *Network) Listen(ctx context.Context, addr string) (transport.Channel, error) {
	srv, err := listen(addr)
	if err != nil {
		return nil, err
	}

	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &hostChannel{
		net:    n,
		srv:    srv,
		in:     newInbox(),
		ctx:    hctx,
		cancel: cancel,
		links:  make(map[protocol.PeerID]*transport.Link),
		nextID: firstRemoteID,
	}

	util.LogInfo("signaling server listening on %s", srv.addr())
	go h.acceptLoop()
	return h, nil
}

// Addr is the address the signaling server is bound to.
func (h *hostChannel) Addr() string { return h.srv.addr().String() }

func (h *hostChannel) LocalID() protocol.PeerID { return protocol.NoPeer }
func (h *hostChannel) Name() string             { return h.net.Name() }
func (h *hostChannel) Pump() []transport.Event  { return h.in.queue.Drain() }

func (h *hostChannel) acceptLoop() {
	for {
		conn, err := h.srv.accept(h.ctx)
		if err != nil {
			return
		}

		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			conn.Close()
			return
		}
		id := h.nextID
		h.nextID++
		h.mu.Unlock()

		util.LogDebug("signaling client connected, assigned peer %d", id)
		go h.establish(conn, id)
	}
}

// establish runs the offer side of the handshake for one joiner. On success
// the link is registered and watched until it ends.
func (h *hostChannel) establish(conn *websocket.Conn, id protocol.PeerID) {
	defer conn.Close()

	link, err := transport.NewLink(h.ctx, h.net.Stun, h.net.Counters)
	if err != nil {
		util.LogError("peer %d: failed to create link: %v", id, err)
		return
	}
	link.OnPayload(func(mode protocol.Delivery, data []byte) {
		h.in.deliver(id, mode, data)
	})

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		link.Close(false)
		return
	}
	h.links[id] = link
	h.mu.Unlock()

	if err := h.handshake(conn, link, id); err != nil {
		util.LogWarning("peer %d: handshake failed: %v", id, err)
		h.drop(id, link)
		return
	}

	h.in.announce(id)
	util.LogDebug("peer %d: DataChannels open, closing WS", id)

	go func() {
		<-link.Done()
		h.drop(id, link)
	}()
}

func (h *hostChannel) handshake(conn *websocket.Conn, link *transport.Link, id protocol.PeerID) error {
	s := &sender{link: link, conn: conn}
	r := &receiver{link: link, conn: conn, sender: s}
	s.trickle()

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.watch()
	}()

	if err := s.sendWelcome(id); err != nil {
		return fmt.Errorf("failed to send welcome: %w", err)
	}
	if err := s.sendOffer(); err != nil {
		return fmt.Errorf("failed to send offer: %w", err)
	}

	timer := time.NewTimer(h.net.handshakeTimeout())
	defer timer.Stop()

	select {
	case <-link.Ready():
		return nil
	case err := <-errCh:
		// The joiner closes the socket as soon as its own channels open,
		// which can be a moment before ours do. Only a link that never
		// opens is a failed handshake.
		select {
		case <-link.Ready():
			return nil
		case <-link.Done():
			return err
		case <-timer.C:
			return fmt.Errorf("%w (timed out after %s)", err, h.net.handshakeTimeout())
		case <-h.ctx.Done():
			return h.ctx.Err()
		}
	case <-timer.C:
		return fmt.Errorf("timed out after %s", h.net.handshakeTimeout())
	case <-h.ctx.Done():
		return h.ctx.Err()
	}
}

// drop forgets a link and reports the disconnect if the peer had been
// announced. Safe to call more than once for the same link.
func (h *hostChannel) drop(id protocol.PeerID, link *transport.Link) {
	h.mu.Lock()
	if cur, ok := h.links[id]; ok && cur == link {
		delete(h.links, id)
	}
	closed := h.closed
	h.mu.Unlock()

	_ = link.Close(false)
	if !closed && h.in.retire(id) {
		util.LogDebug("peer %d: link closed", id)
	}
}

func (h *hostChannel) lookup(peer protocol.PeerID) (*transport.Link, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, transport.ErrClosed
	}
	link, ok := h.links[peer]
	if !ok || !h.in.isAnnounced(peer) {
		return nil, fmt.Errorf("peer %d: %w", peer, transport.ErrUnknownPeer)
	}
	return link, nil
}

func (h *hostChannel) Send(peer protocol.PeerID, mode protocol.Delivery, payload []byte) error {
	link, err := h.lookup(peer)
	if err != nil {
		return err
	}
	return link.Send(mode, payload)
}

// Disconnect closes the peer's link in the background after its reliable
// stream drains. EventDisconnected follows on a later Pump.
func (h *hostChannel) Disconnect(peer protocol.PeerID) error {
	link, err := h.lookup(peer)
	if err != nil {
		return err
	}
	go func() {
		if err := link.Close(true); err != nil {
			util.LogDebug("peer %d: close: %v", peer, err)
		}
	}()
	return nil
}

// Close flushes and closes every link, then stops the signaling server.
func (h *hostChannel) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	links := make([]*transport.Link, 0, len(h.links))
	for _, l := range h.links {
		links = append(links, l)
	}
	h.links = nil
	h.mu.Unlock()

	var err error
	for _, l := range links {
		err = multierr.Append(err, l.Close(true))
	}
	h.cancel()
	return multierr.Append(err, h.srv.close())
}
