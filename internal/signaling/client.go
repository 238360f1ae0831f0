package signaling

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/1ureka/knuckle/internal/protocol"
	"github.com/1ureka/knuckle/internal/transport"
	"github.com/1ureka/knuckle/internal/util"
)

// clientChannel is the single link from a client to its host.
type clientChannel struct {
	net    *Network
	id     protocol.PeerID
	link   *transport.Link
	in     *inbox
	closed atomic.Bool
}

// Dial connects to the host at addr (host:port or a ws:// URL) and blocks
// until both DataChannels are open. Any failure is reported as
// transport.ErrConnectFailed.
func (n *Network) Dial(ctx context.Context, addr string) (transport.Channel, error) {
	c, err := n.dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrConnectFailed, err)
	}
	return c, nil
}

func (n *Network) dial(ctx context.Context, addr string) (*clientChannel, error) {
	url := dialURL(addr)
	util.LogInfo("connecting to host at %s", url)

	hctx, cancel := context.WithTimeout(ctx, n.handshakeTimeout())
	defer cancel()

	conn, err := connect(hctx, url)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(n.handshakeTimeout()))

	var welcome message
	if err := conn.ReadJSON(&welcome); err != nil {
		return nil, fmt.Errorf("failed to read welcome: %w", err)
	}
	if welcome.Type != msgTypeWelcome || !welcome.Peer.Valid() || welcome.Peer == protocol.HostPeer {
		return nil, fmt.Errorf("unexpected first message %q (peer %d)", welcome.Type, welcome.Peer)
	}
	util.LogDebug("assigned peer id %d", welcome.Peer)

	// The link outlives the dial context.
	link, err := transport.NewLink(context.WithoutCancel(ctx), n.Stun, n.Counters)
	if err != nil {
		return nil, fmt.Errorf("failed to create link: %w", err)
	}

	c := &clientChannel{net: n, id: welcome.Peer, link: link, in: newInbox()}
	link.OnPayload(func(mode protocol.Delivery, data []byte) {
		c.in.deliver(protocol.HostPeer, mode, data)
	})

	s := &sender{link: link, conn: conn}
	r := &receiver{link: link, conn: conn, sender: s}
	s.trickle()

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.watch()
	}()

	select {
	case <-link.Ready():
	case err := <-errCh:
		link.Close(false)
		return nil, fmt.Errorf("signaling failed: %w", err)
	case <-hctx.Done():
		link.Close(false)
		return nil, hctx.Err()
	}

	util.LogDebug("DataChannels open, closing WS")
	c.in.announce(protocol.HostPeer)

	go func() {
		<-link.Done()
		if !c.closed.Load() {
			c.in.retire(protocol.HostPeer)
		}
	}()
	return c, nil
}

func (c *clientChannel) LocalID() protocol.PeerID { return c.id }
func (c *clientChannel) Name() string             { return c.net.Name() }
func (c *clientChannel) Pump() []transport.Event  { return c.in.queue.Drain() }

func (c *clientChannel) Send(peer protocol.PeerID, mode protocol.Delivery, payload []byte) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}
	if peer != protocol.HostPeer {
		return fmt.Errorf("peer %d: %w", peer, transport.ErrUnknownPeer)
	}
	return c.link.Send(mode, payload)
}

func (c *clientChannel) Disconnect(peer protocol.PeerID) error {
	if peer != protocol.HostPeer {
		return fmt.Errorf("peer %d: %w", peer, transport.ErrUnknownPeer)
	}
	return c.Close()
}

// Close flushes the reliable stream and closes the link.
func (c *clientChannel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.link.Close(true)
}
