package signaling

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/knuckle/internal/protocol"
	"github.com/1ureka/knuckle/internal/transport"
)

func TestDialURL(t *testing.T) {
	testCases := []struct {
		in, want string
	}{
		{"127.0.0.1:7777", "ws://127.0.0.1:7777/ws"},
		{"example.com:80/", "ws://example.com:80/ws"},
		{"http://10.0.0.2:9000", "ws://10.0.0.2:9000/ws"},
		{"https://room.example.dev", "wss://room.example.dev/ws"},
		{"wss://room.example.dev/custom", "wss://room.example.dev/custom"},
		{"ws://localhost:7777/ws", "ws://localhost:7777/ws"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, dialURL(tc.in), tc.in)
	}
}

func TestInboxAnnouncesOnceBeforeMessages(t *testing.T) {
	in := newInbox()

	// A payload can beat the ready signal; connected must still come first.
	in.deliver(2, protocol.Unreliable, []byte{1})
	in.announce(2)
	in.deliver(2, protocol.Reliable, []byte{2})

	events := in.queue.Drain()
	require.Len(t, events, 3)
	assert.Equal(t, transport.EventConnected, events[0].Kind)
	assert.Equal(t, transport.EventMessage, events[1].Kind)
	assert.Equal(t, transport.EventMessage, events[2].Kind)

	assert.True(t, in.retire(2))
	assert.False(t, in.retire(2))
	assert.False(t, in.retire(3), "never announced")
	assert.Equal(t, []transport.Event{{Kind: transport.EventDisconnected, Peer: 2}}, in.queue.Drain())

	// Stragglers from a closing link must not bring the peer back.
	in.deliver(2, protocol.Reliable, []byte{3})
	in.announce(2)
	assert.Empty(t, in.queue.Drain())
}

func TestInboxCopiesPayload(t *testing.T) {
	in := newInbox()
	buf := []byte{1, 2, 3}
	in.deliver(2, protocol.Reliable, buf)
	buf[0] = 9

	events := in.queue.Drain()
	require.Len(t, events, 2)
	assert.Equal(t, []byte{1, 2, 3}, events[1].Data)
}

func TestServerHandsOffEveryConnection(t *testing.T) {
	srv, err := listen("127.0.0.1:0")
	require.NoError(t, err)
	defer srv.close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := dialURL(srv.addr().String())
	for i := 0; i < 3; i++ {
		c, err := connect(ctx, url)
		require.NoError(t, err)
		defer c.Close()

		conn, err := srv.accept(ctx)
		require.NoError(t, err)
		conn.Close()
	}

	require.NoError(t, srv.close())
	_, err = srv.accept(ctx)
	assert.Error(t, err)
}

func TestDialRejectsBadWelcome(t *testing.T) {
	srv, err := listen("127.0.0.1:0")
	require.NoError(t, err)
	defer srv.close()

	go func() {
		conn, err := srv.accept(context.Background())
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(message{Type: msgTypeOffer, SDP: "v=0"})
		var m message
		_ = conn.ReadJSON(&m)
	}()

	n := &Network{HandshakeTimeout: 3 * time.Second}
	_, err = n.Dial(context.Background(), srv.addr().String())
	assert.ErrorIs(t, err, transport.ErrConnectFailed)
}

func TestDialNoServer(t *testing.T) {
	srv, err := listen("127.0.0.1:0")
	require.NoError(t, err)
	addr := srv.addr().String()
	require.NoError(t, srv.close())

	n := &Network{HandshakeTimeout: time.Second}
	_, err = n.Dial(context.Background(), addr)
	assert.ErrorIs(t, err, transport.ErrConnectFailed)
}

func TestListenReportsAddress(t *testing.T) {
	n := &Network{}
	ch, err := n.Listen(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	defer ch.Close()

	assert.Equal(t, protocol.NoPeer, ch.LocalID())
	assert.Equal(t, "webrtc", ch.Name())
	addr := ch.(interface{ Addr() string }).Addr()
	assert.Contains(t, addr, "127.0.0.1:")

	assert.ErrorIs(t, ch.Send(2, protocol.Reliable, nil), transport.ErrUnknownPeer)
	require.NoError(t, ch.Close())
	assert.ErrorIs(t, ch.Send(2, protocol.Reliable, nil), transport.ErrClosed)
}

func TestLoopbackSession(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real peer connections")
	}

	ctx := context.Background()
	n := &Network{Stun: []string{}, HandshakeTimeout: 15 * time.Second}

	host, err := n.Listen(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	defer host.Close()

	client, err := n.Dial(ctx, host.(interface{ Addr() string }).Addr())
	require.NoError(t, err)
	assert.Equal(t, protocol.PeerID(2), client.LocalID())

	// The joiner drops the signaling socket as soon as its own channels are
	// open; the host must still come up.
	var events []transport.Event
	require.Eventually(t, func() bool {
		events = append(events, host.Pump()...)
		return len(events) > 0
	}, 15*time.Second, 10*time.Millisecond)
	assert.Equal(t, transport.Event{Kind: transport.EventConnected, Peer: 2}, events[0])

	const total = 500
	for i := 0; i < total; i++ {
		payload := binary.BigEndian.AppendUint16(nil, uint16(i))
		require.NoError(t, client.Send(protocol.HostPeer, protocol.Reliable, payload))
	}
	require.NoError(t, client.Send(protocol.HostPeer, protocol.Unreliable, []byte("pose")))

	// Close flushes the reliable stream before the link goes down.
	require.NoError(t, client.Close())

	require.Eventually(t, func() bool {
		events = append(events, host.Pump()...)
		last := events[len(events)-1]
		return last.Kind == transport.EventDisconnected
	}, 15*time.Second, 10*time.Millisecond)

	var reliable []int
	unreliable, connects, disconnects := 0, 0, 0
	for _, ev := range events {
		assert.Equal(t, protocol.PeerID(2), ev.Peer)
		switch ev.Kind {
		case transport.EventConnected:
			connects++
		case transport.EventDisconnected:
			disconnects++
		case transport.EventMessage:
			if ev.Mode == protocol.Reliable {
				reliable = append(reliable, int(binary.BigEndian.Uint16(ev.Data)))
			} else {
				assert.Equal(t, []byte("pose"), ev.Data)
				unreliable++
			}
		}
	}
	assert.Equal(t, 1, connects)
	assert.Equal(t, 1, disconnects)
	assert.Equal(t, 1, unreliable)
	require.Len(t, reliable, total)
	for i, v := range reliable {
		require.Equal(t, i, v, "reliable payloads out of order")
	}

	assert.ErrorIs(t, host.Send(2, protocol.Reliable, []byte{1}), transport.ErrUnknownPeer)
}
