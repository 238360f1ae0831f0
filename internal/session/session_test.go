package session

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/knuckle/internal/config"
	"github.com/1ureka/knuckle/internal/geom"
	"github.com/1ureka/knuckle/internal/protocol"
	"github.com/1ureka/knuckle/internal/transport"
	"github.com/1ureka/knuckle/internal/world"
)

const (
	lobby = "lobby"
	step  = time.Second / 60
)

// tap records every event a channel hands to its session.
type tap struct {
	transport.Channel
	events []transport.Event
}

func (t *tap) Pump() []transport.Event {
	evs := t.Channel.Pump()
	t.events = append(t.events, evs...)
	return evs
}

// messages decodes the recorded message events.
func (t *tap) messages(tb testing.TB) []protocol.Message {
	tb.Helper()
	var out []protocol.Message
	for _, e := range t.events {
		if e.Kind != transport.EventMessage {
			continue
		}
		m, err := protocol.Decode(e.Data)
		require.NoError(tb, err)
		out = append(out, m)
	}
	return out
}

type tapNetwork struct {
	*transport.MemoryNetwork
	taps map[protocol.PeerID]*tap
}

func newTapNetwork() *tapNetwork {
	return &tapNetwork{MemoryNetwork: transport.NewMemoryNetwork(), taps: make(map[protocol.PeerID]*tap)}
}

func (n *tapNetwork) Dial(ctx context.Context, addr string) (transport.Channel, error) {
	ch, err := n.MemoryNetwork.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	t := &tap{Channel: ch}
	n.taps[ch.LocalID()] = t
	return t, nil
}

type peer struct {
	s      *Session
	tpl    *world.Templates
	src    *world.Wanderer
	scenes *world.Scenes
}

func newPeer(t *testing.T, net transport.Network, name string) *peer {
	t.Helper()
	cfg := config.Default()
	cfg.ListenAddr = lobby
	cfg.Username = name

	p := &peer{
		tpl:    world.NewTemplates(cfg.AvatarTemplate, cfg.AvatarTemplate),
		src:    world.NewWanderer(geom.Vec3{}, 1, 1, geom.White),
		scenes: world.NewScenes(nil),
	}
	p.s = New(cfg, Deps{Network: net, Factory: p.tpl, Source: p.src, Scenes: p.scenes})
	t.Cleanup(func() { _ = p.s.Close() })
	return p
}

// settle ticks every peer for n rounds.
func settle(n int, peers ...*peer) {
	for i := 0; i < n; i++ {
		for _, p := range peers {
			p.src.Advance(step)
			p.s.Tick(step)
		}
	}
}

func ids(v ...protocol.PeerID) []protocol.PeerID { return v }

func TestConcreteScenario(t *testing.T) {
	ctx := context.Background()
	net := newTapNetwork()

	host := newPeer(t, net, "Host")
	require.NoError(t, host.s.StartHost(ctx))
	assert.Equal(t, protocol.HostPeer, host.s.LocalID())
	assert.Equal(t, ids(1), host.s.Avatars())

	alice := newPeer(t, net, "Alice")
	require.NoError(t, alice.s.StartClient(ctx, lobby))
	assert.Equal(t, protocol.PeerID(2), alice.s.LocalID())

	host.s.Tick(step)
	alice.s.Tick(step)

	// The first two reliable messages Alice sees are the join burst.
	msgs := net.taps[2].messages(t)
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Equal(t, protocol.SpawnAvatar{Peer: 2}, msgs[0])
	assert.Equal(t, protocol.SpawnAvatar{Peer: 1}, msgs[1])
	for _, m := range msgs[2:] {
		assert.IsType(t, protocol.AvatarState{}, m, "no catch-up beyond the host")
	}

	assert.Equal(t, ids(1, 2), host.s.Avatars())
	assert.Equal(t, ids(1, 2), alice.s.Avatars())

	players := host.s.ListPeers()
	require.Len(t, players, 2)
	assert.Equal(t, PeerInfo{ID: 1, Username: "Host", Connected: true, Role: "host", State: "spawned", Local: true}, players[0])
	assert.Equal(t, PeerInfo{ID: 2, Username: "Alice", Connected: true, Role: "remote", State: "spawned"}, players[1])
}

func TestLateJoinerConverges(t *testing.T) {
	ctx := context.Background()
	net := newTapNetwork()
	net.Shuffle = rand.New(rand.NewSource(7))
	net.Duplicate = true

	host := newPeer(t, net, "Host")
	a := newPeer(t, net, "A")
	b := newPeer(t, net, "B")

	require.NoError(t, host.s.StartHost(ctx))
	require.NoError(t, a.s.StartClient(ctx, lobby))
	settle(5, host, a)
	require.Equal(t, ids(1, 2), a.s.Avatars())

	require.NoError(t, b.s.StartClient(ctx, lobby))
	settle(5, host, a, b)

	for _, p := range []*peer{host, a, b} {
		assert.Equal(t, ids(1, 2, 3), p.s.Avatars(), p.s.cfg.Username)
	}
	assert.Equal(t, protocol.PeerID(3), b.s.LocalID())
	assert.Len(t, b.tpl.Bodies(), 3, "each avatar instantiated once")
}

func TestRelayExcludesSender(t *testing.T) {
	ctx := context.Background()
	net := newTapNetwork()

	host := newPeer(t, net, "Host")
	a := newPeer(t, net, "A")
	b := newPeer(t, net, "B")
	require.NoError(t, host.s.StartHost(ctx))
	require.NoError(t, a.s.StartClient(ctx, lobby))
	require.NoError(t, b.s.StartClient(ctx, lobby))
	settle(60, host, a, b)

	states := func(tp *tap) map[protocol.PeerID]int {
		got := make(map[protocol.PeerID]int)
		for _, m := range tp.messages(t) {
			if s, ok := m.(protocol.AvatarState); ok {
				got[s.Peer]++
			}
		}
		return got
	}

	fromA := states(net.taps[2])
	assert.Zero(t, fromA[2], "A never hears its own movement")
	assert.NotZero(t, fromA[1])
	assert.NotZero(t, fromA[3])

	fromB := states(net.taps[3])
	assert.Zero(t, fromB[3])
	assert.NotZero(t, fromB[2])

	// The host applies A's movement to its copy of A.
	live := host.tpl.Live()
	pos, _ := live[2].Pose()
	assert.NotEqual(t, geom.Vec3{}, pos)
	assert.NotZero(t, host.s.Info().Traffic.Relayed)
}

func TestDisconnectCleanup(t *testing.T) {
	ctx := context.Background()
	net := newTapNetwork()

	host := newPeer(t, net, "Host")
	a := newPeer(t, net, "A")
	b := newPeer(t, net, "B")
	require.NoError(t, host.s.StartHost(ctx))
	require.NoError(t, a.s.StartClient(ctx, lobby))
	require.NoError(t, b.s.StartClient(ctx, lobby))
	settle(5, host, a, b)

	require.NoError(t, a.s.Disconnect())
	assert.Equal(t, config.RoleNone, a.s.Role())
	assert.Empty(t, a.s.Avatars())
	for _, body := range a.tpl.Bodies() {
		assert.Equal(t, 1, body.Destroyed(), "A destroys everything it held")
	}

	settle(3, host, b)
	assert.Equal(t, ids(1, 3), host.s.Avatars())
	assert.Equal(t, ids(1, 3), b.s.Avatars())

	for _, tpl := range []*world.Templates{host.tpl, b.tpl} {
		for _, body := range tpl.Bodies() {
			want := 0
			if body.ID == 2 {
				want = 1
			}
			assert.Equal(t, want, body.Destroyed(), "avatar %d", body.ID)
		}
	}

	assert.ErrorIs(t, a.s.Disconnect(), ErrNotRunning)
}

func TestClientLosesHost(t *testing.T) {
	ctx := context.Background()
	net := newTapNetwork()

	host := newPeer(t, net, "Host")
	a := newPeer(t, net, "A")
	require.NoError(t, host.s.StartHost(ctx))
	require.NoError(t, a.s.StartClient(ctx, lobby))
	settle(5, host, a)

	obs := &recorder{}
	a.s.Subscribe(obs)

	require.NoError(t, host.s.Close())
	settle(1, a)

	assert.Equal(t, config.RoleNone, a.s.Role())
	assert.Empty(t, a.s.Avatars())
	assert.Empty(t, a.tpl.Live())
	assert.Contains(t, obs.kinds(), Stopped)
	assert.Contains(t, obs.kinds(), PeerDisconnected)

	// The client can join again once a host is back.
	require.NoError(t, host.s.StartHost(ctx))
	require.NoError(t, a.s.StartClient(ctx, lobby))
	settle(3, host, a)
	assert.Equal(t, ids(1, 2), a.s.Avatars())
}

func TestDuplicateStartIsNoop(t *testing.T) {
	ctx := context.Background()
	net := newTapNetwork()

	host := newPeer(t, net, "Host")
	require.NoError(t, host.s.StartHost(ctx))
	id := host.s.Info().SessionID

	assert.ErrorIs(t, host.s.StartHost(ctx), ErrDuplicateOperation)
	assert.ErrorIs(t, host.s.StartServer(ctx), ErrDuplicateOperation)
	assert.ErrorIs(t, host.s.StartClient(ctx, lobby), ErrDuplicateOperation)

	assert.Equal(t, config.RoleHost, host.s.Role())
	assert.Equal(t, id, host.s.Info().SessionID)
	assert.Len(t, host.tpl.Bodies(), 1)
}

func TestConnectFailure(t *testing.T) {
	a := newPeer(t, newTapNetwork(), "A")
	err := a.s.StartClient(context.Background(), "nowhere")
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.Equal(t, config.RoleNone, a.s.Role())
}

func TestDedicatedServer(t *testing.T) {
	ctx := context.Background()
	net := newTapNetwork()

	srv := newPeer(t, net, "Server")
	a := newPeer(t, net, "A")
	b := newPeer(t, net, "B")
	require.NoError(t, srv.s.StartServer(ctx))
	assert.Equal(t, protocol.NoPeer, srv.s.LocalID())

	require.NoError(t, a.s.StartClient(ctx, lobby))
	require.NoError(t, b.s.StartClient(ctx, lobby))
	settle(10, srv, a, b)

	assert.Equal(t, ids(2, 3), srv.s.Avatars())
	assert.Equal(t, ids(2, 3), a.s.Avatars())
	assert.Equal(t, ids(2, 3), b.s.Avatars())

	info := srv.s.Info()
	assert.Equal(t, config.RoleServer, info.Role)
	assert.Equal(t, "memory", info.Transport)
	assert.Equal(t, 2, info.Peers)
}

func TestSceneChangeReachesEveryone(t *testing.T) {
	ctx := context.Background()
	net := newTapNetwork()

	host := newPeer(t, net, "Host")
	a := newPeer(t, net, "A")
	b := newPeer(t, net, "B")
	require.NoError(t, host.s.StartHost(ctx))
	require.NoError(t, a.s.StartClient(ctx, lobby))
	require.NoError(t, b.s.StartClient(ctx, lobby))
	settle(3, host, a, b)

	require.NoError(t, host.s.ChangeScene("Cave"))
	settle(2, host, a, b)
	for _, p := range []*peer{host, a, b} {
		assert.Equal(t, "Cave", p.scenes.Current())
		assert.Equal(t, "Cave", p.s.Info().Scene)
	}

	require.NoError(t, a.s.ChangeScene("Town"))
	settle(2, host, a, b)
	for _, p := range []*peer{host, a, b} {
		assert.Equal(t, []string{"Cave", "Town"}, p.scenes.History())
	}

	assert.Error(t, host.s.ChangeScene(""))
}

func TestFirstStateSnapsAcrossTheWire(t *testing.T) {
	ctx := context.Background()
	net := newTapNetwork()

	host := newPeer(t, net, "Host")
	a := newPeer(t, net, "A")
	host.src.Teleport(geom.Vec3{X: 100})

	require.NoError(t, host.s.StartHost(ctx))
	require.NoError(t, a.s.StartClient(ctx, lobby))

	// Tick until A holds the host avatar and has shown one pose for it.
	var body *world.Body
	for i := 0; i < 10 && body == nil; i++ {
		settle(1, host, a)
		if b, ok := a.tpl.Live()[1]; ok {
			if pos, _ := b.Pose(); pos != (geom.Vec3{}) {
				body = b
			}
		}
	}
	require.NotNil(t, body)
	pos, _ := body.Pose()
	assert.Greater(t, pos.X, float32(98), "no glide from the origin")
}

type recorder struct{ events []Event }

func (r *recorder) OnSessionEvent(e Event) { r.events = append(r.events, e) }

func (r *recorder) kinds() []EventKind {
	out := make([]EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func TestObserversAreIdempotent(t *testing.T) {
	ctx := context.Background()
	net := newTapNetwork()
	host := newPeer(t, net, "Host")

	obs := &recorder{}
	assert.True(t, host.s.Subscribe(obs))
	assert.False(t, host.s.Subscribe(obs))

	require.NoError(t, host.s.StartHost(ctx))
	assert.Equal(t, []EventKind{Started, AvatarSpawned}, obs.kinds())
	assert.True(t, obs.events[1].Local)
	assert.Equal(t, config.RoleHost, obs.events[0].Role)

	a := newPeer(t, net, "A")
	require.NoError(t, a.s.StartClient(ctx, lobby))
	settle(2, host, a)
	assert.Equal(t, []EventKind{Started, AvatarSpawned, PeerConnected, AvatarSpawned}, obs.kinds())

	assert.True(t, host.s.Unsubscribe(obs))
	assert.False(t, host.s.Unsubscribe(obs))
	require.NoError(t, host.s.Close())
	assert.Len(t, obs.events, 4)
}

func TestInfoWhileIdle(t *testing.T) {
	p := newPeer(t, newTapNetwork(), "Idle")
	info := p.s.Info()
	assert.Equal(t, config.RoleNone, info.Role)
	assert.Empty(t, info.SessionID)
	assert.Zero(t, info.Peers)
	assert.ErrorIs(t, p.s.ChangeScene("Cave"), ErrNotRunning)
	assert.NoError(t, p.s.Close())
}
