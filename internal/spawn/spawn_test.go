package spawn

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/knuckle/internal/geom"
	"github.com/1ureka/knuckle/internal/protocol"
	"github.com/1ureka/knuckle/internal/util"
)

type fakeBody struct {
	id        protocol.PeerID
	destroyed int
}

func (b *fakeBody) SetTransform(geom.Vec3, geom.Quat) {}
func (b *fakeBody) SetHand(Side, geom.Vec3, geom.Color) {}
func (b *fakeBody) SetHandState(Side, string) error { return nil }
func (b *fakeBody) Destroy() { b.destroyed++ }

type fakeFactory struct {
	bodies map[protocol.PeerID][]*fakeBody
	fail   error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{bodies: make(map[protocol.PeerID][]*fakeBody)}
}

func (f *fakeFactory) Instantiate(id protocol.PeerID, _ Kind) (Body, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	b := &fakeBody{id: id}
	f.bodies[id] = append(f.bodies[id], b)
	return b, nil
}

func quietOnce(lines *[]string) *util.OnceLogger {
	return util.NewOnceLogger(16, func(format string, args ...interface{}) {
		*lines = append(*lines, fmt.Sprintf(format, args...))
	})
}

func TestSpawnIsIdempotent(t *testing.T) {
	f := newFakeFactory()
	m := NewManager(f, nil)

	ok, err := m.Spawn(2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Spawn(2)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, m.Count())
	assert.Len(t, f.bodies[2], 1, "body instantiated exactly once")
}

func TestSpawnSelfIsLocal(t *testing.T) {
	m := NewManager(newFakeFactory(), nil)
	m.SetSelf(3)

	_, err := m.Spawn(3)
	require.NoError(t, err)
	_, err = m.Spawn(1)
	require.NoError(t, err)

	require.NotNil(t, m.Local())
	assert.Equal(t, Local, m.Local().Kind)
	assert.Equal(t, protocol.PeerID(3), m.Local().ID)

	_, isRemote := m.Remote(3)
	assert.False(t, isRemote, "local avatar is not in the remote registry")
	assert.Len(t, m.Remotes(), 1)
	assert.Equal(t, []protocol.PeerID{1, 3}, m.IDs())
}

func TestSpawnReservedID(t *testing.T) {
	m := NewManager(newFakeFactory(), nil)
	_, err := m.Spawn(protocol.NoPeer)
	assert.ErrorIs(t, err, ErrReservedPeer)
	assert.Zero(t, m.Count())
}

func TestSpawnMissingTemplateLeavesRegistryUnchanged(t *testing.T) {
	testCases := []struct {
		name    string
		factory Factory
	}{
		{"nil factory", nil},
		{"template error", &fakeFactory{fail: ErrMissingTemplate}},
		{"other error", &fakeFactory{fail: errors.New("asset bundle offline")}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager(tc.factory, nil)
			ok, err := m.Spawn(2)
			assert.False(t, ok)
			assert.ErrorIs(t, err, ErrMissingTemplate)
			assert.False(t, m.Has(2))
			assert.Zero(t, m.Count())
		})
	}
}

func TestDespawnDestroysOnce(t *testing.T) {
	f := newFakeFactory()
	m := NewManager(f, nil)

	var gone []protocol.PeerID
	m.SetHooks(Hooks{Despawned: func(id protocol.PeerID, _ Kind) { gone = append(gone, id) }})

	_, _ = m.Spawn(2)
	assert.True(t, m.Despawn(2))
	assert.False(t, m.Despawn(2))
	assert.False(t, m.Despawn(9))

	assert.Equal(t, 1, f.bodies[2][0].destroyed)
	assert.Equal(t, []protocol.PeerID{2}, gone)
}

func TestApplyStateUnknownPeer(t *testing.T) {
	var lines []string
	m := NewManager(newFakeFactory(), quietOnce(&lines))
	_, _ = m.Spawn(2)

	for i := 0; i < 50; i++ {
		err := m.ApplyState(7, protocol.AvatarState{Peer: 7})
		assert.ErrorIs(t, err, ErrUnknownPeer)
	}
	assert.Len(t, lines, 1, "logged once per missing id")
	assert.Equal(t, []protocol.PeerID{2}, m.IDs(), "registry unchanged")
}

func TestApplyStateRetargetsRemoteOnly(t *testing.T) {
	m := NewManager(newFakeFactory(), nil)
	m.SetSelf(1)
	_, _ = m.Spawn(1)
	_, _ = m.Spawn(2)

	s := protocol.AvatarState{Position: geom.Vec3{X: 4}}
	require.NoError(t, m.ApplyState(2, s))
	require.NoError(t, m.ApplyState(2, s), "duplicate is a harmless retarget")

	rec, _ := m.Remote(2)
	assert.True(t, rec.Pending)
	assert.Equal(t, geom.Vec3{X: 4}, rec.Target.Position)
	assert.Equal(t, protocol.PeerID(2), rec.Target.Peer)

	assert.ErrorIs(t, m.ApplyState(1, s), ErrLocalAuthority)
	assert.False(t, m.Local().Pending)
}

func TestResetDestroysEverything(t *testing.T) {
	f := newFakeFactory()
	m := NewManager(f, nil)
	m.SetSelf(2)
	for _, id := range []protocol.PeerID{1, 2, 3} {
		_, err := m.Spawn(id)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, m.DespawnRemotes())
	assert.NotNil(t, m.Local())

	m.Reset()
	assert.Zero(t, m.Count())
	assert.Equal(t, protocol.NoPeer, m.Self())
	for _, id := range []protocol.PeerID{1, 2, 3} {
		assert.Equal(t, 1, f.bodies[id][0].destroyed)
	}
}
