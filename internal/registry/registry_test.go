package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/knuckle/internal/protocol"
)

func TestConnectDisconnect(t *testing.T) {
	r := New()
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	require.True(t, r.OnConnect(1, RoleHost))
	require.True(t, r.OnConnect(3, RoleRemote))
	require.True(t, r.OnConnect(2, RoleRemote))

	assert.Equal(t, 3, r.Count())
	assert.Equal(t, []protocol.PeerID{1, 2, 3}, r.Peers())

	c, ok := r.Get(1)
	require.True(t, ok)
	assert.Equal(t, Connection{ID: 1, Role: RoleHost, Since: fixed}, c)

	assert.True(t, r.OnDisconnect(2))
	assert.False(t, r.IsConnected(2))
	assert.False(t, r.OnDisconnect(2), "second disconnect is a no-op")
	assert.Equal(t, 2, r.Count())
}

func TestConnectRejectsReservedAndDuplicate(t *testing.T) {
	r := New()

	assert.False(t, r.OnConnect(protocol.NoPeer, RoleRemote))
	assert.Zero(t, r.Count())

	require.True(t, r.OnConnect(2, RoleRemote))
	assert.False(t, r.OnConnect(2, RoleHost))

	c, _ := r.Get(2)
	assert.Equal(t, RoleRemote, c.Role, "duplicate connect must not change the role")
}

// The peer set must equal the peers whose last reported event was a connect.
func TestRegistryTracksLastEvent(t *testing.T) {
	type ev struct {
		peer    protocol.PeerID
		connect bool
	}
	events := []ev{
		{2, true}, {3, true}, {2, false}, {4, true}, {3, false}, {2, true}, {5, true}, {4, false},
	}

	r := New()
	last := map[protocol.PeerID]bool{}
	for _, e := range events {
		if e.connect {
			r.OnConnect(e.peer, RoleRemote)
		} else {
			r.OnDisconnect(e.peer)
		}
		last[e.peer] = e.connect
	}

	var want []protocol.PeerID
	for _, id := range []protocol.PeerID{2, 3, 4, 5} {
		if last[id] {
			want = append(want, id)
		}
	}
	assert.Equal(t, want, r.Peers())

	r.Clear()
	assert.Zero(t, r.Count())
}

func TestRoleString(t *testing.T) {
	assert.Equal(t, "host", RoleHost.String())
	assert.Equal(t, "remote", RoleRemote.String())
	assert.Equal(t, "Role(7)", Role(7).String())
}
