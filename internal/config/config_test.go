package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Second/20, cfg.SendInterval)
	assert.Equal(t, float32(5), cfg.TeleportThreshold)
	assert.Equal(t, time.Second/60, cfg.TickInterval())
}

func TestParseOverlaysDefinedKeys(t *testing.T) {
	cfg, err := Parse(`
role = "Host"
listen_addr = ":9000"
username = "Alice"
send_rate = 30
move_threshold = 0.25
stun_servers = []
`)
	require.NoError(t, err)

	assert.Equal(t, RoleHost, cfg.Role)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "Alice", cfg.Username)
	assert.Equal(t, time.Second/30, cfg.SendInterval)
	assert.Equal(t, float32(0.25), cfg.MoveThreshold)
	assert.Empty(t, cfg.StunServers)

	// Untouched keys keep their defaults.
	assert.Equal(t, Default().SmoothingRate, cfg.SmoothingRate)
	assert.Equal(t, Default().Version, cfg.Version)
}

func TestParseKeepsZeroThrottle(t *testing.T) {
	cfg, err := Parse(`
min_send_gap = "0s"
move_threshold = 0
`)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Zero(t, cfg.MinSendGap)
	assert.Zero(t, cfg.MoveThreshold)
}

func TestParseRejectsBadInput(t *testing.T) {
	testCases := []struct {
		name string
		doc  string
	}{
		{"unknown key", `colour = "red"`},
		{"bad duration", `send_interval = "soon"`},
		{"zero send rate", `send_rate = 0`},
		{"unknown role", `role = "spectator"`},
		{"negative smoothing", `smoothing_rate = -1.0`},
		{"gap above interval", `min_send_gap = "1s"`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.doc)
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.toml")
	require.NoError(t, os.WriteFile(path, []byte("role = \"client\"\nserver_url = \"ws://10.0.0.2:7777/ws\"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, RoleClient, cfg.Role)
	assert.Equal(t, "ws://10.0.0.2:7777/ws", cfg.ServerURL)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
