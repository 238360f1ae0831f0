// Package config holds the session configuration types.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Role represents which side(s) of a session this process plays.
type Role string

const (
	RoleNone   Role = ""
	RoleHost   Role = "host"   // relay + local avatar
	RoleServer Role = "server" // relay only, no local avatar
	RoleClient Role = "client"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleNone, RoleHost, RoleServer, RoleClient:
		return true
	}
	return false
}

// Config stores every tunable of a session. It is passed explicitly to the
// session; nothing reads package-level defaults at runtime.
type Config struct {
	Role       Role
	ListenAddr string // host/server: signaling listen address, e.g. ":7777"
	ServerURL  string // client: signaling URL of the host

	Username string
	Version  string

	TickRate          int           // simulation ticks per second
	SendInterval      time.Duration // outbound state is sent at least this often while moving
	MinSendGap        time.Duration // never send state more often than this
	MoveThreshold     float32       // world units moved that force an early send
	SmoothingRate     float32       // exponential approach rate, per second
	TeleportThreshold float32       // displayed/target distance that snaps instead of gliding

	AvatarTemplate string   // name of the avatar template to instantiate
	StunServers    []string // ICE servers for the webrtc transport

	StatsInterval time.Duration
}

// Default returns the values the game historically shipped with.
func Default() Config {
	return Config{
		ListenAddr:        ":7777",
		Username:          "Player",
		Version:           "1.0",
		TickRate:          60,
		SendInterval:      time.Second / 20,
		MinSendGap:        time.Second / 60,
		MoveThreshold:     0.1,
		SmoothingRate:     5,
		TeleportThreshold: 5,
		AvatarTemplate:    "CL_Player",
		StunServers: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
		},
		StatsInterval: 10 * time.Second,
	}
}

// TickInterval is the wall-clock duration of one simulation tick.
func (c Config) TickInterval() time.Duration {
	if c.TickRate <= 0 {
		return time.Second / 60
	}
	return time.Second / time.Duration(c.TickRate)
}

// Validate rejects configurations the replicator cannot run with.
func (c Config) Validate() error {
	var errs []error
	if !c.Role.Valid() {
		errs = append(errs, fmt.Errorf("unknown role %q", c.Role))
	}
	if c.TickRate <= 0 {
		errs = append(errs, errors.New("tick_rate must be positive"))
	}
	if c.SendInterval <= 0 {
		errs = append(errs, errors.New("send_interval must be positive"))
	}
	if c.MinSendGap < 0 || c.MinSendGap > c.SendInterval {
		errs = append(errs, errors.New("min_send_gap must be within [0, send_interval]"))
	}
	if c.MoveThreshold < 0 {
		errs = append(errs, errors.New("move_threshold must not be negative"))
	}
	if c.SmoothingRate <= 0 {
		errs = append(errs, errors.New("smoothing_rate must be positive"))
	}
	if c.TeleportThreshold <= 0 {
		errs = append(errs, errors.New("teleport_threshold must be positive"))
	}
	if c.AvatarTemplate == "" {
		errs = append(errs, errors.New("avatar_template must not be empty"))
	}
	return errors.Join(errs...)
}
