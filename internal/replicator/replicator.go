// Package replicator moves avatar poses across the network: it throttles the
// local avatar's outbound updates and smooths every remote avatar toward its
// latest received pose.
package replicator

import (
	"time"

	"github.com/1ureka/knuckle/internal/geom"
	"github.com/1ureka/knuckle/internal/protocol"
	"github.com/1ureka/knuckle/internal/spawn"
	"github.com/1ureka/knuckle/internal/util"
)

// Options tune both directions. Unset values fall back to the defaults:
// zero for the interval and the smoothing fields, negative for MinSendGap and
// MoveThreshold, where zero means "no gap" and "any movement".
type Options struct {
	SendInterval      time.Duration // heartbeat: send at least this often
	MinSendGap        time.Duration // never send more often than this
	MoveThreshold     float32       // movement that justifies an early send
	SmoothingRate     float32       // exponential approach rate, per second
	TeleportThreshold float32       // distances above this snap instead of slide
}

// DefaultOptions are the historical tuning values.
func DefaultOptions() Options {
	return Options{
		SendInterval:      time.Second / 20,
		MinSendGap:        time.Second / 60,
		MoveThreshold:     0.1,
		SmoothingRate:     5,
		TeleportThreshold: 5,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SendInterval <= 0 {
		o.SendInterval = d.SendInterval
	}
	if o.MinSendGap < 0 {
		o.MinSendGap = d.MinSendGap
	}
	if o.MoveThreshold < 0 {
		o.MoveThreshold = d.MoveThreshold
	}
	if o.SmoothingRate <= 0 {
		o.SmoothingRate = d.SmoothingRate
	}
	if o.TeleportThreshold <= 0 {
		o.TeleportThreshold = d.TeleportThreshold
	}
	return o
}

// PoseSource reports the local avatar's current pose. ok is false while the
// avatar is not yet placed in the world.
type PoseSource interface {
	Pose() (state protocol.AvatarState, ok bool)
}

// Publisher is the single authority path for local pose updates. The session
// picks one per role.
type Publisher func(state protocol.AvatarState) error

// Replicator is driven once per tick by the session. It is not safe for
// concurrent use.
type Replicator struct {
	opts   Options
	spawns *spawn.Manager
	once   *util.OnceLogger

	source  PoseSource
	publish Publisher

	acc      time.Duration
	lastSent geom.Vec3
	sentOnce bool
}

// New creates a replicator over spawns.
func New(opts Options, spawns *spawn.Manager, once *util.OnceLogger) *Replicator {
	if once == nil {
		once = util.NewOnceLogger(0, nil)
	}
	return &Replicator{opts: opts.withDefaults(), spawns: spawns, once: once}
}

// SetSource sets where the local pose comes from. nil disables outbound.
func (r *Replicator) SetSource(src PoseSource) { r.source = src }

// SetPublisher installs the authority path and resets the send throttle.
// nil disables outbound.
func (r *Replicator) SetPublisher(p Publisher) {
	r.publish = p
	r.acc = 0
	r.sentOnce = false
	r.lastSent = geom.Vec3{}
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

// Outbound advances the send accumulator by dt and publishes the local pose
// when the heartbeat is due, or earlier when the avatar has moved past the
// threshold and the minimum gap has elapsed. It reports whether it sent.
func (r *Replicator) Outbound(dt time.Duration) bool {
	if r.publish == nil || r.source == nil {
		return false
	}
	self := r.spawns.Self()
	if !self.Valid() || r.spawns.Local() == nil {
		return false
	}

	r.acc += dt
	state, ok := r.source.Pose()
	if !ok {
		return false
	}

	moved := !r.sentOnce || geom.Distance(state.Position, r.lastSent) > r.opts.MoveThreshold
	due := r.acc >= r.opts.SendInterval || (moved && r.acc >= r.opts.MinSendGap)
	if !due {
		return false
	}

	state.Peer = self
	if err := r.publish(state); err != nil {
		r.once.Log(util.OnceKey{Class: "publish"}, "failed to publish local pose: %v", err)
		return false
	}
	r.once.Forget(util.OnceKey{Class: "publish"})

	r.acc = 0
	r.lastSent = state.Position
	r.sentOnce = true
	return true
}

// ---------------------------------------------------------------------------
// Inbound
// ---------------------------------------------------------------------------

// Smooth moves every Remote avatar's displayed pose toward its target. The
// first pose a record receives is shown as is, and so is any target farther
// than the teleport threshold.
func (r *Replicator) Smooth(dt time.Duration) {
	alpha := r.opts.SmoothingRate * float32(dt.Seconds())
	if alpha > 1 {
		alpha = 1
	}
	if alpha < 0 {
		alpha = 0
	}

	for _, rec := range r.spawns.Remotes() {
		r.step(rec, alpha)
	}
}

func (r *Replicator) step(rec *spawn.Record, alpha float32) {
	target := rec.Target
	if !rec.Primed {
		if !rec.Pending {
			return
		}
		rec.Displayed = target
		rec.Primed = true
		rec.Pending = false
		r.show(rec)
		return
	}
	rec.Pending = false

	d := &rec.Displayed
	if geom.Distance(d.Position, target.Position) > r.opts.TeleportThreshold {
		d.Position = target.Position
		d.Rotation = target.Rotation
	} else {
		d.Position = geom.Lerp(d.Position, target.Position, alpha)
		d.Rotation = geom.Slerp(d.Rotation, target.Rotation, alpha)
	}
	d.Left = r.approachHand(d.Left, target.Left, alpha)
	d.Right = r.approachHand(d.Right, target.Right, alpha)
	r.show(rec)
}

func (r *Replicator) approachHand(cur, target protocol.HandPose, alpha float32) protocol.HandPose {
	if geom.Distance(cur.Position, target.Position) > r.opts.TeleportThreshold {
		cur.Position = target.Position
	} else {
		cur.Position = geom.Lerp(cur.Position, target.Position, alpha)
	}
	cur.State = target.State
	cur.Color = target.Color
	return cur
}

// show pushes the displayed pose to the body. Hand state tags are pushed only
// when they change; a rejected tag is reported once per peer and tag.
func (r *Replicator) show(rec *spawn.Record) {
	d := rec.Displayed
	rec.Body.SetTransform(d.Position, d.Rotation)

	hands := [2]protocol.HandPose{d.Left, d.Right}
	for i, h := range hands {
		side := spawn.Side(i)
		rec.Body.SetHand(side, h.Position, h.Color)
		if h.State == rec.Applied[i] {
			continue
		}
		rec.Applied[i] = h.State
		if err := rec.Body.SetHandState(side, h.State); err != nil {
			r.once.Log(util.OnceKey{Class: "hand-state:" + h.State, ID: uint32(rec.ID)},
				"peer %d: %s hand state %q rejected: %v", rec.ID, side, h.State, err)
		}
	}
}
