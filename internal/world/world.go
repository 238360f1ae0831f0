// Package world is a headless stand-in for the game: avatar templates and
// bodies that only record what the session does to them, a scripted local
// avatar, and a scene loader.
package world

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/1ureka/knuckle/internal/geom"
	"github.com/1ureka/knuckle/internal/protocol"
	"github.com/1ureka/knuckle/internal/spawn"
	"github.com/1ureka/knuckle/internal/util"
)

// Hand state tags the default bodies understand.
var HandStates = []string{"hands_idle", "hands_grab", "hands_reach"}

// ---------------------------------------------------------------------------
// Templates and bodies
// ---------------------------------------------------------------------------

// Templates instantiates bodies from a named template. It implements
// spawn.Factory.
type Templates struct {
	mu       sync.Mutex
	avatar   string
	names    map[string]bool
	bodies   []*Body
	handTags map[string]bool
}

// NewTemplates registers names and instantiates avatars from the one called
// avatar. If avatar is not among names every spawn fails.
func NewTemplates(avatar string, names ...string) *Templates {
	t := &Templates{
		avatar:   avatar,
		names:    make(map[string]bool, len(names)),
		handTags: make(map[string]bool, len(HandStates)),
	}
	for _, n := range names {
		t.names[n] = true
	}
	for _, tag := range HandStates {
		t.handTags[tag] = true
	}
	return t
}

// Instantiate implements spawn.Factory.
func (t *Templates) Instantiate(id protocol.PeerID, kind spawn.Kind) (spawn.Body, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.names[t.avatar] {
		return nil, fmt.Errorf("template %q: %w", t.avatar, spawn.ErrMissingTemplate)
	}
	b := &Body{
		ID:       id,
		Kind:     kind,
		Template: t.avatar,
		Rotation: geom.Identity,
		handTags: t.handTags,
	}
	t.bodies = append(t.bodies, b)
	return b, nil
}

// Bodies returns every body ever instantiated, destroyed ones included.
func (t *Templates) Bodies() []*Body {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.bodies)
}

// Live returns the bodies not yet destroyed, by id.
func (t *Templates) Live() map[protocol.PeerID]*Body {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[protocol.PeerID]*Body)
	for _, b := range t.bodies {
		if b.Destroyed() == 0 {
			out[b.ID] = b
		}
	}
	return out
}

// Hand is a body's appendage as last set by the session.
type Hand struct {
	Position geom.Vec3
	Color    geom.Color
	State    string
}

// Body records the pose the session pushes to it.
type Body struct {
	ID       protocol.PeerID
	Kind     spawn.Kind
	Template string

	mu        sync.Mutex
	Position  geom.Vec3
	Rotation  geom.Quat
	Hands     [2]Hand
	destroyed int
	handTags  map[string]bool
}

func (b *Body) SetTransform(position geom.Vec3, rotation geom.Quat) {
	b.mu.Lock()
	b.Position, b.Rotation = position, rotation
	b.mu.Unlock()
}

func (b *Body) SetHand(side spawn.Side, position geom.Vec3, color geom.Color) {
	b.mu.Lock()
	b.Hands[side].Position = position
	b.Hands[side].Color = color
	b.mu.Unlock()
}

func (b *Body) SetHandState(side spawn.Side, tag string) error {
	if !b.handTags[tag] {
		return fmt.Errorf("unknown hand state %q", tag)
	}
	b.mu.Lock()
	b.Hands[side].State = tag
	b.mu.Unlock()
	return nil
}

func (b *Body) Destroy() {
	b.mu.Lock()
	b.destroyed++
	b.mu.Unlock()
	util.LogDebug("avatar %d destroyed", b.ID)
}

// Destroyed returns how many times Destroy was called.
func (b *Body) Destroyed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.destroyed
}

// Pose returns the last transform set on the body.
func (b *Body) Pose() (geom.Vec3, geom.Quat) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Position, b.Rotation
}

// ---------------------------------------------------------------------------
// Scripted local avatar
// ---------------------------------------------------------------------------

// Wanderer walks the local avatar around a circle and cycles its hand
// states. It implements replicator.PoseSource.
type Wanderer struct {
	mu      sync.Mutex
	center  geom.Vec3
	radius  float32
	speed   float32 // radians per second
	angle   float64
	elapsed time.Duration
	color   geom.Color
	placed  bool
}

// NewWanderer creates a wanderer orbiting center.
func NewWanderer(center geom.Vec3, radius, speed float32, color geom.Color) *Wanderer {
	return &Wanderer{center: center, radius: radius, speed: speed, color: color, placed: true}
}

// Advance moves the avatar forward by dt.
func (w *Wanderer) Advance(dt time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.elapsed += dt
	w.angle = math.Mod(w.angle+float64(w.speed)*dt.Seconds(), 2*math.Pi)
}

// Teleport recentres the orbit, as a scene change would.
func (w *Wanderer) Teleport(center geom.Vec3) {
	w.mu.Lock()
	w.center = center
	w.mu.Unlock()
}

// Pose implements replicator.PoseSource.
func (w *Wanderer) Pose() (protocol.AvatarState, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.placed {
		return protocol.AvatarState{}, false
	}

	sin, cos := math.Sincos(w.angle)
	pos := geom.Vec3{
		X: w.center.X + w.radius*float32(cos),
		Y: w.center.Y,
		Z: w.center.Z + w.radius*float32(sin),
	}
	// Face along the direction of travel.
	half := (w.angle + math.Pi/2) / 2
	rot := geom.Quat{Y: float32(math.Sin(half)), W: float32(math.Cos(half))}

	tag := HandStates[int(w.elapsed/time.Second)%len(HandStates)]
	return protocol.AvatarState{
		Position: pos,
		Rotation: rot,
		Left: protocol.HandPose{
			Position: geom.Vec3{X: pos.X - 0.3, Y: pos.Y + 1, Z: pos.Z},
			State:    "hands_idle",
			Color:    w.color,
		},
		Right: protocol.HandPose{
			Position: geom.Vec3{X: pos.X + 0.3, Y: pos.Y + 1, Z: pos.Z},
			State:    tag,
			Color:    w.color,
		},
	}, true
}

// ---------------------------------------------------------------------------
// Scenes
// ---------------------------------------------------------------------------

// MainMenu is the scene a process starts in.
const MainMenu = "Main-Menu"

// Scenes tracks the loaded scene. It implements session.SceneLoader.
type Scenes struct {
	mu      sync.Mutex
	current string
	history []string
	onLoad  func(name string)
}

// NewScenes starts in MainMenu. onLoad, if set, runs after every load.
func NewScenes(onLoad func(name string)) *Scenes {
	return &Scenes{current: MainMenu, onLoad: onLoad}
}

// LoadScene implements session.SceneLoader.
func (s *Scenes) LoadScene(name string) error {
	if name == "" {
		return fmt.Errorf("empty scene name")
	}
	s.mu.Lock()
	s.current = name
	s.history = append(s.history, name)
	s.mu.Unlock()

	util.LogInfo("scene %q loaded", name)
	if s.onLoad != nil {
		s.onLoad(name)
	}
	return nil
}

// Current returns the loaded scene.
func (s *Scenes) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// History returns every scene loaded, in order.
func (s *Scenes) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}
