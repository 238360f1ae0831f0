package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/1ureka/knuckle/internal/geom"
)

// HeaderSize is the fixed header size: Kind(2).
const HeaderSize = 2

// maxString is the largest string a u16 length prefix can describe.
const maxString = math.MaxUint16

// Encode serializes msg into a byte slice for transmission. All integers and
// floats are big-endian; strings are u16-length-prefixed UTF-8.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}

	w := &writer{buf: make([]byte, 0, 64)}
	w.u16(uint16(msg.Kind()))

	switch m := msg.(type) {
	case JoinRequest:
		w.str(m.Username)
		w.str(m.Version)
	case SpawnAvatar:
		w.peer(m.Peer)
	case DespawnAvatar:
		w.peer(m.Peer)
	case SceneChange:
		w.str(m.Scene)
	case AvatarState:
		w.avatar(m)
	default:
		return nil, fmt.Errorf("encode %T: %w", msg, ErrUnknownKind)
	}

	if w.err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Kind(), w.err)
	}
	return w.buf, nil
}

// PeekKind reads only the header of data.
func PeekKind(data []byte) (Kind, error) {
	if len(data) < HeaderSize {
		return 0, fmt.Errorf("header is %d bytes (need %d): %w", len(data), HeaderSize, ErrTruncated)
	}
	return Kind(binary.BigEndian.Uint16(data[:HeaderSize])), nil
}

// Decode deserializes data into one of the catalog message values. It never
// panics: malformed input yields an error wrapping ErrSerialization, and an
// unrecognized kind yields ErrUnknownKind.
func Decode(data []byte) (Message, error) {
	kind, err := PeekKind(data)
	if err != nil {
		return nil, err
	}
	if !kind.Known() {
		return nil, fmt.Errorf("decode %s: %w", kind, ErrUnknownKind)
	}

	r := &reader{buf: data[HeaderSize:]}
	var msg Message

	switch kind {
	case KindJoinRequest:
		msg = JoinRequest{Username: r.str(), Version: r.str()}
	case KindSpawnAvatar:
		msg = SpawnAvatar{Peer: r.peer()}
	case KindDespawnAvatar:
		msg = DespawnAvatar{Peer: r.peer()}
	case KindSceneChange:
		msg = SceneChange{Scene: r.str()}
	case KindAvatarStateSync:
		msg = r.avatar()
	}

	if r.err == nil && len(r.buf) > 0 {
		r.err = ErrTrailingData
	}
	if r.err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, r.err)
	}
	return msg, nil
}

// ---------------------------------------------------------------------------
// writer / reader
// ---------------------------------------------------------------------------

// writer appends fixed-width primitives; the first failure sticks. It
// refuses anything the reader would reject.
type writer struct {
	buf []byte
	err error
}

func (w *writer) u16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *writer) f32(v float32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, math.Float32bits(v))
}

func (w *writer) peer(id PeerID) {
	if !id.Valid() && w.err == nil {
		w.err = ErrInvalidPeerID
	}
	w.u16(uint16(id))
}

func (w *writer) str(s string) {
	if w.err != nil {
		return
	}
	if len(s) > maxString {
		w.err = ErrStringTooLong
		return
	}
	if !utf8.ValidString(s) {
		w.err = ErrInvalidUTF8
		return
	}
	w.u16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) vec3(v geom.Vec3) {
	w.f32(v.X)
	w.f32(v.Y)
	w.f32(v.Z)
}

func (w *writer) quat(q geom.Quat) {
	w.f32(q.X)
	w.f32(q.Y)
	w.f32(q.Z)
	w.f32(q.W)
}

func (w *writer) color(c geom.Color) {
	w.f32(c.R)
	w.f32(c.G)
	w.f32(c.B)
	w.f32(c.A)
}

func (w *writer) hand(h HandPose) {
	w.vec3(h.Position)
	w.str(h.State)
	w.color(h.Color)
}

func (w *writer) avatar(s AvatarState) {
	w.peer(s.Peer)
	w.vec3(s.Position)
	w.quat(s.Rotation)
	w.hand(s.Left)
	w.hand(s.Right)
}

// reader consumes fixed-width primitives. After the first failure every
// further read returns a zero value, so decoders need one check at the end.
type reader struct {
	buf []byte
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf) < n {
		r.err = ErrTruncated
		r.buf = nil
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) f32() float32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}

func (r *reader) peer() PeerID {
	id := PeerID(r.u16())
	if r.err == nil && !id.Valid() {
		r.err = ErrInvalidPeerID
	}
	return id
}

func (r *reader) str() string {
	n := int(r.u16())
	b := r.take(n)
	if r.err != nil {
		return ""
	}
	if !utf8.Valid(b) {
		r.err = ErrInvalidUTF8
		return ""
	}
	return string(b)
}

func (r *reader) vec3() geom.Vec3 {
	return geom.Vec3{X: r.f32(), Y: r.f32(), Z: r.f32()}
}

func (r *reader) quat() geom.Quat {
	return geom.Quat{X: r.f32(), Y: r.f32(), Z: r.f32(), W: r.f32()}
}

func (r *reader) color() geom.Color {
	return geom.Color{R: r.f32(), G: r.f32(), B: r.f32(), A: r.f32()}
}

func (r *reader) hand() HandPose {
	return HandPose{Position: r.vec3(), State: r.str(), Color: r.color()}
}

func (r *reader) avatar() AvatarState {
	return AvatarState{
		Peer:     r.peer(),
		Position: r.vec3(),
		Rotation: r.quat(),
		Left:     r.hand(),
		Right:    r.hand(),
	}
}
