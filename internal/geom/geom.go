// Package geom provides the small vector/quaternion math needed to smooth
// replicated avatar poses. Components are float32 to match the wire format.
package geom

import "math"

// Vec3 is a position in world units.
type Vec3 struct {
	X, Y, Z float32
}

// Quat is a rotation quaternion in x,y,z,w order.
type Quat struct {
	X, Y, Z, W float32
}

// Color is an RGBA color with channels in [0, 1].
type Color struct {
	R, G, B, A float32
}

// Identity is the no-rotation quaternion.
var Identity = Quat{W: 1}

// White is the default appendage tint.
var White = Color{R: 1, G: 1, B: 1, A: 1}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Len returns the euclidean length of v.
func (v Vec3) Len() float32 {
	return float32(math.Sqrt(float64(v.X*v.X + v.Y*v.Y + v.Z*v.Z)))
}

// Distance returns the straight-line distance between a and b.
func Distance(a, b Vec3) float32 {
	return a.Sub(b).Len()
}

// Lerp moves a toward b by fraction t (clamped to [0, 1]).
func Lerp(a, b Vec3, t float32) Vec3 {
	t = clamp01(t)
	return Vec3{
		X: a.X + (b.X-a.X)*t,
		Y: a.Y + (b.Y-a.Y)*t,
		Z: a.Z + (b.Z-a.Z)*t,
	}
}

// Dot returns the 4D dot product of q and o.
func (q Quat) Dot(o Quat) float32 {
	return q.X*o.X + q.Y*o.Y + q.Z*o.Z + q.W*o.W
}

// Normalize returns q scaled to unit length. A zero quaternion becomes Identity.
func (q Quat) Normalize() Quat {
	n := float32(math.Sqrt(float64(q.Dot(q))))
	if n == 0 {
		return Identity
	}
	return Quat{q.X / n, q.Y / n, q.Z / n, q.W / n}
}

// Slerp spherically interpolates from a to b by fraction t (clamped to
// [0, 1]), always taking the shorter arc.
func Slerp(a, b Quat, t float32) Quat {
	t = clamp01(t)
	a = a.Normalize()
	b = b.Normalize()

	cos := a.Dot(b)
	if cos < 0 {
		b = Quat{-b.X, -b.Y, -b.Z, -b.W}
		cos = -cos
	}

	// Nearly parallel: fall back to normalized lerp.
	if cos > 0.9995 {
		return Quat{
			X: a.X + (b.X-a.X)*t,
			Y: a.Y + (b.Y-a.Y)*t,
			Z: a.Z + (b.Z-a.Z)*t,
			W: a.W + (b.W-a.W)*t,
		}.Normalize()
	}

	theta := math.Acos(float64(cos))
	sin := math.Sin(theta)
	wa := float32(math.Sin((1-float64(t))*theta) / sin)
	wb := float32(math.Sin(float64(t)*theta) / sin)

	return Quat{
		X: a.X*wa + b.X*wb,
		Y: a.Y*wa + b.Y*wb,
		Z: a.Z*wa + b.Z*wb,
		W: a.W*wa + b.W*wb,
	}
}

func clamp01(t float32) float32 {
	switch {
	case t < 0:
		return 0
	case t > 1:
		return 1
	}
	return t
}
