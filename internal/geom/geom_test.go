package geom

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLerp(t *testing.T) {
	a := Vec3{0, 0, 0}
	b := Vec3{10, -4, 2}

	assert.Equal(t, a, Lerp(a, b, 0))
	assert.Equal(t, b, Lerp(a, b, 1))
	assert.Equal(t, Vec3{5, -2, 1}, Lerp(a, b, 0.5))

	// Out-of-range fractions are clamped.
	assert.Equal(t, b, Lerp(a, b, 7))
	assert.Equal(t, a, Lerp(a, b, -1))
}

func TestDistance(t *testing.T) {
	assert.InDelta(t, 5.0, Distance(Vec3{0, 0, 0}, Vec3{3, 4, 0}), 1e-6)
	assert.InDelta(t, 0.0, Distance(Vec3{1, 2, 3}, Vec3{1, 2, 3}), 1e-6)
}

func TestSlerpEndpoints(t *testing.T) {
	// 90 degrees about Y.
	b := Quat{0, 0.70710677, 0, 0.70710677}

	start := Slerp(Identity, b, 0)
	assert.InDelta(t, 1.0, start.W, 1e-5)

	end := Slerp(Identity, b, 1)
	assert.InDelta(t, b.Y, end.Y, 1e-5)
	assert.InDelta(t, b.W, end.W, 1e-5)

	// Halfway is 45 degrees: unit length, equal split.
	mid := Slerp(Identity, b, 0.5)
	assert.InDelta(t, 1.0, mid.Dot(mid), 1e-5)
	assert.InDelta(t, 0.38268343, mid.Y, 1e-5)
	assert.InDelta(t, 0.9238795, mid.W, 1e-5)
}

func TestSlerpTakesShortArc(t *testing.T) {
	// -q encodes the same rotation as q; slerp must not spin the long way.
	q := Quat{0, 0.70710677, 0, 0.70710677}
	neg := Quat{-q.X, -q.Y, -q.Z, -q.W}

	out := Slerp(q, neg, 0.5)
	assert.InDelta(t, 1.0, out.Dot(q)*out.Dot(q), 1e-5)
}

func TestNormalizeZero(t *testing.T) {
	assert.Equal(t, Identity, Quat{}.Normalize())
}
