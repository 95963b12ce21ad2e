package geometry

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestCentroid(t *testing.T) {
	tests := []struct {
		name string
		pts  []r3.Vec
		want r3.Vec
	}{
		{"empty", nil, r3.Vec{}},
		{"single", []r3.Vec{{X: 1, Y: 2, Z: 3}}, r3.Vec{X: 1, Y: 2, Z: 3}},
		{"pair", []r3.Vec{{X: -1}, {X: 3, Y: 4}}, r3.Vec{X: 1, Y: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Centroid(tt.pts))
		})
	}
}

func TestRandomPointInSphere(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	center := r3.Vec{X: 4, Y: -2, Z: 1}
	const radius = 3.0

	var inner int
	const n = 20000
	for i := 0; i < n; i++ {
		p := RandomPointInSphere(rng, center, radius)
		require.True(t, InSphere(p, center, radius+1e-12))
		if Distance(p, center) < radius/2 {
			inner++
		}
	}
	// A uniform volume sample puts 1/8 of the points in the inner half radius.
	assert.InDelta(t, 0.125, float64(inner)/n, 0.01)
}

func TestRandomRotation_IsUnit(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		q := RandomRotation(rng)
		assert.InDelta(t, 1.0, quat.Abs(quat.Number(q)), 1e-12)
	}
}

func TestRotationFromVector(t *testing.T) {
	assert.Equal(t, Identity, RotationFromVector(r3.Vec{}))

	rot := RotationFromVector(r3.Vec{Z: math.Pi / 2})
	got := rot.Rotate(r3.Vec{X: 1})
	assert.InDelta(t, 0, got.X, 1e-12)
	assert.InDelta(t, 1, got.Y, 1e-12)
}

func TestAxisAngle_Degenerate(t *testing.T) {
	assert.Equal(t, Identity, AxisAngle(r3.Vec{}, 1))
	assert.Equal(t, Identity, AxisAngle(r3.Vec{X: 1}, 0))
}

func TestCompose_Order(t *testing.T) {
	aboutZ := AxisAngle(r3.Vec{Z: 1}, math.Pi/2)
	aboutX := AxisAngle(r3.Vec{X: 1}, math.Pi/2)

	v := r3.Vec{X: 1}
	want := aboutX.Rotate(aboutZ.Rotate(v))
	got := Compose(aboutZ, aboutX).Rotate(v)
	assert.InDelta(t, want.X, got.X, 1e-12)
	assert.InDelta(t, want.Y, got.Y, 1e-12)
	assert.InDelta(t, want.Z, got.Z, 1e-12)
}

func TestSlerp(t *testing.T) {
	a := Identity
	b := AxisAngle(r3.Vec{Z: 1}, math.Pi/2)

	tests := []struct {
		name  string
		t     float64
		angle float64
	}{
		{"start", 0, 0},
		{"half", 0.5, math.Pi / 4},
		{"end", 1, math.Pi / 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Slerp(a, b, tt.t).Rotate(r3.Vec{X: 1})
			assert.InDelta(t, math.Cos(tt.angle), got.X, 1e-9)
			assert.InDelta(t, math.Sin(tt.angle), got.Y, 1e-9)
		})
	}

	same := Slerp(b, b, 0.3)
	assert.InDelta(t, 1.0, quat.Abs(quat.Number(same)), 1e-12)
}

func TestSlerp_ShortestArc(t *testing.T) {
	b := AxisAngle(r3.Vec{Z: 1}, math.Pi/2)
	negB := r3.Rotation(quat.Scale(-1, quat.Number(b)))

	got := Slerp(Identity, negB, 0.5).Rotate(r3.Vec{X: 1})
	assert.InDelta(t, math.Cos(math.Pi/4), got.X, 1e-9)
	assert.InDelta(t, math.Sin(math.Pi/4), got.Y, 1e-9)
}

func TestRotateAbout(t *testing.T) {
	pivot := r3.Vec{X: 1, Y: 1}
	got := RotateAbout(r3.Vec{X: 2, Y: 1}, AxisAngle(r3.Vec{Z: 1}, math.Pi), pivot)
	assert.InDelta(t, 0, got.X, 1e-12)
	assert.InDelta(t, 1, got.Y, 1e-12)
}

func BenchmarkRandomRotation(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < b.N; i++ {
		_ = RandomRotation(rng)
	}
}
