// Package geometry provides the rigid-body primitives used by the pose search:
// random rotations, rotation vectors, spherical interpolation and sampling
// inside a sphere. Vectors and rotations are gonum r3 values.
package geometry

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Identity is the rotation that leaves every vector unchanged.
var Identity = r3.Rotation{Real: 1}

// Centroid returns the arithmetic mean of pts. The centroid of an empty
// slice is the origin.
func Centroid(pts []r3.Vec) r3.Vec {
	if len(pts) == 0 {
		return r3.Vec{}
	}
	var sum r3.Vec
	for _, p := range pts {
		sum = r3.Add(sum, p)
	}
	return r3.Scale(1/float64(len(pts)), sum)
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b r3.Vec) float64 {
	return r3.Norm(r3.Sub(a, b))
}

// InSphere reports whether p lies inside or on the sphere of the given
// center and radius.
func InSphere(p, center r3.Vec, radius float64) bool {
	return r3.Norm2(r3.Sub(p, center)) <= radius*radius
}

// RandomPointInSphere draws a point uniformly from the volume of a sphere.
// The radial component is cube-root scaled, the azimuth is uniform and the
// polar angle is cosine-uniform.
func RandomPointInSphere(rng *rand.Rand, center r3.Vec, radius float64) r3.Vec {
	phi := rng.Float64() * 2 * math.Pi
	cosTheta := 2*rng.Float64() - 1
	sinTheta := math.Sqrt(1 - cosTheta*cosTheta)
	r := radius * math.Cbrt(rng.Float64())

	sinPhi, cosPhi := math.Sincos(phi)
	return r3.Add(center, r3.Vec{
		X: r * sinTheta * cosPhi,
		Y: r * sinTheta * sinPhi,
		Z: r * cosTheta,
	})
}

// RandomUnitVector returns a direction drawn uniformly from the unit sphere.
func RandomUnitVector(rng *rand.Rand) r3.Vec {
	for {
		v := r3.Vec{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}
		if n := r3.Norm(v); n > 1e-12 {
			return r3.Scale(1/n, v)
		}
	}
}

// GaussianVec returns a vector whose components are independent N(0, sigma²).
func GaussianVec(rng *rand.Rand, sigma float64) r3.Vec {
	return r3.Vec{
		X: rng.NormFloat64() * sigma,
		Y: rng.NormFloat64() * sigma,
		Z: rng.NormFloat64() * sigma,
	}
}

// UniformVec returns a vector whose components are uniform in [-amp, amp).
func UniformVec(rng *rand.Rand, amp float64) r3.Vec {
	return r3.Vec{
		X: (2*rng.Float64() - 1) * amp,
		Y: (2*rng.Float64() - 1) * amp,
		Z: (2*rng.Float64() - 1) * amp,
	}
}

// RandomRotation returns a rotation drawn uniformly from SO(3) using
// Shoemake's subgroup algorithm.
func RandomRotation(rng *rand.Rand) r3.Rotation {
	u1, u2, u3 := rng.Float64(), rng.Float64(), rng.Float64()
	a := math.Sqrt(1 - u1)
	b := math.Sqrt(u1)
	s2, c2 := math.Sincos(2 * math.Pi * u2)
	s3, c3 := math.Sincos(2 * math.Pi * u3)
	return r3.Rotation(quat.Number{
		Real: b * c3,
		Imag: a * s2,
		Jmag: a * c2,
		Kmag: b * s3,
	})
}

// RotationFromVector converts a rotation vector (axis scaled by angle in
// radians) into a rotation. The zero vector maps to Identity.
func RotationFromVector(v r3.Vec) r3.Rotation {
	angle := r3.Norm(v)
	if angle < 1e-12 {
		return Identity
	}
	return r3.NewRotation(angle, r3.Scale(1/angle, v))
}

// AxisAngle returns the rotation by angle radians about axis. A degenerate
// axis yields Identity.
func AxisAngle(axis r3.Vec, angle float64) r3.Rotation {
	if r3.Norm2(axis) < 1e-24 || angle == 0 {
		return Identity
	}
	return r3.NewRotation(angle, axis)
}

// Compose returns the rotation that applies first and then second.
func Compose(first, second r3.Rotation) r3.Rotation {
	return normalize(quat.Mul(quat.Number(second), quat.Number(first)))
}

// Slerp spherically interpolates between a (t=0) and b (t=1) along the
// shortest arc.
func Slerp(a, b r3.Rotation, t float64) r3.Rotation {
	q0 := quat.Number(a)
	q1 := quat.Number(b)
	if q0.Real*q1.Real+q0.Imag*q1.Imag+q0.Jmag*q1.Jmag+q0.Kmag*q1.Kmag < 0 {
		q1 = quat.Scale(-1, q1)
	}
	delta := quat.Mul(q1, quat.Inv(q0))
	if delta.Imag == 0 && delta.Jmag == 0 && delta.Kmag == 0 {
		return normalize(q0)
	}
	return normalize(quat.Mul(quat.PowReal(delta, t), q0))
}

// RotateAbout rotates p by rot about the given pivot.
func RotateAbout(p r3.Vec, rot r3.Rotation, pivot r3.Vec) r3.Vec {
	return r3.Add(rot.Rotate(r3.Sub(p, pivot)), pivot)
}

func normalize(q quat.Number) r3.Rotation {
	n := quat.Abs(q)
	if n == 0 {
		return Identity
	}
	return r3.Rotation(quat.Scale(1/n, q))
}
