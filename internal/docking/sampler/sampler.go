// Package sampler generates candidate poses: random and biased placements
// inside a search region, bounded mutations, and conformers obtained by
// rotating rotatable bonds.
package sampler

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/copyleftdev/DOCKR/internal/docking"
	"github.com/copyleftdev/DOCKR/internal/docking/geometry"
	"github.com/copyleftdev/DOCKR/internal/docking/grid"
)

// Config tunes the sampler. Zero fields take the defaults below.
type Config struct {
	// MutationRate is the probability that Mutate changes a pose. Unlike
	// the other fields it is used as given when zero; only a rate outside
	// [0,1] takes the default.
	MutationRate float64
	// TranslationSigma is the standard deviation of mutation translations
	// in Å.
	TranslationSigma float64
	// RotationSigma is the standard deviation of mutation rotation angles
	// in radians.
	RotationSigma float64
	// BiasAngle is the rotation toward the region center applied by
	// BiasedPose, in radians.
	BiasAngle float64
	// JitterSigma is the positional jitter of BiasedPose in Å.
	JitterSigma float64
}

// DefaultConfig returns the standard sampling parameters.
func DefaultConfig() Config {
	return Config{
		MutationRate:     0.2,
		TranslationSigma: 2.0,
		RotationSigma:    0.5,
		BiasAngle:        0.2,
		JitterSigma:      1.0,
	}
}

// MutationKind names the move applied by Mutate.
type MutationKind int

const (
	MutationNone MutationKind = iota
	MutationTranslate
	MutationRotate
	MutationBoth
)

// Mutation reports what Mutate did.
type Mutation struct {
	Kind     MutationKind
	Reverted bool
}

// Sampler draws poses from a private random source. It is not safe for
// concurrent use; each search owns one.
type Sampler struct {
	cfg Config
	rng *rand.Rand
}

// New returns a sampler using rng.
func New(cfg Config, rng *rand.Rand) *Sampler {
	def := DefaultConfig()
	if cfg.MutationRate < 0 || cfg.MutationRate > 1 {
		cfg.MutationRate = def.MutationRate
	}
	if cfg.TranslationSigma <= 0 {
		cfg.TranslationSigma = def.TranslationSigma
	}
	if cfg.RotationSigma <= 0 {
		cfg.RotationSigma = def.RotationSigma
	}
	if cfg.BiasAngle <= 0 {
		cfg.BiasAngle = def.BiasAngle
	}
	if cfg.JitterSigma <= 0 {
		cfg.JitterSigma = def.JitterSigma
	}
	return &Sampler{cfg: cfg, rng: rng}
}

// Rand exposes the sampler's random source to the owning engine.
func (s *Sampler) Rand() *rand.Rand { return s.rng }

// RandomPose returns a copy of ligand with its centroid at a uniform point
// of the region and a uniformly random orientation.
func (s *Sampler) RandomPose(ligand *docking.Pose, region docking.Region) *docking.Pose {
	return s.place(ligand, geometry.RandomPointInSphere(s.rng, region.Center, region.Radius))
}

// GridPose is RandomPose with the position drawn from g.
func (s *Sampler) GridPose(ligand *docking.Pose, g *grid.Grid) *docking.Pose {
	return s.place(ligand, g.Random(s.rng))
}

func (s *Sampler) place(ligand *docking.Pose, at r3.Vec) *docking.Pose {
	p := ligand.Clone()
	p.MoveCentroidTo(at)
	p.RotateAboutCentroid(geometry.RandomRotation(s.rng))
	return p
}

// BiasedPose places the ligand like RandomPose, turns it by BiasAngle
// about the direction toward the region center before the random
// rotation, and adds Gaussian positional jitter.
func (s *Sampler) BiasedPose(ligand *docking.Pose, region docking.Region) *docking.Pose {
	return s.BiasedPoseAt(ligand, geometry.RandomPointInSphere(s.rng, region.Center, region.Radius), region.Center)
}

// BiasedGridPose is BiasedPose with the position drawn from g.
func (s *Sampler) BiasedGridPose(ligand *docking.Pose, g *grid.Grid, center r3.Vec) *docking.Pose {
	return s.BiasedPoseAt(ligand, g.Random(s.rng), center)
}

// BiasedPoseAt places the ligand centroid at at with a random orientation
// biased toward center, then applies the positional jitter.
func (s *Sampler) BiasedPoseAt(ligand *docking.Pose, at, center r3.Vec) *docking.Pose {
	p := ligand.Clone()
	p.MoveCentroidTo(at)

	rot := geometry.RandomRotation(s.rng)
	if toCenter := r3.Sub(center, at); r3.Norm2(toCenter) > 1e-24 {
		bias := geometry.RotationFromVector(r3.Scale(s.cfg.BiasAngle, r3.Unit(toCenter)))
		rot = geometry.Compose(bias, rot)
	}
	p.RotateAboutCentroid(rot)
	p.Translate(geometry.GaussianVec(s.rng, s.cfg.JitterSigma))
	return p
}

// Mutate changes pose in place with probability MutationRate by a
// translation, a rotation about its centroid, or both. If the centroid ends
// up outside the sphere of radius around center, the coordinates are
// restored exactly and Reverted is set.
func (s *Sampler) Mutate(pose *docking.Pose, center r3.Vec, radius float64) Mutation {
	if s.rng.Float64() >= s.cfg.MutationRate {
		return Mutation{Kind: MutationNone}
	}
	saved := append([]r3.Vec(nil), pose.Coords...)

	kind := MutationKind(1 + s.rng.Intn(3))
	if kind == MutationTranslate || kind == MutationBoth {
		pose.Translate(geometry.GaussianVec(s.rng, s.cfg.TranslationSigma))
	}
	if kind == MutationRotate || kind == MutationBoth {
		angle := s.rng.NormFloat64() * s.cfg.RotationSigma
		pose.RotateAboutCentroid(geometry.AxisAngle(geometry.RandomUnitVector(s.rng), angle))
	}

	if !geometry.InSphere(pose.Centroid(), center, radius) {
		copy(pose.Coords, saved)
		return Mutation{Kind: kind, Reverted: true}
	}
	return Mutation{Kind: kind}
}

// Perturb applies a uniform translation of up to translate Å per axis and a
// rotation of up to rotate radians about a random axis, in place.
func (s *Sampler) Perturb(pose *docking.Pose, translate, rotate float64) {
	pose.Translate(geometry.UniformVec(s.rng, translate))
	if rotate > 0 {
		angle := (2*s.rng.Float64() - 1) * rotate
		pose.RotateAboutCentroid(geometry.AxisAngle(geometry.RandomUnitVector(s.rng), angle))
	}
}

// Conformers returns n variants of ligand, each with every rotatable bond
// turned to a uniformly random dihedral. A ligand without rotatable bonds
// yields only a copy of itself.
func (s *Sampler) Conformers(ligand *docking.Pose, n int) ([]*docking.Pose, error) {
	if len(ligand.Rotatable) == 0 || n < 1 {
		return []*docking.Pose{ligand.Clone()}, nil
	}
	out := make([]*docking.Pose, 0, n)
	for i := 0; i < n; i++ {
		c := ligand.Clone()
		for b := range c.Rotatable {
			if err := c.RotateBond(b, s.rng.Float64()*2*math.Pi); err != nil {
				return nil, err
			}
		}
		out = append(out, c)
	}
	return out, nil
}
