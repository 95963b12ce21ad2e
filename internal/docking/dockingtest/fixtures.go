// Package dockingtest provides receptor, ligand and scorer fixtures for
// tests of the docking engines.
package dockingtest

import (
	"errors"
	"math"
	"sync/atomic"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/copyleftdev/DOCKR/internal/docking"
	"github.com/copyleftdev/DOCKR/internal/docking/geometry"
)

// Ligand returns a five-atom zig-zag chain with 1.5 Å bonds centred on the
// origin. Bond 1-2 is rotatable.
func Ligand() *docking.Pose {
	coords := []r3.Vec{
		{X: -2.6, Y: 0, Z: 0},
		{X: -1.3, Y: 0.75, Z: 0},
		{X: 0, Y: 0, Z: 0},
		{X: 1.3, Y: 0.75, Z: 0},
		{X: 2.6, Y: 0, Z: 0},
	}
	p := &docking.Pose{
		Coords:   coords,
		Elements: []string{"C", "C", "N", "C", "O"},
		Bonds: []docking.Bond{
			{I: 0, J: 1}, {I: 1, J: 2}, {I: 2, J: 3}, {I: 3, J: 4},
		},
		Rotatable: []docking.RotatableBond{{I: 1, J: 2}},
	}
	p.MoveCentroidTo(r3.Vec{})
	return p
}

// RigidLigand returns Ligand without rotatable bonds.
func RigidLigand() *docking.Pose {
	p := Ligand()
	p.Rotatable = nil
	return p
}

// Atom returns a one-atom pose at c.
func Atom(c r3.Vec) *docking.Pose {
	return &docking.Pose{Coords: []r3.Vec{c}, Elements: []string{"C"}}
}

// ShellReceptor returns a receptor whose atoms lie on a sphere of the given
// radius around center, leaving an empty cavity inside.
func ShellReceptor(center r3.Vec, radius float64) *docking.Receptor {
	var atoms []docking.Atom
	const rings = 8
	for i := 1; i < rings; i++ {
		theta := math.Pi * float64(i) / rings
		n := int(math.Max(1, math.Round(2*rings*math.Sin(theta))))
		for j := 0; j < n; j++ {
			phi := 2 * math.Pi * float64(j) / float64(n)
			dir := r3.Vec{
				X: math.Sin(theta) * math.Cos(phi),
				Y: math.Sin(theta) * math.Sin(phi),
				Z: math.Cos(theta),
			}
			atoms = append(atoms, docking.Atom{
				Name:      "CA",
				Element:   "C",
				Residue:   "ALA",
				ResidueID: len(atoms) + 1,
				Chain:     "A",
				Coord:     r3.Add(center, r3.Scale(radius, dir)),
			})
		}
	}
	for _, z := range []float64{-1, 1} {
		atoms = append(atoms, docking.Atom{
			Name: "CA", Element: "C", Residue: "GLY", ResidueID: len(atoms) + 1, Chain: "A",
			Coord: r3.Add(center, r3.Vec{Z: z * radius}),
		})
	}
	return &docking.Receptor{Atoms: atoms}
}

// PointReceptor returns a receptor with a single atom at c.
func PointReceptor(c r3.Vec) *docking.Receptor {
	return &docking.Receptor{Atoms: []docking.Atom{{Name: "C1", Element: "C", Coord: c}}}
}

// ConstantScorer returns v for every pose.
func ConstantScorer(v float64) docking.ScoreFunc {
	return func(*docking.Receptor, *docking.Pose) (float64, error) { return v, nil }
}

// DistanceScorer scores a pose by the squared distance of its centroid from
// target, so the optimum is the pose centred on target.
func DistanceScorer(target r3.Vec) docking.ScoreFunc {
	return func(_ *docking.Receptor, p *docking.Pose) (float64, error) {
		return r3.Norm2(r3.Sub(p.Centroid(), target)), nil
	}
}

// OrientationScorer rewards poses whose first atom points along +x from the
// centroid and whose centroid is near target.
func OrientationScorer(target r3.Vec) docking.ScoreFunc {
	return func(_ *docking.Receptor, p *docking.Pose) (float64, error) {
		c := p.Centroid()
		dir := r3.Unit(r3.Sub(p.Coords[0], c))
		return r3.Norm2(r3.Sub(c, target)) - dir.X, nil
	}
}

// ErrScoring is returned by FailingScorer.
var ErrScoring = errors.New("scoring failed")

// FailingScorer fails whenever the pose centroid has a positive x
// coordinate and otherwise delegates to next.
func FailingScorer(next docking.ScoreFunc) docking.ScoreFunc {
	return func(r *docking.Receptor, p *docking.Pose) (float64, error) {
		if p.Centroid().X > 0 {
			return 0, ErrScoring
		}
		return next(r, p)
	}
}

// PanickingScorer panics whenever the pose centroid has a positive x
// coordinate and otherwise delegates to next.
func PanickingScorer(next docking.ScoreFunc) docking.ScoreFunc {
	return func(r *docking.Receptor, p *docking.Pose) (float64, error) {
		if p.Centroid().X > 0 {
			panic("scorer exploded")
		}
		return next(r, p)
	}
}

// CountingScorer counts calls to the wrapped scorer.
type CountingScorer struct {
	Next  docking.Scorer
	calls atomic.Int64
}

// Score implements docking.Scorer.
func (c *CountingScorer) Score(r *docking.Receptor, p *docking.Pose) (float64, error) {
	c.calls.Add(1)
	return c.Next.Score(r, p)
}

// Calls returns the number of Score calls so far.
func (c *CountingScorer) Calls() int64 { return c.calls.Load() }

// ClashAware combines a scorer with a clash component equal to the number
// of ligand-receptor pairs closer than Cutoff.
type ClashAware struct {
	docking.ScoreFunc
	Cutoff float64
}

// ClashComponent implements docking.ClashScorer.
func (c ClashAware) ClashComponent(r *docking.Receptor, p *docking.Pose) (float64, error) {
	var n float64
	for _, l := range p.Coords {
		for _, a := range r.Atoms {
			if geometry.Distance(l, a.Coord) < c.Cutoff {
				n++
			}
		}
	}
	return n, nil
}

// Recorder collects progress events.
type Recorder struct {
	events []docking.ProgressEvent
}

// Progress implements docking.ProgressSink.
func (r *Recorder) Progress(ev docking.ProgressEvent) { r.events = append(r.events, ev) }

// Events returns the recorded events.
func (r *Recorder) Events() []docking.ProgressEvent { return r.events }
