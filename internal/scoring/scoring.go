// Package scoring provides a simple pairwise contact score for ligand poses:
// two Gaussian attraction terms and a quadratic repulsion term over element
// radii, summed across all ligand-receptor pairs within a cutoff. It
// satisfies docking.Scorer and docking.ClashScorer.
package scoring

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/copyleftdev/DOCKR/internal/docking"
)

// radii are the atomic radii in Å used for surface distances.
var radii = map[string]float64{
	"H":  1.1,
	"C":  1.9,
	"N":  1.8,
	"O":  1.7,
	"F":  1.5,
	"P":  2.1,
	"S":  2.0,
	"CL": 1.8,
	"BR": 2.0,
	"I":  2.2,
}

// DefaultRadius is used for unknown elements.
const DefaultRadius = 1.9

// Radius returns the radius of element, case-insensitively.
func Radius(element string) float64 {
	if r, ok := radii[strings.ToUpper(strings.TrimSpace(element))]; ok {
		return r
	}
	return DefaultRadius
}

// Config parameterises a Function.
type Config struct {
	// Cutoff is the pair distance beyond which atoms do not interact.
	Cutoff float64
	// ClashOverlap is the surface overlap in Å beyond which a pair counts
	// as a clash in ClashComponent.
	ClashOverlap float64
}

// DefaultConfig returns an 8 Å cutoff and a 0.6 Å clash overlap.
func DefaultConfig() Config {
	return Config{Cutoff: 8, ClashOverlap: 0.6}
}

// Function is the contact score. It holds no mutable state and is safe for
// concurrent use once constructed.
type Function struct {
	cfg   Config
	terms []Term
}

// New returns a Function with the standard terms: a short-range Gaussian,
// a long-range Gaussian and overlap repulsion.
func New(cfg Config) *Function {
	return NewWithTerms(cfg,
		NewGaussianTerm(0, 0.5, -0.0356),
		NewGaussianTerm(3, 2.0, -0.00516),
		NewRepulsionTerm(0.84),
	)
}

// NewWithTerms returns a Function summing the given terms.
func NewWithTerms(cfg Config, terms ...Term) *Function {
	def := DefaultConfig()
	if cfg.Cutoff <= 0 {
		cfg.Cutoff = def.Cutoff
	}
	if cfg.ClashOverlap <= 0 {
		cfg.ClashOverlap = def.ClashOverlap
	}
	return &Function{cfg: cfg, terms: terms}
}

// Score implements docking.Scorer.
func (f *Function) Score(receptor *docking.Receptor, pose *docking.Pose) (float64, error) {
	var total float64
	f.pairs(receptor, pose, func(s float64) {
		for _, t := range f.terms {
			total += t.Eval(s)
		}
	})
	return total, nil
}

// ClashComponent implements docking.ClashScorer. It counts atom pairs whose
// surfaces overlap by more than ClashOverlap.
func (f *Function) ClashComponent(receptor *docking.Receptor, pose *docking.Pose) (float64, error) {
	var n float64
	f.pairs(receptor, pose, func(s float64) {
		if s < -f.cfg.ClashOverlap {
			n++
		}
	})
	return n, nil
}

// pairs calls fn with the surface distance of every ligand-receptor pair
// closer than the cutoff.
func (f *Function) pairs(receptor *docking.Receptor, pose *docking.Pose, fn func(s float64)) {
	cut2 := f.cfg.Cutoff * f.cfg.Cutoff
	for i, l := range pose.Coords {
		rl := DefaultRadius
		if i < len(pose.Elements) {
			rl = Radius(pose.Elements[i])
		}
		for _, a := range receptor.Atoms {
			d2 := r3.Norm2(r3.Sub(l, a.Coord))
			if d2 >= cut2 {
				continue
			}
			fn(math.Sqrt(d2) - rl - Radius(a.Element))
		}
	}
}
